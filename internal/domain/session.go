package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMerchant  = "Coffee Corner Cafe"
	DefaultPayerName = "Rakesh"
)

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type PaymentDetails struct {
	Amount    Amount    `json:"amount"`
	Merchant  string    `json:"merchant"`
	PayerName string    `json:"payerName"`
	Location  *Location `json:"location,omitempty"`
}

// Artifact is the result of one capture. Payload is opaque to the sequencer.
type Artifact struct {
	Kind       CaptureKind `json:"kind"`
	Confidence float64     `json:"confidence"`
	Payload    []byte      `json:"payload,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
	CapturedAt time.Time   `json:"capturedAt"`
}

// Session is the explicit state of one flow traversal. It is mutated only by
// the sequencer and never persisted.
type Session struct {
	ID          string                   `json:"id"`
	UserID      string                   `json:"userId"`
	Flow        FlowKind                 `json:"flow"`
	CurrentStep StepID                   `json:"currentStep"`
	Completed   []CaptureKind            `json:"completed"`
	Artifacts   map[CaptureKind]Artifact `json:"artifacts,omitempty"`
	Progress    int                      `json:"progress"`
	Capturing   bool                     `json:"capturing"`
	Attempts    map[StepID]int           `json:"attempts,omitempty"`
	LastError   string                   `json:"lastError,omitempty"`

	Branch          *GestureMode    `json:"branch,omitempty"`
	AlertDispatched bool            `json:"alertDispatched,omitempty"`
	Payment         *PaymentDetails `json:"payment,omitempty"`

	Finalized    bool   `json:"finalized"`
	Confirmation string `json:"confirmation,omitempty"`

	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewSession(id string, userID string, flow Flow) *Session {
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now()
	s := &Session{
		ID:        id,
		UserID:    userID,
		Flow:      flow.Kind,
		StartedAt: now,
		UpdatedAt: now,
	}
	s.Reset(flow)

	if flow.Kind == FlowPayment {
		s.Payment = &PaymentDetails{
			Merchant:  DefaultMerchant,
			PayerName: DefaultPayerName,
		}
	}
	return s
}

// Reset puts the session back at the flow's initial step with nothing captured.
func (s *Session) Reset(flow Flow) {
	s.Flow = flow.Kind
	s.CurrentStep = flow.Initial
	s.Completed = nil
	s.Artifacts = make(map[CaptureKind]Artifact)
	s.Attempts = make(map[StepID]int)
	s.Progress = 0
	s.Capturing = false
	s.LastError = ""
	s.Branch = nil
	s.AlertDispatched = false
	s.Finalized = false
	s.Confirmation = ""
	if s.Payment != nil {
		s.Payment.Amount = Amount{}
	}
	s.UpdatedAt = time.Now()
}

func (s *Session) Has(kind CaptureKind) bool {
	for _, k := range s.Completed {
		if k == kind {
			return true
		}
	}
	return false
}

// Record stores the artifact and adds its kind to Completed once.
func (s *Session) Record(a Artifact) {
	if s.Artifacts == nil {
		s.Artifacts = make(map[CaptureKind]Artifact)
	}
	s.Artifacts[a.Kind] = a
	if !s.Has(a.Kind) {
		s.Completed = append(s.Completed, a.Kind)
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *Session) Clone() *Session {
	c := *s
	c.Completed = append([]CaptureKind(nil), s.Completed...)

	c.Artifacts = make(map[CaptureKind]Artifact, len(s.Artifacts))
	for k, a := range s.Artifacts {
		a.Payload = append([]byte(nil), a.Payload...)
		c.Artifacts[k] = a
	}

	c.Attempts = make(map[StepID]int, len(s.Attempts))
	for k, v := range s.Attempts {
		c.Attempts[k] = v
	}

	if s.Branch != nil {
		mode := *s.Branch
		c.Branch = &mode
	}
	if s.Payment != nil {
		p := *s.Payment
		if p.Location != nil {
			loc := *p.Location
			p.Location = &loc
		}
		c.Payment = &p
	}
	return &c
}
