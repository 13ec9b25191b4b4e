package domain

// PrimaryView is everything the renderer draws in the main UI region.
// It must not depend on the gesture mode.
type PrimaryView struct {
	SessionID string   `json:"sessionId"`
	Flow      FlowKind `json:"flow"`
	Step      StepID   `json:"step"`
	Progress  int      `json:"progress"`
	Capturing bool     `json:"capturing"`
	Error     string   `json:"error,omitempty"`
	Finalized bool     `json:"finalized"`

	Amount    string `json:"amount,omitempty"`
	Currency  string `json:"currency,omitempty"`
	Merchant  string `json:"merchant,omitempty"`
	PayerName string `json:"payerName,omitempty"`
}

// SideChannel carries signals that stay out of the primary UI region.
type SideChannel struct {
	AlertDispatched bool `json:"alertDispatched"`
}

type View struct {
	Primary PrimaryView `json:"primary"`
	Side    SideChannel `json:"-"`
}

// Project maps a session onto what the renderer sees. Steps declaring ViewAs
// are shown as their alias.
func Project(s *Session, flow Flow) View {
	step := s.CurrentStep
	if def, ok := flow.Step(step); ok {
		step = def.Visible()
	}

	v := View{
		Primary: PrimaryView{
			SessionID: s.ID,
			Flow:      s.Flow,
			Step:      step,
			Progress:  s.Progress,
			Capturing: s.Capturing,
			Error:     s.LastError,
			Finalized: s.Finalized,
		},
		Side: SideChannel{AlertDispatched: s.AlertDispatched},
	}

	if s.Payment != nil {
		v.Primary.Amount = s.Payment.Amount.Value
		v.Primary.Currency = s.Payment.Amount.Currency
		v.Primary.Merchant = s.Payment.Merchant
		v.Primary.PayerName = s.Payment.PayerName
	}
	return v
}
