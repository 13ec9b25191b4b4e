package interfaces

import (
	"context"
	"time"

	"github.com/hperssn/palmpay/internal/domain"
)

// DeviceHandle is an acquired camera, microphone or sensor. Capture reports
// progress in percent and returns when the artifact is ready or ctx is done.
type DeviceHandle interface {
	Kind() domain.CaptureKind
	Capture(ctx context.Context, progress func(percent int)) (domain.Artifact, error)
}

// DeviceProvider hands out exclusive capture handles.
// Acquire fails with domain.ErrPermissionDenied or domain.ErrDeviceUnavailable.
type DeviceProvider interface {
	Acquire(ctx context.Context, kind domain.CaptureKind) (DeviceHandle, error)
	Release(handle DeviceHandle)
}

type Decision struct {
	Accepted   bool    `json:"accepted"`
	Confidence float64 `json:"confidence"`
}

// Verifier scores a capture artifact. It may fail with
// domain.ErrServiceUnavailable and must honour ctx.
type Verifier interface {
	Verify(ctx context.Context, artifact domain.Artifact) (Decision, error)
}

// AmountParser pulls a positive amount out of a spoken phrase.
type AmountParser interface {
	Parse(transcript string) (domain.Amount, error)
}

type Alert struct {
	ID        string           `json:"id"`
	SessionID string           `json:"sessionId"`
	UserID    string           `json:"userId"`
	Merchant  string           `json:"merchant,omitempty"`
	Amount    domain.Amount    `json:"amount"`
	Location  *domain.Location `json:"location,omitempty"`
	RaisedAt  time.Time        `json:"raisedAt"`
}

// AlertDispatcher sends silent duress alerts. Callers never wait on the result
// to change what the user sees.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, alert Alert) error
}

type Submission struct {
	SessionID    string                        `json:"sessionId"`
	UserID       string                        `json:"userId"`
	Flow         domain.FlowKind               `json:"flow"`
	Captured     []domain.CaptureKind          `json:"captured"`
	Fingerprints map[domain.CaptureKind]string `json:"fingerprints"`
	Payment      *domain.PaymentDetails        `json:"payment,omitempty"`
}

type Confirmation struct {
	ID       string    `json:"id"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Settlement accepts a finished flow and issues a confirmation.
type Settlement interface {
	Settle(ctx context.Context, sub Submission) (Confirmation, error)
}
