package storage

import (
	"time"

	"github.com/hperssn/palmpay/internal/domain"
)

// FlowRecord is the ledger entry for one finalized flow. It carries
// fingerprints of the captured artifacts, never their payloads, and never the
// gesture mode used to confirm a payment.
type FlowRecord struct {
	Confirmation string                        `json:"confirmation"`
	SessionID    string                        `json:"sessionId"`
	UserID       string                        `json:"userId"`
	Flow         domain.FlowKind               `json:"flow"`
	Captured     []domain.CaptureKind          `json:"captured"`
	Fingerprints map[domain.CaptureKind]string `json:"fingerprints"`
	Amount       string                        `json:"amount,omitempty"`
	Currency     string                        `json:"currency,omitempty"`
	Merchant     string                        `json:"merchant,omitempty"`
	StartedAt    time.Time                     `json:"startedAt"`
	CompletedAt  time.Time                     `json:"completedAt"`
}

// FromSession converts a finalized session to a FlowRecord
func FromSession(s *domain.Session, fingerprints map[domain.CaptureKind]string, completedAt time.Time) *FlowRecord {
	r := &FlowRecord{
		Confirmation: s.Confirmation,
		SessionID:    s.ID,
		UserID:       s.UserID,
		Flow:         s.Flow,
		Captured:     append([]domain.CaptureKind(nil), s.Completed...),
		Fingerprints: make(map[domain.CaptureKind]string, len(fingerprints)),
		StartedAt:    s.StartedAt,
		CompletedAt:  completedAt,
	}
	for k, v := range fingerprints {
		r.Fingerprints[k] = v
	}

	if s.Payment != nil {
		r.Amount = s.Payment.Amount.Value
		r.Currency = s.Payment.Amount.Currency
		r.Merchant = s.Payment.Merchant
	}

	return r
}

// ledgerArtifacts is the JSON column shape shared by the SQL repositories.
type ledgerArtifacts struct {
	Captured     []domain.CaptureKind          `json:"captured"`
	Fingerprints map[domain.CaptureKind]string `json:"fingerprints"`
}
