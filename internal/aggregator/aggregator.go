// Package aggregator turns a completed session into a settlement submission
// and a ledger entry.
package aggregator

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/hperssn/palmpay/internal/domain"
	"github.com/hperssn/palmpay/internal/interfaces"
	"github.com/hperssn/palmpay/internal/runner"
	"github.com/hperssn/palmpay/internal/storage"
)

type FlowResult struct {
	Confirmation string          `json:"confirmation"`
	SessionID    string          `json:"sessionId"`
	Flow         domain.FlowKind `json:"flow"`
	CompletedAt  time.Time       `json:"completedAt"`
	// Reading is set for palmistry flows only.
	Reading *Reading `json:"reading,omitempty"`
}

type Aggregator struct {
	settlement interfaces.Settlement
	repo       storage.Repository
	log        *slog.Logger
}

// New returns an aggregator. repo may be nil, in which case nothing is
// recorded.
func New(settlement interfaces.Settlement, repo storage.Repository, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		settlement: settlement,
		repo:       repo,
		log:        logger.With("component", "aggregator"),
	}
}

// Finalize settles the sequencer's session. It fails with
// domain.ErrIncompleteFlow, without contacting settlement, until every
// required capture is done.
func (a *Aggregator) Finalize(ctx context.Context, seq *runner.Sequencer) (*FlowResult, error) {
	if a.settlement == nil {
		return nil, errors.New("no settlement configured")
	}

	var (
		fingerprints map[domain.CaptureKind]string
		issuedAt     time.Time
	)
	session, err := seq.Settle(ctx, func(ctx context.Context, s *domain.Session) (string, error) {
		fingerprints = Fingerprints(s)
		conf, err := a.settlement.Settle(ctx, Submission(s, fingerprints))
		if err != nil {
			return "", err
		}
		issuedAt = conf.IssuedAt
		return conf.ID, nil
	})
	if err != nil {
		return nil, err
	}
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}

	result := &FlowResult{
		Confirmation: session.Confirmation,
		SessionID:    session.ID,
		Flow:         session.Flow,
		CompletedAt:  issuedAt,
	}
	if session.Flow == domain.FlowPalmistry {
		result.Reading = ReadPalm(fingerprints)
	}

	if a.repo != nil {
		record := storage.FromSession(session, fingerprints, issuedAt)
		if err := a.repo.SaveResult(record); err != nil {
			a.log.Error("failed to record result", "session", session.ID, "confirmation", session.Confirmation, "error", err)
		}
	}

	a.log.Info("flow result recorded", "session", session.ID, "flow", session.Flow, "confirmation", session.Confirmation)
	return result, nil
}

// Submission builds what settlement sees. Raw payloads stay in the process.
func Submission(s *domain.Session, fingerprints map[domain.CaptureKind]string) interfaces.Submission {
	sub := interfaces.Submission{
		SessionID:    s.ID,
		UserID:       s.UserID,
		Flow:         s.Flow,
		Captured:     append([]domain.CaptureKind(nil), s.Completed...),
		Fingerprints: fingerprints,
	}
	if s.Payment != nil {
		p := *s.Payment
		sub.Payment = &p
	}
	return sub
}

// Fingerprints returns the hex BLAKE2b-256 digest of each captured payload.
func Fingerprints(s *domain.Session) map[domain.CaptureKind]string {
	out := make(map[domain.CaptureKind]string, len(s.Completed))
	for _, kind := range s.Completed {
		sum := blake2b.Sum256(s.Artifacts[kind].Payload)
		out[kind] = hex.EncodeToString(sum[:])
	}
	return out
}
