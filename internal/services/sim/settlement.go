package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hperssn/palmpay/internal/domain"
	"github.com/hperssn/palmpay/internal/interfaces"
)

// Settlement issues confirmation ids without moving any money.
type Settlement struct {
	mu          sync.Mutex
	unavailable bool
	submitted   []interfaces.Submission
	log         *slog.Logger
}

func NewSettlement(logger *slog.Logger) *Settlement {
	return &Settlement{log: logger.With("component", "sim-settlement")}
}

func (s *Settlement) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

func (s *Settlement) Submitted() []interfaces.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interfaces.Submission(nil), s.submitted...)
}

func (s *Settlement) Settle(ctx context.Context, sub interfaces.Submission) (interfaces.Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.Confirmation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unavailable {
		return interfaces.Confirmation{}, fmt.Errorf("sim settlement: %w", domain.ErrServiceUnavailable)
	}
	s.submitted = append(s.submitted, sub)

	c := interfaces.Confirmation{
		ID:       uuid.New().String(),
		IssuedAt: time.Now(),
	}
	s.log.Info("flow settled", "session", sub.SessionID, "flow", sub.Flow, "confirmation", c.ID)
	return c, nil
}
