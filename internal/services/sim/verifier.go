package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hperssn/palmpay/internal/domain"
	"github.com/hperssn/palmpay/internal/interfaces"
)

// Verifier accepts artifacts whose reported confidence reaches the threshold.
type Verifier struct {
	mu          sync.Mutex
	threshold   float64
	latency     time.Duration
	unavailable bool
	calls       int
	log         *slog.Logger
}

func NewVerifier(logger *slog.Logger, threshold float64, latency time.Duration) *Verifier {
	return &Verifier{
		threshold: threshold,
		latency:   latency,
		log:       logger.With("component", "sim-verifier"),
	}
}

func (v *Verifier) SetUnavailable(unavailable bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unavailable = unavailable
}

func (v *Verifier) SetLatency(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.latency = d
}

func (v *Verifier) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func (v *Verifier) Verify(ctx context.Context, artifact domain.Artifact) (interfaces.Decision, error) {
	v.mu.Lock()
	v.calls++
	latency, unavailable, threshold := v.latency, v.unavailable, v.threshold
	v.mu.Unlock()

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return interfaces.Decision{}, ctx.Err()
		}
	}

	if unavailable {
		return interfaces.Decision{}, fmt.Errorf("sim verifier: %w", domain.ErrServiceUnavailable)
	}

	d := interfaces.Decision{
		Accepted:   artifact.Confidence >= threshold,
		Confidence: artifact.Confidence,
	}
	v.log.Debug("artifact verified", "kind", artifact.Kind, "confidence", d.Confidence, "accepted", d.Accepted)
	return d, nil
}
