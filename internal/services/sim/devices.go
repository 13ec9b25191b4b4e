package sim

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hperssn/palmpay/internal/domain"
	"github.com/hperssn/palmpay/internal/interfaces"
)

// Profile controls how a simulated capture advances: Step percent every
// Interval. A zero Step never finishes.
type Profile struct {
	Step     int
	Interval time.Duration
}

// DefaultProfiles are the per-kind scan speeds the app animates.
func DefaultProfiles() map[domain.CaptureKind]Profile {
	return map[domain.CaptureKind]Profile{
		domain.CapturePalm:    {Step: 3, Interval: 60 * time.Millisecond},
		domain.CaptureFace:    {Step: 4, Interval: 70 * time.Millisecond},
		domain.CaptureVoice:   {Step: 5, Interval: 200 * time.Millisecond},
		domain.CaptureGesture: {Step: 5, Interval: 150 * time.Millisecond},
	}
}

// DefaultTranscript is what simulated voice captures hear unless told
// otherwise; it follows the app's "Pay [amount] rupees" prompt.
const DefaultTranscript = "pay 150 rupees"

type DeviceStats struct {
	Acquired       int
	Released       int
	Held           int
	MaxHeld        int
	DoubleReleases int
}

type DeviceProvider struct {
	mu sync.Mutex

	profiles    map[domain.CaptureKind]Profile
	denied      map[domain.CaptureKind]bool
	unavailable map[domain.CaptureKind]bool
	confidence  map[domain.CaptureKind]float64
	transcript  string

	stats  DeviceStats
	nextID int
	log    *slog.Logger
}

// NewDeviceProvider returns a provider whose captures run at the default
// speed divided by scale. Scale <= 0 means 1.
func NewDeviceProvider(logger *slog.Logger, scale float64) *DeviceProvider {
	if scale <= 0 {
		scale = 1
	}
	profiles := DefaultProfiles()
	for k, p := range profiles {
		p.Interval = time.Duration(float64(p.Interval) / scale)
		if p.Interval <= 0 {
			p.Interval = time.Millisecond
		}
		profiles[k] = p
	}

	return &DeviceProvider{
		profiles:    profiles,
		denied:      make(map[domain.CaptureKind]bool),
		unavailable: make(map[domain.CaptureKind]bool),
		confidence:  make(map[domain.CaptureKind]float64),
		transcript:  DefaultTranscript,
		log:         logger.With("component", "sim-devices"),
	}
}

func (p *DeviceProvider) SetProfile(kind domain.CaptureKind, profile Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[kind] = profile
}

func (p *DeviceProvider) Deny(kind domain.CaptureKind, denied bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied[kind] = denied
}

func (p *DeviceProvider) SetUnavailable(kind domain.CaptureKind, unavailable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable[kind] = unavailable
}

func (p *DeviceProvider) SetConfidence(kind domain.CaptureKind, c float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confidence[kind] = c
}

// SetTranscript sets what simulated voice captures "hear".
func (p *DeviceProvider) SetTranscript(t string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transcript = t
}

func (p *DeviceProvider) Stats() DeviceStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *DeviceProvider) Acquire(ctx context.Context, kind domain.CaptureKind) (interfaces.DeviceHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.denied[kind] {
		p.log.Info("acquire denied", "kind", kind)
		return nil, fmt.Errorf("%s sensor: %w", kind, domain.ErrPermissionDenied)
	}
	profile, ok := p.profiles[kind]
	if !ok || p.unavailable[kind] {
		p.log.Info("device unavailable", "kind", kind)
		return nil, fmt.Errorf("%s sensor: %w", kind, domain.ErrDeviceUnavailable)
	}

	confidence, ok := p.confidence[kind]
	if !ok {
		confidence = 0.97
	}

	p.nextID++
	p.stats.Acquired++
	p.stats.Held++
	if p.stats.Held > p.stats.MaxHeld {
		p.stats.MaxHeld = p.stats.Held
	}

	h := &deviceHandle{
		id:         p.nextID,
		kind:       kind,
		profile:    profile,
		confidence: confidence,
		transcript: p.transcript,
	}
	p.log.Debug("device acquired", "kind", kind, "handle", h.id)
	return h, nil
}

func (p *DeviceProvider) Release(handle interfaces.DeviceHandle) {
	h, ok := handle.(*deviceHandle)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Released++
	if h.released {
		p.stats.DoubleReleases++
		p.log.Warn("device released twice", "kind", h.kind, "handle", h.id)
		return
	}
	h.released = true
	p.stats.Held--
	p.log.Debug("device released", "kind", h.kind, "handle", h.id)
}

type deviceHandle struct {
	id         int
	kind       domain.CaptureKind
	profile    Profile
	confidence float64
	transcript string
	released   bool
}

func (h *deviceHandle) Kind() domain.CaptureKind {
	return h.kind
}

func (h *deviceHandle) Capture(ctx context.Context, progress func(int)) (domain.Artifact, error) {
	ticker := time.NewTicker(h.profile.Interval)
	defer ticker.Stop()

	pct := 0
	for {
		select {
		case <-ctx.Done():
			return domain.Artifact{}, context.Cause(ctx)

		case <-ticker.C:
			if h.profile.Step <= 0 {
				continue
			}
			pct += h.profile.Step
			if pct > 100 {
				pct = 100
			}
			if progress != nil {
				progress(pct)
			}
			if pct < 100 {
				continue
			}

			payload := make([]byte, 32)
			if _, err := rand.Read(payload); err != nil {
				return domain.Artifact{}, fmt.Errorf("read sensor payload: %w", err)
			}

			a := domain.Artifact{
				Kind:       h.kind,
				Confidence: h.confidence,
				Payload:    payload,
				CapturedAt: time.Now(),
			}
			if h.kind == domain.CaptureVoice {
				a.Transcript = h.transcript
			}
			return a, nil
		}
	}
}
