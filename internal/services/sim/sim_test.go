package sim_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hperssn/palmpay/internal/domain"
	"github.com/hperssn/palmpay/internal/interfaces"
	"github.com/hperssn/palmpay/internal/services/sim"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeviceProvider_CaptureReportsProgress(t *testing.T) {
	p := sim.NewDeviceProvider(discard(), 1)
	p.SetProfile(domain.CaptureVoice, sim.Profile{Step: 30, Interval: time.Millisecond})

	h, err := p.Acquire(context.Background(), domain.CaptureVoice)
	require.NoError(t, err)
	defer p.Release(h)

	var seen []int
	a, err := h.Capture(context.Background(), func(pct int) { seen = append(seen, pct) })
	require.NoError(t, err)

	assert.Equal(t, []int{30, 60, 90, 100}, seen)
	assert.Equal(t, domain.CaptureVoice, a.Kind)
	assert.Equal(t, sim.DefaultTranscript, a.Transcript)
	assert.Len(t, a.Payload, 32)
	assert.InDelta(t, 0.97, a.Confidence, 0.0001)
}

func TestDeviceProvider_CaptureCancelled(t *testing.T) {
	p := sim.NewDeviceProvider(discard(), 1)
	p.SetProfile(domain.CapturePalm, sim.Profile{Step: 0, Interval: time.Millisecond})

	h, err := p.Acquire(context.Background(), domain.CapturePalm)
	require.NoError(t, err)

	ctx, cancel := context.WithCancelCause(context.Background())
	time.AfterFunc(10*time.Millisecond, func() { cancel(domain.ErrCaptureCancelled) })

	_, err = h.Capture(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrCaptureCancelled)

	p.Release(h)
	p.Release(h)
	stats := p.Stats()
	assert.Equal(t, 0, stats.Held)
	assert.Equal(t, 1, stats.DoubleReleases)
}

func TestDeviceProvider_AcquireFailures(t *testing.T) {
	p := sim.NewDeviceProvider(discard(), 1)
	p.Deny(domain.CaptureFace, true)
	p.SetUnavailable(domain.CaptureGesture, true)

	_, err := p.Acquire(context.Background(), domain.CaptureFace)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = p.Acquire(context.Background(), domain.CaptureGesture)
	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)

	assert.Equal(t, 0, p.Stats().Acquired)
}

func TestDeviceProvider_SpeedScale(t *testing.T) {
	p := sim.NewDeviceProvider(discard(), 1000)
	h, err := p.Acquire(context.Background(), domain.CapturePalm)
	require.NoError(t, err)
	defer p.Release(h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = h.Capture(ctx, nil)
	assert.NoError(t, err)
}

func TestVerifier(t *testing.T) {
	v := sim.NewVerifier(discard(), 0.8, 0)

	d, err := v.Verify(context.Background(), domain.Artifact{Confidence: 0.85})
	require.NoError(t, err)
	assert.True(t, d.Accepted)

	d, err = v.Verify(context.Background(), domain.Artifact{Confidence: 0.5})
	require.NoError(t, err)
	assert.False(t, d.Accepted)

	v.SetUnavailable(true)
	_, err = v.Verify(context.Background(), domain.Artifact{Confidence: 0.9})
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)

	v.SetUnavailable(false)
	v.SetLatency(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = v.Verify(ctx, domain.Artifact{Confidence: 0.9})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	assert.Equal(t, 4, v.Calls())
}

func TestSettlement(t *testing.T) {
	s := sim.NewSettlement(discard())

	conf, err := s.Settle(context.Background(), interfaces.Submission{SessionID: "s1"})
	require.NoError(t, err)
	assert.NotEmpty(t, conf.ID)
	assert.False(t, conf.IssuedAt.IsZero())

	s.SetUnavailable(true)
	_, err = s.Settle(context.Background(), interfaces.Submission{SessionID: "s2"})
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)

	require.Len(t, s.Submitted(), 1)
	assert.Equal(t, "s1", s.Submitted()[0].SessionID)
}

func TestAlertLog(t *testing.T) {
	l := sim.NewAlertLog(discard())
	require.NoError(t, l.Dispatch(context.Background(), interfaces.Alert{
		ID:        "a1",
		SessionID: "s1",
		Location:  &domain.Location{Latitude: 12.9, Longitude: 77.6},
	}))

	alerts := l.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "s1", alerts[0].SessionID)
}
