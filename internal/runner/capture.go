package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hperssn/palmpay/internal/domain"
	"github.com/hperssn/palmpay/internal/interfaces"
)

type captureState int

const (
	captureAcquiring captureState = iota
	captureActive
	captureCompleting
	captureClosing
)

var errCaptureDone = errors.New("capture done")

// capture owns one device handle from Acquire until teardown. Whoever moves
// state to captureClosing (under the sequencer lock) must call teardown.
type capture struct {
	step domain.StepID
	// shown is step as the renderer names it; used in returned errors.
	shown domain.StepID
	kind  domain.CaptureKind
	state captureState

	handle interfaces.DeviceHandle
	timer  *time.Timer

	ctx    context.Context
	cancel context.CancelCauseFunc

	acquired chan struct{}
	closed   chan struct{}
	driven   bool
	drivers  sync.WaitGroup
}

func newCapture(parent context.Context, step, shown domain.StepID, kind domain.CaptureKind) *capture {
	ctx, cancel := context.WithCancelCause(parent)
	return &capture{
		step:     step,
		shown:    shown,
		kind:     kind,
		ctx:      ctx,
		cancel:   cancel,
		acquired: make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

// Timeouts bound each capture and the calls made on its behalf.
type Timeouts struct {
	Capture map[domain.CaptureKind]time.Duration
	Default time.Duration
	Verify  time.Duration
	Alert   time.Duration
}

func (t Timeouts) capture(kind domain.CaptureKind) time.Duration {
	if d, ok := t.Capture[kind]; ok && d > 0 {
		return d
	}
	if t.Default > 0 {
		return t.Default
	}
	return 30 * time.Second
}

func (t Timeouts) verify() time.Duration {
	if t.Verify > 0 {
		return t.Verify
	}
	return 5 * time.Second
}

func (t Timeouts) alert() time.Duration {
	if t.Alert > 0 {
		return t.Alert
	}
	return 10 * time.Second
}
