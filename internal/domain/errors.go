package domain

import "errors"

// Capture-step failures. The session stays on the current step and can retry.
var (
	ErrPermissionDenied         = errors.New("permission denied")
	ErrDeviceUnavailable        = errors.New("device unavailable")
	ErrCaptureAlreadyInProgress = errors.New("capture already in progress")
	ErrCaptureTimedOut          = errors.New("capture timed out")
	ErrCaptureCancelled         = errors.New("capture cancelled")
	ErrLowConfidence            = errors.New("low confidence")
	ErrServiceUnavailable       = errors.New("service unavailable")
	ErrNoAmountFound            = errors.New("no amount found")
)

// ErrIncompleteFlow is returned by finalize when required captures are missing.
// It must not be retried before the missing steps are completed.
var ErrIncompleteFlow = errors.New("incomplete flow")

var (
	ErrInvalidFlow         = errors.New("invalid flow")
	ErrStepMismatch        = errors.New("step mismatch")
	ErrNoCaptureInProgress = errors.New("no capture in progress")
	ErrProgressRegression  = errors.New("progress cannot decrease")
	ErrNotBranchStep       = errors.New("not a branch step")
	ErrBranchDecided       = errors.New("branch already decided")
	ErrUnknownBranch       = errors.New("unknown branch")
	ErrFlowFinalized       = errors.New("flow already finalized")
	ErrFinalizeInProgress  = errors.New("finalize already in progress")
)

var recoverable = []error{
	ErrPermissionDenied,
	ErrDeviceUnavailable,
	ErrCaptureAlreadyInProgress,
	ErrCaptureTimedOut,
	ErrCaptureCancelled,
	ErrLowConfidence,
	ErrServiceUnavailable,
	ErrNoAmountFound,
}

// IsRecoverable reports whether err is a capture-step failure the user can retry.
func IsRecoverable(err error) bool {
	for _, target := range recoverable {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
