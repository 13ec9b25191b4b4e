package runner

import "github.com/hperssn/palmpay/internal/domain"

// StepEvent is emitted on every session state change. Done marks a finalized
// session.
type StepEvent struct {
	SessionID string      `json:"sessionId"`
	View      domain.View `json:"view"`
	Done      bool        `json:"done"`
}

const eventBuffer = 64
