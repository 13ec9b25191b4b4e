package sim

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hperssn/palmpay/internal/interfaces"
)

// AlertLog records duress alerts in memory and logs them.
type AlertLog struct {
	mu     sync.Mutex
	alerts []interfaces.Alert
	log    *slog.Logger
}

func NewAlertLog(logger *slog.Logger) *AlertLog {
	return &AlertLog{log: logger.With("component", "sim-alerts")}
}

func (a *AlertLog) Dispatch(ctx context.Context, alert interfaces.Alert) error {
	a.mu.Lock()
	a.alerts = append(a.alerts, alert)
	a.mu.Unlock()

	attrs := []any{"alert", alert.ID, "session", alert.SessionID, "user", alert.UserID}
	if alert.Location != nil {
		attrs = append(attrs, "lat", alert.Location.Latitude, "lon", alert.Location.Longitude)
	}
	a.log.Warn("duress alert dispatched", attrs...)
	return nil
}

func (a *AlertLog) Alerts() []interfaces.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]interfaces.Alert(nil), a.alerts...)
}
