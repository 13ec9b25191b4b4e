package services

import (
	"log/slog"

	"github.com/hperssn/palmpay/internal/config"
	"github.com/hperssn/palmpay/internal/interfaces"
	"github.com/hperssn/palmpay/internal/services/remote"
	"github.com/hperssn/palmpay/internal/services/sim"
	"github.com/hperssn/palmpay/internal/voice"
)

// Services are the collaborators a sequencer and the aggregator work with.
type Services struct {
	Devices    interfaces.DeviceProvider
	Verifier   interfaces.Verifier
	Parser     interfaces.AmountParser
	Alerts     interfaces.AlertDispatcher
	Settlement interfaces.Settlement
}

// CreateServices picks implementations from configuration. Devices and
// settlement are always simulated; standalone mode also simulates the
// verifier and logs alerts instead of posting them.
func CreateServices(cfg *config.Config, logger *slog.Logger) (*Services, error) {
	devices := sim.NewDeviceProvider(logger, cfg.Capture.SpeedScale)
	devices.SetTranscript(cfg.Capture.SimTranscript)

	svc := &Services{
		Devices:    devices,
		Parser:     voice.NewParser(),
		Settlement: sim.NewSettlement(logger),
	}

	if cfg.StandaloneMode {
		svc.Verifier = sim.NewVerifier(logger, cfg.Capture.ConfidenceThreshold, 0)
	} else {
		svc.Verifier = remote.NewVerifier(cfg.Verifier.URL, cfg.Verifier.Timeout, logger)
	}

	if cfg.Alerts.WebhookURL != "" && !cfg.StandaloneMode {
		svc.Alerts = remote.NewWebhookDispatcher(cfg.Alerts.WebhookURL, cfg.Alerts.Timeout, cfg.Alerts.MaxRetries, logger)
	} else {
		svc.Alerts = sim.NewAlertLog(logger)
	}

	if cfg.StandaloneMode {
		logger.Info("initialized simulated services", "mode", "standalone")
	} else {
		logger.Info("initialized remote services", "mode", "online", "verifier", cfg.Verifier.URL)
	}
	return svc, nil
}
