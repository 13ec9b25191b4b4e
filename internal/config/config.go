package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hperssn/palmpay/internal/domain"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
		// RateLimit is requests per second allowed per user; zero disables it.
		RateLimit float64 `yaml:"rate_limit"`
		RateBurst int     `yaml:"rate_burst"`
	} `yaml:"server"`

	Auth struct {
		// JWTSecret enables HS256 bearer tokens alongside proxy headers.
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	// StandaloneMode runs every collaborator in-process.
	StandaloneMode bool `yaml:"standalone_mode"`

	Capture CaptureConfig `yaml:"capture"`

	Verifier struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"verifier"`

	Alerts struct {
		WebhookURL string        `yaml:"webhook_url"`
		Timeout    time.Duration `yaml:"timeout"`
		MaxRetries int           `yaml:"max_retries"`
	} `yaml:"alerts"`

	Storage struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Sessions struct {
		TTL             time.Duration `yaml:"ttl"`
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
	} `yaml:"sessions"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

type CaptureConfig struct {
	Timeout             time.Duration                        `yaml:"timeout"`
	Timeouts            map[domain.CaptureKind]time.Duration `yaml:"timeouts"`
	VerifyTimeout       time.Duration                        `yaml:"verify_timeout"`
	ConfidenceThreshold float64                              `yaml:"confidence_threshold"`
	SpeedScale          float64                              `yaml:"speed_scale"`
	// SimTranscript is what simulated voice captures hear.
	SimTranscript string `yaml:"sim_transcript"`
}

func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// Load reads a YAML config file and fills in defaults for anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		c.Server.RateBurst = int(c.Server.RateLimit*2) + 1
	}
	if c.Capture.Timeout <= 0 {
		c.Capture.Timeout = 30 * time.Second
	}
	if c.Capture.VerifyTimeout <= 0 {
		c.Capture.VerifyTimeout = 5 * time.Second
	}
	if c.Capture.ConfidenceThreshold <= 0 {
		c.Capture.ConfidenceThreshold = 0.8
	}
	if c.Capture.SpeedScale <= 0 {
		c.Capture.SpeedScale = 1
	}
	if c.Capture.SimTranscript == "" {
		c.Capture.SimTranscript = "pay 150 rupees"
	}
	if c.Verifier.Timeout <= 0 {
		c.Verifier.Timeout = c.Capture.VerifyTimeout
	}
	if c.Alerts.Timeout <= 0 {
		c.Alerts.Timeout = 10 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Sessions.TTL <= 0 {
		c.Sessions.TTL = time.Hour
	}
	if c.Sessions.CleanupInterval <= 0 {
		c.Sessions.CleanupInterval = 5 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver != "memory" && c.Storage.DSN == "" {
		return fmt.Errorf("storage driver %s needs a dsn", c.Storage.Driver)
	}
	if !c.StandaloneMode && c.Verifier.URL == "" {
		return fmt.Errorf("verifier.url is required outside standalone mode")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if c.Capture.ConfidenceThreshold > 1 {
		return fmt.Errorf("capture.confidence_threshold %.2f above 1", c.Capture.ConfidenceThreshold)
	}
	return nil
}

// CaptureTimeout returns the configured timeout for kind, falling back to the
// global capture timeout.
func (c *Config) CaptureTimeout(kind domain.CaptureKind) time.Duration {
	if d, ok := c.Capture.Timeouts[kind]; ok && d > 0 {
		return d
	}
	return c.Capture.Timeout
}

func (c *Config) Logger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Log.Level)}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
