package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hperssn/palmpay/internal/domain"
	"github.com/hperssn/palmpay/internal/interfaces"
)

type verifyRequest struct {
	Kind       domain.CaptureKind `json:"kind"`
	Confidence float64            `json:"confidence"`
	Payload    []byte             `json:"payload"`
	Transcript string             `json:"transcript,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Verifier posts artifacts to a recognition service at baseURL + "/verify".
type Verifier struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

func NewVerifier(baseURL string, timeout time.Duration, logger *slog.Logger) *Verifier {
	return &Verifier{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: logger.With("component", "remote-verifier"),
	}
}

func (v *Verifier) Verify(ctx context.Context, artifact domain.Artifact) (interfaces.Decision, error) {
	body, err := json.Marshal(verifyRequest{
		Kind:       artifact.Kind,
		Confidence: artifact.Confidence,
		Payload:    artifact.Payload,
		Transcript: artifact.Transcript,
	})
	if err != nil {
		return interfaces.Decision{}, fmt.Errorf("marshal verify request: %w", err)
	}

	url := v.baseURL + "/verify"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return interfaces.Decision{}, fmt.Errorf("create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return interfaces.Decision{}, err
		}
		v.log.Warn("verifier unreachable", "url", url, "error", err)
		return interfaces.Decision{}, fmt.Errorf("call verifier at %s: %v: %w", url, err, domain.ErrServiceUnavailable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return interfaces.Decision{}, fmt.Errorf("read verifier response: %v: %w", err, domain.ErrServiceUnavailable)
	}

	if resp.StatusCode >= 500 {
		return interfaces.Decision{}, fmt.Errorf("verifier returned status %d: %w", resp.StatusCode, domain.ErrServiceUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			return interfaces.Decision{}, fmt.Errorf("verifier rejected artifact (%d): %s", resp.StatusCode, e.Error)
		}
		return interfaces.Decision{}, fmt.Errorf("verifier returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var d interfaces.Decision
	if err := json.Unmarshal(respBody, &d); err != nil {
		return interfaces.Decision{}, fmt.Errorf("parse verifier response: %w", err)
	}
	return d, nil
}
