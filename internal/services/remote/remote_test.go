package remote

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hperssn/palmpay/internal/domain"
	"github.com/hperssn/palmpay/internal/interfaces"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVerifier_Accepts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify", r.URL.Path)

		var req verifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, domain.CapturePalm, req.Kind)

		json.NewEncoder(w).Encode(interfaces.Decision{Accepted: true, Confidence: 0.91})
	}))
	defer srv.Close()

	v := NewVerifier(srv.URL, time.Second, discard())
	d, err := v.Verify(context.Background(), domain.Artifact{Kind: domain.CapturePalm, Confidence: 0.9})

	require.NoError(t, err)
	assert.True(t, d.Accepted)
	assert.InDelta(t, 0.91, d.Confidence, 1e-9)
}

func TestVerifier_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	v := NewVerifier(srv.URL, time.Second, discard())
	_, err := v.Verify(context.Background(), domain.Artifact{Kind: domain.CaptureFace})

	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestVerifier_UnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	v := NewVerifier(url, time.Second, discard())
	_, err := v.Verify(context.Background(), domain.Artifact{Kind: domain.CaptureFace})

	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestWebhookDispatcher_RetriesUntilDelivered(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var a interfaces.Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		assert.Equal(t, "alert-1", a.ID)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL, time.Second, 3, discard())
	d.backoff = time.Millisecond

	err := d.Dispatch(context.Background(), interfaces.Alert{ID: "alert-1", SessionID: "s"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestWebhookDispatcher_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL, time.Second, 1, discard())
	d.backoff = time.Millisecond

	err := d.Dispatch(context.Background(), interfaces.Alert{ID: "alert-2"})
	require.Error(t, err)
	assert.EqualValues(t, 2, calls.Load())
}
