package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hperssn/palmpay/internal/aggregator"
	"github.com/hperssn/palmpay/internal/domain"
	"github.com/hperssn/palmpay/internal/runner"
	"github.com/hperssn/palmpay/internal/storage"
)

type Server struct {
	manager    *runner.SessionManager
	aggregator *aggregator.Aggregator
	results    storage.Repository
	log        *slog.Logger
}

func NewServer(manager *runner.SessionManager, agg *aggregator.Aggregator, results storage.Repository, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager:    manager,
		aggregator: agg,
		results:    results,
		log:        logger.With("component", "http"),
	}
}

// Options configure the middleware in front of the routes.
type Options struct {
	// AllowDevUser lets unauthenticated requests through as a development user.
	AllowDevUser bool
	JWTSecret    string
	// RateLimit is requests per second per user; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// Router mounts every route behind the auth middleware.
func (s *Server) Router(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(ExtractUser(s.log, opts.JWTSecret, opts.AllowDevUser))
	if opts.RateLimit > 0 {
		r.Use(newRateLimiter(opts.RateLimit, opts.RateBurst).middleware)
	}

	r.Post("/flows/{kind}/sessions", s.startSession)

	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", s.getSession)
		r.Delete("/", s.stopSession)
		r.Get("/events", s.streamSessionEvents)
		r.Post("/advance", s.advance)
		r.Post("/branch", s.branch)
		r.Post("/finalize", s.finalize)

		r.Route("/steps/{step}", func(r chi.Router) {
			r.Post("/begin", s.beginCapture)
			r.Post("/progress", s.reportProgress)
			r.Post("/complete", s.completeCapture)
			r.Post("/fail", s.failCapture)
			r.Post("/run", s.runCapture)
		})
	})

	r.Get("/results", s.listResults)
	r.Get("/results/stats", s.resultStats)

	return r
}

type startSessionRequest struct {
	Merchant  string           `json:"merchant"`
	PayerName string           `json:"payerName"`
	Location  *domain.Location `json:"location"`
}

type sessionResponse struct {
	ID   string             `json:"id"`
	View domain.PrimaryView `json:"view"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	flow, err := domain.FlowByKind(domain.FlowKind(chi.URLParam(r, "kind")))
	if err != nil {
		respondError(w, err.Error(), http.StatusNotFound)
		return
	}

	var req startSessionRequest
	if err := decodeBody(r, startSessionSchema, &req, true); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	session := domain.NewSession("", GetUserID(r), flow)
	if session.Payment != nil {
		if req.Merchant != "" {
			session.Payment.Merchant = req.Merchant
		}
		if req.PayerName != "" {
			session.Payment.PayerName = req.PayerName
		}
		session.Payment.Location = req.Location
	}

	seq, err := s.manager.StartSession(session)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.log.Info("session started", "session", session.ID, "flow", flow.Kind, "user", session.UserID)
	respondJSON(w, sessionResponse{ID: session.ID, View: seq.View().Primary}, http.StatusCreated)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	seq, ok := s.sequencer(w, r)
	if !ok {
		return
	}
	respondJSON(w, seq.View().Primary, http.StatusOK)
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.sequencer(w, r); !ok {
		return
	}

	if err := s.manager.StopSession(chi.URLParam(r, "id")); err != nil {
		s.respondErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) advance(w http.ResponseWriter, r *http.Request) {
	s.apply(w, r, func(seq *runner.Sequencer) error {
		return seq.Advance()
	})
}

func (s *Server) branch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode domain.GestureMode `json:"mode"`
	}
	if err := decodeBody(r, branchSchema, &req, false); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.apply(w, r, func(seq *runner.Sequencer) error {
		return seq.Branch(req.Mode)
	})
}

func (s *Server) beginCapture(w http.ResponseWriter, r *http.Request) {
	s.apply(w, r, func(seq *runner.Sequencer) error {
		return seq.BeginCapture(r.Context(), seq.Resolve(stepParam(r)))
	})
}

func (s *Server) reportProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Percent int `json:"percent"`
	}
	if err := decodeBody(r, progressSchema, &req, false); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.apply(w, r, func(seq *runner.Sequencer) error {
		return seq.ReportProgress(seq.Resolve(stepParam(r)), req.Percent)
	})
}

func (s *Server) completeCapture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confidence float64 `json:"confidence"`
		Payload    []byte  `json:"payload"`
		Transcript string  `json:"transcript"`
	}
	if err := decodeBody(r, completeSchema, &req, false); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.apply(w, r, func(seq *runner.Sequencer) error {
		return seq.CompleteCapture(r.Context(), seq.Resolve(stepParam(r)), domain.Artifact{
			Confidence: req.Confidence,
			Payload:    req.Payload,
			Transcript: req.Transcript,
		})
	})
}

func (s *Server) failCapture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, failSchema, &req, true); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "capture failed"
	}

	s.apply(w, r, func(seq *runner.Sequencer) error {
		return seq.FailCapture(seq.Resolve(stepParam(r)), errors.New(req.Reason))
	})
}

// runCapture acquires the device and returns; the device then drives the
// capture in the background and clients follow it on the event stream.
func (s *Server) runCapture(w http.ResponseWriter, r *http.Request) {
	seq, ok := s.sequencer(w, r)
	if !ok {
		return
	}

	step := seq.Resolve(stepParam(r))
	if err := seq.BeginCapture(r.Context(), step); err != nil {
		s.respondErr(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	go func() {
		if err := seq.Drive(context.Background(), step); err != nil {
			s.log.Info("device capture ended", "session", id, "step", step, "error", err)
		}
	}()

	respondJSON(w, seq.View().Primary, http.StatusAccepted)
}

func (s *Server) finalize(w http.ResponseWriter, r *http.Request) {
	seq, ok := s.sequencer(w, r)
	if !ok {
		return
	}

	result, err := s.aggregator.Finalize(r.Context(), seq)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	respondJSON(w, result, http.StatusOK)
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)

	var (
		records []storage.FlowRecord
		err     error
	)
	if since := r.URL.Query().Get("since"); since != "" {
		t, perr := time.Parse(time.RFC3339, since)
		if perr != nil {
			respondError(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		records, err = s.results.GetRecentResults(userID, t)
	} else {
		records, err = s.results.GetResultsByUser(userID)
	}
	if err != nil {
		s.log.Error("failed to load results", "user", userID, "error", err)
		respondError(w, "failed to load results", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []storage.FlowRecord{}
	}

	respondJSON(w, records, http.StatusOK)
}

func (s *Server) resultStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.results.GetResultStats(GetUserID(r))
	if err != nil {
		s.log.Error("failed to load result stats", "error", err)
		respondError(w, "failed to load stats", http.StatusInternalServerError)
		return
	}
	respondJSON(w, stats, http.StatusOK)
}

// sequencer looks up the session in the URL and checks it belongs to the
// caller. Other users' sessions are reported as missing.
func (s *Server) sequencer(w http.ResponseWriter, r *http.Request) (*runner.Sequencer, bool) {
	seq, err := s.manager.Sequencer(chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return nil, false
	}
	if seq.Session().UserID != GetUserID(r) {
		s.respondErr(w, runner.ErrSessionNotFound)
		return nil, false
	}
	return seq, true
}

// apply runs op against the session and responds with the resulting view.
func (s *Server) apply(w http.ResponseWriter, r *http.Request, op func(*runner.Sequencer) error) {
	seq, ok := s.sequencer(w, r)
	if !ok {
		return
	}
	if err := op(seq); err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, seq.View().Primary, http.StatusOK)
}

// stepParam is the step named in the URL, as the renderer sees it.
func stepParam(r *http.Request) domain.StepID {
	return domain.StepID(chi.URLParam(r, "step"))
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.log.Error("request failed", "error", err)
	}
	respondError(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, runner.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, runner.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrDeviceUnavailable),
		errors.Is(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrCaptureTimedOut):
		return http.StatusRequestTimeout
	case errors.Is(err, domain.ErrLowConfidence),
		errors.Is(err, domain.ErrNoAmountFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnknownBranch):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrIncompleteFlow),
		errors.Is(err, domain.ErrStepMismatch),
		errors.Is(err, domain.ErrCaptureAlreadyInProgress),
		errors.Is(err, domain.ErrCaptureCancelled),
		errors.Is(err, domain.ErrNoCaptureInProgress),
		errors.Is(err, domain.ErrProgressRegression),
		errors.Is(err, domain.ErrNotBranchStep),
		errors.Is(err, domain.ErrBranchDecided),
		errors.Is(err, domain.ErrFlowFinalized),
		errors.Is(err, domain.ErrFinalizeInProgress):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
