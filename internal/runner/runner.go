package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hperssn/palmpay/internal/domain"
	"github.com/hperssn/palmpay/internal/interfaces"
)

// Deps are the collaborators a sequencer coordinates. Verifier, Parser and
// Alerts may be nil.
type Deps struct {
	Devices  interfaces.DeviceProvider
	Verifier interfaces.Verifier
	Parser   interfaces.AmountParser
	Alerts   interfaces.AlertDispatcher
	Timeouts Timeouts
	Logger   *slog.Logger
}

// SettleFunc hands a finished session to settlement and returns the
// confirmation id.
type SettleFunc func(ctx context.Context, session *domain.Session) (string, error)

// Sequencer drives one session through its flow. At most one capture is in
// flight and its device handle is released exactly once.
type Sequencer struct {
	mu sync.Mutex

	session *domain.Session
	flow    domain.Flow
	deps    Deps
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	active     *capture
	finalizing bool
	events     chan StepEvent
}

func NewSequencer(s *domain.Session, deps Deps) (*Sequencer, error) {
	if deps.Devices == nil {
		return nil, errors.New("device provider is required")
	}
	flow, err := domain.FlowByKind(s.Flow)
	if err != nil {
		return nil, err
	}
	if err := flow.Validate(); err != nil {
		return nil, err
	}
	if _, ok := flow.Step(s.CurrentStep); !ok {
		return nil, fmt.Errorf("%w: session at %q not in %s flow", domain.ErrStepMismatch, s.CurrentStep, flow.Kind)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if s.Attempts == nil {
		s.Attempts = make(map[domain.StepID]int)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Sequencer{
		session: s,
		flow:    flow,
		deps:    deps,
		log:     deps.Logger.With("session", s.ID),
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan StepEvent, eventBuffer),
	}, nil
}

// Start begins flow from its initial step, aborting any capture in flight and
// discarding everything captured so far.
func (s *Sequencer) Start(flow domain.Flow) error {
	if err := flow.Validate(); err != nil {
		return err
	}

	for {
		s.Cancel()

		s.mu.Lock()
		if s.active != nil {
			s.mu.Unlock()
			continue
		}
		break
	}
	defer s.mu.Unlock()

	if s.finalizing {
		return domain.ErrFinalizeInProgress
	}

	s.flow = flow
	s.session.Reset(flow)
	if flow.Kind == domain.FlowPayment && s.session.Payment == nil {
		s.session.Payment = &domain.PaymentDetails{
			Merchant:  domain.DefaultMerchant,
			PayerName: domain.DefaultPayerName,
		}
	}
	s.log.Info("flow started", "flow", flow.Kind, "step", s.session.CurrentStep)
	s.emitLocked(false)
	return nil
}

// Advance moves past an action step such as an intro screen.
func (s *Sequencer) Advance() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.Finalized {
		return domain.ErrFlowFinalized
	}
	if s.active != nil {
		return domain.ErrCaptureAlreadyInProgress
	}

	def := s.flow.Steps[s.session.CurrentStep]
	if def.Type != domain.StepAction {
		return fmt.Errorf("%w: %s cannot be advanced", domain.ErrStepMismatch, def.Visible())
	}

	s.moveTo(def.Next)
	s.emitLocked(false)
	return nil
}

// BeginCapture acquires the device for step. On failure the session stays on
// step with the error recorded.
func (s *Sequencer) BeginCapture(ctx context.Context, step domain.StepID) error {
	_, err := s.begin(ctx, step)
	return err
}

func (s *Sequencer) begin(ctx context.Context, step domain.StepID) (*capture, error) {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("begin %s: %w", s.shown(step), domain.ErrCaptureAlreadyInProgress)
	}
	if s.finalizing {
		s.mu.Unlock()
		return nil, domain.ErrFinalizeInProgress
	}
	def, err := s.captureStep(step)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	c := newCapture(s.ctx, step, def.Visible(), def.Capture)
	s.active = c
	s.session.Attempts[step]++
	s.session.LastError = ""
	s.mu.Unlock()

	acqCtx, acqCancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, acqCancel)
	handle, err := s.deps.Devices.Acquire(acqCtx, def.Capture)
	stop()
	acqCancel()
	if err != nil {
		handle = nil
	}

	s.mu.Lock()
	c.handle = handle
	close(c.acquired)

	if c.state != captureAcquiring {
		s.mu.Unlock()
		<-c.closed
		return nil, fmt.Errorf("begin %s: %w", c.shown, context.Cause(c.ctx))
	}

	if err != nil {
		c.state = captureClosing
		s.session.LastError = err.Error()
		s.emitLocked(false)
		s.mu.Unlock()

		s.teardown(c, err)
		s.log.Info("capture not started", "step", step, "error", err)
		return nil, fmt.Errorf("begin %s: %w", c.shown, err)
	}

	c.state = captureActive
	s.session.Capturing = true
	s.session.Progress = 0
	timeout := s.deps.Timeouts.capture(def.Capture)
	c.timer = time.AfterFunc(timeout, func() { s.expire(c) })
	s.emitLocked(false)
	s.mu.Unlock()

	s.log.Debug("capture started", "step", step, "timeout", timeout)
	return c, nil
}

// ReportProgress records capture progress. Progress never decreases.
func (s *Sequencer) ReportProgress(step domain.StepID, percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.active
	if c == nil || c.step != step || c.state != captureActive {
		return fmt.Errorf("progress %s: %w", s.shown(step), domain.ErrNoCaptureInProgress)
	}

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent < s.session.Progress {
		return fmt.Errorf("%w: %d after %d", domain.ErrProgressRegression, percent, s.session.Progress)
	}
	if percent == s.session.Progress {
		return nil
	}

	s.session.Progress = percent
	s.emitLocked(false)
	return nil
}

// CompleteCapture verifies artifact, releases the device and advances to the
// next step. Verification failures leave the session on step.
func (s *Sequencer) CompleteCapture(ctx context.Context, step domain.StepID, artifact domain.Artifact) error {
	s.mu.Lock()
	c := s.active
	if c == nil || c.step != step {
		shown := s.shown(step)
		s.mu.Unlock()
		return fmt.Errorf("complete %s: %w", shown, domain.ErrNoCaptureInProgress)
	}
	switch c.state {
	case captureActive:
	case captureCompleting:
		s.mu.Unlock()
		return fmt.Errorf("complete %s: %w", c.shown, domain.ErrCaptureAlreadyInProgress)
	default:
		s.mu.Unlock()
		return fmt.Errorf("complete %s: %w", c.shown, domain.ErrNoCaptureInProgress)
	}

	if artifact.Kind == "" {
		artifact.Kind = c.kind
	}
	if artifact.Kind != c.kind {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s artifact for %s capture", domain.ErrStepMismatch, artifact.Kind, c.kind)
	}
	if artifact.CapturedAt.IsZero() {
		artifact.CapturedAt = time.Now()
	}

	def := s.flow.Steps[step]
	c.state = captureCompleting
	c.timer.Stop()
	s.mu.Unlock()

	artifact, amount, err := s.evaluate(ctx, c, def, artifact)

	s.mu.Lock()
	if c.state != captureCompleting {
		s.mu.Unlock()
		<-c.closed
		return fmt.Errorf("complete %s: %w", c.shown, context.Cause(c.ctx))
	}

	c.state = captureClosing
	s.session.Capturing = false
	s.session.Progress = 0

	if err != nil {
		s.session.LastError = err.Error()
		s.emitLocked(false)
		s.mu.Unlock()

		s.teardown(c, err)
		s.log.Info("capture rejected", "step", step, "error", err)
		return fmt.Errorf("complete %s: %w", c.shown, err)
	}

	s.session.Record(artifact)
	if amount != nil {
		if s.session.Payment == nil {
			s.session.Payment = &domain.PaymentDetails{}
		}
		s.session.Payment.Amount = *amount
	}
	alert := s.moveTo(def.Next)
	s.emitLocked(false)
	s.mu.Unlock()

	s.teardown(c, errCaptureDone)
	s.log.Info("capture completed", "step", step, "kind", artifact.Kind, "next", def.Next)

	if alert != nil {
		s.dispatch(*alert)
	}
	return nil
}

// FailCapture aborts the active capture with a caller-supplied reason.
func (s *Sequencer) FailCapture(step domain.StepID, reason error) error {
	if reason == nil {
		reason = errors.New("capture failed")
	}

	s.mu.Lock()
	c := s.active
	if c == nil || c.step != step || c.state != captureActive {
		shown := s.shown(step)
		s.mu.Unlock()
		return fmt.Errorf("fail %s: %w", shown, domain.ErrNoCaptureInProgress)
	}

	c.state = captureClosing
	s.session.Capturing = false
	s.session.Progress = 0
	s.session.LastError = reason.Error()
	s.emitLocked(false)
	s.mu.Unlock()

	s.teardown(c, reason)
	s.log.Info("capture failed", "step", step, "error", reason)
	return nil
}

// Branch picks the successor of the branch step. It is decided once per
// traversal.
func (s *Sequencer) Branch(mode domain.GestureMode) error {
	s.mu.Lock()

	if s.session.Finalized {
		s.mu.Unlock()
		return domain.ErrFlowFinalized
	}
	if s.session.Branch != nil {
		s.mu.Unlock()
		return domain.ErrBranchDecided
	}

	def := s.flow.Steps[s.session.CurrentStep]
	if def.Type != domain.StepBranch {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrNotBranchStep, def.Visible())
	}
	next, ok := def.Branches[mode]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", domain.ErrUnknownBranch, mode)
	}

	s.session.Branch = &mode
	alert := s.moveTo(next)
	s.emitLocked(false)
	s.mu.Unlock()

	if alert != nil {
		s.dispatch(*alert)
	}
	return nil
}

// Cancel aborts any capture in flight and returns once its device is
// released. The current step is unchanged.
func (s *Sequencer) Cancel() {
	s.mu.Lock()
	c := s.active
	if c == nil {
		s.mu.Unlock()
		return
	}
	if c.state == captureClosing {
		s.mu.Unlock()
		<-c.closed
		return
	}

	c.state = captureClosing
	s.session.Capturing = false
	s.session.Progress = 0
	s.emitLocked(false)
	s.mu.Unlock()

	s.teardown(c, domain.ErrCaptureCancelled)
	s.log.Info("capture cancelled", "step", c.step)
}

// Run drives a capture step end to end with the device's own progress.
func (s *Sequencer) Run(ctx context.Context, step domain.StepID) error {
	c, err := s.begin(ctx, step)
	if err != nil {
		return err
	}
	return s.drive(ctx, c)
}

// Drive runs the device for a capture already begun on step and completes it
// with whatever the device produces.
func (s *Sequencer) Drive(ctx context.Context, step domain.StepID) error {
	s.mu.Lock()
	c := s.active
	shown := s.shown(step)
	s.mu.Unlock()

	if c == nil || c.step != step {
		return fmt.Errorf("drive %s: %w", shown, domain.ErrNoCaptureInProgress)
	}
	return s.drive(ctx, c)
}

func (s *Sequencer) drive(ctx context.Context, c *capture) error {
	ok, err := s.attach(c)
	if err != nil {
		return err
	}
	if !ok {
		<-c.closed
		return s.stopped(c)
	}

	artifact, err := c.handle.Capture(c.ctx, func(p int) {
		_ = s.ReportProgress(c.step, p)
	})
	c.drivers.Done()

	if c.ctx.Err() != nil {
		return s.stopped(c)
	}
	if err != nil {
		_ = s.FailCapture(c.step, err)
		return fmt.Errorf("run %s: %w", c.shown, err)
	}
	return s.CompleteCapture(ctx, c.step, artifact)
}

// stopped reports why c ended without its driver completing it.
func (s *Sequencer) stopped(c *capture) error {
	cause := context.Cause(c.ctx)
	if errors.Is(cause, errCaptureDone) {
		return nil
	}
	return fmt.Errorf("run %s: %w", c.shown, cause)
}

// Settle finalizes the session through settle. It fails with
// domain.ErrIncompleteFlow while required captures are missing.
func (s *Sequencer) Settle(ctx context.Context, settle SettleFunc) (*domain.Session, error) {
	s.mu.Lock()
	if s.session.Finalized {
		s.mu.Unlock()
		return nil, domain.ErrFlowFinalized
	}
	if s.finalizing {
		s.mu.Unlock()
		return nil, domain.ErrFinalizeInProgress
	}
	if missing := s.flow.Missing(s.session.Completed); len(missing) > 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: missing %v", domain.ErrIncompleteFlow, missing)
	}
	if s.active != nil {
		s.mu.Unlock()
		return nil, domain.ErrCaptureAlreadyInProgress
	}
	def := s.flow.Steps[s.session.CurrentStep]
	if def.Type != domain.StepSettle && def.Type != domain.StepTerminal {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is not ready to finalize", domain.ErrStepMismatch, def.Visible())
	}

	s.finalizing = true
	snapshot := s.session.Clone()
	s.mu.Unlock()

	confirmation, err := settle(ctx, snapshot)

	s.mu.Lock()
	s.finalizing = false
	if err != nil {
		s.session.LastError = err.Error()
		s.emitLocked(false)
		s.mu.Unlock()
		s.log.Warn("finalize failed", "step", def.ID, "error", err)
		return nil, err
	}

	s.session.Finalized = true
	s.session.Confirmation = confirmation
	var alert *interfaces.Alert
	if def.Type == domain.StepSettle {
		alert = s.moveTo(def.Next)
	}
	s.emitLocked(true)
	out := s.session.Clone()
	s.mu.Unlock()

	s.log.Info("flow finalized", "confirmation", confirmation)
	if alert != nil {
		s.dispatch(*alert)
	}
	return out, nil
}

func (s *Sequencer) Events() <-chan StepEvent {
	return s.events
}

func (s *Sequencer) Session() *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone()
}

func (s *Sequencer) View() domain.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Project(s.session, s.flow)
}

// Resolve maps a step as the renderer shows it to the step the session is
// actually on, so clients never need to know about aliased steps.
func (s *Sequencer) Resolve(step domain.StepID) domain.StepID {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.session.CurrentStep
	if def, ok := s.flow.Step(current); ok && def.Visible() == step {
		return current
	}
	return step
}

func (s *Sequencer) Flow() domain.Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flow
}

// Stop cancels any capture and detaches the sequencer from its collaborators.
// Done is closed once it returns.
func (s *Sequencer) Stop() {
	s.Cancel()
	s.cancel()
}

// Done is closed when the sequencer is stopped, either directly or by its
// manager.
func (s *Sequencer) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Sequencer) captureStep(step domain.StepID) (domain.StepDef, error) {
	if s.session.Finalized {
		return domain.StepDef{}, domain.ErrFlowFinalized
	}
	if step != s.session.CurrentStep {
		return domain.StepDef{}, fmt.Errorf("%w: %s requested, session at %s", domain.ErrStepMismatch, s.shown(step), s.shown(s.session.CurrentStep))
	}
	def := s.flow.Steps[step]
	if def.Type != domain.StepCapture {
		return domain.StepDef{}, fmt.Errorf("%w: %s is not a capture step", domain.ErrStepMismatch, def.Visible())
	}
	return def, nil
}

// shown names step the way the renderer sees it. Callers hold s.mu.
func (s *Sequencer) shown(step domain.StepID) domain.StepID {
	if def, ok := s.flow.Step(step); ok {
		return def.Visible()
	}
	return step
}

// attach registers the single device driver on c while it is still active.
func (s *Sequencer) attach(c *capture) (bool, error) {
	<-c.acquired

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != c || c.state != captureActive {
		return false, nil
	}
	if c.driven {
		return false, fmt.Errorf("drive %s: %w", c.shown, domain.ErrCaptureAlreadyInProgress)
	}
	c.driven = true
	c.drivers.Add(1)
	return true, nil
}

func (s *Sequencer) evaluate(ctx context.Context, c *capture, def domain.StepDef, a domain.Artifact) (domain.Artifact, *domain.Amount, error) {
	if s.deps.Verifier != nil {
		vctx, cancel := context.WithTimeout(c.ctx, s.deps.Timeouts.verify())
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		d, err := s.deps.Verifier.Verify(vctx, a)
		if err != nil {
			if c.ctx.Err() != nil {
				return a, nil, context.Cause(c.ctx)
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return a, nil, fmt.Errorf("verify %s: %v: %w", a.Kind, err, domain.ErrServiceUnavailable)
			}
			return a, nil, fmt.Errorf("verify %s: %w", a.Kind, err)
		}
		if !d.Accepted {
			return a, nil, fmt.Errorf("verify %s: confidence %.2f: %w", a.Kind, d.Confidence, domain.ErrLowConfidence)
		}
		a.Confidence = d.Confidence
	}

	if def.ParseAmount && s.deps.Parser != nil {
		amt, err := s.deps.Parser.Parse(a.Transcript)
		if err != nil {
			return a, nil, err
		}
		return a, &amt, nil
	}
	return a, nil, nil
}

func (s *Sequencer) expire(c *capture) {
	s.mu.Lock()
	if s.active != c || c.state != captureActive {
		s.mu.Unlock()
		return
	}

	c.state = captureClosing
	s.session.Capturing = false
	s.session.Progress = 0
	s.session.LastError = domain.ErrCaptureTimedOut.Error()
	s.emitLocked(false)
	s.mu.Unlock()

	s.log.Warn("capture timed out", "step", c.step)
	s.teardown(c, domain.ErrCaptureTimedOut)
}

// teardown releases c's device once any driver has returned. It must be called
// without s.mu held, exactly once per capture.
func (s *Sequencer) teardown(c *capture, cause error) {
	c.cancel(cause)
	if c.timer != nil {
		c.timer.Stop()
	}
	<-c.acquired
	c.drivers.Wait()

	if c.handle != nil {
		s.deps.Devices.Release(c.handle)
	}

	s.mu.Lock()
	if s.active == c {
		s.active = nil
	}
	s.mu.Unlock()
	close(c.closed)
}

// moveTo enters next and returns the alert to dispatch if next raises one.
func (s *Sequencer) moveTo(next domain.StepID) *interfaces.Alert {
	s.session.CurrentStep = next
	s.session.LastError = ""
	s.session.Progress = 0

	if !s.flow.Steps[next].RaisesAlert {
		return nil
	}

	s.session.AlertDispatched = true
	a := interfaces.Alert{
		ID:        uuid.New().String(),
		SessionID: s.session.ID,
		UserID:    s.session.UserID,
		RaisedAt:  time.Now(),
	}
	if p := s.session.Payment; p != nil {
		a.Merchant = p.Merchant
		a.Amount = p.Amount
		if p.Location != nil {
			loc := *p.Location
			a.Location = &loc
		}
	}
	return &a
}

func (s *Sequencer) dispatch(a interfaces.Alert) {
	if s.deps.Alerts == nil {
		s.log.Error("no alert dispatcher configured", "alert", a.ID)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.deps.Timeouts.alert())
		defer cancel()

		if err := s.deps.Alerts.Dispatch(ctx, a); err != nil {
			s.log.Error("alert dispatch failed", "alert", a.ID, "error", err)
		}
	}()
}

func (s *Sequencer) emitLocked(done bool) {
	s.session.UpdatedAt = time.Now()

	ev := StepEvent{
		SessionID: s.session.ID,
		View:      domain.Project(s.session, s.flow),
		Done:      done,
	}
	select {
	case s.events <- ev:
	default:
	}
}
