package domain

import (
	"errors"
	"testing"
)

func TestBuiltinFlowsValidate(t *testing.T) {
	tests := []struct {
		name string
		flow Flow
	}{
		{name: "enrollment", flow: EnrollmentFlow()},
		{name: "payment", flow: PaymentFlow()},
		{name: "palmistry", flow: PalmistryFlow()},
		{name: "vault", flow: VaultFlow()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.flow.Validate(); err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestValidateRejectsBadFlows(t *testing.T) {
	cyclic := VaultFlow()
	cyclic.Steps[StepUnlocked] = StepDef{ID: StepUnlocked, Type: StepAction, Next: StepScan}

	twoBranches := PaymentFlow()
	twoBranches.Steps[StepProcessing] = StepDef{
		ID:       StepProcessing,
		Type:     StepBranch,
		Branches: map[GestureMode]StepID{GestureNormal: StepSuccess},
	}

	dangling := EnrollmentFlow()
	dangling.Steps[StepGesture] = StepDef{ID: StepGesture, Type: StepCapture, Capture: CaptureGesture, Next: "nowhere"}

	noInitial := VaultFlow()
	noInitial.Initial = StepIntro

	uncaptured := VaultFlow()
	uncaptured.Required = append(uncaptured.Required, CaptureFace)

	unreachable := VaultFlow()
	unreachable.Steps[StepReading] = StepDef{ID: StepReading, Type: StepTerminal}

	terminalWithNext := VaultFlow()
	terminalWithNext.Steps[StepUnlocked] = StepDef{ID: StepUnlocked, Type: StepTerminal, Next: StepScan}

	tests := []struct {
		name string
		flow Flow
	}{
		{"cycle", cyclic},
		{"two branch points", twoBranches},
		{"dangling successor", dangling},
		{"undeclared initial", noInitial},
		{"required kind without step", uncaptured},
		{"unreachable step", unreachable},
		{"terminal with successor", terminalWithNext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.flow.Validate()
			if !errors.Is(err, ErrInvalidFlow) {
				t.Fatalf("Validate() = %v, want ErrInvalidFlow", err)
			}
		})
	}
}

func TestOrderIsForward(t *testing.T) {
	flow := PaymentFlow()
	rank := flow.Order()

	if len(rank) != len(flow.Steps) {
		t.Fatalf("ranked %d steps, want %d", len(rank), len(flow.Steps))
	}
	for id, def := range flow.Steps {
		for _, next := range def.successors() {
			if rank[next] <= rank[id] {
				t.Errorf("step %s (rank %d) leads back to %s (rank %d)", id, rank[id], next, rank[next])
			}
		}
	}
	if rank[flow.Initial] != 0 {
		t.Fatalf("initial rank = %d, want 0", rank[flow.Initial])
	}
}

func TestMissing(t *testing.T) {
	flow := EnrollmentFlow()

	tests := []struct {
		name      string
		completed []CaptureKind
		want      int
	}{
		{name: "nothing", completed: nil, want: 4},
		{name: "palm and face", completed: []CaptureKind{CapturePalm, CaptureFace}, want: 2},
		{name: "all", completed: []CaptureKind{CaptureGesture, CaptureVoice, CaptureFace, CapturePalm}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := flow.Missing(tt.completed)
			if len(got) != tt.want {
				t.Fatalf("Missing(%v) = %v, want %d kinds", tt.completed, got, tt.want)
			}
		})
	}
}

func TestNewSession(t *testing.T) {
	s := NewSession("", "user-1", PaymentFlow())

	if s.ID == "" {
		t.Fatalf("expected generated id")
	}
	if s.CurrentStep != StepScan {
		t.Fatalf("current step = %s, want %s", s.CurrentStep, StepScan)
	}
	if s.Payment == nil || s.Payment.Merchant != DefaultMerchant {
		t.Fatalf("expected default payment details, got %+v", s.Payment)
	}
	if len(s.Completed) != 0 || s.Capturing {
		t.Fatalf("new session should have nothing captured")
	}
}

func TestRecordIsAppendOnce(t *testing.T) {
	s := NewSession("s", "", EnrollmentFlow())

	s.Record(Artifact{Kind: CapturePalm, Confidence: 0.9})
	s.Record(Artifact{Kind: CapturePalm, Confidence: 0.95})
	s.Record(Artifact{Kind: CaptureFace})

	if len(s.Completed) != 2 {
		t.Fatalf("completed = %v, want 2 kinds", s.Completed)
	}
	if s.Artifacts[CapturePalm].Confidence != 0.95 {
		t.Fatalf("expected latest palm artifact to be kept")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := NewSession("s", "", PaymentFlow())
	s.Record(Artifact{Kind: CapturePalm, Payload: []byte{1, 2, 3}})
	mode := GestureDuress
	s.Branch = &mode

	c := s.Clone()
	c.Completed[0] = CaptureFace
	c.Artifacts[CapturePalm].Payload[0] = 9
	*c.Branch = GestureNormal
	c.Payment.Merchant = "elsewhere"

	if s.Completed[0] != CapturePalm {
		t.Errorf("clone shares Completed")
	}
	if s.Artifacts[CapturePalm].Payload[0] != 1 {
		t.Errorf("clone shares artifact payload")
	}
	if *s.Branch != GestureDuress {
		t.Errorf("clone shares branch")
	}
	if s.Payment.Merchant != DefaultMerchant {
		t.Errorf("clone shares payment details")
	}
}

func TestProjectHidesDuress(t *testing.T) {
	flow := PaymentFlow()

	normal := NewSession("pay", "", flow)
	duress := NewSession("pay", "", flow)
	mode := GestureDuress
	duress.Branch = &mode
	duress.AlertDispatched = true

	pairs := [][2]StepID{
		{StepGesture, StepGestureDuress},
		{StepProcessing, StepSOS},
		{StepSuccess, StepSuccess},
	}
	for _, p := range pairs {
		normal.CurrentStep = p[0]
		duress.CurrentStep = p[1]

		nv := Project(normal, flow)
		dv := Project(duress, flow)
		if nv.Primary != dv.Primary {
			t.Errorf("primary views differ at %s/%s: %+v vs %+v", p[0], p[1], nv.Primary, dv.Primary)
		}
		if !dv.Side.AlertDispatched || nv.Side.AlertDispatched {
			t.Errorf("side channel should only flag the duress session")
		}
	}
}

func TestIsRecoverable(t *testing.T) {
	if !IsRecoverable(ErrCaptureTimedOut) {
		t.Errorf("timeout should be recoverable")
	}
	if IsRecoverable(ErrIncompleteFlow) {
		t.Errorf("incomplete flow is escalated, not recovered")
	}
}
