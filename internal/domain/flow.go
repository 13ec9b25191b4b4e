package domain

import (
	"fmt"
	"sort"
)

type FlowKind string

const (
	FlowEnrollment FlowKind = "enrollment"
	FlowPayment    FlowKind = "payment"
	FlowPalmistry  FlowKind = "palmistry"
	FlowVault      FlowKind = "vault"
)

// Flow is an ordered sequence of steps with at most one branch point.
type Flow struct {
	Kind     FlowKind
	Initial  StepID
	Steps    map[StepID]StepDef
	Required []CaptureKind
}

func (f Flow) Step(id StepID) (StepDef, bool) {
	def, ok := f.Steps[id]
	return def, ok
}

// Validate checks that the flow is a DAG reachable from Initial with at most
// one branch step, and that every required kind has a capture step.
func (f Flow) Validate() error {
	if f.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidFlow)
	}
	if _, ok := f.Steps[f.Initial]; !ok {
		return fmt.Errorf("%w: initial step %q not declared", ErrInvalidFlow, f.Initial)
	}

	branches := 0
	captured := make(map[CaptureKind]bool)

	for id, def := range f.Steps {
		if def.ID != id {
			return fmt.Errorf("%w: step %q declared under %q", ErrInvalidFlow, def.ID, id)
		}
		if def.ViewAs != "" {
			if _, ok := f.Steps[def.ViewAs]; !ok {
				return fmt.Errorf("%w: step %q renders as undeclared %q", ErrInvalidFlow, id, def.ViewAs)
			}
		}

		switch def.Type {
		case StepTerminal:
			if def.Next != "" || len(def.Branches) > 0 {
				return fmt.Errorf("%w: terminal step %q has a successor", ErrInvalidFlow, id)
			}
			continue
		case StepBranch:
			branches++
			if len(def.Branches) == 0 {
				return fmt.Errorf("%w: branch step %q has no targets", ErrInvalidFlow, id)
			}
			for mode := range def.Branches {
				if !mode.Valid() {
					return fmt.Errorf("%w: branch step %q has unknown mode %q", ErrInvalidFlow, id, mode)
				}
			}
		case StepCapture:
			if def.Capture == "" {
				return fmt.Errorf("%w: capture step %q has no capture kind", ErrInvalidFlow, id)
			}
			captured[def.Capture] = true
			fallthrough
		case StepAction, StepSettle:
			if def.Next == "" {
				return fmt.Errorf("%w: step %q has no successor", ErrInvalidFlow, id)
			}
		default:
			return fmt.Errorf("%w: step %q has unknown type %q", ErrInvalidFlow, id, def.Type)
		}

		for _, next := range def.successors() {
			if _, ok := f.Steps[next]; !ok {
				return fmt.Errorf("%w: step %q leads to undeclared %q", ErrInvalidFlow, id, next)
			}
		}
	}

	if branches > 1 {
		return fmt.Errorf("%w: %d branch steps, at most one allowed", ErrInvalidFlow, branches)
	}
	for _, kind := range f.Required {
		if !captured[kind] {
			return fmt.Errorf("%w: required %s has no capture step", ErrInvalidFlow, kind)
		}
	}

	order, err := f.order()
	if err != nil {
		return err
	}
	if len(order) != len(f.Steps) {
		return fmt.Errorf("%w: %d steps unreachable from %q", ErrInvalidFlow, len(f.Steps)-len(order), f.Initial)
	}
	return nil
}

// Order returns a topological rank for every step reachable from Initial.
// A valid traversal only ever moves to a step of strictly higher rank.
func (f Flow) Order() map[StepID]int {
	order, _ := f.order()
	rank := make(map[StepID]int, len(order))
	for i, id := range order {
		rank[id] = i
	}
	return rank
}

func (f Flow) order() ([]StepID, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[StepID]int, len(f.Steps))
	var post []StepID

	var visit func(id StepID) error
	visit = func(id StepID) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("%w: cycle through %q", ErrInvalidFlow, id)
		case done:
			return nil
		}
		state[id] = visiting
		for _, next := range f.Steps[id].successors() {
			if err := visit(next); err != nil {
				return err
			}
		}
		state[id] = done
		post = append(post, id)
		return nil
	}

	if err := visit(f.Initial); err != nil {
		return nil, err
	}

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post, nil
}

// Missing returns the required kinds absent from completed, sorted.
func (f Flow) Missing(completed []CaptureKind) []CaptureKind {
	have := make(map[CaptureKind]bool, len(completed))
	for _, k := range completed {
		have[k] = true
	}

	var missing []CaptureKind
	for _, k := range f.Required {
		if !have[k] {
			missing = append(missing, k)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

func EnrollmentFlow() Flow {
	return Flow{
		Kind:    FlowEnrollment,
		Initial: StepIntro,
		Steps: map[StepID]StepDef{
			StepIntro:    {ID: StepIntro, Type: StepAction, Next: StepPalm},
			StepPalm:     {ID: StepPalm, Type: StepCapture, Capture: CapturePalm, Next: StepFace},
			StepFace:     {ID: StepFace, Type: StepCapture, Capture: CaptureFace, Next: StepVoice},
			StepVoice:    {ID: StepVoice, Type: StepCapture, Capture: CaptureVoice, Next: StepGesture},
			StepGesture:  {ID: StepGesture, Type: StepCapture, Capture: CaptureGesture, Next: StepComplete},
			StepComplete: {ID: StepComplete, Type: StepTerminal},
		},
		Required: []CaptureKind{CapturePalm, CaptureFace, CaptureVoice, CaptureGesture},
	}
}

// PaymentFlow branches at confirm. The duress path renders through the same
// visible steps as the normal path and only differs by raising an alert.
func PaymentFlow() Flow {
	return Flow{
		Kind:    FlowPayment,
		Initial: StepScan,
		Steps: map[StepID]StepDef{
			StepScan:  {ID: StepScan, Type: StepCapture, Capture: CapturePalm, Next: StepVoice},
			StepVoice: {ID: StepVoice, Type: StepCapture, Capture: CaptureVoice, Next: StepConfirm, ParseAmount: true},
			StepConfirm: {
				ID:   StepConfirm,
				Type: StepBranch,
				Branches: map[GestureMode]StepID{
					GestureNormal: StepGesture,
					GestureDuress: StepGestureDuress,
				},
			},
			StepGesture:       {ID: StepGesture, Type: StepCapture, Capture: CaptureGesture, Next: StepProcessing},
			StepProcessing:    {ID: StepProcessing, Type: StepSettle, Next: StepSuccess},
			StepGestureDuress: {ID: StepGestureDuress, Type: StepCapture, Capture: CaptureGesture, Next: StepSOS, ViewAs: StepGesture},
			StepSOS:           {ID: StepSOS, Type: StepSettle, Next: StepSuccess, ViewAs: StepProcessing, RaisesAlert: true},
			StepSuccess:       {ID: StepSuccess, Type: StepTerminal},
		},
		Required: []CaptureKind{CapturePalm, CaptureVoice, CaptureGesture},
	}
}

func PalmistryFlow() Flow {
	return Flow{
		Kind:    FlowPalmistry,
		Initial: StepScan,
		Steps: map[StepID]StepDef{
			StepScan:     {ID: StepScan, Type: StepCapture, Capture: CapturePalm, Next: StepReading},
			StepReading:  {ID: StepReading, Type: StepSettle, Next: StepComplete},
			StepComplete: {ID: StepComplete, Type: StepTerminal},
		},
		Required: []CaptureKind{CapturePalm},
	}
}

func VaultFlow() Flow {
	return Flow{
		Kind:    FlowVault,
		Initial: StepScan,
		Steps: map[StepID]StepDef{
			StepScan:     {ID: StepScan, Type: StepCapture, Capture: CapturePalm, Next: StepUnlocked},
			StepUnlocked: {ID: StepUnlocked, Type: StepTerminal},
		},
		Required: []CaptureKind{CapturePalm},
	}
}

func FlowByKind(kind FlowKind) (Flow, error) {
	switch kind {
	case FlowEnrollment:
		return EnrollmentFlow(), nil
	case FlowPayment:
		return PaymentFlow(), nil
	case FlowPalmistry:
		return PalmistryFlow(), nil
	case FlowVault:
		return VaultFlow(), nil
	}
	return Flow{}, fmt.Errorf("%w: unknown flow %q", ErrInvalidFlow, kind)
}
