package domain

type StepID string

const (
	StepIntro         StepID = "intro"
	StepPalm          StepID = "palm"
	StepFace          StepID = "face"
	StepVoice         StepID = "voice"
	StepGesture       StepID = "gesture"
	StepComplete      StepID = "complete"
	StepScan          StepID = "scan"
	StepConfirm       StepID = "confirm"
	StepGestureDuress StepID = "gesture_duress"
	StepProcessing    StepID = "processing"
	StepSOS           StepID = "sos"
	StepSuccess       StepID = "success"
	StepReading       StepID = "reading"
	StepUnlocked      StepID = "unlocked"
)

// StepType decides what moves a step forward.
type StepType string

const (
	StepAction   StepType = "action"   // user acknowledges, Advance
	StepCapture  StepType = "capture"  // device capture, CompleteCapture
	StepBranch   StepType = "branch"   // caller picks a successor, Branch
	StepSettle   StepType = "settle"   // finalize hands off to settlement
	StepTerminal StepType = "terminal" // no successor
)

type CaptureKind string

const (
	CapturePalm    CaptureKind = "palm"
	CaptureFace    CaptureKind = "face"
	CaptureVoice   CaptureKind = "voice"
	CaptureGesture CaptureKind = "gesture"
)

type GestureMode string

const (
	GestureNormal GestureMode = "normal"
	GestureDuress GestureMode = "duress"
)

func (m GestureMode) Valid() bool {
	return m == GestureNormal || m == GestureDuress
}

type StepDef struct {
	ID       StepID
	Type     StepType
	Capture  CaptureKind
	Next     StepID
	Branches map[GestureMode]StepID

	// ViewAs is the step the renderer shows instead of ID.
	ViewAs StepID

	// ParseAmount marks a voice step whose transcript carries the payment amount.
	ParseAmount bool

	// RaisesAlert dispatches a silent alert when the step is entered.
	RaisesAlert bool
}

func (d StepDef) Visible() StepID {
	if d.ViewAs != "" {
		return d.ViewAs
	}
	return d.ID
}

func (d StepDef) successors() []StepID {
	if d.Type == StepBranch {
		out := make([]StepID, 0, len(d.Branches))
		for _, mode := range []GestureMode{GestureNormal, GestureDuress} {
			if next, ok := d.Branches[mode]; ok {
				out = append(out, next)
			}
		}
		return out
	}
	if d.Next == "" {
		return nil
	}
	return []StepID{d.Next}
}
