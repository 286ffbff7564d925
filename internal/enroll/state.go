// Package enroll drives a face enrollment capture: it polls frames, keeps
// the ones that pass the quality checks and hands the finished sample set
// to a submitter.
package enroll

import (
	"time"

	"github.com/ayusman/faceenroll/internal/quality"
)

// State is the state of an Orchestrator.
type State int

const (
	StateIdle State = iota
	StateDetecting
	StateAccumulating
	StateReady
	StateSubmitting
	StateDone
	StateFailed
	StateCancelled
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateDetecting:    "detecting",
	StateAccumulating: "accumulating",
	StateReady:        "ready",
	StateSubmitting:   "submitting",
	StateDone:         "done",
	StateFailed:       "failed",
	StateCancelled:    "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// Polling reports whether frames are being captured in s.
func (s State) Polling() bool {
	return s == StateDetecting || s == StateAccumulating
}

// transitions lists the legal successors of each state. Cancelled is
// reachable from every non-terminal state.
var transitions = map[State][]State{
	StateIdle:         {StateDetecting},
	StateDetecting:    {StateAccumulating, StateFailed},
	StateAccumulating: {StateReady, StateFailed},
	StateReady:        {StateSubmitting},
	StateSubmitting:   {StateDone, StateFailed},
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateCancelled {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is emitted on every state change.
type Transition struct {
	SessionID string    `json:"sessionId"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Samples   int       `json:"samples"`
	Target    int       `json:"target"`
	Err       error     `json:"-"`
	At        time.Time `json:"at"`
}

// Reject names the reason a frame was not kept.
type Reject string

const (
	RejectNoFace        Reject = "no_face"
	RejectMultipleFaces Reject = "multiple_faces"
	RejectNoRegion      Reject = "no_region"
	RejectPoorQuality   Reject = "poor_quality"
	RejectMotion        Reject = "motion"
	RejectImageCheck    Reject = "image_check"
)

// FrameResult is the feedback for one polled frame.
type FrameResult struct {
	SessionID string            `json:"sessionId"`
	Faces     int               `json:"faces"`
	Accepted  bool              `json:"accepted"`
	Reject    Reject            `json:"reject,omitempty"`
	Hint      quality.Hint      `json:"hint,omitempty"`
	Verdict   *quality.Verdict  `json:"verdict,omitempty"`
	Position  *quality.Position `json:"position,omitempty"`
	Issues    []quality.Issue   `json:"issues,omitempty"`
	Samples   int               `json:"samples"`
	Target    int               `json:"target"`
	Err       error             `json:"-"`
	At        time.Time         `json:"at"`
}
