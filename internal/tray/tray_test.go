package tray

import (
	"testing"

	"github.com/ayusman/faceenroll/internal/enroll"
)

func TestStatusLine(t *testing.T) {
	tests := []struct {
		state   enroll.State
		samples int
		want    string
	}{
		{enroll.StateIdle, 0, "Status: idle"},
		{enroll.StateDetecting, 0, "Capturing: 0/7"},
		{enroll.StateAccumulating, 3, "Capturing: 3/7"},
		{enroll.StateReady, 7, "Ready: 7 samples"},
		{enroll.StateSubmitting, 7, "Submitting..."},
		{enroll.StateDone, 7, "Registered"},
		{enroll.StateFailed, 2, "Status: failed"},
		{enroll.StateCancelled, 2, "Status: cancelled"},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := StatusLine(tt.state, tt.samples, 7); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestActive(t *testing.T) {
	active := map[enroll.State]bool{
		enroll.StateIdle:         false,
		enroll.StateDetecting:    true,
		enroll.StateAccumulating: true,
		enroll.StateReady:        true,
		enroll.StateSubmitting:   true,
		enroll.StateDone:         false,
		enroll.StateFailed:       false,
		enroll.StateCancelled:    false,
	}
	for state, want := range active {
		if got := Active(state); got != want {
			t.Errorf("%s: expected %v, got %v", state, want, got)
		}
	}
}

func TestTray_UpdateBeforeRun(t *testing.T) {
	tr := New()
	if tr.State() != enroll.StateIdle {
		t.Errorf("expected idle, got %s", tr.State())
	}

	tr.Update(enroll.StateAccumulating, 2, 5)

	if tr.State() != enroll.StateAccumulating {
		t.Errorf("expected accumulating, got %s", tr.State())
	}
}
