// Package tray provides a system tray menu for starting and following a
// face enrollment.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/faceenroll/internal/enroll"
)

// Tray is the system tray application.
type Tray struct {
	onStart  func()
	onCancel func()
	onSubmit func()
	onOpen   func()
	onQuit   func()
	state    enroll.State
	mu       sync.RWMutex

	menuStatus *systray.MenuItem
	menuStart  *systray.MenuItem
	menuSubmit *systray.MenuItem
}

// New creates a new Tray in the idle state.
func New() *Tray {
	return &Tray{state: enroll.StateIdle}
}

// OnStart sets the callback for the start menu item.
func (t *Tray) OnStart(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStart = fn
}

// OnCancel sets the callback used when the start item is clicked during a
// capture.
func (t *Tray) OnCancel(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCancel = fn
}

// OnSubmit sets the callback for the submit menu item.
func (t *Tray) OnSubmit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSubmit = fn
}

// OnOpen sets the callback for the open-in-browser menu item.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback for the quit menu item.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the tray. It blocks until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {})
}

// Quit stops the tray.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("Face")
	systray.SetTooltip("Face enrollment")

	t.mu.Lock()
	t.menuStatus = systray.AddMenuItem(StatusLine(enroll.StateIdle, 0, 0), "Enrollment status")
	t.menuStatus.Disable()
	systray.AddSeparator()

	t.menuStart = systray.AddMenuItem(startTitle(enroll.StateIdle), "Start or cancel a capture")
	t.menuSubmit = systray.AddMenuItem("Submit", "Register the captured samples")
	t.menuSubmit.Disable()
	systray.AddSeparator()
	t.mu.Unlock()

	menuOpen := systray.AddMenuItem("Open in Browser...", "Open the enrollment page")
	systray.AddSeparator()
	menuQuit := systray.AddMenuItem("Quit", "Quit face enrollment")

	go func() {
		for {
			select {
			case <-t.menuStart.ClickedCh:
				t.handleStart()
			case <-t.menuSubmit.ClickedCh:
				t.call(func() func() { return t.onSubmit })
			case <-menuOpen.ClickedCh:
				t.call(func() func() { return t.onOpen })
			case <-menuQuit.ClickedCh:
				t.call(func() func() { return t.onQuit })
				systray.Quit()
				return
			}
		}
	}()
}

// handleStart starts a capture, or cancels the one in progress.
func (t *Tray) handleStart() {
	t.mu.RLock()
	callback := t.onStart
	if Active(t.state) {
		callback = t.onCancel
	}
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) call(get func() func()) {
	t.mu.RLock()
	callback := get()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// Update shows the enrollment state and progress.
func (t *Tray) Update(state enroll.State, samples, target int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = state
	if t.menuStatus == nil {
		return
	}

	t.menuStatus.SetTitle(StatusLine(state, samples, target))
	t.menuStart.SetTitle(startTitle(state))
	if state == enroll.StateReady {
		t.menuSubmit.Enable()
	} else {
		t.menuSubmit.Disable()
	}
}

// State returns the last state passed to Update.
func (t *Tray) State() enroll.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Active reports whether a capture or submission can be cancelled.
func Active(state enroll.State) bool {
	return !state.Terminal() && state != enroll.StateIdle
}

// StatusLine is the status menu title.
func StatusLine(state enroll.State, samples, target int) string {
	switch state {
	case enroll.StateIdle:
		return "Status: idle"
	case enroll.StateDetecting, enroll.StateAccumulating:
		return fmt.Sprintf("Capturing: %d/%d", samples, target)
	case enroll.StateReady:
		return fmt.Sprintf("Ready: %d samples", samples)
	case enroll.StateSubmitting:
		return "Submitting..."
	case enroll.StateDone:
		return "Registered"
	default:
		return "Status: " + state.String()
	}
}

func startTitle(state enroll.State) string {
	if Active(state) {
		return "Cancel Enrollment"
	}
	return "Start Enrollment"
}
