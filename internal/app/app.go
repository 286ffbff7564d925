// Package app wires the camera, the shared detection session, the
// submission client and the audit store, and owns the active enrollment.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/ayusman/faceenroll/internal/capture"
	"github.com/ayusman/faceenroll/internal/config"
	"github.com/ayusman/faceenroll/internal/detector"
	"github.com/ayusman/faceenroll/internal/enroll"
	"github.com/ayusman/faceenroll/internal/quality"
	"github.com/ayusman/faceenroll/internal/store"
	"github.com/ayusman/faceenroll/internal/submit"
	"github.com/ayusman/faceenroll/internal/types"
)

var (
	// ErrBusy is returned when an enrollment is already in progress.
	ErrBusy = errors.New("an enrollment is already in progress")

	// ErrNoEnrollment is returned when there is no enrollment to act on.
	ErrNoEnrollment = errors.New("no enrollment")

	// ErrNoStore is returned for history queries without a store.
	ErrNoStore = errors.New("attempt history is disabled")
)

// Service is the remote face recognition service.
type Service interface {
	enroll.Submitter
	Status(ctx context.Context) (*types.FaceStatus, error)
	Delete(ctx context.Context) error
}

// Event is one enrollment update fanned out to subscribers. Exactly one of
// Transition and Frame is set.
type Event struct {
	Type       string              `json:"type"`
	Transition *enroll.Transition  `json:"transition,omitempty"`
	Frame      *enroll.FrameResult `json:"frame,omitempty"`
	// Message is the localized explanation of a failure or a hint.
	Message string `json:"message,omitempty"`
}

// Event types.
const (
	EventTransition = "transition"
	EventFrame      = "frame"
)

// Snapshot is the externally visible state of the current enrollment.
type Snapshot struct {
	State     string             `json:"state"`
	SessionID string             `json:"sessionId,omitempty"`
	Samples   int                `json:"samples"`
	Target    int                `json:"target"`
	Error     string             `json:"error,omitempty"`
	Review    *quality.SetReview `json:"review,omitempty"`
	Outcome   *types.Outcome     `json:"outcome,omitempty"`
}

// App is the face enrollment application.
type App struct {
	settings  *config.Config
	camera    capture.Camera
	detection *detector.Session
	evaluator *quality.Evaluator
	service   Service
	store     *store.Store
	locale    string

	mu          sync.RWMutex
	current     *enroll.Orchestrator
	subscribers map[int]func(Event)
	nextSub     int
	opened      bool
}

// New creates an App from settings. s may be nil to disable the audit
// history.
func New(settings *config.Config, s *store.Store) *App {
	client := submit.New(settings.Submit)

	a := &App{
		settings:    settings,
		camera:      capture.NewCamera(settings.Camera),
		evaluator:   quality.New(settings.Quality),
		service:     client,
		store:       s,
		locale:      client.Locale(),
		subscribers: make(map[int]func(Event)),
	}
	a.detection = detector.NewSession(a.loader(), detector.Config{MirrorLive: settings.Detector.MirrorLive})
	return a
}

// loader picks the detection backend. Auto and mediapipe both use the face
// mesh service, so a missing script surfaces as a fatal load error. The mock
// model is only used when configured explicitly, and it reports no faces.
func (a *App) loader() detector.Loader {
	cfg := a.settings.Detector

	if cfg.Backend == config.BackendMock {
		log.Warn("Using mock face detection, no faces will be found")
		return detector.NewMockLoader(detector.NewMockModel())
	}

	log.Info("Using MediaPipe face mesh detection")
	return detector.NewMediaPipeLoader(cfg.MediaPipe)
}

// SetCamera replaces the camera. It must be called before Open.
func (a *App) SetCamera(c capture.Camera) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.camera = c
}

// SetLoader replaces the detection backend. It must be called before Open.
func (a *App) SetLoader(l detector.Loader) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detection = detector.NewSession(l, detector.Config{MirrorLive: a.settings.Detector.MirrorLive})
}

// SetService replaces the recognition service client.
func (a *App) SetService(s Service) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.service = s
}

// Open opens the camera and loads the detection model. The model is loaded
// once and shared by every enrollment.
func (a *App) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.opened {
		return nil
	}
	if err := a.camera.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	if err := a.detection.Load(ctx); err != nil {
		a.camera.Close()
		return err
	}

	a.opened = true
	log.Info("Face enrollment ready")
	return nil
}

// Close cancels any enrollment and releases the camera and the model.
func (a *App) Close() error {
	a.mu.Lock()
	current := a.current
	a.opened = false
	a.mu.Unlock()

	if current != nil {
		current.Cancel()
	}

	var errs []error
	if err := a.detection.Dispose(); err != nil {
		errs = append(errs, fmt.Errorf("dispose detector: %w", err))
	}
	if err := a.camera.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close camera: %w", err))
	}
	return errors.Join(errs...)
}

// StartEnrollment starts a new capture. target 0 uses the configured
// target. Only one enrollment may be active at a time; a finished one is
// replaced.
func (a *App) StartEnrollment(target int) (*enroll.Orchestrator, error) {
	a.mu.Lock()
	if a.current != nil && !a.current.State().Terminal() {
		a.mu.Unlock()
		return nil, ErrBusy
	}

	cfg := a.settings.Capture
	cfg.Source = detector.SourceCamera
	if target != 0 {
		cfg.Target = target
	}

	deps := enroll.Deps{
		Source:    a.camera,
		Detector:  a.detection,
		Evaluator: a.evaluator,
		Submitter: a.service,
	}
	if a.store != nil {
		deps.Recorder = newStoreRecorder(a.store.Attempts(), a.settings.Store.Keep)
	}

	o, err := enroll.New(deps, cfg)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	previous := a.current
	a.current = o
	a.mu.Unlock()

	o.OnTransition(func(t enroll.Transition) {
		a.publish(Event{Type: EventTransition, Transition: &t, Message: a.UserMessage(t.Err)})
	})
	o.OnFrame(func(f enroll.FrameResult) {
		msg := ""
		if f.Hint != "" {
			msg = f.Hint.Message(a.locale)
		}
		a.publish(Event{Type: EventFrame, Frame: &f, Message: msg})
	})

	// The capture outlives the request that started it; Cancel stops it.
	if err := o.Start(context.Background()); err != nil {
		a.mu.Lock()
		a.current = previous
		a.mu.Unlock()
		return nil, err
	}
	return o, nil
}

// CancelEnrollment cancels the active enrollment.
func (a *App) CancelEnrollment() error {
	o := a.Enrollment()
	if o == nil || o.State().Terminal() {
		return ErrNoEnrollment
	}
	o.Cancel()
	return nil
}

// SubmitEnrollment submits the samples of a ready enrollment.
func (a *App) SubmitEnrollment(ctx context.Context, mode submit.Mode) (*types.Outcome, error) {
	o := a.Enrollment()
	if o == nil {
		return nil, ErrNoEnrollment
	}
	return o.Submit(ctx, mode)
}

// Enrollment returns the current or last enrollment, or nil.
func (a *App) Enrollment() *enroll.Orchestrator {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// Snapshot describes the current enrollment.
func (a *App) Snapshot() Snapshot {
	o := a.Enrollment()
	if o == nil {
		return Snapshot{State: enroll.StateIdle.String(), Target: a.settings.Capture.Target}
	}
	return Snapshot{
		State:     o.State().String(),
		SessionID: o.SessionID(),
		Samples:   o.SampleCount(),
		Target:    o.Target(),
		Error:     a.UserMessage(o.Err()),
		Review:    o.Review(),
		Outcome:   o.Outcome(),
	}
}

// FaceStatus asks the service whether the user is registered.
func (a *App) FaceStatus(ctx context.Context) (*types.FaceStatus, error) {
	return a.svc().Status(ctx)
}

// DeleteFace removes the user's face data from the service.
func (a *App) DeleteFace(ctx context.Context) error {
	return a.svc().Delete(ctx)
}

func (a *App) svc() Service {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.service
}

// History returns recent attempts, newest first.
func (a *App) History(limit int) ([]*store.Attempt, error) {
	if a.store == nil {
		return nil, ErrNoStore
	}
	return a.store.Attempts().Recent(limit)
}

// Subscribe registers fn for enrollment events and returns a function
// that removes it.
func (a *App) Subscribe(fn func(Event)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSub
	a.nextSub++
	a.subscribers[id] = fn

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subscribers, id)
	}
}

func (a *App) publish(e Event) {
	a.mu.RLock()
	subs := make([]func(Event), 0, len(a.subscribers))
	for _, fn := range a.subscribers {
		subs = append(subs, fn)
	}
	a.mu.RUnlock()

	for _, fn := range subs {
		fn(e)
	}
}

// Camera returns the camera shared by preview and enrollment.
func (a *App) Camera() capture.Camera {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.camera
}

// Detection returns the shared detection session.
func (a *App) Detection() *detector.Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.detection
}

// Locale returns the language of user messages.
func (a *App) Locale() string {
	return a.locale
}

// Settings returns the configuration the App was built with.
func (a *App) Settings() *config.Config {
	return a.settings
}
