package enroll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/ayusman/faceenroll/internal/capture"
	"github.com/ayusman/faceenroll/internal/detector"
	"github.com/ayusman/faceenroll/internal/quality"
	"github.com/ayusman/faceenroll/internal/submit"
	"github.com/ayusman/faceenroll/internal/types"
)

// Defaults for Config.
const (
	DefaultInterval             = 200 * time.Millisecond
	DefaultMaxConsecutiveErrors = 10
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// current state.
	ErrInvalidState = errors.New("enroll: invalid state")

	// ErrCaptureTimeout is the failure cause when the target is not reached
	// in time.
	ErrCaptureTimeout = errors.New("enroll: capture timed out")

	// ErrDetectionFailed wraps the last error after too many consecutive
	// detection failures.
	ErrDetectionFailed = errors.New("enroll: detection keeps failing")
)

// FrameSource supplies frames. The caller closes returned Mats.
type FrameSource interface {
	ReadFrame() (*gocv.Mat, error)
}

// Detector finds faces in a frame.
type Detector interface {
	Detect(ctx context.Context, frame detector.Frame) ([]detector.Face, error)
}

// Submitter sends a finished sample set to the recognition service.
type Submitter interface {
	Submit(ctx context.Context, req submit.Request) (*types.Outcome, error)
}

// Recorder receives an audit trail of a capture. Errors are logged and
// otherwise ignored.
type Recorder interface {
	SessionStarted(id string, target int) error
	SampleAccepted(id string, index int, sample types.Sample) error
	StateChanged(id string, state State, cause error) error
}

// Config tunes the capture loop.
type Config struct {
	Target               int           `yaml:"target"`
	Interval             time.Duration `yaml:"interval"`
	Timeout              time.Duration `yaml:"timeout"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
	// MotionThreshold enables the stillness gate when above 0. It is the
	// percentage of changed pixels that counts as movement.
	MotionThreshold float64 `yaml:"motion_threshold"`
	// ImageChecks enables brightness, contrast and sharpness checks.
	ImageChecks bool            `yaml:"image_checks"`
	Source      detector.Source `yaml:"-"`
}

// DefaultConfig returns a Config for a live camera with no timeout.
func DefaultConfig() Config {
	return Config{
		Target:               DefaultTarget,
		Interval:             DefaultInterval,
		MaxConsecutiveErrors: DefaultMaxConsecutiveErrors,
		Source:               detector.SourceCamera,
	}
}

// Deps are the collaborators of an Orchestrator. Recorder is optional.
type Deps struct {
	Source    FrameSource
	Detector  Detector
	Evaluator *quality.Evaluator
	Submitter Submitter
	Recorder  Recorder
}

// Orchestrator runs one capture attempt:
// idle -> detecting -> accumulating -> ready -> submitting -> done | failed,
// with cancelled reachable from every non-terminal state.
type Orchestrator struct {
	config  Config
	deps    Deps
	session *Session
	motion  *capture.MotionDetector

	mu           sync.Mutex
	state        State
	err          error
	outcome      *types.Outcome
	review       *quality.SetReview
	submitted    int
	stopLoop     context.CancelFunc
	stopSubmit   context.CancelFunc
	changed      chan struct{}
	onTransition []func(Transition)
	onFrame      []func(FrameResult)
}

// New creates an idle Orchestrator. Zero Config fields take their defaults.
func New(deps Deps, config Config) (*Orchestrator, error) {
	if deps.Source == nil || deps.Detector == nil || deps.Submitter == nil {
		return nil, errors.New("enroll: source, detector and submitter are required")
	}
	if deps.Evaluator == nil {
		deps.Evaluator = quality.New(quality.DefaultConfig())
	}
	if config.Target == 0 {
		config.Target = DefaultTarget
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.MaxConsecutiveErrors <= 0 {
		config.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}

	session, err := NewSession(config.Target)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		config:  config,
		deps:    deps,
		session: session,
		state:   StateIdle,
		changed: make(chan struct{}),
	}
	if config.MotionThreshold > 0 {
		o.motion = capture.NewMotionDetector(config.MotionThreshold)
	}
	return o, nil
}

// OnTransition registers fn to be called after every state change.
func (o *Orchestrator) OnTransition(fn func(Transition)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onTransition = append(o.onTransition, fn)
}

// OnFrame registers fn to be called with the feedback for every frame.
func (o *Orchestrator) OnFrame(fn func(FrameResult)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onFrame = append(o.onFrame, fn)
}

// Start begins polling frames. The loop stops when ctx is done, on Cancel
// and once the target is reached.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidState, o.state)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	o.stopLoop = cancel
	notify := o.setLocked(StateDetecting, nil)
	o.mu.Unlock()

	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.SessionStarted(o.session.ID, o.session.Target); err != nil {
			log.WithError(err).WithField("session", o.session.ID).Warn("Failed to record session start")
		}
	}
	notify()

	log.WithFields(log.Fields{
		"session":  o.session.ID,
		"target":   o.session.Target,
		"interval": o.config.Interval,
	}).Info("Enrollment capture started")

	go o.run(loopCtx)
	return nil
}

func (o *Orchestrator) run(ctx context.Context) {
	defer func() {
		if o.motion != nil {
			o.motion.Close()
		}
	}()

	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	var timeout <-chan time.Time
	if o.config.Timeout > 0 {
		timer := time.NewTimer(o.config.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	failures := 0
	for {
		select {
		case <-ctx.Done():
			o.cancel(ctx.Err())
			return
		case <-timeout:
			o.fail(ErrCaptureTimeout)
			return
		case <-ticker.C:
			if stop := o.tick(ctx, &failures); stop {
				return
			}
		}
	}
}

// tick processes one frame and reports whether the loop should stop.
func (o *Orchestrator) tick(ctx context.Context, failures *int) bool {
	if !o.State().Polling() {
		return true
	}

	mat, err := o.deps.Source.ReadFrame()
	if err != nil {
		log.WithError(err).Debug("Frame read failed")
		o.emitFrame(FrameResult{Err: err})
		return false
	}
	defer mat.Close()

	faces, err := o.deps.Detector.Detect(ctx, detector.Frame{Mat: mat, Source: o.config.Source})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if detector.IsFatal(err) {
			o.fail(err)
			return true
		}
		*failures++
		log.WithError(err).WithField("consecutive", *failures).Debug("Detection failed")
		if *failures > o.config.MaxConsecutiveErrors {
			o.fail(fmt.Errorf("%w: %w", ErrDetectionFailed, err))
			return true
		}
		o.emitFrame(FrameResult{Err: err})
		return false
	}
	*failures = 0

	result, sample := o.evaluate(mat, faces)
	if !result.Accepted {
		o.emitFrame(result)
		return false
	}
	return o.accept(result, sample)
}

// evaluate applies the acceptance checks to one frame. The sample is only
// set when the frame is accepted.
func (o *Orchestrator) evaluate(mat *gocv.Mat, faces []detector.Face) (FrameResult, types.Sample) {
	w, h := mat.Cols(), mat.Rows()
	result := FrameResult{Faces: len(faces)}

	// The motion gate sees every frame so its reference stays current.
	moving := false
	if o.motion != nil {
		moving = !o.motion.Still(mat)
	}

	switch len(faces) {
	case 0:
		result.Reject, result.Hint = RejectNoFace, quality.HintNoFace
		return result, types.Sample{}
	case 1:
	default:
		result.Reject, result.Hint = RejectMultipleFaces, quality.HintMultipleFaces
		return result, types.Sample{}
	}

	face := faces[0]
	pos, ok := quality.Locate(face, w, h)
	if !ok {
		result.Reject, result.Hint = RejectNoRegion, quality.HintShowFullFace
		return result, types.Sample{}
	}
	result.Position = &pos

	verdict := o.deps.Evaluator.Evaluate(face, w, h)
	result.Verdict = &verdict
	result.Hint = o.deps.Evaluator.Advise(verdict, &pos, w, h)
	if !verdict.IsGoodQuality {
		result.Reject = RejectPoorQuality
		return result, types.Sample{}
	}

	if moving {
		result.Reject, result.Hint = RejectMotion, quality.HintHoldStill
		return result, types.Sample{}
	}

	score := verdict.Score
	if o.config.ImageChecks {
		check := quality.CheckCapture(*mat, verdict)
		result.Issues = check.Issues
		if !check.Valid {
			result.Reject, result.Hint = RejectImageCheck, quality.HintImproveImage
			return result, types.Sample{}
		}
		score *= check.Score
	}

	image, err := detector.EncodeJPEG(mat)
	if err != nil {
		result.Err = err
		return result, types.Sample{}
	}

	result.Accepted = true
	return result, types.Sample{
		Image:               image,
		QualityScore:        score,
		DetectionConfidence: face.Confidence(),
		Timestamp:           time.Now(),
	}
}

// accept stores a sample and reports whether the target has been reached.
func (o *Orchestrator) accept(result FrameResult, sample types.Sample) bool {
	o.mu.Lock()
	if !o.state.Polling() {
		o.mu.Unlock()
		return true
	}
	index, ok := o.session.Add(sample)
	if !ok {
		o.mu.Unlock()
		return true
	}

	var notifies []func()
	if o.state == StateDetecting {
		notifies = append(notifies, o.setLocked(StateAccumulating, nil))
	}
	full := o.session.Full()
	if full {
		o.stopLoop()
		samples := o.session.Samples()
		o.mu.Unlock()

		review := reviewSamples(samples)
		if !review.Valid {
			log.WithFields(log.Fields{
				"session": o.session.ID,
				"issues":  review.Issues,
			}).Warn("Captured set did not pass review")
		}

		o.mu.Lock()
		o.review = &review
		if o.state.Polling() {
			notifies = append(notifies, o.setLocked(StateReady, nil))
		}
	}
	o.mu.Unlock()

	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.SampleAccepted(o.session.ID, index, sample); err != nil {
			log.WithError(err).WithField("session", o.session.ID).Warn("Failed to record sample")
		}
	}

	o.emitFrame(result)
	for _, notify := range notifies {
		notify()
	}

	log.WithFields(log.Fields{
		"session": o.session.ID,
		"sample":  index + 1,
		"target":  o.session.Target,
		"score":   sample.QualityScore,
	}).Debug("Sample accepted")

	return full
}

// reviewSamples checks the captured set as a whole.
func reviewSamples(samples []types.Sample) quality.SetReview {
	images := make([]quality.SetImage, len(samples))
	for i, s := range samples {
		images[i] = quality.SetImage{Image: s.Image, Score: s.QualityScore}
	}
	return quality.ReviewSet(images)
}

// Submit sends the collected samples. It is only valid in the ready state.
// Cancel aborts an in-flight submission, including its retry backoff.
func (o *Orchestrator) Submit(ctx context.Context, mode submit.Mode) (*types.Outcome, error) {
	o.mu.Lock()
	if o.state != StateReady {
		state := o.state
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot submit from %s", ErrInvalidState, state)
	}
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.stopSubmit = cancel
	samples := o.session.Take()
	o.submitted = len(samples)
	notify := o.setLocked(StateSubmitting, nil)
	o.mu.Unlock()
	notify()

	outcome, err := o.deps.Submitter.Submit(subCtx, submit.Request{Samples: samples, Mode: mode})
	if err != nil {
		if subCtx.Err() != nil {
			o.cancel(err)
		} else {
			o.fail(err)
		}
		return nil, err
	}

	o.mu.Lock()
	o.outcome = outcome
	notify = o.setLocked(StateDone, nil)
	o.mu.Unlock()
	notify()

	log.WithFields(log.Fields{
		"session": o.session.ID,
		"samples": len(samples),
	}).Info("Enrollment submitted")

	return outcome, nil
}

// Cancel stops the capture, aborts any in-flight submission and discards
// the samples. It does nothing once the orchestrator is terminal.
func (o *Orchestrator) Cancel() {
	o.cancel(context.Canceled)
}

func (o *Orchestrator) cancel(cause error) {
	o.mu.Lock()
	if o.state.Terminal() {
		o.mu.Unlock()
		return
	}
	o.stopLocked()
	o.session.Clear()
	notify := o.setLocked(StateCancelled, cause)
	o.mu.Unlock()
	notify()

	log.WithField("session", o.session.ID).Info("Enrollment cancelled")
}

func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	if !canTransition(o.state, StateFailed) {
		o.mu.Unlock()
		return
	}
	o.stopLocked()
	notify := o.setLocked(StateFailed, err)
	o.mu.Unlock()
	notify()

	log.WithError(err).WithField("session", o.session.ID).Warn("Enrollment failed")
}

func (o *Orchestrator) stopLocked() {
	if o.stopLoop != nil {
		o.stopLoop()
	}
	if o.stopSubmit != nil {
		o.stopSubmit()
	}
}

// setLocked changes state and returns a function that notifies observers.
// It must be called with o.mu held; the returned function must be called
// without it.
func (o *Orchestrator) setLocked(to State, cause error) func() {
	from := o.state
	if !canTransition(from, to) {
		return func() {}
	}

	o.state = to
	if to == StateFailed {
		o.err = cause
	}
	close(o.changed)
	o.changed = make(chan struct{})

	t := Transition{
		SessionID: o.session.ID,
		From:      from,
		To:        to,
		Samples:   o.sampleCountLocked(),
		Target:    o.session.Target,
		Err:       cause,
		At:        time.Now(),
	}
	listeners := append([]func(Transition){}, o.onTransition...)

	return func() {
		if o.deps.Recorder != nil {
			if err := o.deps.Recorder.StateChanged(t.SessionID, to, t.Err); err != nil {
				log.WithError(err).WithField("session", t.SessionID).Warn("Failed to record state")
			}
		}
		for _, fn := range listeners {
			fn(t)
		}
	}
}

func (o *Orchestrator) emitFrame(result FrameResult) {
	o.mu.Lock()
	result.SessionID = o.session.ID
	result.Samples = o.sampleCountLocked()
	result.Target = o.session.Target
	listeners := append([]func(FrameResult){}, o.onFrame...)
	o.mu.Unlock()

	if result.At.IsZero() {
		result.At = time.Now()
	}
	for _, fn := range listeners {
		fn(result)
	}
}

func (o *Orchestrator) sampleCountLocked() int {
	switch o.state {
	case StateSubmitting, StateDone:
		return o.submitted
	case StateFailed:
		if o.submitted > 0 {
			return o.submitted
		}
	}
	return o.session.Len()
}

// Wait blocks until the orchestrator is ready or terminal, and returns
// that state.
func (o *Orchestrator) Wait(ctx context.Context) (State, error) {
	for {
		o.mu.Lock()
		state, changed := o.state, o.changed
		o.mu.Unlock()

		if state == StateReady || state.Terminal() {
			return state, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SampleCount returns the number of samples collected, or submitted once
// submission has started.
func (o *Orchestrator) SampleCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sampleCountLocked()
}

func (o *Orchestrator) Target() int {
	return o.session.Target
}

func (o *Orchestrator) SessionID() string {
	return o.session.ID
}

// Samples returns a copy of the samples held before submission.
func (o *Orchestrator) Samples() []types.Sample {
	return o.session.Samples()
}

// Outcome returns the service result once done.
func (o *Orchestrator) Outcome() *types.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcome
}

// Review returns the set review computed when the target was reached, or
// nil before that.
func (o *Orchestrator) Review() *quality.SetReview {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.review
}

// Err returns the failure cause once failed.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}
