package detector

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Session owns a face model and runs detection on frames.
//
// The lifecycle is unloaded -> loading -> ready -> disposed. A failed load
// returns the session to unloaded. Detect only takes a read lock, so a
// single loaded session can be shared by several capture loops.
type Session struct {
	config  Config
	loader  Loader
	mu      sync.RWMutex
	state   State
	model   Model
	loading chan struct{}
}

// NewSession creates an unloaded session that acquires its model through
// loader.
func NewSession(loader Loader, config Config) *Session {
	if len(config.Strategies) == 0 {
		config.Strategies = DefaultStrategies()
	}
	return &Session{
		config: config,
		loader: loader,
		state:  StateUnloaded,
	}
}

// Load acquires the model. It is a no-op when the session is already ready,
// and waits for an in-flight load started by another caller.
func (s *Session) Load(ctx context.Context) error {
	for {
		s.mu.Lock()
		switch s.state {
		case StateReady:
			s.mu.Unlock()
			return nil
		case StateDisposed:
			s.mu.Unlock()
			return ErrDisposed
		case StateLoading:
			wait := s.loading
			s.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		s.state = StateLoading
		done := make(chan struct{})
		s.loading = done
		s.mu.Unlock()

		model, err := s.acquire(ctx)

		s.mu.Lock()
		s.loading = nil
		close(done)
		if err != nil {
			if s.state == StateLoading {
				s.state = StateUnloaded
			}
			s.mu.Unlock()
			log.WithError(err).Error("Failed to load face model")
			return &LoadError{Err: err}
		}
		if s.state == StateDisposed {
			// Disposed while loading.
			s.mu.Unlock()
			model.Close()
			return ErrDisposed
		}
		s.model = model
		s.state = StateReady
		s.mu.Unlock()

		log.Info("Face model loaded")
		return nil
	}
}

func (s *Session) acquire(ctx context.Context) (Model, error) {
	if s.loader == nil {
		return nil, errors.New("no model loader configured")
	}
	model, err := s.loader(ctx)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, errors.New("loader returned no model")
	}
	return model, nil
}

// Detect runs the model on a frame and returns every face found, unfiltered.
// Input representations are tried in the configured strategy order.
func (s *Session) Detect(ctx context.Context, frame Frame) ([]Face, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.state {
	case StateDisposed:
		return nil, ErrDisposed
	case StateReady:
	default:
		return nil, ErrNotReady
	}

	if err := frame.validate(); err != nil {
		return nil, err
	}

	flip := s.config.MirrorLive && frame.Source == SourceCamera
	return firstSuccess(ctx, s.model, frame, flip, s.config.Strategies)
}

// Dispose releases the model. Further calls are no-ops.
func (s *Session) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisposed {
		return nil
	}

	var err error
	if s.model != nil {
		err = s.model.Close()
		s.model = nil
	}
	s.state = StateDisposed

	log.Info("Face model disposed")
	return err
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready reports whether Detect can be called.
func (s *Session) Ready() bool {
	return s.State() == StateReady
}
