package enroll

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/faceenroll/internal/types"
)

// Bounds on the number of samples in one capture.
const (
	MinTarget     = 5
	MaxTarget     = 10
	DefaultTarget = MinTarget
)

// ErrInvalidTarget is returned for a target outside [MinTarget, MaxTarget].
var ErrInvalidTarget = errors.New("enroll: invalid sample target")

// Session collects the samples of one capture attempt.
type Session struct {
	ID        string
	Target    int
	CreatedAt time.Time

	mu      sync.Mutex
	samples []types.Sample
}

// NewSession creates an empty session with a fresh ID.
func NewSession(target int) (*Session, error) {
	if target < MinTarget || target > MaxTarget {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidTarget, target, MinTarget, MaxTarget)
	}
	return &Session{
		ID:        uuid.NewString(),
		Target:    target,
		CreatedAt: time.Now(),
		samples:   make([]types.Sample, 0, target),
	}, nil
}

// Add appends a sample and returns its index. It refuses samples once the
// session is full.
func (s *Session) Add(sample types.Sample) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.samples) >= s.Target {
		return 0, false
	}
	s.samples = append(s.samples, sample)
	return len(s.samples) - 1, true
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// Full reports whether the session holds Target samples.
func (s *Session) Full() bool {
	return s.Len() >= s.Target
}

// Samples returns a copy of the collected samples.
func (s *Session) Samples() []types.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Sample(nil), s.samples...)
}

// Take moves the samples out of the session, leaving it empty.
func (s *Session) Take() []types.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.samples
	s.samples = nil
	return out
}

// Clear discards all samples.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = nil
}
