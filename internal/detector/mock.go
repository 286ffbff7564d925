package detector

import (
	"context"
	"math"
	"sync"
)

// MockModel is a test implementation of the Model interface.
// It allows tests to control the detection results.
type MockModel struct {
	mu          sync.Mutex
	faces       []Face
	sequence    [][]Face
	err         error
	unsupported map[InputKind]bool
	inputs      []Input
	closed      int
}

// NewMockModel creates a new MockModel that reports no faces.
func NewMockModel() *MockModel {
	return &MockModel{unsupported: make(map[InputKind]bool)}
}

// NewMockLoader returns a Loader that hands out m.
func NewMockLoader(m *MockModel) Loader {
	return func(ctx context.Context) (Model, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return m, nil
	}
}

// SetFaces sets the faces returned by every call.
func (m *MockModel) SetFaces(faces ...Face) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces = faces
	m.sequence = nil
}

// SetSequence makes successive calls return successive entries, cycling
// back to the start when the sequence is exhausted.
func (m *MockModel) SetSequence(seq ...[]Face) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequence = seq
}

// SetError sets the error that will be returned by EstimateFaces.
func (m *MockModel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Reject makes the model refuse the given input kinds.
func (m *MockModel) Reject(kinds ...InputKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range kinds {
		m.unsupported[k] = true
	}
}

// EstimateFaces returns the pre-configured faces or error. Faces are
// mirrored when the input asks for it.
func (m *MockModel) EstimateFaces(ctx context.Context, in Input) ([]Face, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.unsupported[in.Kind] {
		return nil, ErrUnsupportedInput
	}

	call := len(m.inputs)
	m.inputs = append(m.inputs, in)

	if m.err != nil {
		return nil, m.err
	}

	faces := m.faces
	if len(m.sequence) > 0 {
		faces = m.sequence[call%len(m.sequence)]
	}

	out := make([]Face, len(faces))
	for i, f := range faces {
		if in.FlipHorizontal {
			f = f.Mirror(float64(in.Width))
		}
		out[i] = f
	}
	return out, nil
}

// Inputs returns every input the model accepted for processing.
func (m *MockModel) Inputs() []Input {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Input(nil), m.inputs...)
}

// CloseCount returns how many times Close was called.
func (m *MockModel) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close records the call.
func (m *MockModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// FaceAt returns a preset face with every tracked landmark, centered at
// (cx, cy) with a square box of the given side length.
func FaceAt(cx, cy, size float64) Face {
	half := size / 2
	face := Face{
		Geometry: Corners{XMin: cx - half, YMin: cy - half, XMax: cx + half, YMax: cy + half},
		Score:    0.98,
	}

	place := func(indices []int, ox, oy, spread float64) {
		for i, idx := range indices {
			angle := 2 * math.Pi * float64(i) / float64(len(indices))
			face.Keypoints = append(face.Keypoints, Keypoint{
				Index: idx,
				X:     cx + ox*size + spread*size*math.Cos(angle),
				Y:     cy + oy*size + spread*size*math.Sin(angle),
			})
		}
	}

	place(LeftEye, -0.18, -0.12, 0.06)
	place(RightEye, 0.18, -0.12, 0.06)
	place(Nose, 0, 0.05, 0.04)
	place(Mouth, 0, 0.25, 0.08)

	return face
}

// CenteredFace returns a preset face that passes every quality check for a
// frame of the given size.
func CenteredFace(width, height int) Face {
	w, h := float64(width), float64(height)
	return FaceAt(w/2, h/2, 0.45*math.Min(w, h))
}

// CoveredFace returns a centered face whose mouth landmarks are missing,
// as when the lower face is covered by a mask.
func CoveredFace(width, height int) Face {
	return WithoutLandmarks(CenteredFace(width, height), Mouth...)
}

// WithoutLandmarks returns a copy of f with the given landmark indices removed.
func WithoutLandmarks(f Face, indices ...int) Face {
	drop := make(map[int]bool, len(indices))
	for _, idx := range indices {
		drop[idx] = true
	}

	out := Face{Geometry: f.Geometry, Score: f.Score}
	for _, kp := range f.Keypoints {
		if !drop[kp.Index] {
			out.Keypoints = append(out.Keypoints, kp)
		}
	}
	return out
}
