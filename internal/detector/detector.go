package detector

import (
	"context"
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

var (
	// ErrNotReady is returned by Detect before the model has been loaded.
	ErrNotReady = errors.New("detector: model not loaded")

	// ErrDisposed is returned by any operation on a disposed session.
	ErrDisposed = errors.New("detector: session disposed")

	// ErrInvalidFrame is returned for nil, empty or zero-sized frames.
	ErrInvalidFrame = errors.New("detector: invalid frame")

	// ErrUnsupportedInput is returned by a model that cannot consume the
	// input representation it was given. The session moves on to the next
	// strategy.
	ErrUnsupportedInput = errors.New("detector: unsupported input")
)

// LoadError reports a failure to acquire the face model.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("detector: load model: %v", e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err means the session can no longer produce
// detections and retrying is pointless.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var le *LoadError
	return errors.As(err, &le) || errors.Is(err, ErrNotReady) || errors.Is(err, ErrDisposed)
}

// Source tells where a frame came from.
type Source int

const (
	// SourceCamera is a live camera frame.
	SourceCamera Source = iota
	// SourceImage is a still image, e.g. an uploaded file.
	SourceImage
)

func (s Source) String() string {
	if s == SourceImage {
		return "image"
	}
	return "camera"
}

// Frame is a single image handed to the detection session. The session never
// takes ownership of Mat; the caller closes it.
type Frame struct {
	Mat    *gocv.Mat
	Source Source
}

// Width returns the frame width in pixels.
func (f Frame) Width() int {
	if f.Mat == nil {
		return 0
	}
	return f.Mat.Cols()
}

// Height returns the frame height in pixels.
func (f Frame) Height() int {
	if f.Mat == nil {
		return 0
	}
	return f.Mat.Rows()
}

func (f Frame) validate() error {
	if f.Mat == nil || f.Mat.Empty() || f.Width() <= 0 || f.Height() <= 0 {
		return ErrInvalidFrame
	}
	return nil
}

// InputKind identifies the representation carried by an Input.
type InputKind int

const (
	// InputMat carries the frame as a gocv.Mat.
	InputMat InputKind = iota
	// InputEncoded carries a JPEG encoding of the frame.
	InputEncoded
	// InputPixels carries packed 8-bit RGB pixels.
	InputPixels
)

func (k InputKind) String() string {
	switch k {
	case InputMat:
		return "mat"
	case InputEncoded:
		return "jpeg"
	case InputPixels:
		return "pixels"
	default:
		return "unknown"
	}
}

// Input is a frame prepared for a model in one concrete representation.
type Input struct {
	Kind           InputKind
	Mat            *gocv.Mat
	Data           []byte
	Width          int
	Height         int
	FlipHorizontal bool
}

// Model is a loaded face landmark model. Implementations return
// ErrUnsupportedInput for representations they cannot consume.
type Model interface {
	// EstimateFaces returns every face found in the input, possibly none.
	EstimateFaces(ctx context.Context, in Input) ([]Face, error)

	// Close releases any resources held by the model.
	Close() error
}

// Loader acquires a Model. It is called at most once per successful load.
type Loader func(ctx context.Context) (Model, error)

// Config holds configuration options for a detection session.
type Config struct {
	// MirrorLive sets the flip-horizontal flag for camera frames.
	// Still images are never mirrored.
	MirrorLive bool

	// Strategies overrides the default input fallback order.
	Strategies []Strategy
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MirrorLive: false,
		Strategies: DefaultStrategies(),
	}
}
