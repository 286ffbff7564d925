// Package quality scores detected faces for enrollment suitability.
package quality

import (
	"math"

	"github.com/ayusman/faceenroll/internal/detector"
)

// Landmark minimums per group.
const (
	minEyeLandmarks   = 3
	minNoseLandmarks  = 3
	minMouthLandmarks = 3

	// A partly hidden nose still counts as uncovered.
	minUncoveredNose = 2
)

// Score weights.
const (
	weightFullFace   = 0.3
	weightBothEyes   = 0.2
	weightNose       = 0.1
	weightMouth      = 0.1
	weightNotCovered = 0.1
	weightCentered   = 0.1
	weightValidSize  = 0.1
)

// Config holds the geometric thresholds used by the Evaluator.
type Config struct {
	// MinFaceSize is the smallest face extent as a fraction of min(W, H).
	MinFaceSize float64 `yaml:"min_face_size"`

	// MaxFaceSize is the largest face extent as a fraction of min(W, H).
	MaxFaceSize float64 `yaml:"max_face_size"`

	// CenterThreshold is the allowed center offset as a fraction of each
	// frame dimension.
	CenterThreshold float64 `yaml:"center_threshold"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MinFaceSize:     0.3,
		MaxFaceSize:     0.6,
		CenterThreshold: 0.15,
	}
}

// Verdict is the quality assessment of a single face.
type Verdict struct {
	HasBothEyes   bool    `json:"hasBothEyes"`
	HasNose       bool    `json:"hasNose"`
	HasMouth      bool    `json:"hasMouth"`
	IsFullFace    bool    `json:"isFullFace"`
	IsCentered    bool    `json:"isCentered"`
	IsValidSize   bool    `json:"isValidSize"`
	IsNotCovered  bool    `json:"isNotCovered"`
	IsGoodQuality bool    `json:"isGoodQuality"`
	Score         float64 `json:"score"`
}

// Evaluator scores faces against a Config. It is stateless and safe for
// concurrent use.
type Evaluator struct {
	config Config
}

// New creates an Evaluator. Zero fields in config take their defaults.
func New(config Config) *Evaluator {
	def := DefaultConfig()
	if config.MinFaceSize <= 0 {
		config.MinFaceSize = def.MinFaceSize
	}
	if config.MaxFaceSize <= 0 {
		config.MaxFaceSize = def.MaxFaceSize
	}
	if config.CenterThreshold <= 0 {
		config.CenterThreshold = def.CenterThreshold
	}
	return &Evaluator{config: config}
}

// Config returns the thresholds in use.
func (e *Evaluator) Config() Config {
	return e.config
}

// Evaluate assesses one face in a frame of the given pixel dimensions.
func (e *Evaluator) Evaluate(face detector.Face, frameW, frameH int) Verdict {
	left := face.CountPresent(detector.LeftEye)
	right := face.CountPresent(detector.RightEye)
	nose := face.CountPresent(detector.Nose)
	mouth := face.CountPresent(detector.Mouth)

	v := Verdict{
		HasBothEyes: left >= minEyeLandmarks && right >= minEyeLandmarks,
		HasNose:     nose >= minNoseLandmarks,
		HasMouth:    mouth >= minMouthLandmarks,
		IsNotCovered: left >= minEyeLandmarks && right >= minEyeLandmarks &&
			nose >= minUncoveredNose && mouth >= minMouthLandmarks,
	}
	v.IsFullFace = v.HasBothEyes && v.HasNose && v.HasMouth

	if r, ok := face.Region(); ok && frameW > 0 && frameH > 0 {
		w, h := float64(frameW), float64(frameH)
		minDim := math.Min(w, h)

		size := math.Max(r.Width(), r.Height())
		v.IsValidSize = size > e.config.MinFaceSize*minDim && size < e.config.MaxFaceSize*minDim

		c := r.Center()
		v.IsCentered = math.Abs(c.X-w/2) < e.config.CenterThreshold*w &&
			math.Abs(c.Y-h/2) < e.config.CenterThreshold*h
	}

	v.IsGoodQuality = v.IsFullFace && v.IsNotCovered && v.IsCentered && v.IsValidSize
	v.Score = score(v)

	return v
}

func score(v Verdict) float64 {
	var s float64
	add := func(ok bool, w float64) {
		if ok {
			s += w
		}
	}
	add(v.IsFullFace, weightFullFace)
	add(v.HasBothEyes, weightBothEyes)
	add(v.HasNose, weightNose)
	add(v.HasMouth, weightMouth)
	add(v.IsNotCovered, weightNotCovered)
	add(v.IsCentered, weightCentered)
	add(v.IsValidSize, weightValidSize)

	return math.Max(0, math.Min(1, s))
}
