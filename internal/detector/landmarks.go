// Package detector provides the face detection session and the types shared by
// every face model backend.
package detector

import "math"

// Face mesh landmark indices following the MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/face_landmarker
var (
	LeftEye  = []int{33, 133, 160, 159, 158, 144, 145, 153}
	RightEye = []int{362, 263, 387, 386, 385, 373, 374, 380}
	Nose     = []int{1, 2, 98, 327, 4}
	Mouth    = []int{13, 14, 78, 308, 61, 291}
)

// NumLandmarks is the size of the face mesh topology.
const NumLandmarks = 468

// DefaultConfidence is reported for faces whose model gives no score.
const DefaultConfidence = 0.95

// Keypoint is a single face mesh landmark in frame pixel coordinates.
type Keypoint struct {
	Index int     `json:"index"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Face is one detected face as reported by a model.
type Face struct {
	// Keypoints are ordered by Index. Missing landmarks are simply absent.
	Keypoints []Keypoint `json:"keypoints"`

	// Geometry is the raw bounding geometry; it may be nil.
	Geometry Geometry `json:"-"`

	// Score is the detection confidence in [0,1]; zero means unknown.
	Score float64 `json:"score"`
}

// Region returns the normalized bounding region of the face.
func (f Face) Region() (BoundingRegion, bool) {
	return Normalize(f.Geometry)
}

// Confidence returns the detection confidence, falling back to
// DefaultConfidence when the model did not report one.
func (f Face) Confidence() float64 {
	if f.Score > 0 && f.Score <= 1 {
		return f.Score
	}
	return DefaultConfidence
}

// Present reports whether the landmark with the given index exists with
// finite coordinates.
func (f Face) Present(index int) bool {
	for _, kp := range f.Keypoints {
		if kp.Index == index {
			return finite(kp.X) && finite(kp.Y)
		}
	}
	return false
}

// CountPresent returns how many of the given landmark indices are present.
func (f Face) CountPresent(indices []int) int {
	if len(f.Keypoints) == 0 {
		return 0
	}

	seen := make(map[int]bool, len(f.Keypoints))
	for _, kp := range f.Keypoints {
		if finite(kp.X) && finite(kp.Y) {
			seen[kp.Index] = true
		}
	}

	n := 0
	for _, idx := range indices {
		if seen[idx] {
			n++
		}
	}
	return n
}

// Mirror returns a copy of the face flipped horizontally within a frame of
// the given width.
func (f Face) Mirror(width float64) Face {
	out := Face{Score: f.Score, Keypoints: make([]Keypoint, len(f.Keypoints))}
	for i, kp := range f.Keypoints {
		out.Keypoints[i] = Keypoint{Index: kp.Index, X: width - kp.X, Y: kp.Y}
	}
	if r, ok := f.Region(); ok {
		out.Geometry = Corners{
			XMin: width - r.BottomRight.X,
			YMin: r.TopLeft.Y,
			XMax: width - r.TopLeft.X,
			YMax: r.BottomRight.Y,
		}
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
