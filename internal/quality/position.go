package quality

import (
	"math"

	"github.com/ayusman/faceenroll/internal/detector"
)

// Offset is a 2D displacement.
type Offset struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Position describes where a face sits in the frame.
type Position struct {
	CenterX float64 `json:"centerX"`
	CenterY float64 `json:"centerY"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`

	// FromCenter is the signed offset of the face center from the frame
	// center, in pixels.
	FromCenter Offset `json:"distanceFromCenter"`

	// Normalized is |FromCenter| divided by the frame dimensions.
	Normalized Offset `json:"normalizedDistance"`
}

// Locate reports the position of a face, or false when it has no usable
// bounding region.
func Locate(face detector.Face, frameW, frameH int) (Position, bool) {
	r, ok := face.Region()
	if !ok || frameW <= 0 || frameH <= 0 {
		return Position{}, false
	}

	w, h := float64(frameW), float64(frameH)
	c := r.Center()
	from := Offset{X: c.X - w/2, Y: c.Y - h/2}

	return Position{
		CenterX:    c.X,
		CenterY:    c.Y,
		Width:      r.Width(),
		Height:     r.Height(),
		FromCenter: from,
		Normalized: Offset{X: math.Abs(from.X) / w, Y: math.Abs(from.Y) / h},
	}, true
}

// Hint is a short instruction shown to the user while capturing.
type Hint string

const (
	HintNoFace        Hint = "no_face"
	HintMultipleFaces Hint = "multiple_faces"
	HintShowFullFace  Hint = "show_full_face"
	HintUncoverFace   Hint = "uncover_face"
	HintLookStraight  Hint = "look_straight"
	HintMoveCloser    Hint = "move_closer"
	HintMoveAway      Hint = "move_away"
	HintHoldStill     Hint = "hold_still"
	HintImproveImage  Hint = "improve_image"
	HintHoldPosition  Hint = "hold_position"
)

var hintMessages = map[string]map[Hint]string{
	"en": {
		HintNoFace:        "No face detected. Look at the camera.",
		HintMultipleFaces: "More than one face detected. Only one person should be in frame.",
		HintShowFullFace:  "Show your whole face to the camera.",
		HintUncoverFace:   "Your face is covered. Remove masks or glasses.",
		HintLookStraight:  "Look straight at the camera and center your face.",
		HintMoveCloser:    "Move closer to the camera.",
		HintMoveAway:      "Move further away from the camera.",
		HintHoldStill:     "Hold still.",
		HintImproveImage:  "Improve the lighting and keep the camera steady.",
		HintHoldPosition:  "Hold this position.",
	},
	"vi": {
		HintNoFace:        "Không phát hiện khuôn mặt. Hãy nhìn vào camera.",
		HintMultipleFaces: "Phát hiện nhiều khuôn mặt. Chỉ một người trong khung hình.",
		HintShowFullFace:  "Hãy để lộ toàn bộ khuôn mặt trước camera.",
		HintUncoverFace:   "Khuôn mặt bị che. Hãy bỏ khẩu trang hoặc kính.",
		HintLookStraight:  "Hãy nhìn thẳng vào camera và căn giữa khuôn mặt.",
		HintMoveCloser:    "Hãy lại gần camera hơn.",
		HintMoveAway:      "Hãy lùi xa camera hơn.",
		HintHoldStill:     "Hãy giữ yên.",
		HintImproveImage:  "Hãy cải thiện ánh sáng và giữ camera ổn định.",
		HintHoldPosition:  "Giữ nguyên tư thế.",
	},
}

// Message returns the hint text for a locale, falling back to English.
func (h Hint) Message(locale string) string {
	if msgs, ok := hintMessages[locale]; ok {
		if m, ok := msgs[h]; ok {
			return m
		}
	}
	return hintMessages["en"][h]
}

// Advise picks the first failing check and returns the matching hint.
// pos may be nil when the face has no bounding region.
func (e *Evaluator) Advise(v Verdict, pos *Position, frameW, frameH int) Hint {
	switch {
	case !v.IsFullFace:
		return HintShowFullFace
	case !v.IsNotCovered:
		return HintUncoverFace
	case !v.IsCentered:
		return HintLookStraight
	case !v.IsValidSize:
		if pos != nil && frameW > 0 && frameH > 0 {
			minDim := math.Min(float64(frameW), float64(frameH))
			if math.Max(pos.Width, pos.Height) >= e.config.MaxFaceSize*minDim {
				return HintMoveAway
			}
		}
		return HintMoveCloser
	default:
		return HintHoldPosition
	}
}
