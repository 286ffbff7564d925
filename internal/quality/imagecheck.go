package quality

import (
	"errors"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Capture check thresholds.
const (
	MinBrightness = 80
	MaxBrightness = 200
	MinContrast   = 30
	MinBlurScore  = 0.3

	// SharpnessScale maps Laplacian variance onto the 0-1 blur score.
	SharpnessScale = 200

	// MinCaptureScore is the lowest adjusted score a valid capture may have.
	MinCaptureScore = 0.6
)

// Issue is one problem found in a captured image.
type Issue string

const (
	IssueTooDark       Issue = "too_dark"
	IssueTooBright     Issue = "too_bright"
	IssueLowContrast   Issue = "low_contrast"
	IssueBlurry        Issue = "blurry"
	IssueNotCentered   Issue = "face_not_centered"
	IssueWrongSize     Issue = "face_wrong_size"
	IssueUnreadable    Issue = "unreadable"
	IssueInsufficient  Issue = "insufficient_images"
	IssueLowQualitySet Issue = "low_quality_distribution"
	IssueTooSimilar    Issue = "too_similar"
)

// Stats holds pixel statistics of a frame.
type Stats struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Sharpness  float64 `json:"sharpness"`
	BlurScore  float64 `json:"blurScore"`
}

// CaptureCheck is the pixel-level verdict on a captured frame.
type CaptureCheck struct {
	Valid  bool    `json:"valid"`
	Score  float64 `json:"score"`
	Issues []Issue `json:"issues,omitempty"`
	Stats  Stats   `json:"stats"`
}

// Analyze computes brightness (mean grey level), contrast (grey standard
// deviation) and sharpness (Laplacian variance) of a frame.
func Analyze(mat gocv.Mat) (Stats, error) {
	if mat.Empty() {
		return Stats{}, errors.New("quality: empty frame")
	}

	gray := toGray(mat)
	defer gray.Close()

	mean, std := meanStdDev(gray)

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)
	_, lapStd := meanStdDev(lap)
	variance := lapStd * lapStd

	return Stats{
		Brightness: mean,
		Contrast:   std,
		Sharpness:  variance,
		BlurScore:  math.Min(variance/SharpnessScale, 1),
	}, nil
}

// CheckCapture applies the pixel checks to a frame, starting from the face
// verdict score. Every issue lowers the score by a fixed factor.
func CheckCapture(mat gocv.Mat, v Verdict) CaptureCheck {
	stats, err := Analyze(mat)
	if err != nil {
		return CaptureCheck{Issues: []Issue{IssueUnreadable}}
	}

	check := CaptureCheck{Score: v.Score, Stats: stats}
	penalize := func(issue Issue, factor float64) {
		check.Issues = append(check.Issues, issue)
		check.Score *= factor
	}

	switch {
	case stats.Brightness < MinBrightness:
		penalize(IssueTooDark, 0.8)
	case stats.Brightness > MaxBrightness:
		penalize(IssueTooBright, 0.8)
	}
	if stats.Contrast < MinContrast {
		penalize(IssueLowContrast, 0.9)
	}
	if stats.BlurScore < MinBlurScore {
		penalize(IssueBlurry, 0.7)
	}
	if !v.IsCentered {
		penalize(IssueNotCentered, 0.8)
	}
	if !v.IsValidSize {
		penalize(IssueWrongSize, 0.8)
	}

	check.Valid = check.Score >= MinCaptureScore && len(check.Issues) == 0
	return check
}

// Similarity returns the grey-histogram intersection of two frames after
// scaling both to 64x64. Identical frames score 1.
func Similarity(a, b gocv.Mat) (float64, error) {
	if a.Empty() || b.Empty() {
		return 0, errors.New("quality: empty frame")
	}

	ha := histogram(a)
	defer ha.Close()
	hb := histogram(b)
	defer hb.Close()

	const bins, total = 256, 64 * 64
	var intersection float64
	for i := 0; i < bins; i++ {
		intersection += math.Min(float64(ha.GetFloatAt(i, 0)), float64(hb.GetFloatAt(i, 0)))
	}
	return intersection / total, nil
}

func histogram(mat gocv.Mat) gocv.Mat {
	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(mat, &small, image.Point{X: 64, Y: 64}, 0, 0, gocv.InterpolationLinear)

	gray := toGray(small)
	defer gray.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	hist := gocv.NewMat()
	gocv.CalcHist([]gocv.Mat{gray}, []int{0}, mask, &hist, []int{256}, []float64{0, 256}, false)
	return hist
}

func toGray(mat gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	switch mat.Channels() {
	case 1:
		mat.CopyTo(&gray)
	case 4:
		gocv.CvtColor(mat, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	}
	return gray
}

func meanStdDev(mat gocv.Mat) (float64, float64) {
	mean := gocv.NewMat()
	defer mean.Close()
	std := gocv.NewMat()
	defer std.Close()

	gocv.MeanStdDev(mat, &mean, &std)
	return mean.GetDoubleAt(0, 0), std.GetDoubleAt(0, 0)
}
