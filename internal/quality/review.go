package quality

import (
	"gocv.io/x/gocv"
)

// Set review thresholds.
const (
	GoodImageScore    = 0.7
	MinGoodShare      = 0.7
	MinDiversity      = 0.3
	MinSetSize        = 5
	MinConsistency    = 0.6
	maxReviewedImages = 10
)

// SetImage is one JPEG-encoded capture with its quality score.
type SetImage struct {
	Image []byte
	Score float64
}

// SetReview is the verdict on a whole capture set.
type SetReview struct {
	Valid        bool    `json:"valid"`
	AverageScore float64 `json:"averageScore"`
	GoodShare    float64 `json:"goodShare"`
	Diversity    float64 `json:"diversity"`
	Consistency  float64 `json:"consistency"`
	Issues       []Issue `json:"issues,omitempty"`
}

// ReviewSet checks that a capture set has enough good images that are not
// near-duplicates of each other. Images that cannot be decoded are left out
// of the diversity measure.
func ReviewSet(images []SetImage) SetReview {
	if len(images) == 0 {
		return SetReview{Issues: []Issue{IssueInsufficient}}
	}
	if len(images) > maxReviewedImages {
		images = images[:maxReviewedImages]
	}

	var review SetReview
	var total float64
	good := 0
	for _, img := range images {
		total += img.Score
		if img.Score >= GoodImageScore {
			good++
		}
	}
	review.AverageScore = total / float64(len(images))
	review.GoodShare = float64(good) / float64(len(images))
	if review.GoodShare < MinGoodShare {
		review.Issues = append(review.Issues, IssueLowQualitySet)
	}

	review.Diversity = 1
	if len(images) > 1 {
		review.Diversity = 1 - averageSimilarity(images)
		if review.Diversity < MinDiversity {
			review.Issues = append(review.Issues, IssueTooSimilar)
		}
	}

	if len(images) < MinSetSize {
		review.Issues = append(review.Issues, IssueInsufficient)
	}

	review.Consistency = review.AverageScore * review.Diversity
	review.Valid = len(review.Issues) == 0 && review.Consistency >= MinConsistency

	return review
}

func averageSimilarity(images []SetImage) float64 {
	mats := make([]gocv.Mat, 0, len(images))
	defer func() {
		for _, m := range mats {
			m.Close()
		}
	}()

	for _, img := range images {
		m, err := gocv.IMDecode(img.Image, gocv.IMReadColor)
		if err != nil {
			continue
		}
		if m.Empty() {
			m.Close()
			continue
		}
		mats = append(mats, m)
	}

	var sum float64
	pairs := 0
	for i := 0; i < len(mats); i++ {
		for j := i + 1; j < len(mats); j++ {
			s, err := Similarity(mats[i], mats[j])
			if err != nil {
				continue
			}
			sum += s
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}
