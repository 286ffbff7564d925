package app

import (
	"context"
	"errors"

	"github.com/ayusman/faceenroll/internal/detector"
	"github.com/ayusman/faceenroll/internal/enroll"
	"github.com/ayusman/faceenroll/internal/store"
	"github.com/ayusman/faceenroll/internal/submit"
	"github.com/ayusman/faceenroll/internal/types"
)

// Error kinds recorded for failures that did not come from the service.
const (
	kindCaptureTimeout  = "CAPTURE_TIMEOUT"
	kindDetectionFailed = "DETECTION_FAILED"
	kindModel           = "MODEL_UNAVAILABLE"
	kindCancelled       = "CANCELLED"
)

// storeRecorder writes the audit trail of an enrollment to the store.
type storeRecorder struct {
	attempts *store.AttemptRepository
	keep     int
}

func newStoreRecorder(attempts *store.AttemptRepository, keep int) *storeRecorder {
	return &storeRecorder{attempts: attempts, keep: keep}
}

func (r *storeRecorder) SessionStarted(id string, target int) error {
	err := r.attempts.Create(&store.Attempt{
		ID:     id,
		State:  enroll.StateIdle.String(),
		Target: target,
	})
	if err != nil {
		return err
	}
	if r.keep > 0 {
		_, err = r.attempts.Prune(r.keep)
	}
	return err
}

func (r *storeRecorder) SampleAccepted(id string, index int, sample types.Sample) error {
	return r.attempts.AddSample(&store.AttemptSample{
		AttemptID:           id,
		Index:               index,
		QualityScore:        sample.QualityScore,
		DetectionConfidence: sample.DetectionConfidence,
		CapturedAt:          sample.Timestamp,
	})
}

func (r *storeRecorder) StateChanged(id string, state enroll.State, cause error) error {
	if cause == nil || state != enroll.StateFailed && state != enroll.StateCancelled {
		return r.attempts.UpdateState(id, state.String(), "", "")
	}
	return r.attempts.UpdateState(id, state.String(), errorKind(cause), cause.Error())
}

// errorKind names the failure class of err for the audit log.
func errorKind(err error) string {
	var se *submit.Error
	switch {
	case errors.As(err, &se):
		return string(se.Kind)
	case errors.Is(err, enroll.ErrCaptureTimeout):
		return kindCaptureTimeout
	case errors.Is(err, enroll.ErrDetectionFailed):
		return kindDetectionFailed
	case errors.Is(err, context.Canceled):
		return kindCancelled
	case detector.IsFatal(err):
		return kindModel
	default:
		return string(submit.KindUnknown)
	}
}
