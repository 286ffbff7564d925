package app

import (
	"errors"

	"github.com/ayusman/faceenroll/internal/enroll"
	"github.com/ayusman/faceenroll/internal/submit"
)

var captureMessages = map[string]map[error]string{
	"en": {
		enroll.ErrCaptureTimeout:  "No usable face images were captured in time. Please face the camera and try again.",
		enroll.ErrDetectionFailed: "Face detection keeps failing. Please check the camera and try again.",
		enroll.ErrInvalidState:    "This action is not available right now.",
		ErrBusy:                   "A face registration is already in progress.",
		ErrNoEnrollment:           "There is no face registration in progress.",
	},
	"vi": {
		enroll.ErrCaptureTimeout:  "Không chụp được ảnh khuôn mặt phù hợp kịp thời. Vui lòng nhìn vào camera và thử lại.",
		enroll.ErrDetectionFailed: "Không thể nhận diện khuôn mặt. Vui lòng kiểm tra camera và thử lại.",
		enroll.ErrInvalidState:    "Thao tác này hiện không khả dụng.",
		ErrBusy:                   "Đang có một phiên đăng ký khuôn mặt.",
		ErrNoEnrollment:           "Không có phiên đăng ký khuôn mặt nào.",
	},
}

// UserMessage maps any error to a sentence for the user in the App's
// locale. Raw error text is never returned.
func (a *App) UserMessage(err error) string {
	if err == nil {
		return ""
	}

	table, ok := captureMessages[a.locale]
	if !ok {
		table = captureMessages[submit.DefaultLocale]
	}
	for target, msg := range table {
		if errors.Is(err, target) {
			return msg
		}
	}
	return submit.UserMessage(err, a.locale)
}
