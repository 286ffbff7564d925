package submit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayusman/faceenroll/internal/detector"
)

// DefaultLocale is used when no locale or an unknown one is configured.
const DefaultLocale = "en"

// Message keys for failures that happen before anything is submitted.
const (
	keyModelUnavailable = "MODEL_UNAVAILABLE"
	keyCancelled        = "CANCELLED"
)

var messages = map[string]map[string]string{
	"en": {
		string(KindValidation):         "Invalid data. Please check the number of images (minimum 5, maximum 10).",
		string(KindNoFace):             "No face was detected in the image. Make sure the image is clear and shows a face.",
		string(KindMultipleFaces):      "More than one face was detected. Only one person should appear in each image.",
		string(KindPoorQuality):        "Image quality is too poor. Retake the images with good lighting and sharper focus.",
		string(KindServiceError):       "The face recognition system failed. Please try again later.",
		string(KindServiceUnavailable): "The face recognition service is currently unavailable. Please try again later.",
		string(KindServiceTimeout):     "The request timed out. Please try again.",
		string(KindVerificationFailed): "Face verification failed. Please try again.",
		string(KindNetwork):            "Network error. Check your internet connection and try again.",
		string(KindUnknown):            "An unknown error occurred. Please try again later.",
		keyModelUnavailable:            "The face detection model could not be started. Please try again later.",
		keyCancelled:                   "Face registration was cancelled.",
	},
	"vi": {
		string(KindValidation):         "Dữ liệu không hợp lệ. Vui lòng kiểm tra lại số lượng ảnh (tối thiểu 5, tối đa 10).",
		string(KindNoFace):             "Không phát hiện khuôn mặt trong ảnh. Vui lòng đảm bảo ảnh rõ ràng và có khuôn mặt.",
		string(KindMultipleFaces):      "Phát hiện nhiều khuôn mặt trong ảnh. Vui lòng chỉ chụp một người trong mỗi ảnh.",
		string(KindPoorQuality):        "Chất lượng ảnh quá kém. Vui lòng chụp lại ảnh với ánh sáng tốt và độ nét cao hơn.",
		string(KindServiceError):       "Lỗi hệ thống nhận diện khuôn mặt. Vui lòng thử lại sau.",
		string(KindServiceUnavailable): "Dịch vụ nhận diện khuôn mặt hiện không khả dụng. Vui lòng thử lại sau.",
		string(KindServiceTimeout):     "Yêu cầu quá thời gian chờ. Vui lòng thử lại.",
		string(KindVerificationFailed): "Xác thực khuôn mặt thất bại. Vui lòng thử lại.",
		string(KindNetwork):            "Lỗi kết nối mạng. Vui lòng kiểm tra kết nối internet và thử lại.",
		string(KindUnknown):            "Đã xảy ra lỗi không xác định. Vui lòng thử lại sau.",
		keyModelUnavailable:            "Không thể khởi động mô hình nhận diện khuôn mặt. Vui lòng thử lại sau.",
		keyCancelled:                   "Đã hủy đăng ký khuôn mặt.",
	},
}

var detailFormats = map[string]struct{ processed, similarity string }{
	"en": {
		processed:  "Processed %d/%d images successfully.",
		similarity: "Similarity: %.1f%% (Threshold: %.1f%%)",
	},
	"vi": {
		processed:  "Đã xử lý %d/%d ảnh thành công.",
		similarity: "Độ tương đồng: %.1f%% (Ngưỡng: %.1f%%)",
	},
}

// SupportedLocale reports whether messages exist for locale.
func SupportedLocale(locale string) bool {
	_, ok := messages[locale]
	return ok
}

func lookup(key, locale string) string {
	if table, ok := messages[locale]; ok {
		if m, ok := table[key]; ok {
			return m
		}
	}
	return messages[DefaultLocale][key]
}

// Message returns the user-facing sentence for a kind.
func Message(kind Kind, locale string) string {
	if m := lookup(string(kind), locale); m != "" {
		return m
	}
	return lookup(string(KindUnknown), locale)
}

// Format returns the user message of e followed by any details the service
// sent: how many images were processed and the similarity score against
// its threshold.
func Format(e *Error, locale string) string {
	msg := Message(e.Kind, locale)
	if e.Details == nil {
		return msg
	}

	f, ok := detailFormats[locale]
	if !ok {
		f = detailFormats[DefaultLocale]
	}

	var parts []string
	if d := e.Details; d.TotalImages != nil && d.ValidFaces != nil {
		parts = append(parts, fmt.Sprintf(f.processed, *d.ValidFaces, *d.TotalImages))
	}
	if d := e.Details; d.Similarity != nil && d.Threshold != nil {
		parts = append(parts, fmt.Sprintf(f.similarity, *d.Similarity*100, *d.Threshold*100))
	}
	if len(parts) == 0 {
		return msg
	}
	return msg + "\n" + strings.Join(parts, "\n")
}

// UserMessage maps any error to a sentence that is safe to show the user.
// Raw error text never reaches the caller.
func UserMessage(err error, locale string) string {
	if err == nil {
		return ""
	}

	var se *Error
	switch {
	case errors.As(err, &se):
		return Format(se, locale)
	case errors.Is(err, context.Canceled):
		return lookup(keyCancelled, locale)
	case errors.Is(err, context.DeadlineExceeded):
		return Message(KindServiceTimeout, locale)
	case detector.IsFatal(err):
		return lookup(keyModelUnavailable, locale)
	default:
		return Message(KindUnknown, locale)
	}
}
