// Package submit sends enrollment samples to the face recognition service
// and turns every failure into a typed, localized Error.
package submit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
)

// Kind classifies a submission failure.
type Kind string

const (
	KindValidation         Kind = "VALIDATION_ERROR"
	KindNoFace             Kind = "NO_FACE_DETECTED"
	KindMultipleFaces      Kind = "MULTIPLE_FACES"
	KindPoorQuality        Kind = "POOR_IMAGE_QUALITY"
	KindServiceError       Kind = "AI_SERVICE_ERROR"
	KindServiceUnavailable Kind = "AI_SERVICE_UNAVAILABLE"
	KindServiceTimeout     Kind = "AI_SERVICE_TIMEOUT"
	KindVerificationFailed Kind = "FACE_VERIFICATION_FAILED"
	KindNetwork            Kind = "NETWORK_ERROR"
	KindUnknown            Kind = "UNKNOWN_ERROR"
)

var knownKinds = []Kind{
	KindValidation,
	KindNoFace,
	KindMultipleFaces,
	KindPoorQuality,
	KindServiceError,
	KindServiceUnavailable,
	KindServiceTimeout,
	KindVerificationFailed,
}

var retryableKinds = []Kind{
	KindNetwork,
	KindServiceError,
	KindServiceUnavailable,
	KindServiceTimeout,
}

var retryableStatus = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// KindFromCode maps a service error code to a Kind. Unknown or empty codes
// map to KindUnknown. NETWORK_ERROR is never accepted from the wire.
func KindFromCode(code string) Kind {
	k := Kind(code)
	if slices.Contains(knownKinds, k) {
		return k
	}
	return KindUnknown
}

// Retryable reports whether failures of this kind are worth retrying.
func (k Kind) Retryable() bool {
	return slices.Contains(retryableKinds, k)
}

// ImageError is a per-image failure reported by the service.
type ImageError struct {
	ImageIndex   *int   `json:"imageIndex,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Details carries the optional diagnostics attached to a service error.
type Details struct {
	TotalImages *int           `json:"totalImages,omitempty"`
	ValidFaces  *int           `json:"validFaces,omitempty"`
	Similarity  *float64       `json:"similarity,omitempty"`
	Threshold   *float64       `json:"threshold,omitempty"`
	Errors      []ImageError   `json:"errors,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Error is a classified submission failure.
type Error struct {
	Kind        Kind     `json:"type"`
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	UserMessage string   `json:"userMessage"`
	Details     *Details `json:"details,omitempty"`
	Status      int      `json:"status,omitempty"`
	Retryable   bool     `json:"retryable"`
	Err         error    `json:"-"`
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("submit: %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("submit: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

// envelope is the response wrapper used by the service.
type envelope struct {
	Success   *bool           `json:"success"`
	ErrorCode string          `json:"errorCode"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details"`
	Data      json.RawMessage `json:"data"`
}

// Classify turns a failed exchange into an Error. A transport error with
// no response is a retryable NETWORK_ERROR. Otherwise the service error
// code decides the kind, and the HTTP status can make it retryable.
func Classify(status int, body []byte, transportErr error) *Error {
	if transportErr != nil && status == 0 {
		return &Error{
			Kind:        KindNetwork,
			Code:        string(KindNetwork),
			Message:     transportErr.Error(),
			UserMessage: Message(KindNetwork, DefaultLocale),
			Retryable:   true,
			Err:         transportErr,
		}
	}

	var env envelope
	if len(body) > 0 {
		// Non-JSON bodies (proxies, HTML error pages) classify as unknown.
		_ = json.Unmarshal(body, &env)
	}

	kind := KindFromCode(env.ErrorCode)
	code := env.ErrorCode
	if code == "" {
		code = string(KindUnknown)
	}

	msg := env.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	if msg == "" {
		msg = "Unknown error"
	}

	e := &Error{
		Kind:      kind,
		Code:      code,
		Message:   msg,
		Details:   parseDetails(env.Details),
		Status:    status,
		Retryable: kind.Retryable() || slices.Contains(retryableStatus, status),
		Err:       transportErr,
	}
	e.UserMessage = Format(e, DefaultLocale)
	return e
}

func parseDetails(raw json.RawMessage) *Details {
	if len(raw) == 0 {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields) == 0 {
		return nil
	}

	d := &Details{Extra: make(map[string]any)}
	for key, val := range fields {
		switch key {
		case "totalImages":
			d.TotalImages = intField(val)
		case "validFaces":
			d.ValidFaces = intField(val)
		case "similarity":
			d.Similarity = floatField(val)
		case "threshold":
			d.Threshold = floatField(val)
		case "errors":
			d.Errors = imageErrors(val)
		default:
			var v any
			if json.Unmarshal(val, &v) == nil {
				d.Extra[key] = v
			}
		}
	}
	if len(d.Extra) == 0 {
		d.Extra = nil
	}
	return d
}

func intField(raw json.RawMessage) *int {
	f := floatField(raw)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

func floatField(raw json.RawMessage) *float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return &f
}

// imageErrors accepts both structured entries and plain strings.
func imageErrors(raw json.RawMessage) []ImageError {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	out := make([]ImageError, 0, len(items))
	for _, item := range items {
		var ie ImageError
		if err := json.Unmarshal(item, &ie); err == nil {
			out = append(out, ie)
			continue
		}
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, ImageError{ErrorMessage: s})
		}
	}
	return out
}
