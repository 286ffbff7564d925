// Package api provides the HTTP handlers for face enrollment.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/ayusman/faceenroll/internal/app"
	"github.com/ayusman/faceenroll/internal/enroll"
	"github.com/ayusman/faceenroll/internal/store"
	"github.com/ayusman/faceenroll/internal/submit"
	"github.com/ayusman/faceenroll/internal/types"
)

// Enroller is the part of the application the handlers drive.
type Enroller interface {
	StartEnrollment(target int) (*enroll.Orchestrator, error)
	CancelEnrollment() error
	SubmitEnrollment(ctx context.Context, mode submit.Mode) (*types.Outcome, error)
	Snapshot() app.Snapshot
	FaceStatus(ctx context.Context) (*types.FaceStatus, error)
	DeleteFace(ctx context.Context) error
	History(limit int) ([]*store.Attempt, error)
	UserMessage(err error) string
}

// EnrollmentHandler serves the enrollment, face and history endpoints.
type EnrollmentHandler struct {
	app Enroller
}

// NewEnrollmentHandler creates a new EnrollmentHandler.
func NewEnrollmentHandler(a Enroller) *EnrollmentHandler {
	return &EnrollmentHandler{app: a}
}

type startRequest struct {
	Target int `json:"target"`
}

type submitRequest struct {
	Mode string `json:"mode"`
}

type submitResponse struct {
	Outcome    *types.Outcome `json:"outcome"`
	Enrollment app.Snapshot   `json:"enrollment"`
}

type historyResponse struct {
	Attempts []*store.Attempt `json:"attempts"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Get returns the current enrollment.
func (h *EnrollmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.app.Snapshot())
}

// Start begins a capture. The body is optional.
func (h *EnrollmentHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeOptional(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if _, err := h.app.StartEnrollment(req.Target); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, h.app.Snapshot())
}

// Cancel stops the current capture or submission.
func (h *EnrollmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.app.CancelEnrollment(); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.app.Snapshot())
}

// Submit sends the samples of a ready capture. A mode of replace or append
// updates an existing registration.
func (h *EnrollmentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeOptional(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	mode := submit.Mode(req.Mode)
	switch mode {
	case submit.ModeRegister, submit.ModeReplace, submit.ModeAppend:
	default:
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "mode must be replace or append"})
		return
	}

	outcome, err := h.app.SubmitEnrollment(r.Context(), mode)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, submitResponse{Outcome: outcome, Enrollment: h.app.Snapshot()})
}

// History lists recent attempts.
func (h *EnrollmentHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	attempts, err := h.app.History(limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if attempts == nil {
		attempts = []*store.Attempt{}
	}
	respondJSON(w, http.StatusOK, historyResponse{Attempts: attempts})
}

// FaceStatus reports whether the user has a registered face.
func (h *EnrollmentHandler) FaceStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.app.FaceStatus(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// DeleteFace removes the registered face.
func (h *EnrollmentHandler) DeleteFace(w http.ResponseWriter, r *http.Request) {
	if err := h.app.DeleteFace(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EnrollmentHandler) respondError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).Warn("Enrollment request failed")
	}
	respondJSON(w, status, errorResponse{Error: h.app.UserMessage(err), Code: code})
}

// statusFor maps an error to an HTTP status and an error code.
func statusFor(err error) (int, string) {
	var se *submit.Error
	switch {
	case errors.As(err, &se):
		switch se.Kind {
		case submit.KindValidation:
			return http.StatusBadRequest, string(se.Kind)
		case submit.KindNoFace, submit.KindMultipleFaces, submit.KindPoorQuality, submit.KindVerificationFailed:
			return http.StatusUnprocessableEntity, string(se.Kind)
		case submit.KindServiceUnavailable, submit.KindServiceTimeout:
			return http.StatusServiceUnavailable, string(se.Kind)
		default:
			return http.StatusBadGateway, string(se.Kind)
		}
	case errors.Is(err, app.ErrBusy), errors.Is(err, enroll.ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, enroll.ErrInvalidTarget):
		return http.StatusBadRequest, "INVALID_TARGET"
	case errors.Is(err, app.ErrNoEnrollment), errors.Is(err, app.ErrNoStore), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, context.Canceled):
		return http.StatusConflict, "CANCELLED"
	default:
		return http.StatusInternalServerError, string(submit.KindUnknown)
	}
}

// decodeOptional decodes a JSON body into v. An empty body leaves v
// untouched.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
