package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"

	"github.com/ayusman/faceenroll/internal/types"
)

// Sample count bounds accepted by the service.
const (
	MinSamples = 5
	MaxSamples = 10
)

// Service endpoints, relative to the configured base URL.
const (
	registerPath = "/face/register"
	statusPath   = "/face/status"
)

// Mode selects how an update treats previously stored samples.
type Mode string

const (
	// ModeRegister performs a first registration.
	ModeRegister Mode = ""
	ModeReplace  Mode = "replace"
	ModeAppend   Mode = "append"
)

// Request is one submission of a capture session's samples.
type Request struct {
	Samples []types.Sample
	Mode    Mode
}

// Config holds configuration for the submission client.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Locale  string        `yaml:"locale"`
	Timeout time.Duration `yaml:"timeout"`
	Policy  Policy        `yaml:"retry"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:3000/api",
		Locale:  DefaultLocale,
		Timeout: 60 * time.Second,
		Policy:  DefaultPolicy(),
	}
}

// Client talks to the face recognition service.
type Client struct {
	http   *resty.Client
	policy Policy
	locale string
	sleep  Sleeper
}

// New creates a Client. Resty's own retry is disabled; retries are driven
// by the Policy so that only classified, retryable failures are repeated.
func New(config Config) *Client {
	locale := config.Locale
	if !SupportedLocale(locale) {
		locale = DefaultLocale
	}

	hc := resty.New().
		SetBaseURL(config.BaseURL).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetLogger(log.StandardLogger())
	if config.Token != "" {
		hc.SetAuthToken(config.Token)
	}
	if config.Timeout > 0 {
		hc.SetTimeout(config.Timeout)
	}

	return &Client{
		http:   hc,
		policy: config.Policy,
		locale: locale,
		sleep:  sleepContext,
	}
}

// SetSleeper replaces the backoff sleeper. Tests use it to record delays.
func (c *Client) SetSleeper(s Sleeper) {
	c.sleep = s
}

// Locale returns the locale used for user messages.
func (c *Client) Locale() string {
	return c.locale
}

// Register submits samples for a first registration.
func (c *Client) Register(ctx context.Context, samples []types.Sample) (*types.Outcome, error) {
	return c.Submit(ctx, Request{Samples: samples})
}

// Update replaces or extends the stored samples.
func (c *Client) Update(ctx context.Context, samples []types.Sample, mode Mode) (*types.Outcome, error) {
	if mode == ModeRegister {
		mode = ModeReplace
	}
	return c.Submit(ctx, Request{Samples: samples, Mode: mode})
}

// Submit validates the request locally, then sends it with retries. A
// cancelled context aborts both the request and any backoff wait and is
// returned as the context error.
func (c *Client) Submit(ctx context.Context, req Request) (*types.Outcome, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}

	method := http.MethodPost
	if req.Mode != ModeRegister {
		method = http.MethodPut
	}

	logger := log.WithFields(log.Fields{
		"samples": len(req.Samples),
		"method":  method,
	})

	for attempt := 0; ; attempt++ {
		resp, err := c.newUpload(ctx, req).Execute(method, registerPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		outcome, serr := c.decodeOutcome(resp, err)
		if serr == nil {
			logger.WithField("attempt", attempt+1).Info("Face samples submitted")
			return outcome, nil
		}

		if !c.policy.ShouldRetry(serr, attempt) {
			logger.WithError(serr).WithField("attempt", attempt+1).Warn("Face submission failed")
			return nil, serr
		}

		delay := c.policy.DelayFor(attempt)
		logger.WithError(serr).WithFields(log.Fields{
			"attempt": attempt + 1,
			"delay":   delay,
		}).Warn("Retrying face submission")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// Status returns the registration state of the current user.
func (c *Client) Status(ctx context.Context) (*types.FaceStatus, error) {
	resp, err := c.http.R().SetContext(ctx).Get(statusPath)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	env, serr := c.check(resp, err)
	if serr != nil {
		return nil, serr
	}

	// The status may be wrapped in the envelope or sent bare.
	payload := env.Data
	if len(payload) == 0 {
		payload = resp.Body()
	}

	var status types.FaceStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return nil, c.localize(&Error{
			Kind:    KindUnknown,
			Code:    string(KindUnknown),
			Message: fmt.Sprintf("decode status: %v", err),
			Status:  resp.StatusCode(),
			Err:     err,
		})
	}
	return &status, nil
}

// Delete removes the stored face data of the current user.
func (c *Client) Delete(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Delete(registerPath)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	_, serr := c.check(resp, err)
	if serr != nil {
		return serr
	}
	return nil
}

func (c *Client) validate(req Request) error {
	n := len(req.Samples)
	var reason string
	switch {
	case n < MinSamples || n > MaxSamples:
		reason = fmt.Sprintf("expected %d to %d images, got %d", MinSamples, MaxSamples, n)
	case req.Mode != ModeRegister && req.Mode != ModeReplace && req.Mode != ModeAppend:
		reason = fmt.Sprintf("unknown update mode %q", req.Mode)
	default:
		for i, s := range req.Samples {
			if len(s.Image) == 0 {
				reason = fmt.Sprintf("image %d is empty", i)
				break
			}
		}
	}
	if reason == "" {
		return nil
	}

	return c.localize(&Error{
		Kind:    KindValidation,
		Code:    string(KindValidation),
		Message: reason,
	})
}

// newUpload builds a fresh multipart request. Readers are consumed by each
// attempt, so requests are never reused.
func (c *Client) newUpload(ctx context.Context, req Request) *resty.Request {
	r := c.http.R().SetContext(ctx)

	fields := make(map[string]string, 3*len(req.Samples)+1)
	for i, s := range req.Samples {
		r.SetFileReader("images", fmt.Sprintf("face_%d.jpg", i+1), bytes.NewReader(s.Image))

		prefix := fmt.Sprintf("metadata[%d]", i)
		fields[prefix+"[qualityScore]"] = strconv.FormatFloat(s.QualityScore, 'f', -1, 64)
		fields[prefix+"[detectionConfidence]"] = strconv.FormatFloat(s.DetectionConfidence, 'f', -1, 64)
		fields[prefix+"[timestamp]"] = strconv.FormatInt(s.Timestamp.UnixMilli(), 10)
	}
	if req.Mode != ModeRegister {
		fields["mode"] = string(req.Mode)
	}

	return r.SetFormData(fields)
}

func (c *Client) decodeOutcome(resp *resty.Response, err error) (*types.Outcome, *Error) {
	env, serr := c.check(resp, err)
	if serr != nil {
		return nil, serr
	}

	outcome := &types.Outcome{Message: env.Message}
	if len(env.Data) > 0 {
		var data struct {
			Embeddings [][]float64 `json:"embeddings"`
			FaceImages []string    `json:"faceImages"`
			Errors     []string    `json:"errors"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			log.WithError(err).Warn("Ignoring undecodable registration data")
		} else {
			outcome.Embeddings = data.Embeddings
			outcome.FaceImages = data.FaceImages
			outcome.Warnings = data.Errors
		}
	}
	return outcome, nil
}

// check classifies a response. A 2xx response whose envelope says
// success:false is treated like an error response.
func (c *Client) check(resp *resty.Response, err error) (*envelope, *Error) {
	status := 0
	var body []byte
	if resp != nil {
		status = resp.StatusCode()
		body = resp.Body()
	}

	if err != nil {
		return nil, c.localize(Classify(status, body, err))
	}

	var env envelope
	if len(body) > 0 {
		if jerr := json.Unmarshal(body, &env); jerr != nil && status < 300 {
			return nil, c.localize(Classify(status, body, fmt.Errorf("decode response: %w", jerr)))
		}
	}

	if status < 200 || status >= 300 || (env.Success != nil && !*env.Success) {
		return nil, c.localize(Classify(status, body, nil))
	}
	return &env, nil
}

func (c *Client) localize(e *Error) *Error {
	e.UserMessage = Format(e, c.locale)
	return e
}
