package submit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayusman/faceenroll/internal/types"
)

func testSamples(n int) []types.Sample {
	samples := make([]types.Sample, n)
	for i := range samples {
		samples[i] = types.Sample{
			Image:               []byte{0xff, 0xd8, 0xff, 0xe0, byte(i)},
			QualityScore:        0.9,
			DetectionConfidence: 0.95,
			Timestamp:           time.UnixMilli(1700000000000 + int64(i)),
		}
	}
	return samples
}

type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32, *delayRecorder) {
	t.Helper()

	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(ts.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = ts.URL
	cfg.Token = "test-token"
	c := New(cfg)

	rec := &delayRecorder{}
	c.SetSleeper(rec.sleep)
	return c, &calls, rec
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func TestSubmit_Success(t *testing.T) {
	c, calls, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/face/register" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("expected bearer token, got %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if got := len(r.MultipartForm.File["images"]); got != 5 {
			t.Errorf("expected 5 images, got %d", got)
		}
		if got := r.FormValue("metadata[0][qualityScore]"); got != "0.9" {
			t.Errorf("expected quality score 0.9, got %q", got)
		}
		if got := r.FormValue("metadata[4][timestamp]"); got != "1700000000004" {
			t.Errorf("expected unix ms timestamp, got %q", got)
		}
		if got := r.FormValue("mode"); got != "" {
			t.Errorf("expected no mode on register, got %q", got)
		}
		writeJSON(w, http.StatusCreated, `{"success":true,"message":"registered","data":{"embeddings":[[0.1,0.2]],"faceImages":["a.jpg"],"errors":["image 3 blurry"]}}`)
	})

	outcome, err := c.Register(context.Background(), testSamples(5))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if *calls != 1 {
		t.Errorf("expected 1 call, got %d", *calls)
	}
	if outcome.Message != "registered" {
		t.Errorf("expected message 'registered', got %q", outcome.Message)
	}
	if len(outcome.Embeddings) != 1 || len(outcome.FaceImages) != 1 || len(outcome.Warnings) != 1 {
		t.Errorf("unexpected outcome %+v", outcome)
	}
}

func TestSubmit_UpdateSendsMode(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if got := r.FormValue("mode"); got != "append" {
			t.Errorf("expected mode append, got %q", got)
		}
		writeJSON(w, http.StatusOK, `{"success":true,"message":"updated"}`)
	})

	if _, err := c.Update(context.Background(), testSamples(6), ModeAppend); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestSubmit_LocalValidation(t *testing.T) {
	c, calls, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"success":true}`)
	})

	empty := testSamples(5)
	empty[2].Image = nil

	tests := []struct {
		name string
		req  Request
	}{
		{"too few", Request{Samples: testSamples(4)}},
		{"too many", Request{Samples: testSamples(11)}},
		{"empty image", Request{Samples: empty}},
		{"bad mode", Request{Samples: testSamples(5), Mode: "merge"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Submit(context.Background(), tt.req)
			if !IsKind(err, KindValidation) {
				t.Errorf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
	if *calls != 0 {
		t.Errorf("expected no network calls, got %d", *calls)
	}
}

func TestSubmit_RetriesUntilExhausted(t *testing.T) {
	c, calls, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, `{"success":false,"errorCode":"AI_SERVICE_UNAVAILABLE","message":"down"}`)
	})

	_, err := c.Register(context.Background(), testSamples(5))
	if !IsKind(err, KindServiceUnavailable) {
		t.Fatalf("expected AI_SERVICE_UNAVAILABLE, got %v", err)
	}
	if *calls != 4 {
		t.Errorf("expected 4 calls, got %d", *calls)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, rec.delays)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], rec.delays[i])
		}
	}
}

func TestSubmit_RecoversAfterTransientFailures(t *testing.T) {
	var n int32
	c, calls, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) <= 2 {
			writeJSON(w, http.StatusServiceUnavailable, `{"success":false,"errorCode":"AI_SERVICE_UNAVAILABLE"}`)
			return
		}
		writeJSON(w, http.StatusCreated, `{"success":true,"message":"ok"}`)
	})

	outcome, err := c.Register(context.Background(), testSamples(5))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if outcome.Message != "ok" {
		t.Errorf("expected message ok, got %q", outcome.Message)
	}
	if *calls != 3 {
		t.Errorf("expected 3 calls, got %d", *calls)
	}
	if len(rec.delays) != 2 || rec.delays[0] != time.Second || rec.delays[1] != 2*time.Second {
		t.Errorf("expected delays [1s 2s], got %v", rec.delays)
	}
}

func TestSubmit_NonRetryableSingleCall(t *testing.T) {
	codes := []struct {
		status int
		code   string
		kind   Kind
	}{
		{http.StatusBadRequest, "POOR_IMAGE_QUALITY", KindPoorQuality},
		{http.StatusBadRequest, "NO_FACE_DETECTED", KindNoFace},
		{http.StatusBadRequest, "MULTIPLE_FACES", KindMultipleFaces},
		{http.StatusUnprocessableEntity, "FACE_VERIFICATION_FAILED", KindVerificationFailed},
		{http.StatusBadRequest, "SOMETHING_NEW", KindUnknown},
	}

	for _, tc := range codes {
		t.Run(tc.code, func(t *testing.T) {
			c, calls, rec := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, fmt.Sprintf(`{"success":false,"errorCode":%q,"message":"nope"}`, tc.code))
			})

			_, err := c.Register(context.Background(), testSamples(5))
			if !IsKind(err, tc.kind) {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
			if *calls != 1 {
				t.Errorf("expected a single call, got %d", *calls)
			}
			if len(rec.delays) != 0 {
				t.Errorf("expected no backoff, got %v", rec.delays)
			}
		})
	}
}

func TestSubmit_SuccessFalseEnvelope(t *testing.T) {
	c, calls, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"success":false,"errorCode":"MULTIPLE_FACES","message":"two faces"}`)
	})

	_, err := c.Register(context.Background(), testSamples(5))
	if !IsKind(err, KindMultipleFaces) {
		t.Fatalf("expected MULTIPLE_FACES, got %v", err)
	}
	if *calls != 1 {
		t.Errorf("expected a single call, got %d", *calls)
	}
}

func TestSubmit_NetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = url
	c := New(cfg)
	rec := &delayRecorder{}
	c.SetSleeper(rec.sleep)

	_, err := c.Register(context.Background(), testSamples(5))
	if !IsKind(err, KindNetwork) {
		t.Fatalf("expected NETWORK_ERROR, got %v", err)
	}
	if len(rec.delays) != 3 {
		t.Errorf("expected 3 backoff waits, got %d", len(rec.delays))
	}
}

func TestSubmit_CancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, calls, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, `{"success":false,"errorCode":"AI_SERVICE_ERROR"}`)
	})
	c.SetSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	})

	_, err := c.Register(ctx, testSamples(5))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if *calls != 1 {
		t.Errorf("expected no call after cancellation, got %d", *calls)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"wrapped", `{"success":true,"data":{"isRegistered":true,"registeredAt":"2024-05-01T10:00:00Z","lastVerifiedAt":null,"embeddingCount":6}}`},
		{"bare", `{"isRegistered":true,"registeredAt":"2024-05-01T10:00:00Z","embeddingCount":6}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/face/status" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				writeJSON(w, http.StatusOK, tt.body)
			})

			status, err := c.Status(context.Background())
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if !status.IsRegistered || status.EmbeddingCount != 6 {
				t.Errorf("unexpected status %+v", status)
			}
			if status.RegisteredAt == nil || status.RegisteredAt.Year() != 2024 {
				t.Errorf("expected registeredAt, got %v", status.RegisteredAt)
			}
			if status.LastVerifiedAt != nil {
				t.Errorf("expected no lastVerifiedAt, got %v", status.LastVerifiedAt)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	c, calls, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/face/register" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		writeJSON(w, http.StatusOK, `{"success":true,"message":"deleted"}`)
	})

	if err := c.Delete(context.Background()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if *calls != 1 {
		t.Errorf("expected 1 call, got %d", *calls)
	}
}

func TestDelete_NotFound(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"success":false,"message":"no face data"}`)
	})

	err := c.Delete(context.Background())
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if se.Kind != KindUnknown || se.Status != http.StatusNotFound || se.Retryable {
		t.Errorf("unexpected error %+v", se)
	}
	if !strings.Contains(se.Error(), "404") {
		t.Errorf("expected status in error text, got %q", se.Error())
	}
}
