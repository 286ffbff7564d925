package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/faceenroll/internal/app"
	"github.com/ayusman/faceenroll/internal/enroll"
	"github.com/ayusman/faceenroll/internal/store"
	"github.com/ayusman/faceenroll/internal/submit"
	"github.com/ayusman/faceenroll/internal/types"
)

// fakeEvents is an EventSource driven by the test.
type fakeEvents struct {
	mu   sync.Mutex
	subs map[int]func(app.Event)
	next int
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{subs: make(map[int]func(app.Event))}
}

func (f *fakeEvents) Subscribe(fn func(app.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeEvents) publish(e app.Event) {
	f.mu.Lock()
	subs := make([]func(app.Event), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}

func (f *fakeEvents) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// stubEnroller is a minimal Enroller for routing tests.
type stubEnroller struct {
	mu      sync.Mutex
	state   string
	deleted bool
}

func (s *stubEnroller) StartEnrollment(target int) (*enroll.Orchestrator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "detecting" {
		return nil, app.ErrBusy
	}
	s.state = "detecting"
	return nil, nil
}

func (s *stubEnroller) CancelEnrollment() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = "cancelled"
	return nil
}

func (s *stubEnroller) SubmitEnrollment(ctx context.Context, mode submit.Mode) (*types.Outcome, error) {
	return nil, enroll.ErrInvalidState
}

func (s *stubEnroller) Snapshot() app.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return app.Snapshot{State: s.state, Target: 5}
}

func (s *stubEnroller) FaceStatus(ctx context.Context) (*types.FaceStatus, error) {
	return &types.FaceStatus{}, nil
}

func (s *stubEnroller) DeleteFace(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = true
	return nil
}

func (s *stubEnroller) History(limit int) ([]*store.Attempt, error) {
	return nil, app.ErrNoStore
}

func (s *stubEnroller) UserMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func TestAPI_EnrollmentRoutes(t *testing.T) {
	enroller := &stubEnroller{state: "idle"}
	srv := New(Config{Enroller: enroller, Events: newFakeEvents()})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/api/enrollment", "", http.StatusOK},
		{http.MethodPost, "/api/enrollment/start", `{"target": 6}`, http.StatusCreated},
		{http.MethodPost, "/api/enrollment/start", "", http.StatusConflict},
		{http.MethodPost, "/api/enrollment/submit", "", http.StatusConflict},
		{http.MethodPost, "/api/enrollment/cancel", "", http.StatusOK},
		{http.MethodGet, "/api/enrollment/history", "", http.StatusNotFound},
		{http.MethodGet, "/api/face/status", "", http.StatusOK},
		{http.MethodDelete, "/api/face", "", http.StatusNoContent},
		{http.MethodGet, "/api/enrollment/start", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, ts.URL+tt.path, bytes.NewBufferString(tt.body))
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("%s %s error = %v", tt.method, tt.path, err)
		}
		resp.Body.Close()

		if resp.StatusCode != tt.status {
			t.Errorf("%s %s: expected status %d, got %d", tt.method, tt.path, tt.status, resp.StatusCode)
		}
	}

	if !enroller.deleted {
		t.Error("expected face deleted")
	}
	if got := enroller.Snapshot().State; got != "cancelled" {
		t.Errorf("expected cancelled, got %s", got)
	}
}

func TestAPI_EventsWebSocket(t *testing.T) {
	events := newFakeEvents()
	srv := New(Config{Enroller: &stubEnroller{}, Events: events})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/enrollment/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	events.publish(app.Event{
		Type:       app.EventTransition,
		Transition: &enroll.Transition{SessionID: "s1", From: enroll.StateDetecting, To: enroll.StateAccumulating, Samples: 1, Target: 5},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got struct {
		Type       string `json:"type"`
		Transition struct {
			SessionID string `json:"sessionId"`
			To        string `json:"to"`
			Samples   int    `json:"samples"`
		} `json:"transition"`
	}
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != app.EventTransition || got.Transition.To != "accumulating" || got.Transition.Samples != 1 {
		t.Errorf("unexpected event %s", msg)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
	if events.subscribers() != 0 {
		t.Error("expected hub to unsubscribe on shutdown")
	}
}

func TestAPI_HealthCheck(t *testing.T) {
	ts := httptest.NewServer(New(Config{}))
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var health struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}
	json.NewDecoder(resp.Body).Decode(&health)

	if health.Status != "ok" {
		t.Errorf("expected status ok, got %s", health.Status)
	}
}
