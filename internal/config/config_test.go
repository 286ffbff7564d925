package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faceenroll.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
capture:
  target: 7
  interval: 350ms
  timeout: 2m
  image_checks: true
submit:
  base_url: https://hr.example.com/api
  locale: vi
  retry:
    max_retries: 2
    base_delay: 500ms
detector:
  backend: mock
  mediapipe:
    max_faces: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("expected addr :9090, got %s", cfg.Server.Addr)
	}
	if cfg.Capture.Target != 7 || cfg.Capture.Interval != 350*time.Millisecond || cfg.Capture.Timeout != 2*time.Minute {
		t.Errorf("unexpected capture config %+v", cfg.Capture)
	}
	if !cfg.Capture.ImageChecks {
		t.Error("expected image checks enabled")
	}
	if cfg.Capture.MaxConsecutiveErrors != 10 {
		t.Errorf("expected untouched default 10, got %d", cfg.Capture.MaxConsecutiveErrors)
	}
	if cfg.Submit.Policy.MaxRetries != 2 || cfg.Submit.Policy.BaseDelay != 500*time.Millisecond {
		t.Errorf("unexpected retry policy %+v", cfg.Submit.Policy)
	}
	if cfg.Submit.Timeout != 60*time.Second {
		t.Errorf("expected default timeout to survive, got %v", cfg.Submit.Timeout)
	}
	if cfg.Detector.Backend != BackendMock || cfg.Detector.MediaPipe.MaxFaces != 3 {
		t.Errorf("unexpected detector config %+v", cfg.Detector)
	}
	if cfg.Detector.MediaPipe.MinConfidence != 0.5 {
		t.Errorf("expected default min confidence 0.5, got %v", cfg.Detector.MediaPipe.MinConfidence)
	}
	if cfg.Quality.CenterThreshold != 0.15 {
		t.Errorf("expected default center threshold, got %v", cfg.Quality.CenterThreshold)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "submit:\n  base_url: https://file.example.com/api\n")

	t.Setenv("FACEENROLL_API_URL", "https://env.example.com/api")
	t.Setenv("FACEENROLL_API_TOKEN", "secret")
	t.Setenv("FACEENROLL_LOCALE", "vi")
	t.Setenv("FACEENROLL_DB_PATH", "/tmp/attempts.db")
	t.Setenv("FACEENROLL_CAMERA_ID", "2")
	t.Setenv("FACEENROLL_ADDR", "127.0.0.1:7000")
	t.Setenv("FACEENROLL_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"api url", cfg.Submit.BaseURL, "https://env.example.com/api"},
		{"token", cfg.Submit.Token, "secret"},
		{"locale", cfg.Submit.Locale, "vi"},
		{"db path", cfg.Store.Path, "/tmp/attempts.db"},
		{"camera", cfg.Camera.DeviceID, 2},
		{"addr", cfg.Server.Addr, "127.0.0.1:7000"},
		{"log level", cfg.Log.Level, "debug"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, tt.got)
			}
		})
	}
}

func TestLoad_BadCameraID(t *testing.T) {
	t.Setenv("FACEENROLL_CAMERA_ID", "front")
	if _, err := Load(writeConfig(t, "")); err == nil {
		t.Error("expected error for non-numeric camera id")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "capture: [not, a, map")); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Capture.Target = 12
	cfg.Submit.BaseURL = "not a url"
	cfg.Submit.Locale = "fr"
	cfg.Quality.MinFaceSize = 0.7
	cfg.Log.Format = "xml"
	cfg.Detector.Backend = "tensorflow"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}

	msg := err.Error()
	for _, want := range []string{"capture.target", "submit.base_url", "submit.locale", "face size", "log.format", "detector.backend"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

func TestValidate_RetryBounds(t *testing.T) {
	tests := []struct {
		name    string
		retries int
		wantErr bool
	}{
		{"default", 3, false},
		{"none", 0, false},
		{"at limit", 10, false},
		{"negative", -1, true},
		{"above limit", 40, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Submit.Policy.MaxRetries = tt.retries

			err := cfg.Validate()
			if tt.wantErr && (err == nil || !strings.Contains(err.Error(), "max_retries")) {
				t.Errorf("expected a max_retries error, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}
