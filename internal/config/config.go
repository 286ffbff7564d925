// Package config loads the faceenroll settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/faceenroll/internal/capture"
	"github.com/ayusman/faceenroll/internal/detector"
	"github.com/ayusman/faceenroll/internal/enroll"
	"github.com/ayusman/faceenroll/internal/quality"
	"github.com/ayusman/faceenroll/internal/submit"
)

// DefaultPath is read when no config file is given and it exists.
const DefaultPath = "faceenroll.yaml"

// Detector backends.
const (
	BackendAuto      = "auto"
	BackendMediaPipe = "mediapipe"
	BackendMock      = "mock"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Camera   capture.Config `yaml:"camera"`
	Detector DetectorConfig `yaml:"detector"`
	Quality  quality.Config `yaml:"quality"`
	Capture  enroll.Config  `yaml:"capture"`
	Submit   submit.Config  `yaml:"submit"`
	Store    StoreConfig    `yaml:"store"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type DetectorConfig struct {
	// Backend is auto, mediapipe or mock. Auto uses the face mesh service
	// and fails to load when it is not installed.
	Backend    string                   `yaml:"backend"`
	MirrorLive bool                     `yaml:"mirror_live"`
	MediaPipe  detector.MediaPipeConfig `yaml:"mediapipe"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
	// Keep is the number of attempts retained in history.
	Keep int `yaml:"keep"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8080"},
		Camera:   capture.DefaultConfig(),
		Detector: DetectorConfig{Backend: BackendAuto, MediaPipe: detector.DefaultMediaPipeConfig()},
		Quality:  quality.DefaultConfig(),
		Capture:  enroll.DefaultConfig(),
		Submit:   submit.DefaultConfig(),
		Store:    StoreConfig{Path: "faceenroll.db", Keep: 100},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path reads DefaultPath when it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("FACEENROLL_API_URL", &c.Submit.BaseURL)
	setString("FACEENROLL_API_TOKEN", &c.Submit.Token)
	setString("FACEENROLL_LOCALE", &c.Submit.Locale)
	setString("FACEENROLL_DB_PATH", &c.Store.Path)
	setString("FACEENROLL_ADDR", &c.Server.Addr)
	setString("FACEENROLL_LOG_LEVEL", &c.Log.Level)
	setString("FACEENROLL_DETECTOR", &c.Detector.Backend)

	if v := os.Getenv("FACEENROLL_CAMERA_ID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FACEENROLL_CAMERA_ID: %w", err)
		}
		c.Camera.DeviceID = id
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Camera.FPS <= 0 {
		add("camera.fps must be positive, got %d", c.Camera.FPS)
	}

	switch c.Detector.Backend {
	case BackendAuto, BackendMediaPipe, BackendMock:
	default:
		add("detector.backend must be auto, mediapipe or mock, got %q", c.Detector.Backend)
	}

	q := c.Quality
	if q.MinFaceSize <= 0 || q.MaxFaceSize > 1 || q.MinFaceSize >= q.MaxFaceSize {
		add("quality face size bounds must satisfy 0 < min < max <= 1, got %v and %v", q.MinFaceSize, q.MaxFaceSize)
	}
	if q.CenterThreshold <= 0 || q.CenterThreshold >= 0.5 {
		add("quality.center_threshold must be in (0, 0.5), got %v", q.CenterThreshold)
	}

	if c.Capture.Target < enroll.MinTarget || c.Capture.Target > enroll.MaxTarget {
		add("capture.target must be between %d and %d, got %d", enroll.MinTarget, enroll.MaxTarget, c.Capture.Target)
	}
	if c.Capture.Interval <= 0 {
		add("capture.interval must be positive, got %v", c.Capture.Interval)
	}
	if c.Capture.Timeout < 0 {
		add("capture.timeout must not be negative, got %v", c.Capture.Timeout)
	}

	if u, err := url.Parse(c.Submit.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("submit.base_url must be an absolute URL, got %q", c.Submit.BaseURL)
	}
	if !submit.SupportedLocale(c.Submit.Locale) {
		add("submit.locale %q is not supported", c.Submit.Locale)
	}
	if c.Submit.Policy.MaxRetries < 0 || c.Submit.Policy.MaxRetries > submit.MaxRetries || c.Submit.Policy.BaseDelay <= 0 {
		add("submit.retry needs max_retries between 0 and %d and a positive base_delay", submit.MaxRetries)
	}

	if c.Store.Path == "" {
		add("store.path must be set")
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

// ConfigureLogging applies the log settings to the standard logrus logger.
func (c *Config) ConfigureLogging() {
	if level, err := log.ParseLevel(c.Log.Level); err == nil {
		log.SetLevel(level)
	}
	if c.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
