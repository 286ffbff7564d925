// Package server provides the local HTTP surface for face enrollment.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/ayusman/faceenroll/internal/app"
	"github.com/ayusman/faceenroll/internal/capture"
	"github.com/ayusman/faceenroll/internal/server/api"
)

// EventSource fans out enrollment events.
type EventSource interface {
	Subscribe(fn func(app.Event)) func()
}

// Config holds the server configuration.
type Config struct {
	Enroller  api.Enroller
	Events    EventSource
	Camera    capture.Camera
	StaticDir string
}

// Server is the HTTP server for the enrollment client.
type Server struct {
	config Config
	router chi.Router
	start  time.Time
	hub    *EventsHandler
	http   *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		router: chi.NewRouter(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.RequestLogger(&chiMiddleware.DefaultLogFormatter{Logger: log.StandardLogger(), NoColor: true}))
	r.Use(chiMiddleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		if s.config.Camera != nil {
			r.Method(http.MethodGet, "/stream", NewStreamHandler(s.config.Camera))
		}

		if s.config.Enroller != nil {
			h := api.NewEnrollmentHandler(s.config.Enroller)

			r.Route("/enrollment", func(r chi.Router) {
				r.Get("/", h.Get)
				r.Post("/start", h.Start)
				r.Post("/cancel", h.Cancel)
				r.Post("/submit", h.Submit)
				r.Get("/history", h.History)

				if s.config.Events != nil {
					s.hub = NewEventsHandler(s.config.Events)
					r.Method(http.MethodGet, "/events", s.hub)
				}
			})

			r.Get("/face/status", h.FaceStatus)
			r.Delete("/face", h.DeleteFace)
		}
	})

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		r.Handle("/*", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// ListenAndServe serves on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithField("addr", addr).Info("Starting HTTP server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes event subscriptions.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
