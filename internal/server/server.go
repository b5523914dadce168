// Package server provides the HTTP server for signavatar: the REST API and
// the WebSocket frame endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/signavatar/internal/classifier"
	"github.com/ayusman/signavatar/internal/pipeline"
	"github.com/ayusman/signavatar/internal/pose"
	"github.com/ayusman/signavatar/internal/server/api"
	"github.com/ayusman/signavatar/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	// Model is shared by every frame session. When nil, ModelErr says why.
	Model    *classifier.Model
	ModelErr error
	Pipeline pipeline.Config
	// Poses defaults to a table of Pipeline.Labels with built-in poses.
	Poses  *pose.Table
	Logger logrus.FieldLogger
}

// Server represents the HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	log    logrus.FieldLogger
	frames *FramesHandler
	poses  *api.PoseHandler
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.Poses == nil {
		config.Poses = pose.NewTable(config.Pipeline.Labels)
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		log:    config.Logger.WithField("component", "server"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/labels", s.handleLabels)

	s.poses = api.NewPoseHandler(s.config.Poses, s.config.Store)
	s.mux.Handle("/api/poses", s.poses)
	s.mux.Handle("/api/poses/", s.poses)

	if s.config.Store != nil {
		s.mux.Handle("/api/sessions", api.NewSessionHandler(s.config.Store))
	}

	s.frames = NewFramesHandler(s.config.Model, s.config.Pipeline, s.config.Poses, s.config.Store, s.config.Logger)
	s.mux.Handle("/api/frames", s.frames)

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]interface{}{
		"status": "ok",
		"uptime": uptime.String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

type modelStatus struct {
	Available bool             `json:"available"`
	Error     string           `json:"error,omitempty"`
	Info      *classifier.Info `json:"info,omitempty"`
}

type pipelineStatus struct {
	Window    int     `json:"window"`
	Features  int     `json:"features"`
	Classes   int     `json:"classes"`
	Threshold float64 `json:"threshold"`
}

type sessionStatus struct {
	Active int64  `json:"active"`
	Total  uint64 `json:"total"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Model    modelStatus    `json:"model"`
	Pipeline pipelineStatus `json:"pipeline"`
	Sessions sessionStatus  `json:"sessions"`
	Uptime   string         `json:"uptime"`
}

// Status reports the model, pipeline settings and session counters.
func (s *Server) Status() StatusResponse {
	ms := modelStatus{Available: s.config.Model != nil}
	if s.config.Model != nil {
		info := s.config.Model.Info()
		ms.Info = &info
	} else if s.config.ModelErr != nil {
		ms.Error = s.config.ModelErr.Error()
	}

	pc := s.config.Pipeline
	return StatusResponse{
		Model: ms,
		Pipeline: pipelineStatus{
			Window:    pc.Window,
			Features:  pc.Features,
			Classes:   len(pc.Labels),
			Threshold: pc.Threshold,
		},
		Sessions: sessionStatus{Active: s.frames.Active(), Total: s.frames.Total()},
		Uptime:   time.Since(s.start).String(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	api.WriteJSON(w, http.StatusOK, s.Status())
}

type labelsResponse struct {
	Labels    []api.PoseEntry `json:"labels"`
	Threshold float64         `json:"threshold"`
}

func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	api.WriteJSON(w, http.StatusOK, labelsResponse{
		Labels:    s.poses.Entries(),
		Threshold: s.config.Pipeline.Threshold,
	})
}

// Run serves on addr until ctx is done, then shuts down gracefully. Open
// frame sessions are closed through their request contexts.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("Listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
