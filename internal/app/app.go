// Package app runs local capture: frames from a camera or video file go
// through the holistic detector and a gesture pipeline, and recognized
// signs drive the avatar pose.
package app

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/signavatar/internal/capture"
	"github.com/ayusman/signavatar/internal/classifier"
	"github.com/ayusman/signavatar/internal/detector"
	"github.com/ayusman/signavatar/internal/pipeline"
	"github.com/ayusman/signavatar/internal/pose"
	"github.com/ayusman/signavatar/internal/store"
)

// ErrRunning is returned by Run when capture is already running.
var ErrRunning = errors.New("capture already running")

// Config holds configuration options for the application.
type Config struct {
	Camera   capture.Camera
	Detector detector.Detector
	// Model is shared with any other sessions and is not closed by App.
	Model    *classifier.Model
	Pipeline pipeline.Config
	// Poses defaults to a table of Pipeline.Labels with built-in poses.
	Poses *pose.Table
	// Store is optional. It records sessions and the enabled setting.
	Store *store.Store
	// FPS defaults to capture.DefaultFPS.
	FPS    int
	Logger logrus.FieldLogger
	// OnUpdate is called whenever the held sign changes, including the
	// return to rest when capture is paused. It may be called from
	// several goroutines.
	OnUpdate func(pose.Update)
}

// Status is a snapshot of the capture state.
type Status struct {
	Enabled    bool           `json:"enabled"`
	Running    bool           `json:"running"`
	Sign       string         `json:"sign,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Stats      pipeline.Stats `json:"stats"`
}

// App is the local capture loop.
type App struct {
	config Config
	log    logrus.FieldLogger

	mu      sync.RWMutex
	enabled bool
	running bool
	p       *pipeline.Pipeline
	stream  *pipeline.Stream
	driver  *pose.Driver
	last    pose.Update
	stats   pipeline.Stats
}

// New creates a new App. Camera, Detector and Model are required.
func New(config Config) (*App, error) {
	switch {
	case config.Camera == nil:
		return nil, errors.New("app: camera is required")
	case config.Detector == nil:
		return nil, errors.New("app: detector is required")
	case config.Model == nil:
		return nil, errors.New("app: model is required")
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.Poses == nil {
		config.Poses = pose.NewTable(config.Pipeline.Labels)
	}
	if config.FPS <= 0 {
		config.FPS = capture.DefaultFPS
	}

	// Fail on bad pipeline settings before the first Run.
	p, err := pipeline.New(config.Pipeline)
	if err != nil {
		return nil, err
	}
	p.Close()

	return &App{
		config:  config,
		log:     config.Logger.WithField("component", "capture"),
		enabled: true,
		driver:  pose.NewDriver(config.Poses),
	}, nil
}

// LoadSettings restores the enabled state saved in the store.
func (a *App) LoadSettings() error {
	if a.config.Store == nil {
		return nil
	}
	value, err := a.config.Store.Settings().GetDefault(store.SettingCaptureEnabled, "true")
	if err != nil {
		return err
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		a.log.WithField("value", value).Warn("Ignoring invalid capture_enabled setting")
		return nil
	}

	a.mu.Lock()
	a.enabled = enabled
	a.mu.Unlock()
	return nil
}

// SetEnabled pauses or resumes capture and saves the state in the store.
// Pausing clears the window so a sequence never spans the gap, and returns
// the avatar to rest.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	if a.enabled == enabled {
		a.mu.Unlock()
		return
	}
	a.enabled = enabled
	var rest pose.Update
	if !enabled {
		if a.stream != nil {
			a.stream.Reset()
		}
		rest = a.driver.Reset()
		a.last = rest
	}
	a.mu.Unlock()

	a.log.WithField("enabled", enabled).Info("Capture toggled")
	if a.config.Store != nil {
		if err := a.config.Store.Settings().Set(store.SettingCaptureEnabled, strconv.FormatBool(enabled)); err != nil {
			a.log.WithError(err).Warn("Failed to save capture setting")
		}
	}
	if !enabled && a.config.OnUpdate != nil {
		a.config.OnUpdate(rest)
	}
}

// IsEnabled returns whether capture is currently enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Reset clears the window and returns the avatar to rest without pausing.
func (a *App) Reset() pose.Update {
	a.mu.Lock()
	if a.stream != nil {
		a.stream.Reset()
	}
	rest := a.driver.Reset()
	a.last = rest
	a.mu.Unlock()
	return rest
}

// Status returns a snapshot of the capture state.
func (a *App) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st := Status{
		Enabled:    a.enabled,
		Running:    a.running,
		Sign:       a.last.Label,
		Confidence: a.last.Confidence,
		Stats:      a.stats,
	}
	if a.p != nil {
		st.Stats = a.p.Stats()
	}
	return st
}

// Run captures until ctx is done or a file source is exhausted. Each run
// is one session with its own window. Run returns nil when it stops for
// either of those reasons.
func (a *App) Run(ctx context.Context) error {
	p, err := a.begin()
	if err != nil {
		return err
	}
	defer a.end(p)

	cam := a.config.Camera
	if err := cam.Open(); err != nil {
		return err
	}
	defer func() {
		if err := cam.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close camera")
		}
	}()
	cam.SetFPS(a.config.FPS)

	rec := a.startSession()
	err = a.runPipeline(ctx, rec)
	a.finishSession(rec, p)

	if errors.Is(err, errSourceDone) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (a *App) begin() (*pipeline.Pipeline, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil, ErrRunning
	}

	cfg := a.config.Pipeline
	cfg.Logger = a.log
	p, err := pipeline.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := p.AttachModel(a.config.Model); err != nil {
		p.Close()
		return nil, err
	}

	a.p = p
	a.stream = pipeline.NewStream(p, 1)
	a.running = true
	a.driver.Reset()
	a.last = pose.Update{}
	return p, nil
}

func (a *App) end(p *pipeline.Pipeline) {
	a.mu.Lock()
	a.stats = p.Stats()
	a.p = nil
	a.stream = nil
	a.running = false
	a.mu.Unlock()

	if err := p.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close pipeline")
	}
}

func (a *App) startSession() *store.Session {
	if a.config.Store == nil {
		return nil
	}
	rec := &store.Session{Source: "camera"}
	if err := a.config.Store.Sessions().Create(rec); err != nil {
		a.log.WithError(err).Warn("Failed to record session start")
		return nil
	}
	a.log.WithField("session", rec.ID).Info("Capture started")
	return rec
}

func (a *App) finishSession(rec *store.Session, p *pipeline.Pipeline) {
	stats := p.Stats()
	a.mu.RLock()
	replaced := a.stream.Replaced()
	a.mu.RUnlock()

	a.log.WithFields(logrus.Fields{
		"frames":    stats.Frames,
		"decisions": stats.Decisions,
		"dropped":   stats.Dropped + replaced,
	}).Info("Capture stopped")

	if rec == nil {
		return
	}
	rec.Frames = stats.Frames
	rec.Decisions = stats.Decisions
	rec.Undecided = stats.Undecided
	rec.Dropped = stats.Dropped + replaced
	rec.Stale = stats.Stale
	rec.Malformed = stats.Malformed
	rec.Failures = stats.Failures
	if err := a.config.Store.Sessions().Finish(rec); err != nil {
		a.log.WithError(err).Warn("Failed to record session stats")
	}
}
