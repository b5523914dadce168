// Package pipeline drives frames through normalization, the sliding window,
// the sequence classifier and the decision policy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/signavatar/internal/classifier"
	"github.com/ayusman/signavatar/internal/detector"
	"github.com/ayusman/signavatar/internal/gesture"
	"github.com/ayusman/signavatar/internal/sequence"
)

// Errors reported by ProcessFrame. Only ErrModelLoad is a pipeline-level
// condition; the rest are scoped to a single frame.
var (
	ErrMalformedFrame = sequence.ErrMalformedFrame
	ErrModelLoad      = classifier.ErrModelLoad
	ErrInference      = classifier.ErrInference
	ErrShapeMismatch  = classifier.ErrShapeMismatch
	ErrModelNotLoaded = errors.New("model not loaded")
	ErrClosed         = errors.New("pipeline closed")
)

// Config holds the pipeline settings.
type Config struct {
	// Window is the sequence length W.
	Window int
	// Features is the frame vector length F.
	Features int
	// KeypointWidth is the number of values taken per structured keypoint.
	KeypointWidth int
	// Labels are the ordered class names; their count is C.
	Labels []string
	// Threshold is the minimum confidence to accept a decision.
	Threshold float64
	// Warmup runs a zero window through the model when it is loaded.
	Warmup bool
	// Logger defaults to the standard logrus logger.
	Logger logrus.FieldLogger
}

// Shape returns the classifier shape for this configuration.
func (c Config) Shape() classifier.Shape {
	return classifier.Shape{Window: c.Window, Features: c.Features, Classes: len(c.Labels)}
}

// Input is one frame in any of the accepted encodings. Exactly one field is
// expected to be set; Values takes precedence, then Keypoints.
type Input struct {
	Values    []float64
	Keypoints []detector.Keypoint
	Holistic  *detector.Holistic
}

// Stats are per-pipeline counters.
type Stats struct {
	Frames          uint64 `json:"frames"`
	Classifications uint64 `json:"classifications"`
	Decisions       uint64 `json:"decisions"`
	Undecided       uint64 `json:"undecided"`
	Dropped         uint64 `json:"dropped"`
	Stale           uint64 `json:"stale"`
	Malformed       uint64 `json:"malformed"`
	Failures        uint64 `json:"failures"`
}

// Pipeline is one capture session: a window of recent frames and a handle
// to a shared model. Create one per stream with New.
type Pipeline struct {
	cfg    Config
	norm   *sequence.Normalizer
	policy *gesture.Policy
	log    logrus.FieldLogger

	// inflight is held for the whole of a Process call. A call that cannot
	// take it is dropped.
	inflight sync.Mutex

	mu        sync.Mutex
	buf       *sequence.Buffer
	model     *classifier.Model
	ownsModel bool
	stats     Stats
	closed    bool
}

// New creates a pipeline without a model. Call LoadModel or AttachModel
// before feeding frames.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Window < 1 {
		return nil, fmt.Errorf("window must be positive, got %d", cfg.Window)
	}
	if cfg.Features < 1 {
		return nil, fmt.Errorf("features must be positive, got %d", cfg.Features)
	}
	policy, err := gesture.NewPolicy(cfg.Labels, cfg.Threshold)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg.Labels = policy.Labels()

	return &Pipeline{
		cfg:    cfg,
		norm:   sequence.NewNormalizer(cfg.Features, cfg.KeypointWidth),
		policy: policy,
		log:    logger,
		buf:    sequence.NewBuffer(cfg.Window),
	}, nil
}

// LoadModel loads the model description at path and attaches it. The
// pipeline owns the loaded model and closes it on Close. Failures wrap
// ErrModelLoad and leave the pipeline without a model.
func (p *Pipeline) LoadModel(path string) error {
	m, err := classifier.Load(path, p.cfg.Shape(), classifier.LoadOptions{
		Labels: p.cfg.Labels,
		Warmup: p.cfg.Warmup,
		Logger: p.log,
	})
	if err != nil {
		p.log.WithError(err).WithField("path", path).Error("Failed to load model")
		return err
	}
	if err := p.attach(m, true); err != nil {
		m.Close()
		return err
	}
	return nil
}

// AttachModel shares an already loaded model with this pipeline. The
// caller keeps ownership of m.
func (p *Pipeline) AttachModel(m *classifier.Model) error {
	return p.attach(m, false)
}

func (p *Pipeline) attach(m *classifier.Model, owned bool) error {
	if m == nil {
		return ErrModelNotLoaded
	}
	if m.Shape() != p.cfg.Shape() {
		return fmt.Errorf("%w: %w: model %s, pipeline %s", ErrModelLoad, ErrShapeMismatch, m.Shape(), p.cfg.Shape())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.model != nil && p.ownsModel {
		p.model.Close()
	}
	p.model = m
	p.ownsModel = owned
	return nil
}

// Ready reports whether a model is attached.
func (p *Pipeline) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model != nil && !p.closed
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// ProcessFrame handles one frame of flat raw values: normalize, append,
// and, once the window is full, classify and decide. It is safe to call
// from several goroutines; a call made while another is still running is
// dropped and reports OutcomeDropped.
func (p *Pipeline) ProcessFrame(ctx context.Context, raw []float64) (Result, error) {
	return p.Process(ctx, Input{Values: raw})
}

// Process is ProcessFrame for any Input encoding.
func (p *Pipeline) Process(ctx context.Context, in Input) (Result, error) {
	if !p.inflight.TryLock() {
		p.mu.Lock()
		p.stats.Dropped++
		p.mu.Unlock()
		return Result{Outcome: OutcomeDropped}, nil
	}
	defer p.inflight.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Result{}, ErrClosed
	}
	if p.model == nil {
		p.mu.Unlock()
		return Result{}, ErrModelNotLoaded
	}

	frame, err := p.normalize(in)
	if err != nil {
		p.stats.Malformed++
		buffered := p.buf.Len()
		p.mu.Unlock()
		p.log.WithError(err).WithField("buffered", buffered).Debug("Skipping malformed frame")
		return Result{}, err
	}

	p.buf.Append(frame)
	p.stats.Frames++
	res := Result{
		Outcome:  OutcomePending,
		Seq:      p.stats.Frames,
		Version:  p.buf.Version(),
		Buffered: p.buf.Len(),
	}
	if !p.buf.Full() {
		p.mu.Unlock()
		return res, nil
	}

	window := p.buf.Snapshot()
	model := p.model
	p.stats.Classifications++
	p.mu.Unlock()

	probs, err := model.Classify(ctx, window)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buf.Version() != res.Version {
		p.stats.Stale++
		p.log.WithFields(logrus.Fields{
			"version": res.Version,
			"current": p.buf.Version(),
		}).Debug("Discarding stale classification")
		return Result{Outcome: OutcomeStale, Seq: res.Seq, Version: res.Version}, nil
	}

	if err != nil {
		p.stats.Failures++
		res.Outcome = OutcomeFailed
		if errors.Is(err, ErrShapeMismatch) {
			p.log.WithError(err).WithField("seq", res.Seq).Error("Window shape invariant violated")
		} else {
			p.log.WithError(err).WithField("seq", res.Seq).Warn("Classification failed")
		}
		return res, err
	}

	decision, err := p.policy.Decide(probs)
	if err != nil {
		p.stats.Failures++
		res.Outcome = OutcomeFailed
		p.log.WithError(err).Error("Probability vector does not match labels")
		return res, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}

	res.Decision = decision
	res.Probabilities = probs
	if decision.OK {
		p.stats.Decisions++
		res.Outcome = OutcomeDecided
	} else {
		p.stats.Undecided++
		res.Outcome = OutcomeUndecided
	}
	return res, nil
}

func (p *Pipeline) normalize(in Input) (sequence.Frame, error) {
	switch {
	case in.Values != nil:
		return p.norm.Normalize(in.Values)
	case in.Keypoints != nil:
		return p.norm.NormalizeKeypoints(in.Keypoints)
	default:
		return p.norm.NormalizeHolistic(in.Holistic)
	}
}

// Reset clears the window. It is meant for session boundaries such as a
// camera restart; a classification in flight during Reset is discarded.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Reset()
	p.log.Debug("Sequence window reset")
}

// Buffered returns the number of frames in the window.
func (p *Pipeline) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}

// Window returns a snapshot of the buffered frames, oldest first.
func (p *Pipeline) Window() []sequence.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Snapshot()
}

// Stats returns a copy of the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Labels returns the ordered labels.
func (p *Pipeline) Labels() []string {
	return slices.Clone(p.cfg.Labels)
}

// Close releases the model if the pipeline owns it. Later calls fail with
// ErrClosed.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.buf.Reset()

	var err error
	if p.model != nil && p.ownsModel {
		err = p.model.Close()
	}
	p.model = nil
	return err
}
