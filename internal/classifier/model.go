package classifier

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/signavatar/internal/sequence"
)

// probabilityTolerance absorbs rounding in softmax outputs.
const probabilityTolerance = 1e-4

// LoadOptions controls model loading.
type LoadOptions struct {
	// Labels, when set, must match labels declared by the model description.
	Labels []string
	// Warmup runs one inference on a zero window before returning.
	Warmup bool
	// Opener opens the network. Defaults to OpenGoCV.
	Opener Opener
	// Logger defaults to the standard logrus logger.
	Logger logrus.FieldLogger
}

// Info describes a loaded model.
type Info struct {
	Format      string        `json:"format"`
	Weights     string        `json:"weights"`
	InputShape  []int         `json:"input_shape"`
	OutputShape []int         `json:"output_shape"`
	Warmup      time.Duration `json:"warmup_ns"`
	Inferences  uint64        `json:"inferences"`
}

// Model is the loaded classifier handle. It is shared by all pipelines and
// serializes forward passes, since the underlying network is not safe for
// concurrent use.
type Model struct {
	shape  Shape
	desc   Descriptor
	log    logrus.FieldLogger
	warmup time.Duration
	calls  atomic.Uint64

	mu     sync.Mutex
	rt     Runtime
	closed bool
}

// Load reads the model description at path, validates its declared shapes
// against shape, opens the network and optionally warms it up. All failures
// wrap ErrModelLoad.
func Load(path string, shape Shape, opts LoadOptions) (*Model, error) {
	desc, err := ReadDescriptor(path)
	if err != nil {
		return nil, err
	}
	if err := desc.Validate(shape, opts.Labels); err != nil {
		return nil, err
	}

	opener := opts.Opener
	if opener == nil {
		opener = OpenGoCV
	}
	rt, err := opener(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	return Open(rt, desc, shape, opts)
}

// Open wraps an already opened runtime. The runtime is closed if warmup
// fails.
func Open(rt Runtime, desc Descriptor, shape Shape, opts LoadOptions) (*Model, error) {
	if shape.Window < 1 || shape.Features < 1 || shape.Classes < 1 {
		rt.Close()
		return nil, fmt.Errorf("%w: invalid shape %s", ErrModelLoad, shape)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	m := &Model{
		shape: shape,
		desc:  desc,
		log:   logger.WithField("component", "classifier"),
		rt:    rt,
	}

	if opts.Warmup {
		if err := m.runWarmup(); err != nil {
			m.Close()
			return nil, err
		}
	}

	m.log.WithFields(logrus.Fields{
		"input":  shape.Input(),
		"output": shape.Classes,
		"warmup": m.warmup,
	}).Info("Model loaded")

	return m, nil
}

func (m *Model) runWarmup() error {
	window := make([]sequence.Frame, m.shape.Window)
	for i := range window {
		window[i] = make(sequence.Frame, m.shape.Features)
	}

	start := time.Now()
	if _, err := m.Classify(context.Background(), window); err != nil {
		return fmt.Errorf("%w: warmup: %v", ErrModelLoad, err)
	}
	m.warmup = time.Since(start)
	return nil
}

// Shape returns the configured shape.
func (m *Model) Shape() Shape {
	return m.shape
}

// Info reports the model description and usage counters.
func (m *Model) Info() Info {
	return Info{
		Format:      m.desc.Format,
		Weights:     m.desc.WeightsPath(),
		InputShape:  m.shape.Input(),
		OutputShape: []int{m.shape.Classes},
		Warmup:      m.warmup,
		Inferences:  m.calls.Load(),
	}
}

// Classify runs one forward pass over a full window and returns C class
// probabilities. A window that is not exactly W frames of F values is
// ErrShapeMismatch; runtime failures and invalid outputs are ErrInference.
func (m *Model) Classify(ctx context.Context, window []sequence.Frame) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	input, err := m.tensor(window)
	if err != nil {
		return nil, err
	}

	out, err := m.forward(input)
	if err != nil {
		return nil, err
	}

	if len(out) != m.shape.Classes {
		return nil, fmt.Errorf("%w: output has %d values, want %d", ErrInference, len(out), m.shape.Classes)
	}

	probs := make([]float64, len(out))
	for i, v := range out {
		p := float64(v)
		if math.IsNaN(p) || p < -probabilityTolerance || p > 1+probabilityTolerance {
			return nil, fmt.Errorf("%w: output %d is not a probability: %v", ErrInference, i, p)
		}
		probs[i] = math.Min(math.Max(p, 0), 1)
	}
	return probs, nil
}

func (m *Model) tensor(window []sequence.Frame) (Tensor, error) {
	if len(window) != m.shape.Window {
		return Tensor{}, fmt.Errorf("%w: window has %d frames, want %d", ErrShapeMismatch, len(window), m.shape.Window)
	}

	data := make([]float32, 0, m.shape.Window*m.shape.Features)
	for i, f := range window {
		if len(f) != m.shape.Features {
			return Tensor{}, fmt.Errorf("%w: frame %d has %d values, want %d", ErrShapeMismatch, i, len(f), m.shape.Features)
		}
		data = append(data, f...)
	}
	return Tensor{Shape: m.shape.Input(), Data: data}, nil
}

// forward serializes access to the runtime and turns panics from the
// native layer into ErrInference.
func (m *Model) forward(input Tensor) (out []float32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("%w: %w", ErrInference, ErrClosed)
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: runtime panic: %v", ErrInference, r)
		}
	}()

	m.calls.Add(1)
	out, err = m.rt.Forward(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	return out, nil
}

// Close releases the network. It is safe to call more than once.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.rt.Close()
}
