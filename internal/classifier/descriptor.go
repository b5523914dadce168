// Package classifier loads a pre-trained sequence model and runs inference
// on full frame windows.
package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// Sentinel errors reported by the classifier.
var (
	// ErrModelLoad is returned when the model cannot be loaded or its
	// declared shapes do not match the configuration.
	ErrModelLoad = errors.New("model load failure")
	// ErrInference is returned when a single forward pass fails.
	ErrInference = errors.New("inference failure")
	// ErrShapeMismatch is returned when a window reaching the classifier
	// does not have the configured shape.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrClosed is returned when the model was already closed.
	ErrClosed = errors.New("model closed")
)

// Shape is the configured window length W, frame length F and class count C.
type Shape struct {
	Window   int
	Features int
	Classes  int
}

// Input returns the expected input tensor shape [1, W, F].
func (s Shape) Input() []int {
	return []int{1, s.Window, s.Features}
}

func (s Shape) String() string {
	return fmt.Sprintf("[1,%d,%d]->[%d]", s.Window, s.Features, s.Classes)
}

// Descriptor is the model description stored next to the weights.
//
//	{
//	  "format": "onnx",
//	  "weights": "model.onnx",
//	  "inputShape": [1, 20, 300],
//	  "outputShape": [11],
//	  "labels": ["thumbs_up", ...]
//	}
type Descriptor struct {
	Format      string   `json:"format"`
	Weights     string   `json:"weights"`
	Config      string   `json:"config,omitempty"`
	InputShape  []int    `json:"inputShape"`
	OutputShape []int    `json:"outputShape"`
	Labels      []string `json:"labels,omitempty"`
	Backend     string   `json:"backend,omitempty"`
	Target      string   `json:"target,omitempty"`

	// Dir is the directory the descriptor was read from. Relative weight
	// and config paths resolve against it.
	Dir string `json:"-"`
}

// ReadDescriptor reads and parses a model description file.
func ReadDescriptor(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: read description: %v", ErrModelLoad, err)
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: parse description %s: %v", ErrModelLoad, path, err)
	}
	if d.Weights == "" {
		return Descriptor{}, fmt.Errorf("%w: description %s has no weights", ErrModelLoad, path)
	}
	d.Dir = filepath.Dir(path)
	return d, nil
}

// WeightsPath returns the absolute or descriptor-relative weights path.
func (d Descriptor) WeightsPath() string {
	return d.resolve(d.Weights)
}

// ConfigPath returns the resolved network config path, or "" if none.
func (d Descriptor) ConfigPath() string {
	if d.Config == "" {
		return ""
	}
	return d.resolve(d.Config)
}

func (d Descriptor) resolve(p string) string {
	if filepath.IsAbs(p) || d.Dir == "" {
		return p
	}
	return filepath.Join(d.Dir, p)
}

// Validate checks the declared shapes and labels against the configuration.
// An output shape of [1, C] is accepted as a batch of one.
func (d Descriptor) Validate(shape Shape, labels []string) error {
	if !slices.Equal(d.InputShape, shape.Input()) {
		return fmt.Errorf("%w: %w: declared input %v, want %v",
			ErrModelLoad, ErrShapeMismatch, d.InputShape, shape.Input())
	}

	out := d.OutputShape
	if len(out) == 2 && out[0] == 1 {
		out = out[1:]
	}
	if len(out) != 1 || out[0] != shape.Classes {
		return fmt.Errorf("%w: %w: declared output %v, want [%d]",
			ErrModelLoad, ErrShapeMismatch, d.OutputShape, shape.Classes)
	}

	if len(d.Labels) > 0 && labels != nil && !slices.Equal(d.Labels, labels) {
		return fmt.Errorf("%w: model labels %v differ from configured labels %v",
			ErrModelLoad, d.Labels, labels)
	}
	return nil
}
