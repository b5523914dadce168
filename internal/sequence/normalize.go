// Package sequence turns per-frame landmarks into fixed-length frame vectors
// and keeps the rolling window of recent frames fed to the classifier.
package sequence

import (
	"errors"
	"fmt"
	"math"

	"github.com/ayusman/signavatar/internal/detector"
)

// ErrMalformedFrame is returned when raw input does not decode to the
// expected feature length.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one normalized frame vector. It is never modified after
// Normalize returns it.
type Frame []float32

// Normalizer validates and flattens raw frames.
type Normalizer struct {
	features int
	width    int
}

// NewNormalizer creates a Normalizer producing frames of exactly features
// values. width is the number of values taken from each structured keypoint
// (2 for x,y; 3 adds z; 4 adds visibility).
func NewNormalizer(features, width int) *Normalizer {
	if width < 2 || width > 4 {
		width = detector.ValuesPerKeypoint
	}
	return &Normalizer{features: features, width: width}
}

// Features returns the frame length F.
func (n *Normalizer) Features() int {
	return n.features
}

// Normalize validates raw values and copies them into a Frame, preserving
// order. It never pads or truncates.
func (n *Normalizer) Normalize(raw []float64) (Frame, error) {
	if len(raw) != n.features {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrMalformedFrame, len(raw), n.features)
	}

	frame := make(Frame, len(raw))
	for i, v := range raw {
		// Values outside float32 range would become Inf in the frame.
		if math.IsNaN(v) || math.Abs(v) > math.MaxFloat32 {
			return nil, fmt.Errorf("%w: non-finite or out of range value at %d", ErrMalformedFrame, i)
		}
		frame[i] = float32(v)
	}
	return frame, nil
}

// NormalizeKeypoints flattens structured keypoints x, y, z, visibility
// (truncated to the configured width) in the order received, then
// validates the result like Normalize.
func (n *Normalizer) NormalizeKeypoints(kps []detector.Keypoint) (Frame, error) {
	if len(kps)*n.width != n.features {
		return nil, fmt.Errorf("%w: got %d keypoints of width %d, want %d values",
			ErrMalformedFrame, len(kps), n.width, n.features)
	}

	raw := make([]float64, 0, n.features)
	for _, kp := range kps {
		values := [4]float64{kp.X, kp.Y, kp.Z, kp.Visibility}
		raw = append(raw, values[:n.width]...)
	}
	return n.Normalize(raw)
}

// NormalizeHolistic flattens a detector frame with missing parts
// zero-filled and validates it.
func (n *Normalizer) NormalizeHolistic(h *detector.Holistic) (Frame, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: no landmarks", ErrMalformedFrame)
	}
	return n.Normalize(h.Flatten())
}
