// Package gesture turns classifier probabilities into discrete gesture
// decisions.
package gesture

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// ErrShapeMismatch is returned when the probability vector does not have
// one value per label.
var ErrShapeMismatch = errors.New("probabilities do not match labels")

// Decision is the outcome of one Decide call. OK is false when no class was
// confident enough; Label is then empty.
type Decision struct {
	Label      string  `json:"label,omitempty"`
	Index      int     `json:"index"`
	Confidence float64 `json:"confidence"`
	OK         bool    `json:"ok"`
}

// Decide picks the most probable class, ties going to the lowest index, and
// accepts it only if its probability is strictly greater than threshold.
func Decide(probs []float64, labels []string, threshold float64) (Decision, error) {
	if len(probs) == 0 || len(probs) != len(labels) {
		return Decision{}, fmt.Errorf("%w: %d probabilities, %d labels", ErrShapeMismatch, len(probs), len(labels))
	}

	idx := floats.MaxIdx(probs)
	d := Decision{Index: idx, Confidence: probs[idx]}
	if d.Confidence > threshold {
		d.Label = labels[idx]
		d.OK = true
	}
	return d, nil
}

// Policy holds the label set and confidence threshold.
type Policy struct {
	labels    []string
	threshold float64
}

// NewPolicy creates a Policy. The threshold must be in [0, 1).
func NewPolicy(labels []string, threshold float64) (*Policy, error) {
	if len(labels) == 0 {
		return nil, errors.New("at least one label is required")
	}
	if threshold < 0 || threshold >= 1 {
		return nil, fmt.Errorf("threshold %v out of range [0, 1)", threshold)
	}
	return &Policy{
		labels:    append([]string(nil), labels...),
		threshold: threshold,
	}, nil
}

// Decide applies the policy to one probability vector.
func (p *Policy) Decide(probs []float64) (Decision, error) {
	return Decide(probs, p.labels, p.threshold)
}

// Labels returns a copy of the ordered labels.
func (p *Policy) Labels() []string {
	return append([]string(nil), p.labels...)
}

// Threshold returns the confidence threshold.
func (p *Policy) Threshold() float64 {
	return p.threshold
}

// Latch holds the most recent confident label. Unconfident decisions leave
// it unchanged, so the avatar keeps its last pose between signs.
type Latch struct {
	mu      sync.RWMutex
	current Decision
}

// Observe records d if it is confident and reports whether the held label
// changed.
func (l *Latch) Observe(d Decision) bool {
	if !d.OK {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := !l.current.OK || l.current.Label != d.Label
	l.current = d
	return changed
}

// Current returns the held decision.
func (l *Latch) Current() Decision {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Clear drops the held decision.
func (l *Latch) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = Decision{}
}
