// Package pose maps gesture labels to avatar bone rotations.
package pose

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ayusman/signavatar/internal/store"
)

// DefaultDuration is the transition time to a new pose, in seconds.
const DefaultDuration = 0.5

// Rotation is an Euler rotation in radians.
type Rotation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Pose is a set of bone rotations applied on top of the rest pose. An empty
// Bones map is the rest pose.
type Pose struct {
	Bones    map[string]Rotation `json:"bones"`
	Duration float64             `json:"duration"`
}

// Neutral returns the rest pose.
func Neutral() Pose {
	return Pose{Bones: map[string]Rotation{}, Duration: DefaultDuration}
}

// Decode parses a stored pose. A zero duration becomes DefaultDuration.
func Decode(raw json.RawMessage) (Pose, error) {
	p := Neutral()
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Pose{}, fmt.Errorf("decode pose: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Pose{}, err
	}
	if p.Duration == 0 {
		p.Duration = DefaultDuration
	}
	if p.Bones == nil {
		p.Bones = map[string]Rotation{}
	}
	return p, nil
}

// Encode serializes p for storage.
func (p Pose) Encode() (json.RawMessage, error) {
	return json.Marshal(p)
}

// Validate rejects unnamed bones, non-finite angles and negative durations.
func (p Pose) Validate() error {
	if p.Duration < 0 || math.IsNaN(p.Duration) || math.IsInf(p.Duration, 0) {
		return fmt.Errorf("invalid pose duration %v", p.Duration)
	}
	for bone, r := range p.Bones {
		if bone == "" {
			return errors.New("pose has an unnamed bone")
		}
		for _, v := range []float64{r.X, r.Y, r.Z} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("bone %q has a non-finite rotation", bone)
			}
		}
	}
	return nil
}

func (p Pose) clone() Pose {
	bones := make(map[string]Rotation, len(p.Bones))
	for k, v := range p.Bones {
		bones[k] = v
	}
	return Pose{Bones: bones, Duration: p.Duration}
}

// Defaults returns the built-in poses. Labels without an entry use the rest
// pose.
func Defaults() map[string]Pose {
	return map[string]Pose{
		"thumbs_up": {
			Bones: map[string]Rotation{
				"RightArm": {X: -math.Pi / 2},
			},
			Duration: DefaultDuration,
		},
		"peace_sign": {
			Bones: map[string]Rotation{
				"RightHand":    {Z: math.Pi / 4},
				"IndexFinger":  {Z: -math.Pi / 4},
				"MiddleFinger": {Z: -math.Pi / 4},
			},
			Duration: DefaultDuration,
		},
	}
}

// Table resolves the pose for each label: stored override, then built-in
// default, then the rest pose.
type Table struct {
	labels []string

	mu        sync.RWMutex
	defaults  map[string]Pose
	overrides map[string]Pose
}

// NewTable creates a table for the given labels with the built-in defaults.
func NewTable(labels []string) *Table {
	return &Table{
		labels:    slices.Clone(labels),
		defaults:  Defaults(),
		overrides: map[string]Pose{},
	}
}

// Lister is the subset of store.PoseRepository used to load overrides.
type Lister interface {
	List() ([]*store.PoseBinding, error)
}

// Load replaces the overrides with the bindings from src. Bindings for
// unknown labels or with invalid poses are skipped.
func (t *Table) Load(src Lister, log logrus.FieldLogger) error {
	bindings, err := src.List()
	if err != nil {
		return fmt.Errorf("load pose bindings: %w", err)
	}

	overrides := make(map[string]Pose, len(bindings))
	for _, b := range bindings {
		if !t.Known(b.Label) {
			log.WithField("label", b.Label).Warn("Ignoring pose binding for unknown label")
			continue
		}
		p, err := Decode(b.Pose)
		if err != nil {
			log.WithError(err).WithField("label", b.Label).Warn("Ignoring invalid pose binding")
			continue
		}
		overrides[b.Label] = p
	}

	t.mu.Lock()
	t.overrides = overrides
	t.mu.Unlock()
	return nil
}

// Known reports whether label is one of the table's labels.
func (t *Table) Known(label string) bool {
	return slices.Contains(t.labels, label)
}

// Labels returns the ordered labels.
func (t *Table) Labels() []string {
	return slices.Clone(t.labels)
}

// Lookup returns the pose for label. Unknown labels get the rest pose.
func (t *Table) Lookup(label string) Pose {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.overrides[label]; ok {
		return p.clone()
	}
	if p, ok := t.defaults[label]; ok {
		return p.clone()
	}
	return Neutral()
}

// Overridden reports whether label has a stored override.
func (t *Table) Overridden(label string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.overrides[label]
	return ok
}

// Set installs an override for label.
func (t *Table) Set(label string, p Pose) error {
	if !t.Known(label) {
		return fmt.Errorf("unknown label %q", label)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.overrides[label] = p.clone()
	return nil
}

// Remove drops the override for label, restoring its default.
func (t *Table) Remove(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.overrides, label)
}
