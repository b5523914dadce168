package pose

import (
	"github.com/ayusman/signavatar/internal/gesture"
	"github.com/ayusman/signavatar/internal/pipeline"
)

// Update tells the avatar to move to a new pose.
type Update struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Pose       Pose    `json:"pose"`
	Seq        uint64  `json:"seq"`
}

// Driver turns pipeline results into pose updates. The avatar holds the
// last confident sign; undecided windows do not move it.
type Driver struct {
	table *Table
	latch gesture.Latch
}

// NewDriver creates a driver resolving poses from table.
func NewDriver(table *Table) *Driver {
	return &Driver{table: table}
}

// Observe feeds one result and returns an update when the held sign
// changed.
func (d *Driver) Observe(res pipeline.Result) (Update, bool) {
	label, ok := res.Label()
	if !ok {
		return Update{}, false
	}
	if !d.latch.Observe(res.Decision) {
		return Update{}, false
	}
	return Update{
		Label:      label,
		Confidence: res.Decision.Confidence,
		Pose:       d.table.Lookup(label),
		Seq:        res.Seq,
	}, true
}

// Current returns the held sign and its pose.
func (d *Driver) Current() (Update, bool) {
	cur := d.latch.Current()
	if !cur.OK {
		return Update{}, false
	}
	return Update{Label: cur.Label, Confidence: cur.Confidence, Pose: d.table.Lookup(cur.Label)}, true
}

// Reset returns the avatar to the rest pose.
func (d *Driver) Reset() Update {
	d.latch.Clear()
	return Update{Pose: Neutral()}
}
