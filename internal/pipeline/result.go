package pipeline

import (
	"fmt"

	"github.com/ayusman/signavatar/internal/gesture"
)

// Outcome classifies what happened to one frame.
type Outcome int

const (
	// OutcomePending means the frame was buffered but the window is not
	// full yet.
	OutcomePending Outcome = iota
	// OutcomeUndecided means the window was classified but no class was
	// confident enough.
	OutcomeUndecided
	// OutcomeDecided means a gesture label was emitted.
	OutcomeDecided
	// OutcomeDropped means the frame arrived while another was being
	// processed and was discarded without buffering.
	OutcomeDropped
	// OutcomeStale means the window was reset while the classification was
	// running, so its result was discarded.
	OutcomeStale
	// OutcomeFailed means classification failed; the error says why.
	OutcomeFailed
)

var outcomeNames = map[Outcome]string{
	OutcomePending:   "pending",
	OutcomeUndecided: "none",
	OutcomeDecided:   "decision",
	OutcomeDropped:   "dropped",
	OutcomeStale:     "stale",
	OutcomeFailed:    "failed",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Result is the outcome of processing one frame.
type Result struct {
	Outcome       Outcome          `json:"outcome"`
	Decision      gesture.Decision `json:"decision"`
	Probabilities []float64        `json:"probabilities,omitempty"`
	// Seq is the 1-based number of the buffered frame in this session.
	Seq uint64 `json:"seq"`
	// Version is the window version right after the frame was appended.
	Version  uint64 `json:"version"`
	Buffered int    `json:"buffered"`
}

// Label returns the emitted gesture label and true, or "" and false when no
// gesture was decided.
func (r Result) Label() (string, bool) {
	if r.Outcome != OutcomeDecided {
		return "", false
	}
	return r.Decision.Label, true
}
