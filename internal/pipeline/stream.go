package pipeline

import (
	"context"
	"sync/atomic"
)

// Event is one processed frame reported by a Stream.
type Event struct {
	Result Result
	Err    error
}

// Stream feeds a Pipeline from a single-slot mailbox. Submit never blocks:
// a frame waiting in the mailbox is replaced by a newer one, so latency
// stays bounded when inference is slower than the frame rate. Events are
// reported in submission order.
type Stream struct {
	p        *Pipeline
	mailbox  chan Input
	events   chan Event
	replaced atomic.Uint64
}

// NewStream creates a Stream for p. events is the capacity of the Events
// channel.
func NewStream(p *Pipeline, events int) *Stream {
	if events < 0 {
		events = 0
	}
	return &Stream{
		p:       p,
		mailbox: make(chan Input, 1),
		events:  make(chan Event, events),
	}
}

// Submit queues a frame, replacing any frame still waiting. It reports
// false if an older frame was replaced.
func (s *Stream) Submit(in Input) bool {
	fresh := true
	for {
		select {
		case s.mailbox <- in:
			return fresh
		default:
		}
		select {
		case <-s.mailbox:
			s.replaced.Add(1)
			fresh = false
		default:
		}
	}
}

// Reset discards any waiting frame and resets the pipeline window.
func (s *Stream) Reset() {
	select {
	case <-s.mailbox:
		s.replaced.Add(1)
	default:
	}
	s.p.Reset()
}

// Replaced returns how many submitted frames were replaced before being
// processed.
func (s *Stream) Replaced() uint64 {
	return s.replaced.Load()
}

// Events returns the channel of processed frames. It is closed when Run
// returns.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Pipeline returns the pipeline fed by this stream.
func (s *Stream) Pipeline() *Pipeline {
	return s.p
}

// Run processes submitted frames until ctx is done.
func (s *Stream) Run(ctx context.Context) error {
	defer close(s.events)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-s.mailbox:
			res, err := s.p.Process(ctx, in)
			select {
			case s.events <- Event{Result: res, Err: err}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
