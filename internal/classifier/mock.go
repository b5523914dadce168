package classifier

import (
	"slices"
	"sync"
	"time"
)

// MockRuntime is a test implementation of Runtime. It returns a fixed
// output and records the shape of every input it receives.
type MockRuntime struct {
	mu     sync.Mutex
	output []float32
	err    error
	delay  time.Duration
	shapes [][]int
	closed bool
	gate   chan struct{}
}

// NewMockRuntime creates a MockRuntime returning output on every call.
func NewMockRuntime(output []float32) *MockRuntime {
	return &MockRuntime{output: output}
}

// SetOutput replaces the returned output.
func (r *MockRuntime) SetOutput(output []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = output
}

// SetError makes Forward fail with err. A nil err restores normal output.
func (r *MockRuntime) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// SetDelay makes every Forward sleep before returning.
func (r *MockRuntime) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// Hold makes Forward block until the returned release function is called.
func (r *MockRuntime) Hold() (release func()) {
	gate := make(chan struct{})
	r.mu.Lock()
	r.gate = gate
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

// Forward records the input shape and returns the configured result.
func (r *MockRuntime) Forward(input Tensor) ([]float32, error) {
	r.mu.Lock()
	r.shapes = append(r.shapes, slices.Clone(input.Shape))
	out, err, delay, gate := slices.Clone(r.output), r.err, r.delay, r.gate
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Calls returns the number of Forward calls.
func (r *MockRuntime) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shapes)
}

// Shapes returns the input shape of every Forward call.
func (r *MockRuntime) Shapes() [][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.shapes)
}

// Closed reports whether Close was called.
func (r *MockRuntime) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *MockRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// MockOpener returns an Opener that always yields rt.
func MockOpener(rt Runtime) Opener {
	return func(Descriptor) (Runtime, error) {
		return rt, nil
	}
}
