package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It replays the configured frames in order, repeating the last one.
type MockDetector struct {
	mu     sync.Mutex
	frames []*Holistic
	next   int
	err    error
	calls  int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetFrames sets the results that will be returned by Detect.
func (m *MockDetector) SetFrames(frames ...*Holistic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = frames
	m.next = 0
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect was called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the next configured frame or error.
func (m *MockDetector) Detect(frame *gocv.Mat) (*Holistic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.frames) == 0 {
		return &Holistic{}, nil
	}

	h := m.frames[m.next]
	if m.next < len(m.frames)-1 {
		m.next++
	}
	return h, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// RightHandRaised returns a preset frame with the pose visible and the right
// hand raised beside the head. The offset shifts every coordinate so
// consecutive frames can simulate motion.
func RightHandRaised(offset float64) *Holistic {
	h := &Holistic{
		Right: make([]Keypoint, NumHandLandmarks),
		Pose:  make([]Keypoint, NumPoseLandmarks),
	}

	for i := range h.Pose {
		h.Pose[i] = Keypoint{
			X:          0.5 + float64(i%11-5)*0.03 + offset,
			Y:          0.2 + float64(i/11)*0.25,
			Z:          -0.1,
			Visibility: 0.99,
		}
	}

	// Finger chains grow upward from the wrist.
	h.Right[Wrist] = Keypoint{X: 0.7 + offset, Y: 0.35}
	for i := 1; i < NumHandLandmarks; i++ {
		finger := (i - 1) / 4
		joint := (i-1)%4 + 1
		h.Right[i] = Keypoint{
			X: 0.64 + float64(finger)*0.03 + offset,
			Y: 0.33 - float64(joint)*0.025,
			Z: -0.01 * float64(joint),
		}
	}

	return h
}
