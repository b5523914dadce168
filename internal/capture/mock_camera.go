package capture

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// MockCamera plays back blank or pre-recorded frames for testing.
type MockCamera struct {
	frames  []*gocv.Mat
	count   int
	index   int
	loop    bool
	opens   int
	mu      sync.Mutex
	running bool
}

// NewMockCamera plays back frames, restarting from the first one if loop
// is set.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		count:  len(frames),
		loop:   loop,
	}
}

// NewBlankCamera produces n empty 640x480 frames, or an endless stream if n
// is zero or less. The detector mock ignores pixel content, so this is
// enough to drive the capture loop.
func NewBlankCamera(n int) *MockCamera {
	return &MockCamera{count: n, loop: n <= 0}
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.index = 0
	c.opens++
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if c.count > 0 && c.index >= c.count {
		if !c.loop {
			return nil, ErrEndOfStream
		}
		c.index = 0
	}

	var frame gocv.Mat
	if len(c.frames) == 0 {
		frame = gocv.NewMatWithSize(DefaultHeight, DefaultWidth, gocv.MatTypeCV8UC3)
	} else {
		// Clone the frame so the original isn't modified
		frame = c.frames[c.index].Clone()
	}
	c.index++

	return &frame, nil
}

func (c *MockCamera) SetFPS(fps int) {}
func (c *MockCamera) FPS() int       { return 1000 }
func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Opens returns how many times Open was called.
func (c *MockCamera) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

// Reset restarts playback from the beginning
func (c *MockCamera) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
}

// IsEndOfStream reports whether err means the source is exhausted.
func IsEndOfStream(err error) bool {
	return errors.Is(err, ErrEndOfStream)
}
