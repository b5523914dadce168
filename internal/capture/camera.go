// Package capture reads video frames from a camera device or a video file
// using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// Default capture settings
const (
	DefaultFPS    = 15
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrEndOfStream is returned when a video file has no more frames.
	ErrEndOfStream = errors.New("end of stream")
)

// Camera defines the interface for frame sources.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame. The caller closes the Mat.
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// Source identifies a capture device or a video file.
type Source struct {
	DeviceID int
	File     string
}

// ParseSource interprets s as a device ID when it is a non-negative
// integer and as a file path otherwise. An empty string is device 0.
func ParseSource(s string) (Source, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Source{}, nil
	}
	if id, err := strconv.Atoi(s); err == nil {
		if id < 0 {
			return Source{}, fmt.Errorf("invalid camera device %d", id)
		}
		return Source{DeviceID: id}, nil
	}
	return Source{File: s}, nil
}

// IsFile reports whether the source is a video file.
func (s Source) IsFile() bool {
	return s.File != ""
}

func (s Source) String() string {
	if s.IsFile() {
		return s.File
	}
	return "camera " + strconv.Itoa(s.DeviceID)
}

// cameraImpl manages video capture from a device or file using GoCV.
type cameraImpl struct {
	source  Source
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	fps     int
}

// NewCamera creates a new Camera for the given source.
func NewCamera(source Source) Camera {
	return &cameraImpl{
		source: source,
		fps:    DefaultFPS,
	}
}

// Open opens the source for capturing frames. Devices are set to 640x480.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	var (
		capture *gocv.VideoCapture
		err     error
	)
	if c.source.IsFile() {
		capture, err = gocv.VideoCaptureFile(c.source.File)
	} else {
		capture, err = gocv.OpenVideoCapture(c.source.DeviceID)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", c.source, err)
	}

	if !c.source.IsFile() {
		capture.Set(gocv.VideoCaptureFrameWidth, DefaultWidth)
		capture.Set(gocv.VideoCaptureFrameHeight, DefaultHeight)
		capture.Set(gocv.VideoCaptureFPS, float64(c.fps))
	}

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the source and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame. File sources return ErrEndOfStream once
// exhausted.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		if c.source.IsFile() {
			return nil, ErrEndOfStream
		}
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		if c.source.IsFile() {
			return nil, ErrEndOfStream
		}
		return nil, errors.New("captured frame is empty")
	}

	return &mat, nil
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil && !c.source.IsFile() {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fps
}

// IsOpen returns true if the source is currently open.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
