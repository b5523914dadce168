package detector

import "gocv.io/x/gocv"

// Detector defines the interface for holistic landmark detection.
type Detector interface {
	// Detect analyzes a video frame and returns the detected landmarks.
	// A frame with nothing detected returns an empty Holistic, not an error.
	Detect(frame *gocv.Mat) (*Holistic, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for landmark detection.
type Config struct {
	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64

	// Script is the path to the detector service script. Empty searches the
	// default locations.
	Script string

	// Python is the interpreter used to run Script. Empty prefers a venv.
	Python string
}

// DefaultConfig returns a Config matching the thresholds the gesture model
// was recorded with.
func DefaultConfig() Config {
	return Config{
		MinConfidence:   0.8,
		MinTrackingConf: 0.9,
	}
}
