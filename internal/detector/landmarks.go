// Package detector provides the holistic landmark types produced by the
// upstream detector and the detector implementations that produce them.
package detector

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist     = 0
	ThumbCMC  = 1
	ThumbMCP  = 2
	ThumbIP   = 3
	ThumbTip  = 4
	IndexMCP  = 5
	IndexPIP  = 6
	IndexDIP  = 7
	IndexTip  = 8
	MiddleMCP = 9
	MiddlePIP = 10
	MiddleDIP = 11
	MiddleTip = 12
	RingMCP   = 13
	RingPIP   = 14
	RingDIP   = 15
	RingTip   = 16
	PinkyMCP  = 17
	PinkyPIP  = 18
	PinkyDIP  = 19
	PinkyTip  = 20
)

// Holistic layout sizes.
const (
	// NumHandLandmarks is the number of landmarks per hand.
	NumHandLandmarks = 21
	// NumPoseLandmarks is the number of body pose landmarks.
	NumPoseLandmarks = 33
	// ValuesPerKeypoint is x, y, z and visibility.
	ValuesPerKeypoint = 4
	// NumKeypoints is left hand, right hand and pose combined.
	NumKeypoints = 2*NumHandLandmarks + NumPoseLandmarks
	// FeatureLength is the flattened length of one holistic frame (300).
	FeatureLength = NumKeypoints * ValuesPerKeypoint
)

// Keypoint is a single detected landmark. Visibility is 0 when the detector
// does not report it.
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility,omitempty"`
}

// Holistic is one frame of detector output: both hands and the body pose.
// A nil slice means the part was not detected in the frame.
type Holistic struct {
	Left      []Keypoint `json:"left,omitempty"`
	Right     []Keypoint `json:"right,omitempty"`
	Pose      []Keypoint `json:"pose,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

// Empty reports whether no part was detected.
func (h *Holistic) Empty() bool {
	return h == nil || (len(h.Left) == 0 && len(h.Right) == 0 && len(h.Pose) == 0)
}

// HasHands reports whether at least one hand was detected.
func (h *Holistic) HasHands() bool {
	return h != nil && (len(h.Left) > 0 || len(h.Right) > 0)
}

// Flatten encodes the frame as left hand, right hand, then pose, each
// landmark as x, y, z, visibility. Parts that were not detected are
// zero-filled so the layout is stable across frames. A detected part with
// the wrong landmark count is flattened as received, so the result length
// no longer matches FeatureLength and the frame is rejected downstream.
func (h *Holistic) Flatten() []float64 {
	out := make([]float64, 0, FeatureLength)
	out = appendPart(out, h.Left, NumHandLandmarks)
	out = appendPart(out, h.Right, NumHandLandmarks)
	out = appendPart(out, h.Pose, NumPoseLandmarks)
	return out
}

func appendPart(out []float64, part []Keypoint, want int) []float64 {
	if len(part) == 0 {
		return append(out, make([]float64, want*ValuesPerKeypoint)...)
	}
	for _, kp := range part {
		out = append(out, kp.X, kp.Y, kp.Z, kp.Visibility)
	}
	return out
}
