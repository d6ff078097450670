// Package detector provides the hand landmark data model and the interface to
// the external hand landmark detector.
package detector

import (
	"errors"
	"fmt"
	"math"
)

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// ErrMalformedHand is returned when a landmark list does not hold exactly
// NumLandmarks points.
var ErrMalformedHand = errors.New("hand must have exactly 21 landmarks")

// Point3D is a single landmark. X and Y are normalized to the frame bounds,
// Z is a relative depth estimate.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// IsFinite reports whether every coordinate is a finite number.
func (p Point3D) IsFinite() bool {
	for _, v := range [...]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Hand is one detected hand. Points is index-addressed by the constants above.
type Hand struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`
}

// NewHand builds a Hand from an ordered landmark list.
func NewHand(points []Point3D) (Hand, error) {
	var h Hand
	if len(points) != NumLandmarks {
		return h, fmt.Errorf("%w: got %d", ErrMalformedHand, len(points))
	}
	copy(h.Points[:], points)
	return h, nil
}

// DetectionResult holds the hands found in one frame.
type DetectionResult struct {
	Hands       []Hand
	TimestampMs int64
}

// distance2D calculates the Euclidean distance between two points in the x,y plane.
func distance2D(a, b Point3D) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Distance2D returns the planar distance between landmarks i and j.
func (h *Hand) Distance2D(i, j int) float64 {
	return distance2D(h.Points[i], h.Points[j])
}
