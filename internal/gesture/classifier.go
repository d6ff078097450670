// Package gesture classifies hand poses from landmark geometry.
package gesture

import (
	"github.com/ayusman/signcaption/internal/detector"
)

// Gesture is a locally classified hand pose.
type Gesture int

const (
	// None means no known pose matched.
	None Gesture = iota
	// Hello is an open palm: all five fingers extended.
	Hello
	// Yes is a thumbs up: thumb extended, other fingers curled.
	Yes
	// No is a fist: all five fingers curled.
	No
	// Peace has index and middle extended, the rest curled.
	Peace
)

// String returns the caption label for the gesture, or "" for None.
func (g Gesture) String() string {
	switch g {
	case Hello:
		return "Hello"
	case Yes:
		return "Yes"
	case No:
		return "No"
	case Peace:
		return "Peace"
	default:
		return ""
	}
}

// thumbSpreadRatio is how far the thumb tip must be from the pinky base,
// relative to the index-to-pinky knuckle width, to count as open.
const thumbSpreadRatio = 1.5

// FingerState holds the open flags of the five fingers.
type FingerState struct {
	Thumb  bool
	Index  bool
	Middle bool
	Ring   bool
	Pinky  bool
}

// Fingers computes which fingers are open.
//
// A finger is open when its tip is above its PIP joint, which assumes an
// upright, unrotated hand in image coordinates (y grows downward). The thumb
// is open when its tip is far from the pinky base compared to the palm width,
// so the test does not depend on hand size or camera distance.
func Fingers(hand *detector.Hand) FingerState {
	p := &hand.Points
	return FingerState{
		Thumb:  hand.Distance2D(detector.ThumbTip, detector.PinkyMCP) > hand.Distance2D(detector.IndexMCP, detector.PinkyMCP)*thumbSpreadRatio,
		Index:  p[detector.IndexTip].Y < p[detector.IndexPIP].Y,
		Middle: p[detector.MiddleTip].Y < p[detector.MiddlePIP].Y,
		Ring:   p[detector.RingTip].Y < p[detector.RingPIP].Y,
		Pinky:  p[detector.PinkyTip].Y < p[detector.PinkyPIP].Y,
	}
}

// Classify maps a hand to a gesture. Nil hands and hands with non-finite
// coordinates classify as None.
func Classify(hand *detector.Hand) Gesture {
	if hand == nil {
		return None
	}
	for _, p := range hand.Points {
		if !p.IsFinite() {
			return None
		}
	}

	f := Fingers(hand)
	others := f.Index || f.Middle || f.Ring || f.Pinky

	// Order matters: first match wins.
	switch {
	case f.Thumb && f.Index && f.Middle && f.Ring && f.Pinky:
		return Hello
	case !f.Thumb && !others:
		return No
	case f.Thumb && !others:
		return Yes
	case !f.Thumb && f.Index && f.Middle && !f.Ring && !f.Pinky:
		return Peace
	default:
		return None
	}
}

// ClassifyPoints classifies a raw landmark list. Anything other than exactly
// 21 points classifies as None.
func ClassifyPoints(points []detector.Point3D) Gesture {
	hand, err := detector.NewHand(points)
	if err != nil {
		return None
	}
	return Classify(&hand)
}
