package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayusman/signcaption/internal/detector"
)

// NoPrediction is the token the predictor sends when it has no label.
const NoPrediction = "?"

// ErrMalformedFrame is returned when a landmark frame does not decode to
// exactly 21 points.
var ErrMalformedFrame = errors.New("malformed landmark frame")

// EncodeHand renders a hand as the wire frame: a JSON array of 21
// {"x","y","z"} objects. Handedness and score are not sent.
func EncodeHand(hand *detector.Hand) ([]byte, error) {
	if hand == nil {
		return nil, ErrMalformedFrame
	}
	data, err := json.Marshal(hand.Points)
	if err != nil {
		return nil, fmt.Errorf("encode hand: %w", err)
	}
	return data, nil
}

// DecodeHand parses a wire frame.
func DecodeHand(data []byte) (detector.Hand, error) {
	var points []detector.Point3D
	if err := json.Unmarshal(data, &points); err != nil {
		return detector.Hand{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	hand, err := detector.NewHand(points)
	if err != nil {
		return detector.Hand{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return hand, nil
}

// ParseToken trims an inbound message and reports whether it carries a
// caption token. Empty messages and NoPrediction are not tokens.
func ParseToken(msg string) (string, bool) {
	token := strings.TrimSpace(msg)
	if token == "" || token == NoPrediction {
		return "", false
	}
	return token, true
}
