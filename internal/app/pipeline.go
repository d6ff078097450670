package app

import (
	"context"

	"github.com/ayusman/signcaption/internal/detector"
	"github.com/ayusman/signcaption/internal/gesture"
)

// HandleHand is called by the frame loop once per detected hand. The local
// gesture is classified for logs and metrics only; the caption comes from
// the remote predictor, so every hand is forwarded regardless of the local
// result.
func (a *App) HandleHand(hand *detector.Hand) {
	g := gesture.Classify(hand)
	a.config.Metrics.RecordGesture(context.Background(), g.String())

	if prev := gesture.Gesture(a.lastGesture.Swap(int32(g))); g != gesture.None && g != prev {
		a.log.Debug().
			Str("gesture", g.String()).
			Str("handedness", hand.Handedness).
			Interface("fingers", gesture.Fingers(hand)).
			Msg("gesture recognised")
	}

	a.transport.Send(hand)
}
