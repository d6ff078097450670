// Package predictor is the reference remote classifier: a websocket endpoint
// that answers every landmark frame with a caption token.
package predictor

import (
	"encoding/json"
	"net/http"

	"github.com/ayusman/signcaption/internal/detector"
	"github.com/ayusman/signcaption/internal/gesture"
	"github.com/ayusman/signcaption/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Path is where the handler is mounted.
const Path = "/ws/predict"

// Model maps a hand to a label. ok is false when the hand matches nothing.
type Model interface {
	Predict(hand *detector.Hand) (label string, ok bool)
}

// GeometryModel labels hands with the landmark geometry classifier.
type GeometryModel struct{}

// Predict implements Model.
func (GeometryModel) Predict(hand *detector.Hand) (string, bool) {
	g := gesture.Classify(hand)
	if g == gesture.None {
		return "", false
	}
	return g.String(), true
}

// Features flattens a hand into 63 values (x, y, z per landmark) shifted so
// the minimum of each axis is zero. Learned models take this as input.
func Features(hand *detector.Hand) []float64 {
	minX, minY, minZ := hand.Points[0].X, hand.Points[0].Y, hand.Points[0].Z
	for _, p := range hand.Points[1:] {
		minX = min(minX, p.X)
		minY = min(minY, p.Y)
		minZ = min(minZ, p.Z)
	}

	out := make([]float64, 0, detector.NumLandmarks*3)
	for _, p := range hand.Points {
		out = append(out, p.X-minX, p.Y-minY, p.Z-minZ)
	}
	return out
}

// Handler serves the prediction websocket.
type Handler struct {
	model    Model
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler backed by model. A nil model uses GeometryModel.
func NewHandler(model Model, log zerolog.Logger) *Handler {
	if model == nil {
		model = GeometryModel{}
	}
	return &Handler{
		model: model,
		log:   log.With().Str("component", "predictor").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Any origin, like the browser client expects
			},
		},
	}
}

// ServeHTTP upgrades the connection and answers frames until the client
// goes away. Frames that are not JSON are logged and skipped; frames without
// exactly 21 points are skipped silently.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.log.Info().Str("remote", r.RemoteAddr).Msg("connection established")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Msg("connection ended")
			}
			return
		}

		var points []detector.Point3D
		if err := json.Unmarshal(data, &points); err != nil {
			h.log.Error().Err(err).Msg("invalid json received")
			continue
		}
		hand, err := detector.NewHand(points)
		if err != nil {
			continue
		}

		label, ok := h.model.Predict(&hand)
		if !ok {
			label = transport.NoPrediction
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(label)); err != nil {
			h.log.Debug().Err(err).Msg("write prediction")
			return
		}
	}
}
