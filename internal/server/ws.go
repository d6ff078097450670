package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ayusman/signcaption/internal/caption"
	"github.com/ayusman/signcaption/internal/server/api"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// CaptionSource is a caption service that can also be watched.
type CaptionSource interface {
	api.CaptionService
	Subscribe() (<-chan caption.Snapshot, func())
}

// CaptionFeedHandler pushes caption snapshots to websocket clients. Each
// client receives the current caption on connect and then every change.
type CaptionFeedHandler struct {
	captions CaptionSource
	log      zerolog.Logger
}

// NewCaptionFeedHandler creates a CaptionFeedHandler.
func NewCaptionFeedHandler(c CaptionSource, log zerolog.Logger) *CaptionFeedHandler {
	return &CaptionFeedHandler{captions: c, log: log}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *CaptionFeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := h.captions.Subscribe()
	defer cancel()

	// Client messages are ignored; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snap, err := h.captions.Snapshot(r.Context())
	if err != nil {
		return
	}
	if err := writeSnapshot(conn, snap); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case snap := <-updates:
			if err := writeSnapshot(conn, snap); err != nil {
				return
			}
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snap caption.Snapshot) error {
	if snap.Words == nil {
		snap.Words = []string{}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(snap)
}
