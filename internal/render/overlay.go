// Package render draws detected hands over the live camera frame.
package render

import (
	"errors"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/ayusman/signcaption/internal/detector"
	"gocv.io/x/gocv"
)

// ErrNoFrame is returned by JPEG before the first frame has been drawn.
var ErrNoFrame = errors.New("overlay has no frame")

// Connections lists the landmark pairs joined by skeleton lines.
var Connections = [][2]int{
	{detector.Wrist, detector.ThumbCMC},
	{detector.ThumbCMC, detector.ThumbMCP},
	{detector.ThumbMCP, detector.ThumbIP},
	{detector.ThumbIP, detector.ThumbTip},
	{detector.Wrist, detector.IndexMCP},
	{detector.IndexMCP, detector.IndexPIP},
	{detector.IndexPIP, detector.IndexDIP},
	{detector.IndexDIP, detector.IndexTip},
	{detector.IndexMCP, detector.MiddleMCP},
	{detector.MiddleMCP, detector.MiddlePIP},
	{detector.MiddlePIP, detector.MiddleDIP},
	{detector.MiddleDIP, detector.MiddleTip},
	{detector.MiddleMCP, detector.RingMCP},
	{detector.RingMCP, detector.RingPIP},
	{detector.RingPIP, detector.RingDIP},
	{detector.RingDIP, detector.RingTip},
	{detector.RingMCP, detector.PinkyMCP},
	{detector.Wrist, detector.PinkyMCP},
	{detector.PinkyMCP, detector.PinkyPIP},
	{detector.PinkyPIP, detector.PinkyDIP},
	{detector.PinkyDIP, detector.PinkyTip},
}

var (
	connectorColor = color.RGBA{G: 255, A: 255}
	landmarkColor  = color.RGBA{R: 255, A: 255}
)

const (
	connectorThickness = 4
	landmarkRadius     = 3
)

// Overlay is the rendering surface. Clear starts a frame in the back
// buffer, DrawHand paints a hand skeleton on it and Present swaps it to the
// front, where JPEG reads it. Readers therefore only see finished frames. It
// is safe for concurrent use: the scheduler draws while HTTP clients encode.
type Overlay struct {
	mu      sync.Mutex
	front   gocv.Mat
	back    gocv.Mat
	drawing bool
	ready   bool
	seq     uint64
}

// NewOverlay creates an empty overlay. Call Close to free the buffers.
func NewOverlay() *Overlay {
	return &Overlay{front: gocv.NewMat(), back: gocv.NewMat()}
}

// Clear copies frame into the back buffer, discarding previous drawings.
func (o *Overlay) Clear(frame *gocv.Mat) {
	if frame == nil || frame.Empty() {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	frame.CopyTo(&o.back)
	o.drawing = true
}

// DrawHand draws the connectors and landmarks of hand into the back buffer.
func (o *Overlay) DrawHand(hand *detector.Hand) {
	if hand == nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.drawing {
		return
	}

	w, h := o.back.Cols(), o.back.Rows()
	for _, c := range Connections {
		a, okA := toPixel(hand.Points[c[0]], w, h)
		b, okB := toPixel(hand.Points[c[1]], w, h)
		if !okA || !okB {
			continue
		}
		gocv.Line(&o.back, a, b, connectorColor, connectorThickness)
	}
	for _, p := range hand.Points {
		pt, ok := toPixel(p, w, h)
		if !ok {
			continue
		}
		gocv.Circle(&o.back, pt, landmarkRadius, landmarkColor, -1)
	}
}

// Present publishes the frame started by the last Clear.
func (o *Overlay) Present() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.drawing {
		return
	}
	o.front, o.back = o.back, o.front
	o.drawing = false
	o.ready = true
	o.seq++
}

// JPEG encodes the last presented frame. The returned sequence number
// changes whenever a new frame is presented.
func (o *Overlay) JPEG() ([]byte, uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.ready {
		return nil, 0, ErrNoFrame
	}

	buf, err := gocv.IMEncode(".jpg", o.front)
	if err != nil {
		return nil, 0, err
	}
	defer buf.Close()

	// The native buffer is freed on Close.
	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return data, o.seq, nil
}

// Close frees both buffers.
func (o *Overlay) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ready = false
	o.drawing = false
	return errors.Join(o.front.Close(), o.back.Close())
}

// toPixel maps a normalized landmark to canvas coordinates.
func toPixel(p detector.Point3D, w, h int) (image.Point, bool) {
	if !p.IsFinite() {
		return image.Point{}, false
	}
	return image.Point{
		X: int(math.Round(p.X * float64(w))),
		Y: int(math.Round(p.Y * float64(h))),
	}, true
}
