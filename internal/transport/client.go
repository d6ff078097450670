// Package transport streams hand landmark frames to a remote predictor over
// a websocket and delivers the predicted caption tokens.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayusman/signcaption/internal/detector"
	"github.com/ayusman/signcaption/internal/observe"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultEndpoint is the predictor address used when none is configured.
const DefaultEndpoint = "ws://localhost:8000/ws/predict"

const (
	// DefaultOutboxSize holds one frame of two hands.
	DefaultOutboxSize = 2
	predictionBuffer  = 64
	closeGrace        = time.Second
)

var (
	// ErrAlreadyConnected is returned by Connect while connecting or open.
	ErrAlreadyConnected = errors.New("transport already connected")
	// ErrClosed is returned by Connect when Close interrupts the dial.
	ErrClosed = errors.New("transport closed")
)

// State is the connection state.
type State int

const (
	// Closed: no connection. Initial state and the result of Close or a
	// clean remote close.
	Closed State = iota
	// Connecting: dial in progress.
	Connecting
	// Open: frames can be sent.
	Open
	// Failed: the last dial or connection ended in error.
	Failed
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMetrics records frame and prediction counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithOutboxSize bounds the number of queued outbound frames.
func WithOutboxSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.outboxSize = n
		}
	}
}

// WithOnStateChange registers a callback invoked on every transition,
// outside the client lock.
func WithOnStateChange(fn func(State)) Option {
	return func(c *Client) { c.onState = fn }
}

// Client is a single predictor connection. It never reconnects on its own.
type Client struct {
	dialer      *websocket.Dialer
	log         zerolog.Logger
	metrics     *observe.Metrics
	onState     func(State)
	outboxSize  int
	predictions chan string

	mu         sync.Mutex
	state      State
	endpoint   string
	conn       *connection
	gen        uint64
	dialCancel context.CancelFunc
}

// NewClient creates a closed client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		dialer:      websocket.DefaultDialer,
		log:         zerolog.Nop(),
		outboxSize:  DefaultOutboxSize,
		predictions: make(chan string, predictionBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "transport").Logger()
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Endpoint returns the address of the last Connect call.
func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// Predictions delivers caption tokens. Placeholder and empty replies are
// never delivered. The channel is never closed; tokens are dropped when
// nobody keeps up.
func (c *Client) Predictions() <-chan string {
	return c.predictions
}

// Connect dials endpoint. It is allowed from Closed or Failed.
func (c *Client) Connect(ctx context.Context, endpoint string) error {
	c.mu.Lock()
	if c.state == Connecting || c.state == Open {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.gen++
	gen := c.gen
	dctx, cancel := context.WithCancel(ctx)
	c.dialCancel = cancel
	c.endpoint = endpoint
	c.state = Connecting
	c.mu.Unlock()
	c.notify(Connecting)

	ws, _, err := c.dialer.DialContext(dctx, endpoint, nil)
	cancel()

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		return ErrClosed
	}
	c.dialCancel = nil
	if err != nil {
		c.state = Failed
		c.mu.Unlock()
		c.notify(Failed)
		c.log.Warn().Err(err).Str("endpoint", endpoint).Msg("connect failed")
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}

	conn := &connection{
		ws:     ws,
		outbox: make(chan []byte, c.outboxSize),
		done:   make(chan struct{}),
	}
	c.conn = conn
	c.state = Open
	c.mu.Unlock()

	c.metrics.SetConnected(context.Background(), true)
	c.notify(Open)
	c.log.Info().Str("endpoint", endpoint).Msg("connected")

	go c.writeLoop(gen, conn)
	go c.readLoop(gen, conn)
	return nil
}

// Send queues one landmark frame. It never blocks: it returns false when
// the connection is not open, and when the queue is full the oldest queued
// frame is dropped.
func (c *Client) Send(hand *detector.Hand) bool {
	ctx := context.Background()

	c.mu.Lock()
	conn := c.conn
	open := c.state == Open
	c.mu.Unlock()

	if !open || conn == nil {
		c.metrics.RecordTransportFrame(ctx, observe.TransportDropped)
		return false
	}

	data, err := EncodeHand(hand)
	if err != nil {
		c.log.Debug().Err(err).Msg("encode failed")
		c.metrics.RecordTransportFrame(ctx, observe.TransportDropped)
		return false
	}

	for i := offer(conn.outbox, data); i > 0; i-- {
		c.metrics.RecordTransportFrame(ctx, observe.TransportDropped)
	}
	return true
}

// Close tears down the connection or aborts a dial in progress. It is
// idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	prev := c.state
	c.gen++
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = Closed
	c.mu.Unlock()

	if prev != Closed {
		c.notify(Closed)
	}
	if conn != nil {
		c.metrics.SetConnected(context.Background(), false)
		conn.shutdown(websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.log.Info().Msg("disconnected")
	}
	return nil
}

func (c *Client) writeLoop(gen uint64, conn *connection) {
	for {
		select {
		case <-conn.done:
			return
		case data := <-conn.outbox:
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(gen, conn, fmt.Errorf("write frame: %w", err))
				return
			}
			c.metrics.RecordTransportFrame(context.Background(), observe.TransportSent)
		}
	}
}

func (c *Client) readLoop(gen uint64, conn *connection) {
	ctx := context.Background()
	for {
		_, payload, err := conn.ws.ReadMessage()
		if err != nil {
			c.fail(gen, conn, err)
			return
		}

		token, ok := ParseToken(string(payload))
		if !ok {
			c.metrics.RecordPrediction(ctx, observe.PredictionFiltered)
			continue
		}
		c.metrics.RecordPrediction(ctx, observe.PredictionAccepted)

		select {
		case c.predictions <- token:
		default:
			c.log.Warn().Str("token", token).Msg("prediction dropped")
		}
	}
}

// fail ends a connection that broke on its own. A clean remote close
// leaves the client Closed, anything else Failed.
func (c *Client) fail(gen uint64, conn *connection, err error) {
	c.mu.Lock()
	if c.gen != gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	next := Failed
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		next = Closed
	}
	c.conn = nil
	c.state = next
	c.mu.Unlock()

	c.metrics.SetConnected(context.Background(), false)
	conn.shutdown(nil)
	c.notify(next)

	if next == Failed {
		c.log.Warn().Err(err).Msg("connection failed")
	} else {
		c.log.Info().Msg("predictor closed the connection")
	}
}

func (c *Client) notify(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}

// connection is one dialed socket with its writer queue. The outbox is never
// closed, so a late Send cannot panic.
type connection struct {
	ws        *websocket.Conn
	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// shutdown stops the writer and closes the socket, sending closeMsg first
// when given.
func (conn *connection) shutdown(closeMsg []byte) {
	conn.closeOnce.Do(func() {
		close(conn.done)
		if closeMsg != nil {
			_ = conn.ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(closeGrace))
		}
		_ = conn.ws.Close()
	})
}

// offer queues data, evicting the oldest entries until it fits. It returns
// the number of evicted entries.
func offer(outbox chan []byte, data []byte) int {
	dropped := 0
	for {
		select {
		case outbox <- data:
			return dropped
		default:
		}
		select {
		case <-outbox:
			dropped++
		default:
		}
	}
}
