package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/signcaption/internal/detector"
	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// predictorStub is a websocket server that records received frames and
// answers each one with the next scripted reply.
type predictorStub struct {
	srv      *httptest.Server
	received chan []byte
	replies  []string

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newPredictorStub(t *testing.T, replies ...string) *predictorStub {
	t.Helper()
	p := &predictorStub{received: make(chan []byte, 16), replies: replies}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.mu.Lock()
		p.conns = append(p.conns, conn)
		p.mu.Unlock()

		for i := 0; ; i++ {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case p.received <- data:
			default:
			}
			if i < len(p.replies) {
				conn.WriteMessage(websocket.TextMessage, []byte(p.replies[i]))
			}
		}
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *predictorStub) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func (p *predictorStub) lastConn(t *testing.T) *websocket.Conn {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		n := len(p.conns)
		var c *websocket.Conn
		if n > 0 {
			c = p.conns[n-1]
		}
		p.mu.Unlock()
		if c != nil {
			return c
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no server connection")
	return nil
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", c.State(), want)
}

func TestState_String(t *testing.T) {
	tests := map[State]string{Closed: "closed", Connecting: "connecting", Open: "open", Failed: "failed"}
	for st, want := range tests {
		if got := st.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestClient_SendWhileClosed(t *testing.T) {
	c := NewClient()
	if c.State() != Closed {
		t.Fatalf("initial state = %v, want closed", c.State())
	}
	hand := detector.HelloLandmarks()
	if c.Send(&hand) {
		t.Error("Send() on a closed client should return false")
	}
}

func TestClient_ConnectFailure(t *testing.T) {
	var states []State
	c := NewClient(WithOnStateChange(func(s State) { states = append(states, s) }))

	err := c.Connect(context.Background(), "ws://127.0.0.1:1/ws/predict")
	if err == nil {
		t.Fatal("expected dial error")
	}
	if c.State() != Failed {
		t.Errorf("state = %v, want failed", c.State())
	}
	if len(states) != 2 || states[0] != Connecting || states[1] != Failed {
		t.Errorf("transitions = %v, want [connecting failed]", states)
	}

	hand := detector.YesLandmarks()
	if c.Send(&hand) {
		t.Error("Send() after failed connect should return false")
	}

	// Failed allows another attempt.
	if err := c.Connect(context.Background(), "ws://127.0.0.1:1/ws/predict"); errors.Is(err, ErrAlreadyConnected) {
		t.Error("Connect from failed should be allowed")
	}
}

func TestClient_SendAndReceive(t *testing.T) {
	stub := newPredictorStub(t, "?", "  Hello \n", "", "Yes")
	c := NewClient()
	defer c.Close()

	if err := c.Connect(context.Background(), stub.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.State() != Open {
		t.Fatalf("state = %v, want open", c.State())
	}
	if err := c.Connect(context.Background(), stub.url()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}

	hand := detector.HelloLandmarks()
	for i := 0; i < 4; i++ {
		if !c.Send(&hand) {
			t.Fatalf("Send() %d returned false", i)
		}
		select {
		case data := <-stub.received:
			got, err := DecodeHand(data)
			if err != nil {
				t.Fatalf("server could not decode frame: %v", err)
			}
			if got.Points != hand.Points {
				t.Error("server received different points")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("server did not receive frame %d", i)
		}
	}

	var tokens []string
	timeout := time.After(2 * time.Second)
	for len(tokens) < 2 {
		select {
		case tok := <-c.Predictions():
			tokens = append(tokens, tok)
		case <-timeout:
			t.Fatalf("timed out, got tokens %v", tokens)
		}
	}
	if tokens[0] != "Hello" || tokens[1] != "Yes" {
		t.Errorf("tokens = %v, want [Hello Yes]", tokens)
	}

	select {
	case tok := <-c.Predictions():
		t.Errorf("unexpected extra token %q", tok)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestClient_RemoteNormalClose(t *testing.T) {
	stub := newPredictorStub(t)
	c := NewClient()
	defer c.Close()

	if err := c.Connect(context.Background(), stub.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	conn := stub.lastConn(t)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))

	waitState(t, c, Closed)
}

func TestClient_RemoteAbort(t *testing.T) {
	stub := newPredictorStub(t)
	c := NewClient()
	defer c.Close()

	if err := c.Connect(context.Background(), stub.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	stub.lastConn(t).Close()

	waitState(t, c, Failed)
	hand := detector.NoLandmarks()
	if c.Send(&hand) {
		t.Error("Send() after failure should return false")
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	stub := newPredictorStub(t)

	var mu sync.Mutex
	var states []State
	c := NewClient(WithOnStateChange(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	}))

	if err := c.Connect(context.Background(), stub.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Senders racing Close must not panic.
	var wg sync.WaitGroup
	hand := detector.PeaceLandmarks()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Send(&hand)
			}
		}()
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	wg.Wait()

	if c.State() != Closed {
		t.Errorf("state = %v, want closed", c.State())
	}
	if c.Send(&hand) {
		t.Error("Send() after Close should return false")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{Connecting, Open, Closed}
	if len(states) != len(want) {
		t.Fatalf("transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, states[i], want[i])
		}
	}
}

func TestClient_Reconnect(t *testing.T) {
	stub := newPredictorStub(t, "Hello")
	c := NewClient()
	defer c.Close()

	if err := c.Connect(context.Background(), stub.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	c.Close()
	if err := c.Connect(context.Background(), stub.url()); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	if c.Endpoint() != stub.url() {
		t.Errorf("Endpoint() = %q, want %q", c.Endpoint(), stub.url())
	}
}

func TestOffer_DropsOldest(t *testing.T) {
	outbox := make(chan []byte, 2)

	if n := offer(outbox, []byte("a")); n != 0 {
		t.Errorf("first offer dropped %d", n)
	}
	offer(outbox, []byte("b"))
	if n := offer(outbox, []byte("c")); n != 1 {
		t.Errorf("offer to a full queue dropped %d, want 1", n)
	}

	first, second := string(<-outbox), string(<-outbox)
	if first != "b" || second != "c" {
		t.Errorf("queue = [%s %s], want [b c]", first, second)
	}
}
