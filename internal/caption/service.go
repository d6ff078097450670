package caption

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ayusman/signcaption/internal/observe"
	"github.com/rs/zerolog"
)

const inboxSize = 64

// ErrStopped is returned by Snapshot once Run has returned.
var ErrStopped = errors.New("caption service stopped")

// Snapshot is a point-in-time view of the caption.
type Snapshot struct {
	Text      string    `json:"text"`
	Words     []string  `json:"words"`
	Typing    bool      `json:"typing"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Config configures a Service.
type Config struct {
	MaxWords     int
	TypingWindow time.Duration
	// Clock overrides time.Now for the buffer.
	Clock func() time.Time
	// OnAccept is called from the service goroutine for every appended token.
	OnAccept func(token string)
	Metrics  *observe.Metrics
	Logger   zerolog.Logger
}

type command struct {
	kind  commandKind
	token string
	reply chan Snapshot
}

type commandKind int

const (
	cmdAppend commandKind = iota
	cmdClear
	cmdSnapshot
)

// Service is the only writer of the caption. Producers enqueue commands;
// Run applies them in order and publishes snapshots to subscribers.
type Service struct {
	config Config
	buf    *Buffer
	log    zerolog.Logger
	inbox  chan command
	done   chan struct{}

	subMu  sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
}

// NewService creates a service. Call Run to start processing.
func NewService(config Config) *Service {
	window := config.TypingWindow
	if window <= 0 {
		window = DefaultTypingWindow
	}
	config.TypingWindow = window
	return &Service{
		config: config,
		buf:    NewBuffer(config.MaxWords, window, config.Clock),
		log:    config.Logger.With().Str("component", "caption").Logger(),
		inbox:  make(chan command, inboxSize),
		done:   make(chan struct{}),
		subs:   make(map[int]chan Snapshot),
	}
}

// Run processes commands until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	defer close(s.done)

	typing := time.NewTimer(time.Hour)
	typing.Stop()
	defer typing.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-typing.C:
			s.publish()

		case cmd := <-s.inbox:
			switch cmd.kind {
			case cmdAppend:
				if !s.buf.Append(cmd.token) {
					continue
				}
				s.log.Debug().Str("token", cmd.token).Str("caption", s.buf.Text()).Msg("token appended")
				s.config.Metrics.RecordCaptionAppend(ctx)
				if s.config.OnAccept != nil {
					s.config.OnAccept(cmd.token)
				}
				typing.Stop()
				typing.Reset(s.config.TypingWindow)
				s.publish()

			case cmdClear:
				s.buf.Clear()
				typing.Stop()
				s.publish()

			case cmdSnapshot:
				cmd.reply <- s.snapshot()
			}
		}
	}
}

// Append enqueues a token. It is dropped once the service has stopped.
func (s *Service) Append(token string) {
	s.enqueue(command{kind: cmdAppend, token: token})
}

// Clear enqueues a reset of the caption.
func (s *Service) Clear() {
	s.enqueue(command{kind: cmdClear})
}

// Snapshot returns the current caption after all previously enqueued
// commands have been applied.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case s.inbox <- command{kind: cmdSnapshot, reply: reply}:
	case <-s.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-s.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Subscribe returns a channel that receives a snapshot after every change,
// including the typing indicator turning off. Slow readers only see the
// latest snapshot. Call cancel to unsubscribe.
func (s *Service) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Service) enqueue(cmd command) {
	select {
	case s.inbox <- cmd:
	case <-s.done:
	}
}

func (s *Service) snapshot() Snapshot {
	return Snapshot{
		Text:      s.buf.Text(),
		Words:     s.buf.Words(),
		Typing:    s.buf.IsRecentlyUpdated(),
		UpdatedAt: s.buf.LastUpdate(),
	}
}

func (s *Service) publish() {
	snap := s.snapshot()

	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Replace the stale snapshot.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
