// Package scheduler drives per-frame landmark acquisition: it reads camera
// frames on a fixed tick, runs the hand detector, and fans detected hands
// out to a renderer and a sink.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/signcaption/internal/capture"
	"github.com/ayusman/signcaption/internal/detector"
	"github.com/ayusman/signcaption/internal/observe"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// DefaultInterval is the tick period, one display refresh at 60 Hz.
const DefaultInterval = time.Second / 60

var (
	// ErrCameraUnavailable is returned by Arm when the camera cannot be acquired.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrDetectorInitFailed is returned by Arm when no detector is configured.
	ErrDetectorInitFailed = errors.New("detector not initialized")
	// ErrNotArmed is returned by Start when the scheduler is idle.
	ErrNotArmed = errors.New("scheduler not armed")
	// ErrCameraReleased is reported when the camera goes away mid-run.
	ErrCameraReleased = errors.New("camera released")
)

// State is the scheduler lifecycle state.
type State int

const (
	// Idle: nothing acquired.
	Idle State = iota
	// Armed: camera open and detector ready, loop not running.
	Armed
	// Running: the tick loop is active.
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Renderer is the drawing surface updated every processed frame. Clear
// starts a frame, DrawHand paints on it and Present publishes it.
type Renderer interface {
	Clear(frame *gocv.Mat)
	DrawHand(hand *detector.Hand)
	Present()
}

// HandSink receives every detected hand, one call per hand.
type HandSink interface {
	HandleHand(hand *detector.Hand)
}

// HandSinkFunc adapts a function to HandSink.
type HandSinkFunc func(hand *detector.Hand)

// HandleHand calls f(hand).
func (f HandSinkFunc) HandleHand(hand *detector.Hand) { f(hand) }

// Config holds the scheduler collaborators and settings.
type Config struct {
	Camera   capture.Camera
	Detector detector.Detector
	Renderer Renderer
	Sink     HandSink
	Interval time.Duration
	Metrics  *observe.Metrics
	Logger   zerolog.Logger
}

// Scheduler runs the acquisition loop.
//
// Stop and Release wait for the loop goroutine to exit while holding mu; the
// loop itself never takes mu, so the wait cannot deadlock.
type Scheduler struct {
	config Config
	log    zerolog.Logger
	errs   chan error
	start  time.Time

	mu     sync.Mutex
	state  State
	runID  uint64
	cancel context.CancelFunc
	done   chan struct{}

	// failedRun is the id of the last run whose loop ended on its own. The
	// loop sets it before reporting; holders of mu settle that run with
	// reapLocked.
	failedRun atomic.Uint64

	// lastTS is owned by the loop goroutine; runs never overlap.
	lastTS int64
}

// New creates an idle scheduler.
func New(config Config) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Renderer == nil {
		config.Renderer = nopRenderer{}
	}
	if config.Sink == nil {
		config.Sink = HandSinkFunc(func(*detector.Hand) {})
	}
	return &Scheduler{
		config: config,
		log:    config.Logger.With().Str("component", "scheduler").Logger(),
		errs:   make(chan error, 8),
		start:  time.Now(),
		lastTS: -1,
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked()
	return s.state
}

// Errors reports asynchronous loop failures. Reports are dropped when the
// channel is full.
func (s *Scheduler) Errors() <-chan error {
	return s.errs
}

// Arm acquires the camera. It is a no-op unless the scheduler is idle. On
// failure the scheduler stays idle.
func (s *Scheduler) Arm() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapLocked()
	if s.state != Idle {
		return nil
	}
	if s.config.Detector == nil {
		return ErrDetectorInitFailed
	}
	if s.config.Camera == nil {
		return fmt.Errorf("%w: no camera configured", ErrCameraUnavailable)
	}
	if err := s.config.Camera.Open(); err != nil {
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	s.state = Armed
	s.log.Debug().Msg("armed")
	return nil
}

// Start launches the tick loop. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapLocked()
	switch s.state {
	case Idle:
		return ErrNotArmed
	case Running:
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.runID++
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = Running

	go s.loop(ctx, s.runID, s.done)

	s.log.Info().Dur("interval", s.config.Interval).Msg("detection started")
	return nil
}

// Stop halts the tick loop and returns once it has exited. The camera stays
// acquired.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// SetActive starts or stops the loop.
func (s *Scheduler) SetActive(active bool) error {
	if active {
		return s.Start()
	}
	s.Stop()
	return nil
}

// Release stops the loop if needed and closes the camera.
func (s *Scheduler) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reapLocked()
	s.stopLocked()
	if s.state == Idle {
		return nil
	}
	s.state = Idle
	s.log.Debug().Msg("released")
	return s.config.Camera.Close()
}

func (s *Scheduler) stopLocked() {
	s.reapLocked()
	if s.state != Running {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.state = Armed
	s.log.Info().Msg("detection stopped")
}

func (s *Scheduler) loop(ctx context.Context, id uint64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if ctx.Err() != nil {
			return
		}

		if err := s.tick(ctx); err != nil {
			s.log.Error().Err(err).Msg("detection halted")
			s.failedRun.Store(id)
			s.report(err)
			go s.abort(id)
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	frame, err := s.config.Camera.ReadFrame()
	if errors.Is(err, capture.ErrCameraNotOpen) {
		return ErrCameraReleased
	}
	if err != nil {
		if !errors.Is(err, capture.ErrNoFrame) {
			s.log.Debug().Err(err).Msg("frame read failed")
		}
		s.config.Metrics.RecordFrame(ctx, observe.FrameSkipped)
		return nil
	}
	defer frame.Close()

	ts := s.nextTimestamp()
	began := time.Now()
	result, err := s.config.Detector.Detect(frame, ts)
	if err != nil {
		s.config.Metrics.RecordFrame(ctx, observe.FrameError)
		return fmt.Errorf("detect frame: %w", err)
	}
	s.config.Metrics.RecordDetection(ctx, time.Since(began), len(result.Hands))

	if len(result.Hands) == 0 {
		s.config.Metrics.RecordFrame(ctx, observe.FrameEmpty)
	} else {
		s.config.Metrics.RecordFrame(ctx, observe.FrameDetected)
	}

	s.config.Renderer.Clear(frame)
	for i := range result.Hands {
		hand := &result.Hands[i]
		s.config.Renderer.DrawHand(hand)
		s.config.Sink.HandleHand(hand)
	}
	s.config.Renderer.Present()
	return nil
}

// nextTimestamp returns a strictly increasing millisecond timestamp on the
// monotonic clock.
func (s *Scheduler) nextTimestamp() int64 {
	ts := time.Since(s.start).Milliseconds()
	if ts <= s.lastTS {
		ts = s.lastTS + 1
	}
	s.lastTS = ts
	return ts
}

// abort settles a run that ended on its own when nobody has observed it
// yet, so the camera is not held until the next call.
func (s *Scheduler) abort(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runID == id {
		s.reapLocked()
	}
}

// reapLocked drops the current run to Idle and releases the camera if its
// loop ended on its own.
func (s *Scheduler) reapLocked() {
	if s.state != Running || s.failedRun.Load() != s.runID {
		return
	}
	<-s.done
	s.cancel()
	s.cancel = nil
	s.done = nil
	s.state = Idle
	if err := s.config.Camera.Close(); err != nil {
		s.log.Warn().Err(err).Msg("close camera")
	}
}

func (s *Scheduler) report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

type nopRenderer struct{}

func (nopRenderer) Clear(*gocv.Mat)         {}
func (nopRenderer) DrawHand(*detector.Hand) {}
func (nopRenderer) Present()                {}
