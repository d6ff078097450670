// Package app wires the capture, detection, transport and caption stages
// into one pipeline and exposes the controls the HTTP server and tray use.
package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/signcaption/internal/caption"
	"github.com/ayusman/signcaption/internal/capture"
	"github.com/ayusman/signcaption/internal/detector"
	"github.com/ayusman/signcaption/internal/gesture"
	"github.com/ayusman/signcaption/internal/observe"
	"github.com/ayusman/signcaption/internal/render"
	"github.com/ayusman/signcaption/internal/scheduler"
	"github.com/ayusman/signcaption/internal/store"
	"github.com/ayusman/signcaption/internal/transport"
)

// DefaultConnectTimeout bounds a single predictor dial.
const DefaultConnectTimeout = 5 * time.Second

// Config holds the collaborators and settings of the pipeline.
type Config struct {
	Camera   capture.Camera
	Detector detector.Detector
	// Overlay is optional; when set every processed frame is drawn on it.
	Overlay *render.Overlay
	// Store is optional; when set each detection session and its accepted
	// tokens are recorded.
	Store   *store.Store
	Metrics *observe.Metrics
	Logger  zerolog.Logger

	Endpoint       string
	OutboxSize     int
	ConnectTimeout time.Duration
	Interval       time.Duration
	MaxWords       int
	TypingWindow   time.Duration
}

// Status is the externally visible pipeline state.
type Status struct {
	Active      bool   `json:"active"`
	Scheduler   string `json:"scheduler"`
	Connection  string `json:"connection"`
	Endpoint    string `json:"endpoint"`
	Session     string `json:"session,omitempty"`
	LastGesture string `json:"last_gesture,omitempty"`
}

// App orchestrates the frame scheduler, the transport client and the
// caption service.
type App struct {
	config    Config
	log       zerolog.Logger
	sched     *scheduler.Scheduler
	transport *transport.Client
	caption   *caption.Service

	// lastGesture holds a gesture.Gesture.
	lastGesture atomic.Int32

	mu        sync.Mutex
	sessionID string
	// sessionRef mirrors sessionID for the caption goroutine.
	sessionRef atomic.Pointer[string]
}

// New builds the pipeline. Nothing runs until Run is called.
func New(config Config) *App {
	if config.Endpoint == "" {
		config.Endpoint = transport.DefaultEndpoint
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}

	a := &App{
		config: config,
		log:    config.Logger.With().Str("component", "app").Logger(),
	}

	a.caption = caption.NewService(caption.Config{
		MaxWords:     config.MaxWords,
		TypingWindow: config.TypingWindow,
		OnAccept:     a.recordToken,
		Metrics:      config.Metrics,
		Logger:       config.Logger,
	})

	a.transport = transport.NewClient(
		transport.WithLogger(config.Logger),
		transport.WithMetrics(config.Metrics),
		transport.WithOutboxSize(config.OutboxSize),
		transport.WithOnStateChange(func(s transport.State) {
			a.log.Debug().Stringer("state", s).Msg("transport state changed")
		}),
	)

	var renderer scheduler.Renderer
	if config.Overlay != nil {
		renderer = config.Overlay
	}
	a.sched = scheduler.New(scheduler.Config{
		Camera:   config.Camera,
		Detector: config.Detector,
		Renderer: renderer,
		Sink:     a,
		Interval: config.Interval,
		Metrics:  config.Metrics,
		Logger:   config.Logger,
	})

	return a
}

// Run starts the caption service, connects to the predictor and pumps
// predictions into the caption until ctx is cancelled. Detection is
// switched off and the predictor connection closed before Run returns.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.caption.Run(gctx)
	})

	g.Go(func() error {
		return a.pumpPredictions(gctx)
	})

	g.Go(func() error {
		return a.drainSchedulerErrors(gctx)
	})

	g.Go(func() error {
		if err := a.Reconnect(gctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn().Err(err).Msg("predictor unavailable; use reconnect to retry")
		}
		return nil
	})

	err := g.Wait()

	if serr := a.SetActive(false); serr != nil {
		a.log.Warn().Err(serr).Msg("stop detection")
	}
	a.transport.Close()
	return err
}

// SetActive switches detection on or off. Turning it on acquires the
// camera, starts the frame loop and opens a history session; turning it
// off stops the loop, releases the camera and closes the session.
func (a *App) SetActive(active bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !active {
		err := a.sched.Release()
		a.endSessionLocked()
		return err
	}

	switch a.sched.State() {
	case scheduler.Running:
		a.beginSessionLocked()
		return nil
	case scheduler.Idle:
		// A run that failed on its own may have left its session open.
		a.endSessionLocked()
		if err := a.sched.Arm(); err != nil {
			return err
		}
	}
	if err := a.sched.Start(); err != nil {
		a.sched.Release()
		return err
	}
	a.beginSessionLocked()
	a.log.Info().Msg("detection started")
	return nil
}

// Active reports whether the frame loop is running.
func (a *App) Active() bool {
	return a.sched.State() == scheduler.Running
}

// Reconnect closes any predictor connection and dials the configured
// endpoint again.
func (a *App) Reconnect(ctx context.Context) error {
	a.transport.Close()
	ctx, cancel := context.WithTimeout(ctx, a.config.ConnectTimeout)
	defer cancel()
	return a.transport.Connect(ctx, a.config.Endpoint)
}

// Status returns the current pipeline state.
func (a *App) Status() Status {
	a.mu.Lock()
	session := a.sessionID
	a.mu.Unlock()

	st := a.sched.State()
	return Status{
		Active:      st == scheduler.Running,
		Scheduler:   st.String(),
		Connection:  a.transport.State().String(),
		Endpoint:    a.config.Endpoint,
		Session:     session,
		LastGesture: gesture.Gesture(a.lastGesture.Load()).String(),
	}
}

// Caption returns the caption service.
func (a *App) Caption() *caption.Service {
	return a.caption
}

// Transport returns the predictor client.
func (a *App) Transport() *transport.Client {
	return a.transport
}

// Overlay returns the overlay renderer, or nil.
func (a *App) Overlay() *render.Overlay {
	return a.config.Overlay
}

// Store returns the history store, or nil.
func (a *App) Store() *store.Store {
	return a.config.Store
}

// Close releases the detector and the overlay. Call it after Run returns.
func (a *App) Close() error {
	var errs []error
	if err := a.sched.Release(); err != nil {
		errs = append(errs, err)
	}
	if a.config.Detector != nil {
		if err := a.config.Detector.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.config.Overlay != nil {
		if err := a.config.Overlay.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) pumpPredictions(ctx context.Context) error {
	predictions := a.transport.Predictions()
	for {
		select {
		case <-ctx.Done():
			return nil
		case token := <-predictions:
			a.caption.Append(token)
		}
	}
}

// drainSchedulerErrors closes the history session when the frame loop
// aborts on its own, unless detection was switched on again meanwhile.
func (a *App) drainSchedulerErrors(ctx context.Context) error {
	errs := a.sched.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			a.log.Error().Err(err).Msg("detection stopped")
			a.mu.Lock()
			if a.sched.State() != scheduler.Running {
				a.endSessionLocked()
			}
			a.mu.Unlock()
		}
	}
}

func (a *App) beginSessionLocked() {
	if a.config.Store == nil || a.sessionID != "" {
		return
	}
	s, err := a.config.Store.Sessions().Create(a.config.Endpoint)
	if err != nil {
		a.log.Warn().Err(err).Msg("create history session")
		return
	}
	a.sessionID = s.ID
	a.sessionRef.Store(&s.ID)
	a.log.Debug().Str("session", s.ID).Msg("history session started")
}

func (a *App) endSessionLocked() {
	if a.sessionID == "" {
		return
	}
	id := a.sessionID
	a.sessionID = ""
	a.sessionRef.Store(nil)
	if err := a.config.Store.Sessions().End(id, time.Now()); err != nil {
		a.log.Warn().Err(err).Str("session", id).Msg("end history session")
	}
}

// recordToken runs on the caption goroutine for every accepted token.
func (a *App) recordToken(token string) {
	id := a.sessionRef.Load()
	if id == nil {
		return
	}
	if _, err := a.config.Store.Tokens().Add(*id, token); err != nil {
		a.log.Warn().Err(err).Str("session", *id).Msg("record token")
	}
}
