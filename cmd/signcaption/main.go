// Command signcaption turns hand signs seen by a webcam into live captions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/signcaption/internal/app"
	"github.com/ayusman/signcaption/internal/capture"
	"github.com/ayusman/signcaption/internal/config"
	"github.com/ayusman/signcaption/internal/detector"
	"github.com/ayusman/signcaption/internal/logging"
	"github.com/ayusman/signcaption/internal/observe"
	"github.com/ayusman/signcaption/internal/render"
	"github.com/ayusman/signcaption/internal/server"
	"github.com/ayusman/signcaption/internal/store"
	"github.com/ayusman/signcaption/internal/tray"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults when empty)")
	listen := flag.String("listen", "", "override server.listen_addr")
	endpoint := flag.String("endpoint", "", "override transport.endpoint")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "signcaption: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}
	if *endpoint != "" {
		cfg.Transport.Endpoint = *endpoint
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "signcaption: %v\n", err)
		return 1
	}

	log := logging.New(cfg.Log)
	log.Info().
		Str("version", version).
		Str("config", *configPath).
		Str("listen_addr", cfg.Server.ListenAddr).
		Str("endpoint", cfg.Transport.Endpoint).
		Msg("signcaption starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observe.Metrics
	var provider *observe.Provider
	if cfg.Metrics.Enabled {
		provider, err = observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "signcaption", ServiceVersion: version})
		if err != nil {
			log.Error().Err(err).Msg("failed to initialise metrics")
			return 1
		}
		defer provider.Shutdown(context.Background())
		metrics = provider.Metrics
	}

	var st *store.Store
	if cfg.Store.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			log.Error().Err(err).Msg("failed to create data directory")
			return 1
		}
		st, err = store.New(cfg.Store.Path)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.Store.Path).Msg("failed to open caption history")
			return 1
		}
		defer st.Close()
	}

	a := app.New(app.Config{
		Camera: capture.NewCamera(capture.Config{
			DeviceID: cfg.Camera.Device,
			Width:    cfg.Camera.Width,
			Height:   cfg.Camera.Height,
			FPS:      cfg.Camera.FPS,
		}),
		Detector:       newDetector(cfg.Detector, log),
		Overlay:        render.NewOverlay(),
		Store:          st,
		Metrics:        metrics,
		Logger:         log,
		Endpoint:       cfg.Transport.Endpoint,
		OutboxSize:     cfg.Transport.OutboxSize,
		ConnectTimeout: cfg.Transport.ConnectTimeout,
		Interval:       cfg.Scheduler.Interval,
		MaxWords:       cfg.Caption.MaxWords,
		TypingWindow:   cfg.Caption.TypingWindow,
	})
	defer a.Close()

	srvCfg := server.Config{
		StaticDir: cfg.Server.StaticDir,
		Captions:  a.Caption(),
		Detection: a,
		Store:     st,
		Frames:    a.Overlay(),
		Logger:    log,
	}
	if srvCfg.StaticDir == "" {
		srvCfg.StaticDir = findWebDir()
	}
	if srvCfg.StaticDir != "" {
		log.Info().Str("dir", srvCfg.StaticDir).Msg("serving static files")
	}
	if provider != nil {
		srvCfg.Metrics = provider.Handler
	}
	srv := server.New(srvCfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Run(gctx)
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Server.ListenAddr)
	})

	if cfg.Scheduler.AutoStart {
		if err := a.SetActive(true); err != nil {
			log.Warn().Err(err).Msg("auto start failed")
		}
	}

	if cfg.Tray.Enabled {
		runTray(gctx, stop, a, viewerURL(cfg.Server.ListenAddr), log)
		stop()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("signcaption stopped with error")
		return 1
	}
	log.Info().Msg("signcaption stopped")
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	if home, err := os.UserHomeDir(); err == nil {
		cfg.Store.Path = filepath.Join(home, ".signcaption", "signcaption.db")
	}
	return cfg, nil
}

// newDetector prefers MediaPipe and falls back to a detector that never
// finds hands, so the rest of the pipeline stays usable.
func newDetector(cfg config.DetectorConfig, log zerolog.Logger) detector.Detector {
	if cfg.Mock {
		log.Info().Msg("hand detection disabled")
		return detector.NewNopDetector()
	}
	mp, err := detector.NewMediaPipeDetector(detector.Config{
		MaxHands:        cfg.MaxHands,
		MinConfidence:   cfg.MinDetectionConfidence,
		MinTrackingConf: cfg.MinTrackingConfidence,
		ScriptPath:      cfg.ScriptPath,
		PythonPath:      cfg.PythonPath,
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("MediaPipe not available, hand detection disabled")
		return detector.NewNopDetector()
	}
	log.Info().Msg("using MediaPipe hand detection")
	return mp
}

// runTray blocks until the tray quits or ctx ends.
func runTray(ctx context.Context, quit func(), a *app.App, viewer string, log zerolog.Logger) {
	t := tray.New()
	t.SetEnabled(a.Active())
	t.OnToggle(a.SetActive)
	t.OnClear(a.Caption().Clear)
	t.OnOpenViewer(func() {
		if err := openBrowser(viewer); err != nil {
			log.Warn().Err(err).Str("url", viewer).Msg("open viewer")
		}
	})
	t.OnQuit(quit)

	go func() {
		updates, cancel := a.Caption().Subscribe()
		defer cancel()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				t.Quit()
				return
			case snap := <-updates:
				t.SetCaption(snap.Text)
			case <-ticker.C:
				st := a.Status()
				t.SetConnection(st.Connection)
				t.SetEnabled(st.Active)
			}
		}
	}()

	t.Run()
}

func viewerURL(listenAddr string) string {
	host := listenAddr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host + "/"
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.signcaption/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".signcaption", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
