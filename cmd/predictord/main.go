// Command predictord is a reference predictor: it accepts landmark frames
// on /ws/predict and answers each with a caption token or "?". Labels come
// from the landmark geometry rules, or from the nearest pose in a YAML
// template set given with -templates.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayusman/signcaption/internal/config"
	"github.com/ayusman/signcaption/internal/logging"
	"github.com/ayusman/signcaption/internal/predictor"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", ":8000", "listen address")
	level := flag.String("log-level", "info", "log level: debug, info, warn, error")
	jsonLogs := flag.Bool("json", false, "write JSON logs")
	templates := flag.String("templates", "", "YAML template set; empty uses the landmark geometry rules")
	flag.Parse()

	logCfg := config.LogConfig{Level: config.LogLevel(*level), Format: config.FormatConsole}
	if !logCfg.Level.IsValid() {
		fmt.Fprintf(os.Stderr, "predictord: invalid log level %q\n", *level)
		return 1
	}
	if *jsonLogs {
		logCfg.Format = config.FormatJSON
	}
	log := logging.New(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var model predictor.Model = predictor.GeometryModel{}
	if *templates != "" {
		tm, err := predictor.LoadTemplateFile(*templates)
		if err != nil {
			log.Error().Err(err).Msg("load templates")
			return 1
		}
		model = tm
		log.Info().Str("templates", *templates).Msg("using template model")
	}

	mux := http.NewServeMux()
	mux.Handle(predictor.Path, predictor.NewHandler(model, log))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", *addr).Str("path", predictor.Path).Msg("predictor listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("predictor stopped")
		return 1
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("shutdown")
		return 1
	}
	return 0
}
