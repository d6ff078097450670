package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// Fields missing from the file keep their [Default] values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}
	if !cfg.Log.Format.IsValid() {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: console, json", cfg.Log.Format))
	}

	if cfg.Camera.Device < 0 {
		errs = append(errs, fmt.Errorf("camera.device must be >= 0, got %d", cfg.Camera.Device))
	}
	if cfg.Camera.Width <= 0 || cfg.Camera.Height <= 0 {
		errs = append(errs, fmt.Errorf("camera.width and camera.height must be positive, got %dx%d", cfg.Camera.Width, cfg.Camera.Height))
	}
	if cfg.Camera.FPS <= 0 {
		errs = append(errs, fmt.Errorf("camera.fps must be positive, got %d", cfg.Camera.FPS))
	}

	if cfg.Detector.MaxHands < 1 {
		errs = append(errs, fmt.Errorf("detector.max_hands must be >= 1, got %d", cfg.Detector.MaxHands))
	}
	if c := cfg.Detector.MinDetectionConfidence; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("detector.min_detection_confidence must be in [0, 1], got %v", c))
	}
	if c := cfg.Detector.MinTrackingConfidence; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("detector.min_tracking_confidence must be in [0, 1], got %v", c))
	}

	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.interval must be positive, got %s", cfg.Scheduler.Interval))
	}

	if u, err := url.Parse(cfg.Transport.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("transport.endpoint: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("transport.endpoint %q must use ws or wss", cfg.Transport.Endpoint))
	}
	if cfg.Transport.OutboxSize < 1 {
		errs = append(errs, fmt.Errorf("transport.outbox_size must be >= 1, got %d", cfg.Transport.OutboxSize))
	}
	if cfg.Transport.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("transport.connect_timeout must not be negative, got %s", cfg.Transport.ConnectTimeout))
	}

	if cfg.Caption.MaxWords < 1 {
		errs = append(errs, fmt.Errorf("caption.max_words must be >= 1, got %d", cfg.Caption.MaxWords))
	}
	if cfg.Caption.TypingWindow < 0 {
		errs = append(errs, fmt.Errorf("caption.typing_window must not be negative, got %s", cfg.Caption.TypingWindow))
	}

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}

	return errors.Join(errs...)
}
