// Package config defines the YAML configuration schema for signcaption.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the log encoder.
type LogFormat string

const (
	// FormatConsole writes human-readable lines.
	FormatConsole LogFormat = "console"
	// FormatJSON writes one JSON object per line.
	FormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == FormatConsole || f == FormatJSON
}

// Config is the root configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Camera    CameraConfig    `yaml:"camera"`
	Detector  DetectorConfig  `yaml:"detector"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Transport TransportConfig `yaml:"transport"`
	Caption   CaptionConfig   `yaml:"caption"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tray      TrayConfig      `yaml:"tray"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
	// NoColor disables ANSI colours in console output.
	NoColor bool `yaml:"no_color"`
}

// CameraConfig selects and sizes the capture device.
type CameraConfig struct {
	Device int `yaml:"device"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	FPS    int `yaml:"fps"`
}

// DetectorConfig configures the hand landmark detector.
type DetectorConfig struct {
	// Mock replaces the MediaPipe subprocess with a detector that never
	// finds hands. Useful without a Python environment.
	Mock                   bool    `yaml:"mock"`
	MaxHands               int     `yaml:"max_hands"`
	MinDetectionConfidence float64 `yaml:"min_detection_confidence"`
	MinTrackingConfidence  float64 `yaml:"min_tracking_confidence"`
	ScriptPath             string  `yaml:"script_path"`
	PythonPath             string  `yaml:"python_path"`
}

// SchedulerConfig controls the frame loop.
type SchedulerConfig struct {
	Interval time.Duration `yaml:"interval"`
	// AutoStart turns detection on at startup.
	AutoStart bool `yaml:"auto_start"`
}

// TransportConfig points the client at the remote predictor.
type TransportConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	OutboxSize     int           `yaml:"outbox_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// CaptionConfig sizes the caption window.
type CaptionConfig struct {
	MaxWords     int           `yaml:"max_words"`
	TypingWindow time.Duration `yaml:"typing_window"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	StaticDir  string `yaml:"static_dir"`
}

// StoreConfig configures caption history persistence.
type StoreConfig struct {
	// Path is the SQLite database file. Empty disables history.
	Path string `yaml:"path"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TrayConfig toggles the system tray.
type TrayConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  LogInfo,
			Format: FormatConsole,
		},
		Camera: CameraConfig{
			Device: 0,
			Width:  640,
			Height: 480,
			FPS:    30,
		},
		Detector: DetectorConfig{
			MaxHands:               2,
			MinDetectionConfidence: 0.5,
			MinTrackingConfidence:  0.5,
		},
		Scheduler: SchedulerConfig{
			Interval: time.Second / 60,
		},
		Transport: TransportConfig{
			Endpoint:       "ws://localhost:8000/ws/predict",
			OutboxSize:     2,
			ConnectTimeout: 5 * time.Second,
		},
		Caption: CaptionConfig{
			MaxWords:     20,
			TypingWindow: time.Second,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
