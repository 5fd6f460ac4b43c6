package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"snapwatch/internal/logging"
	"snapwatch/internal/snapshotter"

	"gopkg.in/yaml.v3"
)

var (
	ErrWatchPathRequired = errors.New("config: watch_path required")
	ErrDatasetRequired   = errors.New("config: dataset required")
	ErrNodeRequired      = errors.New("config: node required and hostname unavailable")
)

// Duration decodes YAML durations given in time.ParseDuration form,
// e.g. "10s" or "250ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("config: duration must be a string like \"10s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the daemon configuration.
type Config struct {
	// Node is the identity recorded in snapshot names. Defaults to the
	// hostname.
	Node string `yaml:"node"`
	// WatchPath is the directory tree to watch for changes.
	WatchPath string `yaml:"watch_path"`
	// Dataset is the ZFS filesystem backing WatchPath.
	Dataset string `yaml:"dataset"`
	// AttemptDeadline bounds each snapshot attempt.
	AttemptDeadline Duration `yaml:"attempt_deadline"`
	// MinAttemptInterval throttles attempt starts. "0s" disables it.
	MinAttemptInterval Duration `yaml:"min_attempt_interval"`
	// Debounce collapses watcher write storms before notification.
	Debounce Duration `yaml:"debounce"`
	// MaxWatches caps watched directories.
	MaxWatches int `yaml:"max_watches"`
	// Listen is the address of the observability HTTP server. Empty
	// disables the server.
	Listen string `yaml:"listen"`
	// LogLevel is one of debug, info, warning, error.
	LogLevel string `yaml:"log_level"`
}

func Default() Config {
	hostname, _ := os.Hostname()
	return Config{
		Node:               hostname,
		AttemptDeadline:    Duration(snapshotter.DefaultAttemptDeadline),
		MinAttemptInterval: Duration(snapshotter.DefaultMinAttemptInterval),
		Debounce:           Duration(100 * time.Millisecond),
		MaxWatches:         4096,
		LogLevel:           string(logging.LevelInfo),
	}
}

// Load reads the config file at path over the defaults. An empty path
// returns the defaults unchanged. The result is not validated; callers
// run Validate once flag overrides are applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(payload, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.WatchPath == "" {
		return ErrWatchPathRequired
	}
	if c.Dataset == "" {
		return ErrDatasetRequired
	}
	if c.Node == "" {
		return ErrNodeRequired
	}
	if c.AttemptDeadline <= 0 {
		return fmt.Errorf("config: attempt_deadline must be positive, got %s", c.AttemptDeadline.Std())
	}
	if c.MinAttemptInterval < 0 {
		return fmt.Errorf("config: min_attempt_interval must not be negative, got %s", c.MinAttemptInterval.Std())
	}
	if c.Debounce < 0 {
		return fmt.Errorf("config: debounce must not be negative, got %s", c.Debounce.Std())
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}
