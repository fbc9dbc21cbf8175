// Package config loads broker configuration with the precedence
// defaults < config file < environment < flags. The file format is
// JSONC (JSON with comments and trailing commas); environment names
// match the ones the operations side already deploys with.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tailscale/hujson"
)

// ErrInvalidConfig indicates a configuration value failed validation.
var ErrInvalidConfig = errors.New("config: invalid")

// Config is the full broker configuration. All durations are held as
// typed values; the file and env layers parse into them.
type Config struct {
	// RegionName is the shared memory object name.
	RegionName string `json:"shm_name"`

	// SlotCount and SlotSize fix the region geometry.
	SlotCount int `json:"slot_count"`
	SlotSize  int `json:"slot_size"`

	// RegionDir overrides the backing directory (tests mostly).
	RegionDir string `json:"shm_dir"`

	// PollInterval is the detector idle sleep.
	PollInterval time.Duration `json:"-"`

	// LockTimeout bounds region mutex acquisition.
	LockTimeout time.Duration `json:"-"`

	// RequestTimeout is the soft inactivity window for heartbeat logs.
	RequestTimeout time.Duration `json:"-"`

	Workers int `json:"worker_threads"`
	Writers int `json:"response_writer_threads"`

	// ModelContextSize is the model context window in tokens.
	ModelContextSize int `json:"model_context_size"`

	// EngineCommand is the external inference command line; empty means
	// the broker runs with the built-in mock (dry-run mode).
	EngineCommand []string `json:"engine_command"`

	LogLevel string `json:"log_level"`
	LogJSON  bool   `json:"log_json"`

	// RuntimeFile is where the broker publishes its live geometry.
	RuntimeFile string `json:"runtime_file"`

	// File-layer seconds fields; folded into the Duration fields after
	// decoding.
	PollIntervalSec   float64 `json:"polling_interval"`
	LockTimeoutSec    float64 `json:"lock_timeout"`
	RequestTimeoutSec float64 `json:"request_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		RegionName:       "gemma_ipc_shm",
		SlotCount:        5,
		SlotSize:         8192,
		PollInterval:     500 * time.Millisecond,
		LockTimeout:      2 * time.Second,
		RequestTimeout:   300 * time.Second,
		Workers:          1,
		Writers:          1,
		ModelContextSize: 2048,
		LogLevel:         "info",
		RuntimeFile:      "/run/gemmad/runtime.json",
	}
}

// Load builds the effective configuration: defaults, then the optional
// config file at path, then environment overrides via lookup (pass
// os.LookupEnv). Flag overrides are applied by the caller afterwards,
// then Validate.
func Load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	// Standardize strips comments and trailing commas so the stdlib
	// decoder can take it from there.
	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := json.Unmarshal(standardized, cfg); err != nil {
		return fmt.Errorf("decoding config file %s: %w", path, err)
	}

	if cfg.PollIntervalSec > 0 {
		cfg.PollInterval = secondsToDuration(cfg.PollIntervalSec)
	}

	if cfg.LockTimeoutSec > 0 {
		cfg.LockTimeout = secondsToDuration(cfg.LockTimeoutSec)
	}

	if cfg.RequestTimeoutSec > 0 {
		cfg.RequestTimeout = secondsToDuration(cfg.RequestTimeoutSec)
	}

	return nil
}

// Environment variable names, matching the deployed convention.
const (
	envRegionName     = "IPC_SHM_NAME"
	envSlotCount      = "IPC_SLOT_COUNT"
	envSlotSize       = "IPC_SLOT_SIZE"
	envPollInterval   = "IPC_POLLING_INTERVAL"
	envLockTimeout    = "IPC_LOCK_TIMEOUT"
	envRequestTimeout = "IPC_REQUEST_TIMEOUT"
	envWorkers        = "IPC_WORKER_THREADS"
	envWriters        = "IPC_RESPONSE_WRITER_THREADS"
	envContextSize    = "MODEL_CONTEXT_SIZE"
)

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(envRegionName); ok {
		cfg.RegionName = v
	}

	for _, f := range []struct {
		name string
		dst  *int
	}{
		{envSlotCount, &cfg.SlotCount},
		{envSlotSize, &cfg.SlotSize},
		{envWorkers, &cfg.Workers},
		{envWriters, &cfg.Writers},
		{envContextSize, &cfg.ModelContextSize},
	} {
		v, ok := lookup(f.name)
		if !ok {
			continue
		}

		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q is not an integer: %w", f.name, v, ErrInvalidConfig)
		}

		*f.dst = n
	}

	for _, f := range []struct {
		name string
		dst  *time.Duration
	}{
		{envPollInterval, &cfg.PollInterval},
		{envLockTimeout, &cfg.LockTimeout},
		{envRequestTimeout, &cfg.RequestTimeout},
	} {
		v, ok := lookup(f.name)
		if !ok {
			continue
		}

		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s=%q is not a number of seconds: %w", f.name, v, ErrInvalidConfig)
		}

		*f.dst = secondsToDuration(secs)
	}

	return nil
}

// Validate rejects configurations the broker cannot run with.
func (c Config) Validate() error {
	if c.RegionName == "" {
		return fmt.Errorf("shm_name must not be empty: %w", ErrInvalidConfig)
	}

	if c.SlotCount <= 0 {
		return fmt.Errorf("slot_count %d must be > 0: %w", c.SlotCount, ErrInvalidConfig)
	}

	if c.SlotSize <= 48 {
		return fmt.Errorf("slot_size %d must exceed the 48-byte slot header: %w", c.SlotSize, ErrInvalidConfig)
	}

	if c.Workers <= 0 || c.Writers <= 0 {
		return fmt.Errorf("worker_threads and response_writer_threads must be > 0: %w", ErrInvalidConfig)
	}

	if c.ModelContextSize <= 0 {
		return fmt.Errorf("model_context_size %d must be > 0: %w", c.ModelContextSize, ErrInvalidConfig)
	}

	if c.PollInterval <= 0 || c.LockTimeout <= 0 {
		return fmt.Errorf("polling_interval and lock_timeout must be > 0: %w", ErrInvalidConfig)
	}

	return nil
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
