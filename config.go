package ensemble

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hpcoord/ensemble/types"
)

// CheckpointConfig controls ledger checkpointing.
//
// Checkpointing is off by default. Enable it by setting EveryRows together
// with either Path (file-backed store) or WithCheckpointStore (custom
// backend, e.g. NATS KV).
type CheckpointConfig struct {
	// Path is the directory for file-backed checkpoints. Ignored when a
	// store is injected through WithCheckpointStore.
	Path string `yaml:"path"`

	// EveryRows checkpoints the ledger after this many rows have returned
	// since the last checkpoint (0 = disabled). A final checkpoint is
	// always written at shutdown when a store is configured.
	EveryRows int `yaml:"everyRows"`
}

// Config is the configuration for the Manager.
//
// All duration fields accept standard Go duration strings like "30s", "5m"
// when loaded from YAML.
type Config struct {
	// NumWorkers is the number of worker endpoints participating in the
	// run. Workers use ids 1..NumWorkers; the manager is id 0.
	NumWorkers int `yaml:"numWorkers"`

	// PollInterval is the bounded wait the manager loop uses when draining
	// inbound messages. Shorter intervals react faster to exit criteria at
	// slightly higher idle cost.
	// Recommended: 20-100ms.
	PollInterval time.Duration `yaml:"pollInterval"`

	// WorkerTimeout declares a worker lost when it holds one-shot work and
	// has sent nothing for this long. This is the only peer-loss detection
	// on transports without connection state (NATS); on the others it is a
	// safety net behind transport-level events. Workers holding an open
	// persistent session are exempt since they are legitimately silent
	// while waiting for completed rows.
	// Recommended: well above the longest expected simulation.
	WorkerTimeout time.Duration `yaml:"workerTimeout"`

	// DispatchTimeout bounds each outbound send from the manager loop so a
	// wedged transport cannot stall allocation.
	// Recommended: 10 seconds.
	DispatchTimeout time.Duration `yaml:"dispatchTimeout"`

	// ShutdownTimeout is the maximum time to wait for worker stop
	// acknowledgements after broadcasting stop. Workers silent past the
	// deadline are declared lost.
	// Recommended: 10 seconds.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// MaxRowRetries is how many times a row released after a worker
	// failure may be reassigned before it is cancelled and reported.
	MaxRowRetries int `yaml:"maxRowRetries"`

	// SimIn restricts the payload fields shipped with simulation work
	// items. Empty means all fields.
	SimIn []string `yaml:"simIn"`

	// GenIn restricts the payload fields on completed rows streamed back
	// into persistent generator sessions. Empty means all fields.
	GenIn []string `yaml:"genIn"`

	// Exit holds the criteria that end the run cleanly.
	Exit types.ExitCriteria `yaml:"exit"`

	// Checkpoint controls periodic ledger checkpointing.
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		NumWorkers:      4,
		PollInterval:    50 * time.Millisecond,
		WorkerTimeout:   5 * time.Minute,
		DispatchTimeout: 10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxRowRetries:   2,
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.NumWorkers == 0 {
		cfg.NumWorkers = defaults.NumWorkers
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.WorkerTimeout == 0 {
		cfg.WorkerTimeout = defaults.WorkerTimeout
	}
	if cfg.DispatchTimeout == 0 {
		cfg.DispatchTimeout = defaults.DispatchTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.MaxRowRetries == 0 {
		cfg.MaxRowRetries = defaults.MaxRowRetries
	}
	// Note: MaxRowRetries of 0 cannot be expressed directly; use -1 for
	// "cancel on first failure".
	if cfg.MaxRowRetries < 0 {
		cfg.MaxRowRetries = 0
	}
}

// Validate checks configuration constraints and returns an error for
// invalid values.
//
// Hard validation rules:
//   - NumWorkers >= 1
//   - PollInterval > 0
//   - WorkerTimeout, DispatchTimeout, ShutdownTimeout > 0
//   - WorkerTimeout >= 10 * PollInterval (avoid false peer loss)
//   - Exit.SimMax >= 0 and Exit.WallClock >= 0
//   - Checkpoint.EveryRows >= 0
//
// Returns:
//   - error: Validation error with a clear explanation, nil if valid
func (cfg *Config) Validate() error {
	if cfg.NumWorkers < 1 {
		return fmt.Errorf("NumWorkers must be >= 1, got %d", cfg.NumWorkers)
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("PollInterval must be > 0, got %v", cfg.PollInterval)
	}
	if cfg.WorkerTimeout <= 0 {
		return fmt.Errorf("WorkerTimeout must be > 0, got %v", cfg.WorkerTimeout)
	}
	if cfg.DispatchTimeout <= 0 {
		return fmt.Errorf("DispatchTimeout must be > 0, got %v", cfg.DispatchTimeout)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("ShutdownTimeout must be > 0, got %v", cfg.ShutdownTimeout)
	}
	if cfg.WorkerTimeout < 10*cfg.PollInterval {
		return fmt.Errorf(
			"WorkerTimeout (%v) must be >= 10*PollInterval (%v) to avoid false peer loss",
			cfg.WorkerTimeout, cfg.PollInterval,
		)
	}
	if cfg.Exit.SimMax < 0 {
		return fmt.Errorf("Exit.SimMax must be >= 0, got %d", cfg.Exit.SimMax)
	}
	if cfg.Exit.WallClock < 0 {
		return fmt.Errorf("Exit.WallClock must be >= 0, got %v", cfg.Exit.WallClock)
	}
	if cfg.Checkpoint.EveryRows < 0 {
		return fmt.Errorf("Checkpoint.EveryRows must be >= 0, got %d", cfg.Checkpoint.EveryRows)
	}

	return nil
}

// TestConfig returns a configuration optimized for fast test execution.
//
// Test timings are 10-100x faster than production defaults to enable rapid
// iteration without sacrificing coverage. Use DefaultConfig() for
// production deployments.
//
// Returns:
//   - Config: Configuration with fast timings for tests
//
// Example:
//
//	cfg := ensemble.TestConfig()
//	cfg.NumWorkers = 2
//	mgr, err := ensemble.NewManager(&cfg, ep, schema, policy)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.PollInterval = 5 * time.Millisecond // 10x faster
	cfg.WorkerTimeout = 2 * time.Second     // 150x faster
	cfg.DispatchTimeout = 2 * time.Second   // 5x faster
	cfg.ShutdownTimeout = 2 * time.Second   // 5x faster

	return cfg
}

// LoadConfig reads a YAML configuration file, applies defaults and
// validates the result.
//
// Parameters:
//   - path: YAML file path
//
// Returns:
//   - Config: Parsed configuration ready for NewManager
//   - error: Read, parse or validation failure
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return cfg, nil
}
