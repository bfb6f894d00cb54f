package ensemble

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, 4, cfg.NumWorkers)
	require.Equal(t, 50*time.Millisecond, cfg.PollInterval)
	require.Equal(t, 5*time.Minute, cfg.WorkerTimeout)
	require.Equal(t, 10*time.Second, cfg.DispatchTimeout)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, 2, cfg.MaxRowRetries)
	require.NoError(t, cfg.Validate())
}

func TestSetDefaults(t *testing.T) {
	t.Run("FillsZeroValues", func(t *testing.T) {
		var cfg Config
		SetDefaults(&cfg)
		require.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("KeepsExplicitValues", func(t *testing.T) {
		cfg := Config{NumWorkers: 16, PollInterval: time.Second}
		SetDefaults(&cfg)
		require.Equal(t, 16, cfg.NumWorkers)
		require.Equal(t, time.Second, cfg.PollInterval)
		require.Equal(t, 5*time.Minute, cfg.WorkerTimeout)
	})

	t.Run("NegativeRetriesMeansNoRetries", func(t *testing.T) {
		cfg := Config{MaxRowRetries: -1}
		SetDefaults(&cfg)
		require.Equal(t, 0, cfg.MaxRowRetries)
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config { return DefaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"Valid", func(*Config) {}, ""},
		{"NoWorkers", func(c *Config) { c.NumWorkers = 0 }, "NumWorkers"},
		{"NegativePollInterval", func(c *Config) { c.PollInterval = -time.Second }, "PollInterval"},
		{"ZeroWorkerTimeout", func(c *Config) { c.WorkerTimeout = 0 }, "WorkerTimeout"},
		{"ZeroDispatchTimeout", func(c *Config) { c.DispatchTimeout = 0 }, "DispatchTimeout"},
		{"ZeroShutdownTimeout", func(c *Config) { c.ShutdownTimeout = 0 }, "ShutdownTimeout"},
		{"TimeoutBelowPollFloor", func(c *Config) { c.WorkerTimeout = c.PollInterval }, "10*PollInterval"},
		{"NegativeSimMax", func(c *Config) { c.Exit.SimMax = -1 }, "Exit.SimMax"},
		{"NegativeWallClock", func(c *Config) { c.Exit.WallClock = -time.Minute }, "Exit.WallClock"},
		{"NegativeEveryRows", func(c *Config) { c.Checkpoint.EveryRows = -1 }, "Checkpoint.EveryRows"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestTestConfig(t *testing.T) {
	cfg := TestConfig()
	require.NoError(t, cfg.Validate())
	require.Less(t, cfg.PollInterval, DefaultConfig().PollInterval)
}

func TestLoadConfig(t *testing.T) {
	writeFile := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		return path
	}

	t.Run("FullConfig", func(t *testing.T) {
		path := writeFile(t, `
numWorkers: 8
pollInterval: 20ms
workerTimeout: 1m
simIn: [x]
exit:
  simMax: 500
  wallClock: 2h
checkpoint:
  path: /tmp/ckpt
  everyRows: 100
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		require.Equal(t, 8, cfg.NumWorkers)
		require.Equal(t, 20*time.Millisecond, cfg.PollInterval)
		require.Equal(t, time.Minute, cfg.WorkerTimeout)
		require.Equal(t, []string{"x"}, cfg.SimIn)
		require.Equal(t, 500, cfg.Exit.SimMax)
		require.Equal(t, 2*time.Hour, cfg.Exit.WallClock)
		require.Equal(t, "/tmp/ckpt", cfg.Checkpoint.Path)
		require.Equal(t, 100, cfg.Checkpoint.EveryRows)
		// Unset fields got defaults.
		require.Equal(t, 10*time.Second, cfg.DispatchTimeout)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})

	t.Run("MalformedYAML", func(t *testing.T) {
		_, err := LoadConfig(writeFile(t, "numWorkers: [not a number"))
		require.Error(t, err)
	})

	t.Run("InvalidValues", func(t *testing.T) {
		_, err := LoadConfig(writeFile(t, "numWorkers: -2"))
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}
