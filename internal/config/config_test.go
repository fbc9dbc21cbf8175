package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]

		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gemmad.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func Test_Load_Defaults_When_No_File_And_No_Env(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", noEnv)
	require.NoError(t, err)

	assert.Equal(t, "gemma_ipc_shm", cfg.RegionName)
	assert.Equal(t, 5, cfg.SlotCount)
	assert.Equal(t, 8192, cfg.SlotSize)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, 300*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 1, cfg.Writers)
	assert.Equal(t, 2048, cfg.ModelContextSize)
	require.NoError(t, cfg.Validate())
}

func Test_Load_File_With_Comments_And_Trailing_Commas(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		// region geometry
		"shm_name": "summarizer_shm",
		"slot_count": 8,
		"slot_size": 16384,
		"worker_threads": 2,
		"polling_interval": 0.25,
		"request_timeout": 60, // seconds
	}`)

	cfg, err := Load(path, noEnv)
	require.NoError(t, err)

	assert.Equal(t, "summarizer_shm", cfg.RegionName)
	assert.Equal(t, 8, cfg.SlotCount)
	assert.Equal(t, 16384, cfg.SlotSize)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)

	// Untouched fields keep their defaults.
	assert.Equal(t, 1, cfg.Writers)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
}

func Test_Load_Env_Overrides_File(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"slot_count": 8, "polling_interval": 1.0}`)

	cfg, err := Load(path, envMap(map[string]string{
		"IPC_SLOT_COUNT":       "3",
		"IPC_POLLING_INTERVAL": "0.1",
		"IPC_SHM_NAME":         "env_shm",
		"MODEL_CONTEXT_SIZE":   "8192",
	}))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.SlotCount)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "env_shm", cfg.RegionName)
	assert.Equal(t, 8192, cfg.ModelContextSize)
}

func Test_Load_Missing_File_Fails(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.jsonc"), noEnv)

	assert.Error(t, err)
}

func Test_Load_Malformed_File_Fails(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"slot_count": }`)

	_, err := Load(path, noEnv)

	assert.Error(t, err)
}

func Test_Load_Non_Numeric_Env_Fails(t *testing.T) {
	t.Parallel()

	_, err := Load("", envMap(map[string]string{"IPC_SLOT_COUNT": "five"}))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = Load("", envMap(map[string]string{"IPC_LOCK_TIMEOUT": "soon"}))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func Test_Validate_Rejects_Bad_Geometry(t *testing.T) {
	t.Parallel()

	cases := []func(*Config){
		func(c *Config) { c.RegionName = "" },
		func(c *Config) { c.SlotCount = 0 },
		func(c *Config) { c.SlotSize = 48 },
		func(c *Config) { c.Workers = 0 },
		func(c *Config) { c.Writers = -1 },
		func(c *Config) { c.ModelContextSize = 0 },
		func(c *Config) { c.PollInterval = 0 },
		func(c *Config) { c.LockTimeout = -time.Second },
	}

	for i, mutate := range cases {
		cfg := Default()
		mutate(&cfg)

		err := cfg.Validate()
		require.Error(t, err, "case %d", i)
		assert.True(t, errors.Is(err, ErrInvalidConfig), "case %d", i)
	}
}

func Test_Engine_Command_From_File(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"engine_command": ["/usr/local/bin/llama-complete", "--model", "gemma.gguf"]}`)

	cfg, err := Load(path, noEnv)
	require.NoError(t, err)

	assert.Equal(t, []string{"/usr/local/bin/llama-complete", "--model", "gemma.gguf"}, cfg.EngineCommand)
}
