package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/txnsim/src/pkg/common"
	"github.com/Blackdeer1524/txnsim/src/pkg/optional"
)

// clearEnv makes sure the variables are unset for the test and restored
// afterwards, including the ones a .env file sets.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t, "TXNSIM_ITEMS", "TXNSIM_DATA_DIR", "TXNSIM_VICTIM_POLICY", "TXNSIM_ENVIRONMENT")

	c, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, EnvDev, c.Environment)
	assert.Equal(t, 32, c.Items)
	assert.Equal(t, 25, c.LogBufferSize)
	assert.Equal(t, "fewest-locks", c.VictimPolicy)
	assert.Equal(t, filepath.Join("data", "db.bin"), c.DataPath())
	assert.Equal(t, filepath.Join("data", "log.jsonl"), c.LogPath())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	clearEnv(t, "TXNSIM_ITEMS", "TXNSIM_VICTIM_POLICY", "TXNSIM_TIMEOUT", "TXNSIM_START_PROB")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"TXNSIM_ITEMS=8\nTXNSIM_VICTIM_POLICY=youngest\nTXNSIM_TIMEOUT=0\n",
	), 0o644))

	// the environment wins over the file
	t.Setenv("TXNSIM_START_PROB", "0.25")

	c, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8, c.Items)
	assert.Equal(t, "youngest", c.VictimPolicy)
	assert.Equal(t, int64(0), c.Timeout)
	assert.InDelta(t, 0.25, c.StartProb, 1e-9)

	ec := c.Engine()
	assert.Equal(t, optional.Some[common.Tick](0), ec.Timeout, "zero is a limit, not a switch")
	assert.Equal(t, "db.bin", ec.DataPath)
	assert.Equal(t, 8, ec.Items)
	assert.Equal(t, "youngest", ec.VictimPolicy)

	w := c.Workload()
	assert.Equal(t, c.Cycles, w.Cycles)
	assert.InDelta(t, 0.25, w.StartProb, 1e-9)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	clearEnv(t, "TXNSIM_WRITE_PROB")
	t.Setenv("TXNSIM_WRITE_PROB", "1.5")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func validConfig() Config {
	return Config{
		Environment:   EnvDev,
		DataDir:       "data",
		DataFile:      "db.bin",
		LogFile:       "log.jsonl",
		Items:         32,
		Cycles:        10,
		TxnSize:       3,
		StartProb:     0.5,
		WriteProb:     0.5,
		RollbackProb:  0.1,
		Timeout:       5,
		LogBufferSize: 25,
		VictimPolicy:  "random",
		Workers:       2,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := map[string]func(c *Config){
		"environment":   func(c *Config) { c.Environment = "staging" },
		"items":         func(c *Config) { c.Items = 0 },
		"txn size":      func(c *Config) { c.TxnSize = 0 },
		"negative prob": func(c *Config) { c.RollbackProb = -0.1 },
		"buffer":        func(c *Config) { c.LogBufferSize = 0 },
		"policy":        func(c *Config) { c.VictimPolicy = "oldest" },
		"same files":    func(c *Config) { c.LogFile = c.DataFile },
		"workers":       func(c *Config) { c.Workers = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestEngineTimeout(t *testing.T) {
	c := validConfig()
	assert.Equal(t, optional.Some[common.Tick](5), c.Engine().Timeout)

	c.Timeout = 0
	assert.Equal(t, optional.Some[common.Tick](0), c.Engine().Timeout)

	c.Timeout = -1
	require.NoError(t, c.Validate())
	assert.True(t, c.Engine().Timeout.IsNone())
}
