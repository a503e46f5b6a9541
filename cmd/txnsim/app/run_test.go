package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/txnsim/src/cfg"
	"github.com/Blackdeer1524/txnsim/src/pkg/common"
	"github.com/Blackdeer1524/txnsim/src/pkg/optional"
	"github.com/Blackdeer1524/txnsim/src/recovery"
)

func baseConfig() cfg.Config {
	return cfg.Config{
		Environment:   cfg.EnvDev,
		DataDir:       "data",
		DataFile:      "db.bin",
		LogFile:       "log.jsonl",
		Items:         32,
		Cycles:        100,
		TxnSize:       5,
		StartProb:     0.5,
		WriteProb:     0.5,
		RollbackProb:  0.01,
		Timeout:       10,
		LogBufferSize: 25,
		VictimPolicy:  "fewest-locks",
		Workers:       4,
	}
}

func TestApplyRunArgs(t *testing.T) {
	c := baseConfig()
	require.NoError(t, applyRunArgs(&c, []string{"20", "3", "0.9", "0.1", "0.2", "0"}))

	assert.Equal(t, 20, c.Cycles)
	assert.Equal(t, 3, c.TxnSize)
	assert.InDelta(t, 0.9, c.StartProb, 1e-9)
	assert.InDelta(t, 0.1, c.WriteProb, 1e-9)
	assert.InDelta(t, 0.2, c.RollbackProb, 1e-9)
	assert.Equal(t, int64(0), c.Timeout)
	assert.Equal(t, optional.Some[common.Tick](0), c.Engine().Timeout)
}

func TestApplyRunArgsNegativeTimeoutDisables(t *testing.T) {
	c := baseConfig()
	require.NoError(t, applyRunArgs(&c, []string{"10", "2", "0.5", "0.5", "0.5", "-1"}))

	assert.Equal(t, int64(-1), c.Timeout)
	assert.True(t, c.Engine().Timeout.IsNone())
}

func TestApplyRunArgsPartial(t *testing.T) {
	c := baseConfig()
	require.NoError(t, applyRunArgs(&c, []string{"7"}))

	assert.Equal(t, 7, c.Cycles)
	assert.Equal(t, 5, c.TxnSize)
}

func TestApplyRunArgsRejects(t *testing.T) {
	cases := map[string][]string{
		"not a number":     {"many"},
		"bad probability":  {"10", "2", "1.5"},
		"fractional ticks": {"10", "2", "0.5", "0.5", "0.5", "1.5"},
	}

	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			c := baseConfig()
			assert.Error(t, applyRunArgs(&c, args))
		})
	}
}

func TestPrintRecords(t *testing.T) {
	var b strings.Builder
	require.NoError(t, printRecords(&b, []recovery.LogRecord{
		recovery.NewStartLogRecord(1, 1),
		recovery.NewCommitLogRecord(2, 1),
	}))

	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	assert.Len(t, lines, 2)
}
