package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Blackdeer1524/txnsim/src/cfg"
)

func testConfig(t *testing.T) cfg.Config {
	t.Helper()
	return cfg.Config{
		Environment:   cfg.EnvDev,
		DataDir:       filepath.Join(t.TempDir(), "data"),
		DataFile:      "db.bin",
		LogFile:       "log.jsonl",
		Items:         8,
		Cycles:        60,
		TxnSize:       3,
		StartProb:     0.7,
		WriteProb:     0.6,
		RollbackProb:  0.05,
		Timeout:       4,
		LogBufferSize: 25,
		VictimPolicy:  "fewest-locks",
		Seed:          11,
		Workers:       2,
	}
}

func runSimulation(t *testing.T, c cfg.Config, recoverOnly bool) (Result, string) {
	t.Helper()

	var out bytes.Buffer
	e := &SimulationEntrypoint{
		Config:      c,
		RecoverOnly: recoverOnly,
		Out:         &out,
		Log:         zaptest.NewLogger(t).Sugar(),
	}
	require.NoError(t, Run(context.Background(), e))
	return e.Result(), out.String()
}

func TestSimulationRestartRecoversUnfinished(t *testing.T) {
	c := testConfig(t)

	first, out := runSimulation(t, c, false)
	require.True(t, first.Sim.IsSome())
	report := first.Sim.Unwrap()
	assert.Equal(t, c.Cycles, report.Cycles)
	assert.Contains(t, out, first.RunID.String())
	assert.Contains(t, out, "database:")
	assert.EqualValues(t, report.Committed, first.Metrics.Commits)
	assert.EqualValues(t, report.TotalAborted(), first.Metrics.TotalAborts())
	assert.Contains(t, out, "metrics: commits")

	assert.FileExists(t, filepath.Join(c.DataDir, "db.bin"))
	assert.FileExists(t, filepath.Join(c.DataDir, "log.jsonl"))

	second, out := runSimulation(t, c, true)
	assert.True(t, second.Sim.IsNone())
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, report.Unfinished, second.Recovery.Losers)
	assert.NotContains(t, out, "database:")

	// recovery empties the log, a second recovery finds nothing
	third, _ := runSimulation(t, c, true)
	assert.Zero(t, third.Recovery.Records)
	assert.Empty(t, third.Recovery.Losers)
}

func TestSimulationArchivesLog(t *testing.T) {
	c := testConfig(t)
	c.ArchiveLogs = true

	runSimulation(t, c, false)
	res, out := runSimulation(t, c, true)

	require.NotEmpty(t, res.Recovery.Archive)
	assert.Contains(t, out, "log archived to")
	assert.FileExists(t, filepath.Join(c.DataDir, res.Recovery.Archive))
}

func TestSimulationRefusesLockedDataDir(t *testing.T) {
	c := testConfig(t)

	l, err := lockDataDir(c.DataDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Unlock() })

	e := &SimulationEntrypoint{
		Config: c,
		Out:    &bytes.Buffer{},
		Log:    zaptest.NewLogger(t).Sugar(),
	}
	require.ErrorIs(t, Run(context.Background(), e), ErrDataDirBusy)

	_, err = os.Stat(filepath.Join(c.DataDir, "db.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolveSeed(t *testing.T) {
	assert.Equal(t, uint64(5), resolveSeed(5))
	assert.NotZero(t, resolveSeed(0))
}
