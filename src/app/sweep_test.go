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

const sweepPlan = `
runs:
  - name: calm
    start_prob: 0.2
  - name: busy
    items: 2
    start_prob: 1
    timeout: 0
    victim_policy: youngest
  - name: fixed
    seed: 99
`

func TestSweepRunsEveryPlanEntry(t *testing.T) {
	c := testConfig(t)

	planPath := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(planPath, []byte(sweepPlan), 0o644))

	var out bytes.Buffer
	e := &SweepEntrypoint{
		Config:   c,
		PlanPath: planPath,
		Out:      &out,
		Log:      zaptest.NewLogger(t).Sugar(),
	}
	require.NoError(t, Run(context.Background(), e))

	results := e.Results()
	require.Len(t, results, 3)
	for i, name := range []string{"calm", "busy", "fixed"} {
		res := results[i]
		assert.Equal(t, name, res.Name)
		require.True(t, res.Sim.IsSome(), name)
		assert.Equal(t, c.Cycles, res.Sim.Unwrap().Cycles, name)
		assert.DirExists(t, filepath.Join(c.DataDir, name))
		assert.Contains(t, out.String(), name)
	}

	assert.Equal(t, c.Seed, results[0].Seed)
	assert.Equal(t, c.Seed+1, results[1].Seed)
	assert.Equal(t, uint64(99), results[2].Seed)
	assert.Len(t, results[1].Sim.Unwrap().Snapshot, 2)
}

func TestSweepRejectsBadPlan(t *testing.T) {
	planPath := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(planPath, []byte("runs:\n  - name: a\n    bogus: 1\n"), 0o644))

	e := &SweepEntrypoint{
		Config:   testConfig(t),
		PlanPath: planPath,
		Out:      &bytes.Buffer{},
		Log:      zaptest.NewLogger(t).Sugar(),
	}
	require.ErrorIs(t, Run(context.Background(), e), cfg.ErrInvalidPlan)
}
