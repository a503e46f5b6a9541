package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSimulateLogsSpans(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	res, err := simulate(context.Background(), "spans", testConfig(t), false, zap.New(core).Sugar())
	require.NoError(t, err)
	require.True(t, res.Sim.IsSome())

	var spans []string
	for _, entry := range logs.FilterMessage("span ended").All() {
		spans = append(spans, entry.ContextMap()["span"].(string))
	}
	assert.Contains(t, spans, "simulation.run")
	assert.Contains(t, spans, "recovery.Recover")
	assert.Contains(t, spans, "recovery.undo")
}

func TestRecoverOnlyHasNoCounters(t *testing.T) {
	core, _ := observer.New(zap.InfoLevel)

	res, err := simulate(context.Background(), "recover", testConfig(t), true, zap.New(core).Sugar())
	require.NoError(t, err)
	assert.Zero(t, res.Metrics.Commits)
	assert.Nil(t, res.Metrics.Aborts)
}
