package engine

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Blackdeer1524/txnsim/src/txns"
)

func TestMetricsAreExported(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewSpanRecorder()

	c := testConfig()
	c.Meters = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	c.Tracers = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	e := openEngine(t, afero.NewMemMapFs(), c)

	t1, t2, t3 := begin(t, e), begin(t, e), begin(t, e)
	_, err := e.Write(t1, 1, 10)
	require.NoError(t, err)
	for range 2 {
		_, status, err := e.Read(t2, 1)
		require.NoError(t, err)
		require.Equal(t, txns.LockQueued, status)
	}

	_, err = e.Write(t3, 2, 30)
	require.NoError(t, err)
	require.NoError(t, e.Rollback(t3))
	require.NoError(t, e.Commit(t1))

	t4, t5 := begin(t, e), begin(t, e)
	_, err = e.Write(t4, 3, 1)
	require.NoError(t, err)
	_, err = e.Write(t5, 4, 1)
	require.NoError(t, err)
	status, err := e.Write(t4, 4, 2)
	require.NoError(t, err)
	require.Equal(t, txns.LockQueued, status)
	status, err = e.Write(t5, 3, 2)
	require.NoError(t, err)
	require.Equal(t, txns.LockQueued, status)

	aborts, err := e.Tick(1)
	require.NoError(t, err)
	require.Len(t, aborts, 1)

	got, err := CollectCounters(context.Background(), reader)
	require.NoError(t, err)
	assert.Equal(t, Counters{
		Commits:   1,
		Aborts:    map[string]int64{AbortReasonRequested: 1, txns.AbortDeadlock.String(): 1},
		LockWaits: map[string]int64{txns.LOCK_SHARED.String(): 1, txns.LOCK_EXCLUSIVE.String(): 2},
		Deadlocks: 1,
	}, got)
	assert.EqualValues(t, 2, got.TotalAborts())
	assert.EqualValues(t, 3, got.TotalLockWaits())

	var names []string
	for _, s := range spans.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "recovery.Recover")
}

func TestCollectCountersBeforeAnyEvent(t *testing.T) {
	reader := sdkmetric.NewManualReader()

	c := testConfig()
	c.Meters = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	openEngine(t, afero.NewMemMapFs(), c)

	got, err := CollectCounters(context.Background(), reader)
	require.NoError(t, err)
	assert.Zero(t, got.Commits)
	assert.Empty(t, got.Aborts)
	assert.Empty(t, got.LockWaits)
}
