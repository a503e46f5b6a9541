package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const (
	AbortReasonRequested = "requested"
)

const (
	MetricCommits   = "txnsim.txn.commits"
	MetricAborts    = "txnsim.txn.aborts"
	MetricLockWaits = "txnsim.lock.waits"
	MetricDeadlocks = "txnsim.lock.deadlocks"
)

type metrics struct {
	commits   metric.Int64Counter
	aborts    metric.Int64Counter
	lockWaits metric.Int64Counter
	deadlocks metric.Int64Counter
}

func newMetrics(provider metric.MeterProvider) (*metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("github.com/Blackdeer1524/txnsim/src/engine")

	commits, err := meter.Int64Counter(
		MetricCommits,
		metric.WithDescription("Committed transactions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create commits counter: %w", err)
	}

	aborts, err := meter.Int64Counter(
		MetricAborts,
		metric.WithDescription("Rolled back transactions by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create aborts counter: %w", err)
	}

	lockWaits, err := meter.Int64Counter(
		MetricLockWaits,
		metric.WithDescription("Lock requests that had to wait"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lock waits counter: %w", err)
	}

	deadlocks, err := meter.Int64Counter(
		MetricDeadlocks,
		metric.WithDescription("Deadlocks broken by aborting a victim"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deadlocks counter: %w", err)
	}

	return &metrics{
		commits:   commits,
		aborts:    aborts,
		lockWaits: lockWaits,
		deadlocks: deadlocks,
	}, nil
}

func (m *metrics) commit() {
	m.commits.Add(context.Background(), 1)
}

func (m *metrics) abort(reason string) {
	m.aborts.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *metrics) lockWait(mode string) {
	m.lockWaits.Add(context.Background(), 1, metric.WithAttributes(attribute.String("mode", mode)))
}

func (m *metrics) deadlock() {
	m.deadlocks.Add(context.Background(), 1)
}

// Counters is a snapshot of the engine counters. Aborts are keyed by reason,
// lock waits by the requested mode.
type Counters struct {
	Commits   int64
	Aborts    map[string]int64
	LockWaits map[string]int64
	Deadlocks int64
}

func (c Counters) TotalAborts() int64 {
	var n int64
	for _, v := range c.Aborts {
		n += v
	}
	return n
}

func (c Counters) TotalLockWaits() int64 {
	var n int64
	for _, v := range c.LockWaits {
		n += v
	}
	return n
}

// CollectCounters reads the engine counters from a reader attached to the
// meter provider the engine was opened with.
func CollectCounters(ctx context.Context, r sdkmetric.Reader) (Counters, error) {
	var rm metricdata.ResourceMetrics
	if err := r.Collect(ctx, &rm); err != nil {
		return Counters{}, fmt.Errorf("failed to collect metrics: %w", err)
	}

	c := Counters{
		Aborts:    map[string]int64{},
		LockWaits: map[string]int64{},
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}

			for _, dp := range sum.DataPoints {
				switch m.Name {
				case MetricCommits:
					c.Commits += dp.Value
				case MetricDeadlocks:
					c.Deadlocks += dp.Value
				case MetricAborts:
					c.Aborts[label(dp.Attributes, "reason")] += dp.Value
				case MetricLockWaits:
					c.LockWaits[label(dp.Attributes, "mode")] += dp.Value
				}
			}
		}
	}
	return c, nil
}

func label(set attribute.Set, key attribute.Key) string {
	v, ok := set.Value(key)
	if !ok {
		return ""
	}
	return v.AsString()
}
