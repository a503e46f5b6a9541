package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/txnsim/src/cfg"
	"github.com/Blackdeer1524/txnsim/src/engine"
	"github.com/Blackdeer1524/txnsim/src/pkg/optional"
	"github.com/Blackdeer1524/txnsim/src/recovery"
	"github.com/Blackdeer1524/txnsim/src/sim"
)

const lockFileName = ".txnsim.lock"

var ErrDataDirBusy = errors.New("data dir is used by another process")

// Result describes one run against one data dir.
type Result struct {
	Name     string
	RunID    uuid.UUID
	Seed     uint64
	Recovery recovery.Report
	// absent when only recovery was requested
	Sim optional.Optional[sim.Report]
	// engine counters of the simulation, zero when only recovery was requested
	Metrics engine.Counters
}

// lockDataDir creates dir and takes an exclusive lock on it, so two
// processes never share a data file and a log.
func lockDataDir(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	l := flock.New(filepath.Join(dir, lockFileName))
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock data dir: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDataDirBusy, dir)
	}
	return l, nil
}

func resolveSeed(seed uint64) uint64 {
	if seed != 0 {
		return seed
	}
	return uint64(time.Now().UnixNano())
}

// simulate recovers the database in c.DataDir and then, unless recoverOnly
// is set, runs the workload against it. Transactions left running are not
// committed, so the next run's recovery undoes them.
func simulate(
	ctx context.Context,
	name string,
	c cfg.Config,
	recoverOnly bool,
	log *zap.SugaredLogger,
) (res Result, err error) {
	res = Result{
		Name:  name,
		RunID: uuid.New(),
		Seed:  c.Seed,
		Sim:   optional.None[sim.Report](),
	}
	log = log.With("run_id", res.RunID.String(), "run", name)

	tel := newTelemetry(log)
	defer func() {
		// a cancelled run still flushes its providers
		err = errors.Join(err, tel.shutdown(context.WithoutCancel(ctx)))
	}()

	ctx, span := tel.tracers.Tracer(tracerName).Start(ctx, "simulation.run", trace.WithAttributes(
		attribute.String("run_id", res.RunID.String()),
		attribute.String("data_dir", c.DataDir),
		attribute.Int64("seed", int64(c.Seed)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	fs := afero.NewBasePathFs(afero.NewOsFs(), c.DataDir)
	e, err := engine.Open(fs, tel.engineConfig(c.Engine()), log)
	if err != nil {
		return res, fmt.Errorf("open engine: %w", err)
	}
	defer func() {
		err = errors.Join(err, e.Close())
	}()

	res.Recovery, err = e.Recover(ctx)
	if err != nil {
		return res, fmt.Errorf("recover: %w", err)
	}
	if recoverOnly {
		return res, nil
	}

	log.Infow("simulation started",
		"cycles", c.Cycles,
		"txn_size", c.TxnSize,
		"items", c.Items,
		"seed", c.Seed,
		"victim_policy", c.VictimPolicy,
	)

	report, err := sim.New(e, c.Workload(), c.Seed, log).Run(ctx)
	res.Sim = optional.Some(report)
	if err != nil {
		return res, fmt.Errorf("simulation: %w", err)
	}

	res.Metrics, err = tel.counters(ctx)
	if err != nil {
		return res, err
	}

	log.Infow("simulation finished",
		"started", report.Started,
		"committed", report.Committed,
		"aborted", report.TotalAborted(),
		"unfinished", len(report.Unfinished),
		"deadlocks", res.Metrics.Deadlocks,
	)
	return res, nil
}

type SimulationEntrypoint struct {
	Config      cfg.Config
	RecoverOnly bool
	Out         io.Writer
	// built from Config.Environment when nil
	Log *zap.SugaredLogger

	lock   *flock.Flock
	result Result
}

func (e *SimulationEntrypoint) Init(_ context.Context) error {
	if e.Out == nil {
		e.Out = os.Stdout
	}
	e.Config.Seed = resolveSeed(e.Config.Seed)
	if e.Log == nil {
		e.Log = newLogger(e.Config.Environment)
	}

	l, err := lockDataDir(e.Config.DataDir)
	if err != nil {
		return err
	}
	e.lock = l

	return nil
}

func (e *SimulationEntrypoint) Run(ctx context.Context) error {
	res, err := simulate(ctx, filepath.Base(e.Config.DataDir), e.Config, e.RecoverOnly, e.Log)
	e.result = res

	if printErr := printResult(e.Out, res); printErr != nil {
		err = errors.Join(err, printErr)
	}
	return err
}

func (e *SimulationEntrypoint) Result() Result {
	return e.result
}

func (e *SimulationEntrypoint) Close() (err error) {
	if e.lock != nil {
		err = e.lock.Unlock()
	}

	if e.Log != nil {
		if err != nil {
			e.Log.Errorw("failed to release data dir", zap.Error(err))
		}
		// stderr may refuse fsync
		_ = e.Log.Sync()
	}

	return
}
