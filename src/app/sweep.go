package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/panjf2000/ants"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/txnsim/src/cfg"
	"github.com/Blackdeer1524/txnsim/src/pkg/utils"
)

// SweepEntrypoint runs every entry of a plan as its own simulation in its
// own sub-directory of the data dir, Config.Workers at a time.
type SweepEntrypoint struct {
	Config   cfg.Config
	PlanPath string
	Out      io.Writer
	Log      *zap.SugaredLogger

	// run name and its config
	runs    []utils.Pair[string, cfg.Config]
	pool    *ants.Pool
	results []Result
}

func (e *SweepEntrypoint) Init(_ context.Context) error {
	if e.Out == nil {
		e.Out = os.Stdout
	}
	if e.Log == nil {
		e.Log = newLogger(e.Config.Environment)
	}

	plan, err := cfg.LoadPlan(afero.NewOsFs(), e.PlanPath)
	if err != nil {
		return err
	}

	base := e.Config
	base.Seed = resolveSeed(base.Seed)
	for i, run := range plan.Runs {
		c, err := run.Apply(base)
		if err != nil {
			return err
		}
		// runs without their own seed still differ from each other
		if run.Seed == nil {
			c.Seed = base.Seed + uint64(i)
		}
		e.runs = append(e.runs, utils.Pair[string, cfg.Config]{First: run.Name, Second: c})
	}

	e.pool, err = ants.NewPool(e.Config.Workers)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}

	return nil
}

func (e *SweepEntrypoint) Run(ctx context.Context) error {
	e.results = make([]Result, len(e.runs))
	errs := make([]error, len(e.runs))

	var wg sync.WaitGroup
	for i, run := range e.runs {
		name, c := run.Destruct()

		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			e.results[i], errs[i] = e.runOne(ctx, name, c)
		})
		if err != nil {
			wg.Done()
			e.results[i] = Result{Name: name, Seed: c.Seed}
			errs[i] = fmt.Errorf("run %q: submit: %w", name, err)
		}
	}
	wg.Wait()

	err := errors.Join(errs...)
	if printErr := printSweep(e.Out, e.results); printErr != nil {
		err = errors.Join(err, printErr)
	}
	return err
}

func (e *SweepEntrypoint) runOne(ctx context.Context, name string, c cfg.Config) (Result, error) {
	l, err := lockDataDir(c.DataDir)
	if err != nil {
		return Result{Name: name, Seed: c.Seed}, fmt.Errorf("run %q: %w", name, err)
	}
	defer func() {
		if err := l.Unlock(); err != nil {
			e.Log.Warnw("failed to release data dir", "run", name, zap.Error(err))
		}
	}()

	res, err := simulate(ctx, name, c, false, e.Log)
	if err != nil {
		return res, fmt.Errorf("run %q: %w", name, err)
	}
	return res, nil
}

func (e *SweepEntrypoint) Results() []Result {
	return e.results
}

func (e *SweepEntrypoint) Close() error {
	if e.pool != nil {
		e.pool.Release()
	}
	if e.Log != nil {
		_ = e.Log.Sync()
	}
	return nil
}
