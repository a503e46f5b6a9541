package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Blackdeer1524/txnsim/src/pkg/common"
	"github.com/Blackdeer1524/txnsim/src/pkg/optional"
	"github.com/Blackdeer1524/txnsim/src/recovery"
	"github.com/Blackdeer1524/txnsim/src/storage"
	"github.com/Blackdeer1524/txnsim/src/txns"
)

var (
	ErrUnknownTxn = errors.New("unknown transaction")
	ErrTxnBlocked = errors.New("transaction is waiting for a lock")
	ErrTxnEnded   = errors.New("transaction has already ended")
)

type Config struct {
	DataPath      string
	LogPath       string
	Items         int
	LogBufferSize int
	VictimPolicy  string
	Seed          uint64
	// lock wait limit in ticks, waits never expire when absent
	Timeout     optional.Optional[common.Tick]
	ArchiveLogs bool

	// otel globals are used when nil
	Meters  metric.MeterProvider
	Tracers trace.TracerProvider
}

// Engine ties the database, the lock manager and the recovery manager
// together. Every operation either completes or reports that it has to be
// retried because a lock is not available yet.
type Engine struct {
	db *storage.Database
	lm *txns.Manager
	rm *recovery.Manager

	log     common.Logger
	metrics *metrics

	timeout optional.Optional[common.Tick]
	now     atomic.Uint64

	mu        sync.Mutex
	nextTxnID common.TxnID
}

func Open(fs afero.Fs, c Config, log common.Logger) (*Engine, error) {
	if c.Items == 0 {
		c.Items = storage.DefaultItemsCount
	}
	if c.LogBufferSize == 0 {
		c.LogBufferSize = recovery.DefaultLogBufferSize
	}

	policy, err := txns.NewVictimPolicy(c.VictimPolicy, c.Seed)
	if err != nil {
		return nil, err
	}

	m, err := newMetrics(c.Meters)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(fs, c.DataPath, c.Items, log)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		db:        db,
		log:       log,
		metrics:   m,
		timeout:   c.Timeout,
		nextTxnID: 1,
	}

	e.lm = txns.NewManager(
		txns.WithVictimPolicy(policy),
		txns.WithClock(e.Now),
		txns.WithLogger(log),
	)

	e.rm, err = recovery.New(
		fs,
		c.LogPath,
		db,
		recovery.WithBufferSize(c.LogBufferSize),
		recovery.WithArchiving(c.ArchiveLogs),
		recovery.WithLockReleaser(e.lm),
		recovery.WithLogger(log),
		recovery.WithTracerProvider(c.Tracers),
	)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	e.lm.SetRollbacker(e.rm)

	return e, nil
}

// Recover runs crash recovery. Transaction ids handed out afterwards are
// greater than every id found in the log.
func (e *Engine) Recover(ctx context.Context) (recovery.Report, error) {
	maxID, err := e.rm.Recover(ctx)
	if err != nil {
		return recovery.Report{}, err
	}

	e.mu.Lock()
	e.nextTxnID = max(e.nextTxnID, maxID+1)
	e.mu.Unlock()

	return e.rm.LastRecovery(), nil
}

func (e *Engine) Now() common.Tick {
	return common.Tick(e.now.Load())
}

func (e *Engine) Begin() (common.TxnID, error) {
	e.mu.Lock()
	txnID := e.nextTxnID
	e.nextTxnID++
	e.mu.Unlock()

	if _, err := e.rm.LogStart(txnID); err != nil {
		return common.NilTxnID, fmt.Errorf("failed to start %v: %w", txnID, err)
	}

	e.log.Debugw("transaction started", "txn", txnID)
	return txnID, nil
}

func (e *Engine) checkActive(txnID common.TxnID) error {
	state, ok := e.rm.State(txnID)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownTxn, txnID)
	}
	if state != common.TxnActive {
		return fmt.Errorf("%w: %v is %v", ErrTxnEnded, txnID, state)
	}
	return nil
}

func (e *Engine) acquire(
	txnID common.TxnID,
	item common.ItemID,
	mode txns.LockMode,
) (txns.LockStatus, error) {
	if err := e.checkActive(txnID); err != nil {
		return txns.LockQueued, err
	}
	if item >= common.ItemID(e.db.Size()) {
		return txns.LockQueued, fmt.Errorf("%w: %d", storage.ErrItemOutOfRange, item)
	}
	if waiting, ok := e.lm.WaitingFor(txnID); ok && waiting != item {
		return txns.LockQueued, fmt.Errorf("%w: %v waits for item %d", ErrTxnBlocked, txnID, waiting)
	}

	wasBlocked := e.lm.IsBlocked(txnID)
	status := e.lm.Acquire(txnID, item, mode)
	if status == txns.LockQueued && !wasBlocked {
		e.metrics.lockWait(mode.String())
	}
	return status, nil
}

// Read takes a shared lock on item and returns the value visible to txnID.
func (e *Engine) Read(txnID common.TxnID, item common.ItemID) (common.Value, txns.LockStatus, error) {
	status, err := e.acquire(txnID, item, txns.LOCK_SHARED)
	if err != nil || status != txns.LockGranted {
		return 0, status, err
	}

	v, err := e.db.Read(txnID, item)
	if err != nil {
		return 0, status, err
	}
	return v, status, nil
}

// Write takes an exclusive lock on item, logs the update and buffers the
// new value. The log record is written before the database sees the value.
func (e *Engine) Write(txnID common.TxnID, item common.ItemID, value common.Value) (txns.LockStatus, error) {
	status, err := e.acquire(txnID, item, txns.LOCK_EXCLUSIVE)
	if err != nil || status != txns.LockGranted {
		return status, err
	}

	before, err := e.db.Read(txnID, item)
	if err != nil {
		return status, err
	}

	if _, err := e.rm.LogUpdate(txnID, item, before, value); err != nil {
		return status, fmt.Errorf("failed to log update of %v: %w", txnID, err)
	}

	return status, e.db.Write(txnID, item, value)
}

// Commit makes the writes of txnID durable and releases its locks.
func (e *Engine) Commit(txnID common.TxnID) error {
	if err := e.checkActive(txnID); err != nil {
		return err
	}
	if e.lm.IsBlocked(txnID) {
		return fmt.Errorf("%w: %v", ErrTxnBlocked, txnID)
	}

	if _, err := e.rm.LogCommit(txnID); err != nil {
		return fmt.Errorf("failed to commit %v: %w", txnID, err)
	}
	if err := e.db.CommitWrites(txnID); err != nil {
		return fmt.Errorf("failed to apply writes of %v: %w", txnID, err)
	}
	e.lm.ReleaseAllLocks(txnID)

	e.metrics.commit()
	e.log.Debugw("transaction committed", "txn", txnID)

	return nil
}

// Rollback aborts txnID on request of its client.
func (e *Engine) Rollback(txnID common.TxnID) error {
	if err := e.checkActive(txnID); err != nil {
		return err
	}

	if err := e.rm.RollbackTransaction(txnID); err != nil {
		return err
	}
	e.lm.ReleaseAllLocks(txnID)

	e.metrics.abort(AbortReasonRequested)
	return nil
}

// Tick advances the logical clock to now, aborts transactions that waited
// too long and then breaks every deadlock. Returns the aborted transactions.
func (e *Engine) Tick(now common.Tick) ([]txns.Abort, error) {
	e.now.Store(uint64(now))

	var aborts []txns.Abort
	if e.timeout.IsSome() {
		var err error
		aborts, err = e.lm.HandleTimeouts(now, e.timeout.Unwrap())
		for _, a := range aborts {
			e.metrics.abort(a.Reason.String())
		}
		if err != nil {
			return aborts, err
		}
	}

	deadlockAborts, err := e.lm.ResolveDeadlocks()
	for _, a := range deadlockAborts {
		e.metrics.deadlock()
		e.metrics.abort(a.Reason.String())
	}
	aborts = append(aborts, deadlockAborts...)

	return aborts, err
}

func (e *Engine) State(txnID common.TxnID) (common.TxnState, bool) {
	return e.rm.State(txnID)
}

func (e *Engine) IsBlocked(txnID common.TxnID) bool {
	return e.lm.IsBlocked(txnID)
}

func (e *Engine) HeldLocks(txnID common.TxnID) map[common.ItemID]txns.LockMode {
	return e.lm.HeldLocks(txnID)
}

func (e *Engine) Items() int {
	return e.db.Size()
}

func (e *Engine) Snapshot() []common.Value {
	return e.db.Snapshot()
}

func (e *Engine) ReadLog() ([]recovery.LogRecord, error) {
	return e.rm.ReadLog()
}

// Close flushes the log and persists committed state. Unfinished
// transactions are left as they are, recovery undoes them on the next start.
func (e *Engine) Close() error {
	rmErr := e.rm.Close()
	e.lm.Close()
	dbErr := e.db.Close()

	return errors.Join(rmErr, dbErr)
}
