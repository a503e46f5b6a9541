package recovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-faster/jx"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Blackdeer1524/txnsim/src/pkg/common"
)

const DefaultLogBufferSize = 25

const tracerName = "github.com/Blackdeer1524/txnsim/src/recovery"

var (
	ErrRollbackFailed      = errors.New("rollback failed")
	ErrTxnAlreadyCommitted = errors.New("transaction is already committed")
	ErrUnknownTxn          = errors.New("transaction has no start record")
	ErrClosed              = errors.New("recovery manager is closed")
)

// Store is the part of the database recovery writes through.
type Store interface {
	Install(item common.ItemID, value common.Value) error
	DiscardWrites(txnID common.TxnID)
	Persist() error
}

type txnEntry struct {
	state    common.TxnState
	startLSN common.LSN
}

// Manager owns the write-ahead log. Records are collected in a buffer and
// appended to the log file when the buffer fills up and whenever a
// transaction starts, commits or rolls back.
type Manager struct {
	fs    afero.Fs
	path  string
	store Store
	locks common.ILockReleaser
	log   common.Logger

	tracer trace.Tracer

	bufferSize     int
	archiveLogs    bool
	resetOnRecover bool

	mu      sync.Mutex
	file    afero.File
	enc     jx.Encoder
	buffer  []LogRecord
	scratch []byte
	nextLSN common.LSN
	txns    map[common.TxnID]txnEntry

	lastRecovery Report
}

var _ common.ITxnRollbacker = (*Manager)(nil)

type Option func(*Manager)

func WithBufferSize(n int) Option {
	return func(m *Manager) { m.bufferSize = n }
}

func WithLogger(log common.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func WithLockReleaser(locks common.ILockReleaser) Option {
	return func(m *Manager) { m.locks = locks }
}

// WithArchiving makes Recover keep a zstd-compressed copy of the log before
// resetting it.
func WithArchiving(enabled bool) Option {
	return func(m *Manager) { m.archiveLogs = enabled }
}

// WithTracerProvider sets where recovery spans go. A nil provider keeps the
// otel global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) {
		if tp != nil {
			m.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithoutLogReset keeps the log file after recovery. Running recovery again
// over the same log must then leave the database unchanged.
func WithoutLogReset() Option {
	return func(m *Manager) { m.resetOnRecover = false }
}

func New(fs afero.Fs, path string, store Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		fs:             fs,
		path:           path,
		store:          store,
		log:            common.NopLogger(),
		tracer:         otel.Tracer(tracerName),
		bufferSize:     DefaultLogBufferSize,
		resetOnRecover: true,
		nextLSN:        1,
		txns:           map[common.TxnID]txnEntry{},
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.bufferSize <= 0 {
		return nil, fmt.Errorf("invalid log buffer size %d", m.bufferSize)
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if err := m.openLocked(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Manager) openLocked() error {
	f, err := m.fs.OpenFile(m.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	m.file = f
	return nil
}

func (m *Manager) appendLocked(r LogRecord) (common.LSN, error) {
	if m.file == nil {
		return common.NilLSN, ErrClosed
	}

	r.LSN = m.nextLSN
	m.nextLSN++
	m.buffer = append(m.buffer, r)

	return r.LSN, nil
}

// LogStart appends the start record of txnID and flushes the log.
func (m *Manager) LogStart(txnID common.TxnID) (common.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.txns[txnID]; exists {
		return common.NilLSN, fmt.Errorf("transaction %v is already started", txnID)
	}

	lsn, err := m.appendLocked(NewStartLogRecord(common.NilLSN, txnID))
	if err != nil {
		return common.NilLSN, err
	}
	m.txns[txnID] = txnEntry{state: common.TxnActive, startLSN: lsn}

	return lsn, m.flushLocked()
}

// LogUpdate appends an update record. The log is flushed only once the
// buffer reaches its threshold.
func (m *Manager) LogUpdate(
	txnID common.TxnID,
	item common.ItemID,
	before common.Value,
	after common.Value,
) (common.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkActiveLocked(txnID); err != nil {
		return common.NilLSN, err
	}

	lsn, err := m.appendLocked(NewUpdateLogRecord(common.NilLSN, txnID, item, before, after))
	if err != nil {
		return common.NilLSN, err
	}

	if len(m.buffer) >= m.bufferSize {
		return lsn, m.flushLocked()
	}
	return lsn, nil
}

// LogCommit appends the commit record and forces the log to disk. The
// transaction is committed once LogCommit returns without an error.
func (m *Manager) LogCommit(txnID common.TxnID) (common.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkActiveLocked(txnID); err != nil {
		return common.NilLSN, err
	}

	lsn, err := m.appendLocked(NewCommitLogRecord(common.NilLSN, txnID))
	if err != nil {
		return common.NilLSN, err
	}
	if err := m.flushLocked(); err != nil {
		return common.NilLSN, err
	}
	m.setStateLocked(txnID, common.TxnCommitted)

	return lsn, nil
}

// LogRollback appends the rollback record and flushes the log.
func (m *Manager) LogRollback(txnID common.TxnID) (common.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.logRollbackLocked(txnID)
}

func (m *Manager) logRollbackLocked(txnID common.TxnID) (common.LSN, error) {
	lsn, err := m.appendLocked(NewRollbackLogRecord(common.NilLSN, txnID))
	if err != nil {
		return common.NilLSN, err
	}
	if err := m.flushLocked(); err != nil {
		return common.NilLSN, err
	}
	m.setStateLocked(txnID, common.TxnAborted)

	return lsn, nil
}

func (m *Manager) checkActiveLocked(txnID common.TxnID) error {
	e, ok := m.txns[txnID]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownTxn, txnID)
	}
	if e.state != common.TxnActive {
		return fmt.Errorf("transaction %v is %v", txnID, e.state)
	}
	return nil
}

func (m *Manager) setStateLocked(txnID common.TxnID, state common.TxnState) {
	e := m.txns[txnID]
	e.state = state
	m.txns[txnID] = e
}

// State reports what the manager knows about txnID.
func (m *Manager) State(txnID common.TxnID) (common.TxnState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.txns[txnID]
	return e.state, ok
}

// FlushLog appends the buffered records to the log file and syncs it.
func (m *Manager) FlushLog() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.flushLocked()
}

func (m *Manager) flushLocked() error {
	if len(m.buffer) == 0 {
		return nil
	}
	if m.file == nil {
		return ErrClosed
	}

	m.scratch = m.scratch[:0]
	for _, r := range m.buffer {
		m.scratch = appendLogRecord(&m.enc, m.scratch, r)
	}

	if _, err := m.file.Write(m.scratch); err != nil {
		return fmt.Errorf("failed to write log file: %w", err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}

	m.log.Debugw("log flushed", "records", len(m.buffer), "lastLSN", m.buffer[len(m.buffer)-1].LSN)
	m.buffer = m.buffer[:0]

	return nil
}

// BufferedRecords is the number of records not yet written to the file.
func (m *Manager) BufferedRecords() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.buffer)
}

func (m *Manager) readLogFileLocked() ([]LogRecord, error) {
	data, err := afero.ReadFile(m.fs, m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return decodeLog(data)
}

// ReadLog returns every record of the log file. Buffered records are
// flushed first.
func (m *Manager) ReadLog() ([]LogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.flushLocked(); err != nil {
		return nil, err
	}
	return m.readLogFileLocked()
}

// ResetLogFile truncates the log file. Buffered records are dropped, LSNs
// keep counting from where they were.
func (m *Manager) ResetLogFile() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.resetLocked()
}

func (m *Manager) resetLocked() error {
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		m.file = nil
	}

	if err := afero.WriteFile(m.fs, m.path, nil, 0o644); err != nil {
		return fmt.Errorf("failed to truncate log file: %w", err)
	}

	m.buffer = m.buffer[:0]
	m.txns = map[common.TxnID]txnEntry{}

	return m.openLocked()
}

// Close flushes the remaining records and closes the log file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		return nil
	}

	flushErr := m.flushLocked()
	closeErr := m.file.Close()
	m.file = nil

	return errors.Join(flushErr, closeErr)
}
