package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"github.com/Blackdeer1524/txnsim/src/pkg/common"
	"github.com/Blackdeer1524/txnsim/src/pkg/optional"
	"github.com/Blackdeer1524/txnsim/src/pkg/utils"
)

const DefaultItemsCount = 32

var ErrItemOutOfRange = errors.New("item id is out of range")

// Database is an array of data item slots. Committed values are mirrored to
// the data file; every transaction writes into its own buffer, which reaches
// committed state only on CommitWrites.
type Database struct {
	fs   afero.Fs
	path string
	log  common.Logger

	mu        sync.RWMutex
	committed []common.Value
	pending   map[common.TxnID]map[common.ItemID]common.Value
	dirty     bool
}

// Open loads the data file at path. A missing file is created with all
// values set to zero; a file that cannot be decoded is replaced by the same
// default contents.
func Open(
	fs afero.Fs,
	path string,
	items int,
	log common.Logger,
) (*Database, error) {
	if items <= 0 {
		return nil, fmt.Errorf("invalid items count %d", items)
	}

	db := &Database{
		fs:        fs,
		path:      path,
		log:       log,
		committed: make([]common.Value, items),
		pending:   map[common.TxnID]map[common.ItemID]common.Value{},
	}

	values, err := readDataFile(fs, path, items)
	switch {
	case err == nil:
		copy(db.committed, values)
		return db, nil
	case errors.Is(err, errDataFileMissing):
		log.Infow("data file not found, creating", "path", path, "items", items)
	case errors.Is(err, errDataFileMalformed):
		log.Warnw("data file is malformed, reinitializing", "path", path, "error", err)
	default:
		return nil, fmt.Errorf("failed to load data file: %w", err)
	}

	if err := writeDataFile(fs, path, db.committed); err != nil {
		return nil, fmt.Errorf("failed to create data file: %w", err)
	}

	return db, nil
}

func (db *Database) Size() int {
	return len(db.committed)
}

func (db *Database) checkItem(item common.ItemID) error {
	if item >= common.ItemID(len(db.committed)) {
		return fmt.Errorf("%w: %d (items: %d)", ErrItemOutOfRange, item, len(db.committed))
	}
	return nil
}

func (db *Database) pendingValue(
	txnID common.TxnID,
	item common.ItemID,
) optional.Optional[common.Value] {
	buf, ok := db.pending[txnID]
	if !ok {
		return optional.None[common.Value]()
	}
	value, found := buf[item]
	return optional.FromLookup(value, found)
}

// Read returns the transaction's own buffered write if there is one,
// and the committed value otherwise.
func (db *Database) Read(txnID common.TxnID, item common.ItemID) (common.Value, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if err := db.checkItem(item); err != nil {
		return 0, err
	}

	return db.pendingValue(txnID, item).ValueOr(db.committed[item]), nil
}

// Write buffers value for the transaction. Committed state is untouched.
func (db *Database) Write(txnID common.TxnID, item common.ItemID, value common.Value) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkItem(item); err != nil {
		return err
	}

	buf, ok := db.pending[txnID]
	if !ok {
		buf = map[common.ItemID]common.Value{}
		db.pending[txnID] = buf
	}
	buf[item] = value

	return nil
}

// CommitWrites moves the transaction's buffer into committed state and
// rewrites the data file.
func (db *Database) CommitWrites(txnID common.TxnID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	buf, ok := db.pending[txnID]
	if !ok {
		return nil
	}
	delete(db.pending, txnID)

	for item, value := range buf {
		db.committed[item] = value
	}
	db.dirty = true

	return db.persistLocked()
}

func (db *Database) DiscardWrites(txnID common.TxnID) {
	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.pending, txnID)
}

// Install writes value straight into committed state. Recovery uses it to
// apply before- and after-images; the change is persisted by Persist.
func (db *Database) Install(item common.ItemID, value common.Value) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkItem(item); err != nil {
		return err
	}

	if db.committed[item] != value {
		db.committed[item] = value
		db.dirty = true
	}

	return nil
}

func (db *Database) Persist() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.persistLocked()
}

func (db *Database) persistLocked() error {
	if !db.dirty {
		return nil
	}

	if err := writeDataFile(db.fs, db.path, db.committed); err != nil {
		return fmt.Errorf("failed to persist data file: %w", err)
	}
	db.dirty = false

	return nil
}

// Snapshot copies the committed values.
func (db *Database) Snapshot() []common.Value {
	db.mu.RLock()
	defer db.mu.RUnlock()

	res := make([]common.Value, len(db.committed))
	copy(res, db.committed)
	return res
}

// PendingWriters lists the transactions that currently buffer writes.
func (db *Database) PendingWriters() []common.TxnID {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return utils.SortedKeys(db.pending)
}

// Close persists committed state. Buffered writes of unfinished
// transactions are dropped, exactly as a crash would drop them.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if len(db.pending) > 0 {
		db.log.Debugw("dropping buffered writes on close", "transactions", len(db.pending))
	}
	db.pending = map[common.TxnID]map[common.ItemID]common.Value{}

	return db.persistLocked()
}
