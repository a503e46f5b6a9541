package recovery

import (
	"fmt"

	"github.com/Blackdeer1524/txnsim/src/pkg/common"
)

// RollbackTransaction undoes every update of txnID by walking the log file
// backward to its start record and restoring before-images. It then logs
// the rollback and releases the transaction's locks. Rolling back an
// aborted transaction is a no-op.
func (m *Manager) RollbackTransaction(txnID common.TxnID) error {
	undone, err := m.rollback(txnID)
	if err != nil {
		return err
	}

	if m.locks != nil {
		m.locks.ReleaseAllLocks(txnID)
	}

	m.log.Infow("transaction rolled back", "txn", txnID, "undone", undone)
	return nil
}

func (m *Manager) rollback(txnID common.TxnID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.txns[txnID]
	if !ok {
		return 0, fmt.Errorf("%w: %w: %v", ErrRollbackFailed, ErrUnknownTxn, txnID)
	}
	switch e.state {
	case common.TxnAborted:
		return 0, nil
	case common.TxnCommitted:
		return 0, fmt.Errorf("%w: %v", ErrTxnAlreadyCommitted, txnID)
	}

	if err := m.flushLocked(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRollbackFailed, err)
	}

	records, err := m.readLogFileLocked()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRollbackFailed, err)
	}

	undone := 0
	reachedStart := false
	for iter := newBackwardIter(records); iter.Move(); {
		r := iter.Record()
		if r.TxnID != txnID {
			continue
		}
		if r.Type == TypeStart {
			reachedStart = true
			break
		}
		if r.Type != TypeUpdate {
			continue
		}

		if err := m.store.Install(r.Item, r.Before); err != nil {
			return undone, fmt.Errorf("%w: undo of %v: %w", ErrRollbackFailed, r, err)
		}
		undone++
	}

	if !reachedStart {
		return undone, fmt.Errorf(
			"%w: start record of %v is missing from the log",
			ErrRollbackFailed,
			txnID,
		)
	}

	m.store.DiscardWrites(txnID)
	if err := m.store.Persist(); err != nil {
		return undone, fmt.Errorf("%w: %w", ErrRollbackFailed, err)
	}

	if _, err := m.logRollbackLocked(txnID); err != nil {
		return undone, fmt.Errorf("%w: %w", ErrRollbackFailed, err)
	}

	return undone, nil
}
