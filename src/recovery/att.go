package recovery

import (
	"fmt"

	"github.com/Blackdeer1524/txnsim/src/pkg/common"
	"github.com/Blackdeer1524/txnsim/src/pkg/utils"
)

type ATTEntry struct {
	state    common.TxnState
	startLSN common.LSN
	lastLSN  common.LSN
	updates  int
}

func NewATTEntry(startLSN common.LSN) ATTEntry {
	return ATTEntry{
		state:    common.TxnActive,
		startLSN: startLSN,
		lastLSN:  startLSN,
	}
}

func (e ATTEntry) State() common.TxnState { return e.state }

// ActiveTransactionsTable is built by the analysis pass: it tracks every
// transaction found in the log and the terminal record it reached, if any.
type ActiveTransactionsTable struct {
	table map[common.TxnID]ATTEntry
	maxID common.TxnID
}

func NewATT() ActiveTransactionsTable {
	return ActiveTransactionsTable{
		table: map[common.TxnID]ATTEntry{},
	}
}

// Insert applies one log record. It fails if the record doesn't fit the
// transaction's history: a second start, anything before the start, or
// anything after a commit or rollback.
func (att *ActiveTransactionsTable) Insert(r LogRecord) error {
	entry, exists := att.table[r.TxnID]

	if r.Type == TypeStart {
		if exists {
			return fmt.Errorf("duplicate start of %v", r.TxnID)
		}
		att.table[r.TxnID] = NewATTEntry(r.LSN)
		att.maxID = max(att.maxID, r.TxnID)
		return nil
	}

	if !exists {
		return fmt.Errorf("%v record of %v without a start", r.Type, r.TxnID)
	}
	if entry.state != common.TxnActive {
		return fmt.Errorf("%v record of %v after it was %v", r.Type, r.TxnID, entry.state)
	}

	// https://stackoverflow.com/questions/42605337/cannot-assign-to-struct-field-in-a-map
	entry.lastLSN = r.LSN
	switch r.Type {
	case TypeUpdate:
		entry.updates++
	case TypeCommit:
		entry.state = common.TxnCommitted
	case TypeRollback:
		entry.state = common.TxnAborted
	}
	att.table[r.TxnID] = entry

	return nil
}

func (att *ActiveTransactionsTable) Get(txnID common.TxnID) (ATTEntry, bool) {
	e, ok := att.table[txnID]
	return e, ok
}

func (att *ActiveTransactionsTable) MarkAborted(txnID common.TxnID) {
	e := att.table[txnID]
	e.state = common.TxnAborted
	att.table[txnID] = e
}

func (att *ActiveTransactionsTable) MaxTxnID() common.TxnID {
	return att.maxID
}

// Losers returns the transactions without a commit or rollback record.
func (att *ActiveTransactionsTable) Losers() []common.TxnID {
	var res []common.TxnID
	for _, id := range utils.SortedKeys(att.table) {
		if att.table[id].state == common.TxnActive {
			res = append(res, id)
		}
	}
	return res
}

func (att *ActiveTransactionsTable) txnIDs() []common.TxnID {
	return utils.SortedKeys(att.table)
}

func (att *ActiveTransactionsTable) Len() int {
	return len(att.table)
}
