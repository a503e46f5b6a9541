package recovery

import (
	"github.com/Blackdeer1524/txnsim/src/pkg/common"
)

// TxnLogChain writes a sequence of log records for one transaction at a
// time and keeps the first error, so callers check it once at the end:
//
//	err := NewTxnLogChain(m, 1).Begin().Update(3, 0, 7).Commit().Err()
type TxnLogChain struct {
	m     *Manager
	txnID common.TxnID

	lastLSNs map[common.TxnID]common.LSN
	err      error
}

func NewTxnLogChain(m *Manager, txnID common.TxnID) *TxnLogChain {
	return &TxnLogChain{
		m:        m,
		txnID:    txnID,
		lastLSNs: map[common.TxnID]common.LSN{},
	}
}

func (c *TxnLogChain) SwitchTransactionID(txnID common.TxnID) *TxnLogChain {
	if c.err != nil {
		return c
	}

	c.txnID = txnID
	return c
}

func (c *TxnLogChain) Begin() *TxnLogChain {
	if c.err != nil {
		return c
	}

	c.lastLSNs[c.txnID], c.err = c.m.LogStart(c.txnID)
	return c
}

func (c *TxnLogChain) Update(item common.ItemID, before, after common.Value) *TxnLogChain {
	if c.err != nil {
		return c
	}

	c.lastLSNs[c.txnID], c.err = c.m.LogUpdate(c.txnID, item, before, after)
	return c
}

func (c *TxnLogChain) Commit() *TxnLogChain {
	if c.err != nil {
		return c
	}

	c.lastLSNs[c.txnID], c.err = c.m.LogCommit(c.txnID)
	return c
}

// Rollback undoes the transaction the way an abort does.
func (c *TxnLogChain) Rollback() *TxnLogChain {
	if c.err != nil {
		return c
	}

	c.err = c.m.RollbackTransaction(c.txnID)
	return c
}

func (c *TxnLogChain) Flush() *TxnLogChain {
	if c.err != nil {
		return c
	}

	c.err = c.m.FlushLog()
	return c
}

func (c *TxnLogChain) LSN() common.LSN {
	return c.lastLSNs[c.txnID]
}

func (c *TxnLogChain) Err() error {
	return c.err
}
