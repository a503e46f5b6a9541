package txns

import (
	"fmt"

	"github.com/Blackdeer1524/txnsim/src/pkg/assert"
	"github.com/Blackdeer1524/txnsim/src/pkg/common"
)

type TaggedType[T any] struct{ v T } // this trick forbids casting one lock mode to another

type LockMode TaggedType[uint8]

var (
	LOCK_SHARED    LockMode = LockMode{0}
	LOCK_EXCLUSIVE LockMode = LockMode{1}
)

// Compatible reports whether two different transactions may hold m and
// other on the same item at the same time.
func (m LockMode) Compatible(other LockMode) bool {
	return m == LOCK_SHARED && other == LOCK_SHARED
}

func (m LockMode) Upgradable(to LockMode) bool {
	switch m {
	case LOCK_SHARED:
		return to == LOCK_EXCLUSIVE
	case LOCK_EXCLUSIVE:
		return false
	}

	assert.Unreachable("unknown lock mode %d", m.v)
	return false
}

// Covers reports whether holding m already satisfies a request for other.
func (m LockMode) Covers(other LockMode) bool {
	return m == LOCK_EXCLUSIVE || other == LOCK_SHARED
}

func (m LockMode) String() string {
	switch m {
	case LOCK_SHARED:
		return "S"
	case LOCK_EXCLUSIVE:
		return "X"
	}
	return fmt.Sprintf("LockMode(%d)", m.v)
}

type LockStatus uint8

const (
	// LockGranted means the transaction holds the requested mode and may
	// touch the item right away.
	LockGranted LockStatus = iota
	// LockQueued means the request waits in the item's queue. The caller
	// retries the operation in a later cycle.
	LockQueued
)

func (s LockStatus) String() string {
	if s == LockGranted {
		return "granted"
	}
	return "queued"
}

type TxnLockRequest struct {
	txnID    common.TxnID
	itemID   common.ItemID
	lockMode LockMode
}

func NewTxnLockRequest(
	txnID common.TxnID,
	itemID common.ItemID,
	lockMode LockMode,
) TxnLockRequest {
	return TxnLockRequest{
		txnID:    txnID,
		itemID:   itemID,
		lockMode: lockMode,
	}
}

// QueueEntry is a read-only view of one request of an item's lock queue.
type QueueEntry struct {
	TxnID      common.TxnID
	Mode       LockMode
	Granted    bool
	Upgrade    bool
	EnqueuedAt common.Tick
}

type AbortReason uint8

const (
	AbortDeadlock AbortReason = iota
	AbortTimeout
)

func (r AbortReason) String() string {
	switch r {
	case AbortDeadlock:
		return "deadlock"
	case AbortTimeout:
		return "timeout"
	}
	return fmt.Sprintf("AbortReason(%d)", uint8(r))
}

// Abort describes a transaction the lock manager rolled back.
type Abort struct {
	TxnID  common.TxnID
	Reason AbortReason
	// Item the victim was waiting for when it was chosen.
	Item common.ItemID
}
