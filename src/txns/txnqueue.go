package txns

import (
	"github.com/Blackdeer1524/txnsim/src/pkg/assert"
	"github.com/Blackdeer1524/txnsim/src/pkg/common"
)

type txnQueueEntry struct {
	r          TxnLockRequest
	granted    bool
	upgrade    bool
	enqueuedAt common.Tick

	next *txnQueueEntry
	prev *txnQueueEntry
}

// txnQueue is the lock queue of one data item: a doubly linked list between
// two sentinels plus per-transaction indexes into it. Granted requests always
// form a prefix of the list; waiting requests follow in arrival order, except
// upgrade requests which are placed ahead of every plain waiter.
type txnQueue struct {
	itemID common.ItemID

	head *txnQueueEntry
	tail *txnQueueEntry

	grantedNodes map[common.TxnID]*txnQueueEntry
	waitingNodes map[common.TxnID]*txnQueueEntry
}

func newTxnQueue(itemID common.ItemID) *txnQueue {
	head := &txnQueueEntry{}
	tail := &txnQueueEntry{}
	head.next = tail
	tail.prev = head

	return &txnQueue{
		itemID:       itemID,
		head:         head,
		tail:         tail,
		grantedNodes: map[common.TxnID]*txnQueueEntry{},
		waitingNodes: map[common.TxnID]*txnQueueEntry{},
	}
}

func (q *txnQueue) insertAfter(at *txnQueueEntry, n *txnQueueEntry) {
	next := at.next

	n.prev = at
	n.next = next

	at.next = n
	next.prev = n
}

func (q *txnQueue) remove(n *txnQueueEntry) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

func (q *txnQueue) IsEmpty() bool {
	return q.head.next == q.tail
}

// compatibleWithGranted checks mode against every granted request except the
// ones owned by self (an upgrading transaction never conflicts with itself).
func (q *txnQueue) compatibleWithGranted(mode LockMode, self common.TxnID) bool {
	for txnID, e := range q.grantedNodes {
		if txnID == self {
			continue
		}
		if !mode.Compatible(e.r.lockMode) {
			return false
		}
	}
	return true
}

// Lock appends a new request. It is granted immediately only if it is
// compatible with all granted requests and nobody is waiting, so a stream of
// shared requests can't starve a queued exclusive one.
func (q *txnQueue) Lock(r TxnLockRequest, now common.Tick) LockStatus {
	_, isGranted := q.grantedNodes[r.txnID]
	_, isWaiting := q.waitingNodes[r.txnID]
	assert.Assert(
		!isGranted && !isWaiting,
		"transaction %v already has a request on item %d",
		r.txnID,
		q.itemID,
	)

	n := &txnQueueEntry{r: r, enqueuedAt: now}
	if len(q.waitingNodes) == 0 && q.compatibleWithGranted(r.lockMode, common.NilTxnID) {
		n.granted = true
		q.insertAfter(q.tail.prev, n)
		q.grantedNodes[r.txnID] = n
		return LockGranted
	}

	q.insertAfter(q.tail.prev, n)
	q.waitingNodes[r.txnID] = n
	return LockQueued
}

// Upgrade converts the granted request of r.txnID to r.lockMode. A sole
// holder is upgraded in place. Otherwise an upgrade request is queued right
// behind the granted prefix and behind earlier upgrade requests.
func (q *txnQueue) Upgrade(r TxnLockRequest, now common.Tick) LockStatus {
	cur, exists := q.grantedNodes[r.txnID]
	assert.Assert(
		exists,
		"transaction %v hasn't acquired item %d. request: %+v",
		r.txnID,
		q.itemID,
		r,
	)
	assert.Assert(
		cur.r.lockMode.Upgradable(r.lockMode),
		"can't upgrade %v to %v",
		cur.r.lockMode,
		r.lockMode,
	)
	_, isWaiting := q.waitingNodes[r.txnID]
	assert.Assert(!isWaiting, "transaction %v is already upgrading item %d", r.txnID, q.itemID)

	if len(q.grantedNodes) == 1 {
		cur.r.lockMode = r.lockMode
		return LockGranted
	}

	at := q.head
	for at.next != q.tail && (at.next.granted || at.next.upgrade) {
		at = at.next
	}

	n := &txnQueueEntry{r: r, upgrade: true, enqueuedAt: now}
	q.insertAfter(at, n)
	q.waitingNodes[r.txnID] = n

	return LockQueued
}

// Unlock drops every request of txnID and hands the item to the waiters
// that became grantable. Returns the transactions that were granted.
func (q *txnQueue) Unlock(txnID common.TxnID) []common.TxnID {
	n, present := q.grantedNodes[txnID]
	assert.Assert(present, "transaction %v doesn't hold item %d", txnID, q.itemID)

	q.remove(n)
	delete(q.grantedNodes, txnID)

	if w, isWaiting := q.waitingNodes[txnID]; isWaiting {
		q.remove(w)
		delete(q.waitingNodes, txnID)
	}

	return q.processBatch()
}

// Cancel withdraws the waiting request of txnID, if there is one.
func (q *txnQueue) Cancel(txnID common.TxnID) ([]common.TxnID, bool) {
	n, present := q.waitingNodes[txnID]
	if !present {
		return nil, false
	}

	q.remove(n)
	delete(q.waitingNodes, txnID)

	return q.processBatch(), true
}

// processBatch walks the waiting part of the queue in order and grants every
// request compatible with the granted set, stopping at the first one that
// isn't.
func (q *txnQueue) processBatch() []common.TxnID {
	var granted []common.TxnID

	for cur := q.head.next; cur != q.tail; cur = cur.next {
		if cur.granted {
			continue
		}

		if !q.compatibleWithGranted(cur.r.lockMode, cur.r.txnID) {
			break
		}

		if cur.upgrade {
			old := q.grantedNodes[cur.r.txnID]
			assert.Assert(old != nil, "upgrade request of %v without a granted lock", cur.r.txnID)
			q.remove(old)
			cur.upgrade = false
		}

		cur.granted = true
		delete(q.waitingNodes, cur.r.txnID)
		q.grantedNodes[cur.r.txnID] = cur
		granted = append(granted, cur.r.txnID)
	}

	return granted
}

// collectWaitForEdges reports waiter -> blocker for every waiting request
// and every earlier request of another transaction it conflicts with.
func (q *txnQueue) collectWaitForEdges(addEdge func(waiter, blocker common.TxnID)) {
	for w := q.head.next; w != q.tail; w = w.next {
		if w.granted {
			continue
		}

		for e := q.head.next; e != w; e = e.next {
			if e.r.txnID == w.r.txnID {
				continue
			}
			if !w.r.lockMode.Compatible(e.r.lockMode) {
				addEdge(w.r.txnID, e.r.txnID)
			}
		}
	}
}

func (q *txnQueue) Entries() []QueueEntry {
	res := make([]QueueEntry, 0, len(q.grantedNodes)+len(q.waitingNodes))
	for cur := q.head.next; cur != q.tail; cur = cur.next {
		res = append(res, QueueEntry{
			TxnID:      cur.r.txnID,
			Mode:       cur.r.lockMode,
			Granted:    cur.granted,
			Upgrade:    cur.upgrade,
			EnqueuedAt: cur.enqueuedAt,
		})
	}
	return res
}

func (q *txnQueue) GrantedModes() []LockMode {
	res := make([]LockMode, 0, len(q.grantedNodes))
	for cur := q.head.next; cur != q.tail && cur.granted; cur = cur.next {
		res = append(res, cur.r.lockMode)
	}
	return res
}

// checkInvariants panics if the granted requests are not a prefix of the
// queue or if granted modes conflict with each other.
func (q *txnQueue) checkInvariants() {
	seenWaiting := false
	exclusive := 0
	granted := 0
	for cur := q.head.next; cur != q.tail; cur = cur.next {
		assert.Assert(cur.next.prev == cur, "broken links on item %d", q.itemID)
		if !cur.granted {
			seenWaiting = true
			continue
		}
		assert.Assert(!seenWaiting, "granted request after a waiting one on item %d", q.itemID)
		granted++
		if cur.r.lockMode == LOCK_EXCLUSIVE {
			exclusive++
		}
	}

	assert.Assert(granted == len(q.grantedNodes), "granted index is out of sync on item %d", q.itemID)
	assert.Assert(
		exclusive == 0 || granted == 1,
		"item %d has %d granted requests with %d exclusive",
		q.itemID,
		granted,
		exclusive,
	)
}
