package txns

import (
	"fmt"
	"maps"
	"sync"

	"github.com/google/btree"

	"github.com/Blackdeer1524/txnsim/src/pkg/assert"
	"github.com/Blackdeer1524/txnsim/src/pkg/common"
	"github.com/Blackdeer1524/txnsim/src/pkg/utils"
)

const lockTableDegree = 32

// Manager is a strict two-phase lock manager. Lock requests never block the
// caller: a request that can't be granted is queued and the caller polls by
// repeating it. Waiting requests are aborted by deadlock detection or by the
// timeout sweep.
type Manager struct {
	mu sync.Mutex

	// lock table ordered by item id
	qs *btree.BTreeG[*txnQueue]

	// granted locks of every transaction
	lockedItems map[common.TxnID]map[common.ItemID]LockMode
	blocked     *blockedSet

	policy     VictimPolicy
	rollbacker common.ITxnRollbacker
	clock      func() common.Tick
	log        common.Logger
}

var _ common.ILockReleaser = (*Manager)(nil)

type Option func(*Manager)

func WithVictimPolicy(p VictimPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithClock sets the source of the block-start time of queued requests.
func WithClock(clock func() common.Tick) Option {
	return func(m *Manager) { m.clock = clock }
}

func WithLogger(log common.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func WithRollbacker(r common.ITxnRollbacker) Option {
	return func(m *Manager) { m.rollbacker = r }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		qs: btree.NewG(lockTableDegree, func(a, b *txnQueue) bool {
			return a.itemID < b.itemID
		}),
		lockedItems: map[common.TxnID]map[common.ItemID]LockMode{},
		blocked:     newBlockedSet(),
		policy:      FewestLocksPolicy{},
		clock:       func() common.Tick { return 0 },
		log:         common.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetRollbacker wires the component that undoes aborted transactions. The
// recovery manager needs the lock manager to be built first, hence the setter.
func (m *Manager) SetRollbacker(r common.ITxnRollbacker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollbacker = r
}

func (m *Manager) queue(itemID common.ItemID) (*txnQueue, bool) {
	return m.qs.Get(&txnQueue{itemID: itemID})
}

func (m *Manager) queueOrCreate(itemID common.ItemID) *txnQueue {
	q, ok := m.queue(itemID)
	if !ok {
		q = newTxnQueue(itemID)
		m.qs.ReplaceOrInsert(q)
	}
	return q
}

func (m *Manager) dropIfEmpty(q *txnQueue) {
	if q.IsEmpty() {
		m.qs.Delete(q)
	}
}

// onGranted records locks the queue of itemID handed over to waiters.
func (m *Manager) onGranted(q *txnQueue, granted []common.TxnID) {
	for _, txnID := range granted {
		n := q.grantedNodes[txnID]
		m.recordLock(txnID, q.itemID, n.r.lockMode)
		m.blocked.Remove(txnID)

		m.log.Debugw(
			"lock granted to a waiter",
			"txn", txnID,
			"item", q.itemID,
			"mode", n.r.lockMode,
		)
	}
}

func (m *Manager) recordLock(txnID common.TxnID, itemID common.ItemID, mode LockMode) {
	held, ok := m.lockedItems[txnID]
	if !ok {
		held = map[common.ItemID]LockMode{}
		m.lockedItems[txnID] = held
	}
	held[itemID] = mode
}

// Acquire requests a lock of the given mode on an item. Repeating a request
// is safe: a held lock that covers mode is reported as granted and a request
// that is still waiting is reported as queued.
func (m *Manager) Acquire(
	txnID common.TxnID,
	itemID common.ItemID,
	mode LockMode,
) LockStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queueOrCreate(itemID)
	if _, waiting := q.waitingNodes[txnID]; waiting {
		return LockQueued
	}

	if e, isBlocked := m.blocked.Get(txnID); isBlocked {
		assert.Unreachable(
			"transaction %v requested item %d while waiting for item %d",
			txnID,
			itemID,
			e.itemID,
		)
	}

	r := NewTxnLockRequest(txnID, itemID, mode)
	now := m.clock()

	var status LockStatus
	if held, ok := m.lockedItems[txnID][itemID]; ok {
		if held.Covers(mode) {
			return LockGranted
		}
		status = q.Upgrade(r, now)
	} else {
		status = q.Lock(r, now)
	}

	if status == LockGranted {
		m.recordLock(txnID, itemID, mode)
		return LockGranted
	}

	m.blocked.Put(txnID, blockedEntry{itemID: itemID, lockMode: mode, since: now})
	m.log.Debugw("lock request queued", "txn", txnID, "item", itemID, "mode", mode)

	return LockQueued
}

// Release drops the granted lock of txnID on itemID. Reports false if the
// transaction didn't hold it.
func (m *Manager) Release(txnID common.TxnID, itemID common.ItemID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.lockedItems[txnID]
	if !ok {
		return false
	}
	if _, ok := held[itemID]; !ok {
		return false
	}

	q, present := m.queue(itemID)
	assert.Assert(present, "no lock queue for item %d locked by %v", itemID, txnID)

	if e, isBlocked := m.blocked.Get(txnID); isBlocked && e.itemID == itemID {
		m.blocked.Remove(txnID)
	}

	delete(held, itemID)
	if len(held) == 0 {
		delete(m.lockedItems, txnID)
	}

	m.onGranted(q, q.Unlock(txnID))
	m.dropIfEmpty(q)

	return true
}

// ReleaseAllLocks drops every granted lock of txnID and withdraws its waiting
// request. Calling it for a transaction without locks is a no-op.
func (m *Manager) ReleaseAllLocks(txnID common.TxnID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.releaseAllLocked(txnID)
}

func (m *Manager) releaseAllLocked(txnID common.TxnID) {
	m.cancelWaitLocked(txnID)

	held := m.lockedItems[txnID]
	delete(m.lockedItems, txnID)

	for _, itemID := range utils.SortedKeys(held) {
		q, present := m.queue(itemID)
		assert.Assert(present, "no lock queue for item %d locked by %v", itemID, txnID)

		m.onGranted(q, q.Unlock(txnID))
		m.dropIfEmpty(q)
	}

	if len(held) > 0 {
		m.log.Debugw("released all locks", "txn", txnID, "count", len(held))
	}
}

func (m *Manager) cancelWaitLocked(txnID common.TxnID) {
	e, isBlocked := m.blocked.Get(txnID)
	if !isBlocked {
		return
	}
	m.blocked.Remove(txnID)

	q, present := m.queue(e.itemID)
	assert.Assert(present, "no lock queue for item %d awaited by %v", e.itemID, txnID)

	granted, ok := q.Cancel(txnID)
	assert.Assert(ok, "%v is blocked on item %d but has no waiting request", txnID, e.itemID)

	m.onGranted(q, granted)
	m.dropIfEmpty(q)
}

func (m *Manager) buildWaitForGraph() *waitForGraph {
	g := newWaitForGraph()
	m.qs.Ascend(func(q *txnQueue) bool {
		q.collectWaitForEdges(g.AddEdge)
		return true
	})
	return g
}

// DetectDeadlocks rebuilds the wait-for graph from the lock table and
// returns its cycles. An empty result means there is no deadlock.
func (m *Manager) DetectDeadlocks() [][]common.TxnID {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.buildWaitForGraph().FindCycles()
}

type lockStats struct {
	m *Manager
}

func (s lockStats) HeldLockCount(txnID common.TxnID) int {
	return len(s.m.lockedItems[txnID])
}

// ResolveDeadlock aborts one transaction of the cycle chosen by the victim
// policy.
func (m *Manager) ResolveDeadlock(cycle []common.TxnID) (Abort, error) {
	assert.Assert(len(cycle) > 0, "empty deadlock cycle")

	m.mu.Lock()
	victim := m.policy.SelectVictim(cycle, lockStats{m})
	e, ok := m.blocked.Get(victim)
	m.mu.Unlock()
	assert.Assert(ok, "deadlock victim %v is not blocked", victim)

	m.log.Infow(
		"deadlock detected",
		"cycle", cycle,
		"victim", victim,
		"policy", m.policy.Name(),
	)

	if err := m.abort(victim); err != nil {
		return Abort{}, err
	}
	return Abort{TxnID: victim, Reason: AbortDeadlock, Item: e.itemID}, nil
}

// ResolveDeadlocks aborts victims until the wait-for graph is acyclic.
func (m *Manager) ResolveDeadlocks() ([]Abort, error) {
	var aborts []Abort
	for {
		cycles := m.DetectDeadlocks()
		if len(cycles) == 0 {
			return aborts, nil
		}

		a, err := m.ResolveDeadlock(cycles[0])
		if err != nil {
			return aborts, err
		}
		aborts = append(aborts, a)
	}
}

// HandleTimeouts aborts every transaction that has been waiting for more
// than timeout ticks. With a zero timeout any wait of a tick or more
// expires.
func (m *Manager) HandleTimeouts(now common.Tick, timeout common.Tick) ([]Abort, error) {
	type candidate struct {
		txnID common.TxnID
		entry blockedEntry
	}

	var expired []candidate
	m.mu.Lock()
	m.blocked.Each(func(txnID common.TxnID, e blockedEntry) {
		if now > e.since && now-e.since > timeout {
			expired = append(expired, candidate{txnID: txnID, entry: e})
		}
	})
	m.mu.Unlock()

	var aborts []Abort
	for _, c := range expired {
		m.mu.Lock()
		e, stillBlocked := m.blocked.Get(c.txnID)
		m.mu.Unlock()

		// an earlier abort of this sweep may have granted the request
		if !stillBlocked || e != c.entry {
			continue
		}

		m.log.Infow(
			"lock wait timed out",
			"txn", c.txnID,
			"item", e.itemID,
			"waited", now-e.since,
		)

		if err := m.abort(c.txnID); err != nil {
			return aborts, err
		}
		aborts = append(aborts, Abort{TxnID: c.txnID, Reason: AbortTimeout, Item: e.itemID})
	}

	return aborts, nil
}

func (m *Manager) abort(txnID common.TxnID) error {
	m.mu.Lock()
	m.cancelWaitLocked(txnID)
	rollbacker := m.rollbacker
	m.mu.Unlock()

	if rollbacker != nil {
		if err := rollbacker.RollbackTransaction(txnID); err != nil {
			return fmt.Errorf("failed to abort %v: %w", txnID, err)
		}
	}

	m.ReleaseAllLocks(txnID)
	return nil
}

// Close drops the whole lock table.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.log.Debugw(
		"closing lock manager",
		"queues", m.qs.Len(),
		"lockHolders", len(m.lockedItems),
		"blocked", m.blocked.Len(),
	)

	m.qs.Clear(false)
	m.lockedItems = map[common.TxnID]map[common.ItemID]LockMode{}
	m.blocked.Clear()
}

func (m *Manager) HeldLocks(txnID common.TxnID) map[common.ItemID]LockMode {
	m.mu.Lock()
	defer m.mu.Unlock()

	return maps.Clone(m.lockedItems[txnID])
}

func (m *Manager) HeldLockCount(txnID common.TxnID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.lockedItems[txnID])
}

// Holds reports whether txnID holds a lock on itemID that covers mode.
func (m *Manager) Holds(txnID common.TxnID, itemID common.ItemID, mode LockMode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.lockedItems[txnID][itemID]
	return ok && held.Covers(mode)
}

func (m *Manager) IsBlocked(txnID common.TxnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.blocked.Get(txnID)
	return ok
}

func (m *Manager) WaitingFor(txnID common.TxnID) (common.ItemID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.blocked.Get(txnID)
	return e.itemID, ok
}

func (m *Manager) BlockedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.blocked.Len()
}

func (m *Manager) GrantedModes(itemID common.ItemID) []LockMode {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queue(itemID)
	if !ok {
		return nil
	}
	return q.GrantedModes()
}

func (m *Manager) QueueOf(itemID common.ItemID) []QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queue(itemID)
	if !ok {
		return nil
	}
	return q.Entries()
}

func (m *Manager) checkInvariants() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.qs.Ascend(func(q *txnQueue) bool {
		q.checkInvariants()
		for txnID, n := range q.grantedNodes {
			held, ok := m.lockedItems[txnID][q.itemID]
			assert.Assert(
				ok && held == n.r.lockMode,
				"lock index of %v is out of sync on item %d",
				txnID,
				q.itemID,
			)
		}
		return true
	})
}
