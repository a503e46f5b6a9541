package txns

import (
	"github.com/emirpasic/gods/maps/linkedhashmap"

	"github.com/Blackdeer1524/txnsim/src/pkg/common"
)

type blockedEntry struct {
	itemID   common.ItemID
	lockMode LockMode
	since    common.Tick
}

// blockedSet maps every waiting transaction to the request it waits on.
// Iteration follows the order in which transactions got blocked, so timeout
// sweeps abort the longest waiters first.
type blockedSet struct {
	m *linkedhashmap.Map
}

func newBlockedSet() *blockedSet {
	return &blockedSet{m: linkedhashmap.New()}
}

func (s *blockedSet) Put(txnID common.TxnID, e blockedEntry) {
	s.m.Put(txnID, e)
}

func (s *blockedSet) Get(txnID common.TxnID) (blockedEntry, bool) {
	v, ok := s.m.Get(txnID)
	if !ok {
		return blockedEntry{}, false
	}
	return v.(blockedEntry), true
}

func (s *blockedSet) Remove(txnID common.TxnID) {
	s.m.Remove(txnID)
}

func (s *blockedSet) Len() int {
	return s.m.Size()
}

func (s *blockedSet) Clear() {
	s.m.Clear()
}

func (s *blockedSet) Each(f func(txnID common.TxnID, e blockedEntry)) {
	s.m.Each(func(key, value interface{}) {
		f(key.(common.TxnID), value.(blockedEntry))
	})
}
