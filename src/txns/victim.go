package txns

import (
	"fmt"
	"math/rand/v2"

	"github.com/Blackdeer1524/txnsim/src/pkg/assert"
	"github.com/Blackdeer1524/txnsim/src/pkg/common"
)

const (
	PolicyFewestLocks = "fewest-locks"
	PolicyYoungest    = "youngest"
	PolicyRandom      = "random"
)

type LockStats interface {
	HeldLockCount(txnID common.TxnID) int
}

// VictimPolicy picks the transaction to abort in order to break a deadlock.
type VictimPolicy interface {
	Name() string
	SelectVictim(cycle []common.TxnID, stats LockStats) common.TxnID
}

// FewestLocksPolicy aborts the transaction holding the fewest locks, which
// is the cheapest one to undo. Ties go to the youngest transaction.
type FewestLocksPolicy struct{}

func (FewestLocksPolicy) Name() string { return PolicyFewestLocks }

func (FewestLocksPolicy) SelectVictim(cycle []common.TxnID, stats LockStats) common.TxnID {
	assert.Assert(len(cycle) > 0, "empty deadlock cycle")

	victim := cycle[0]
	fewest := stats.HeldLockCount(victim)
	for _, txnID := range cycle[1:] {
		held := stats.HeldLockCount(txnID)
		if held < fewest || (held == fewest && txnID > victim) {
			victim = txnID
			fewest = held
		}
	}
	return victim
}

// YoungestPolicy aborts the most recently started transaction.
type YoungestPolicy struct{}

func (YoungestPolicy) Name() string { return PolicyYoungest }

func (YoungestPolicy) SelectVictim(cycle []common.TxnID, _ LockStats) common.TxnID {
	assert.Assert(len(cycle) > 0, "empty deadlock cycle")

	victim := cycle[0]
	for _, txnID := range cycle[1:] {
		victim = max(victim, txnID)
	}
	return victim
}

type RandomPolicy struct {
	rng *rand.Rand
}

func NewRandomPolicy(seed uint64) *RandomPolicy {
	return &RandomPolicy{rng: rand.New(rand.NewPCG(seed, seed))}
}

func (*RandomPolicy) Name() string { return PolicyRandom }

func (p *RandomPolicy) SelectVictim(cycle []common.TxnID, _ LockStats) common.TxnID {
	assert.Assert(len(cycle) > 0, "empty deadlock cycle")
	return cycle[p.rng.IntN(len(cycle))]
}

func NewVictimPolicy(name string, seed uint64) (VictimPolicy, error) {
	switch name {
	case PolicyFewestLocks, "":
		return FewestLocksPolicy{}, nil
	case PolicyYoungest:
		return YoungestPolicy{}, nil
	case PolicyRandom:
		return NewRandomPolicy(seed), nil
	}
	return nil, fmt.Errorf("unknown victim policy %q", name)
}
