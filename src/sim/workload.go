package sim

import (
	"math/rand/v2"

	"github.com/Blackdeer1524/txnsim/src/pkg/common"
)

const maxWrittenValue = 1000

type OpKind uint8

const (
	OpRead OpKind = iota
	OpWrite
)

func (k OpKind) String() string {
	if k == OpRead {
		return "read"
	}
	return "write"
}

// Op is one operation a transaction issues against a data item.
type Op struct {
	Kind  OpKind
	Item  common.ItemID
	Value common.Value
}

type Workload struct {
	Cycles       int
	TxnSize      int
	StartProb    float64
	WriteProb    float64
	RollbackProb float64
}

// generator owns every random decision of a simulation, so one seed
// reproduces a whole run.
type generator struct {
	rng   *rand.Rand
	w     Workload
	items int
}

func newGenerator(seed uint64, w Workload, items int) *generator {
	return &generator{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		w:     w,
		items: items,
	}
}

func (g *generator) shouldStart() bool {
	return g.rng.Float64() < g.w.StartProb
}

func (g *generator) shouldRollback() bool {
	return g.rng.Float64() < g.w.RollbackProb
}

func (g *generator) nextOp() Op {
	item := common.ItemID(g.rng.IntN(g.items))
	if g.rng.Float64() < g.w.WriteProb {
		return Op{Kind: OpWrite, Item: item, Value: common.Value(g.rng.IntN(maxWrittenValue))}
	}
	return Op{Kind: OpRead, Item: item}
}
