package sim

import (
	"context"
	"fmt"

	"github.com/Blackdeer1524/txnsim/src/engine"
	"github.com/Blackdeer1524/txnsim/src/pkg/common"
	"github.com/Blackdeer1524/txnsim/src/pkg/optional"
	"github.com/Blackdeer1524/txnsim/src/pkg/utils"
	"github.com/Blackdeer1524/txnsim/src/txns"
)

type Engine interface {
	Begin() (common.TxnID, error)
	Read(txnID common.TxnID, item common.ItemID) (common.Value, txns.LockStatus, error)
	Write(txnID common.TxnID, item common.ItemID, value common.Value) (txns.LockStatus, error)
	Commit(txnID common.TxnID) error
	Rollback(txnID common.TxnID) error
	Tick(now common.Tick) ([]txns.Abort, error)
	Snapshot() []common.Value
	Items() int
}

var _ Engine = (*engine.Engine)(nil)

type txnProgress struct {
	issued  int
	pending optional.Optional[Op]
}

// Simulator drives random transactions through an engine in discrete
// cycles. A transaction blocked on a lock retries the same operation every
// cycle until it is granted or the transaction is aborted.
type Simulator struct {
	e   Engine
	w   Workload
	gen *generator
	log common.Logger

	active map[common.TxnID]*txnProgress
	report Report
}

func New(e Engine, w Workload, seed uint64, log common.Logger) *Simulator {
	return &Simulator{
		e:      e,
		w:      w,
		gen:    newGenerator(seed, w, e.Items()),
		log:    log,
		active: map[common.TxnID]*txnProgress{},
		report: newReport(),
	}
}

// Run executes the configured number of cycles. Transactions still running
// at the end are left unfinished, as if the process crashed. A cancelled
// context stops the run after the current cycle.
func (s *Simulator) Run(ctx context.Context) (Report, error) {
	for cycle := range s.w.Cycles {
		if err := ctx.Err(); err != nil {
			return s.finish(), err
		}

		if err := s.cycle(cycle); err != nil {
			return s.finish(), fmt.Errorf("cycle %d: %w", cycle, err)
		}
		s.report.Cycles++
	}

	return s.finish(), nil
}

func (s *Simulator) finish() Report {
	s.report.Unfinished = utils.SortedKeys(s.active)
	s.report.Snapshot = s.e.Snapshot()
	return s.report
}

func (s *Simulator) cycle(cycle int) error {
	if s.gen.shouldStart() {
		txnID, err := s.e.Begin()
		if err != nil {
			return err
		}
		s.active[txnID] = &txnProgress{pending: optional.None[Op]()}
		s.report.Started++
	}

	for _, txnID := range utils.SortedKeys(s.active) {
		if err := s.step(txnID, s.active[txnID]); err != nil {
			return err
		}
	}

	aborts, err := s.e.Tick(common.Tick(cycle + 1))
	for _, a := range aborts {
		delete(s.active, a.TxnID)
		s.report.Aborted[a.Reason.String()]++
		s.log.Debugw("transaction aborted", "txn", a.TxnID, "reason", a.Reason, "item", a.Item, "cycle", cycle)
	}
	return err
}

func (s *Simulator) step(txnID common.TxnID, p *txnProgress) error {
	if p.pending.IsSome() {
		granted, err := s.exec(txnID, p.pending.Unwrap())
		if err != nil {
			return err
		}
		if granted {
			p.pending = optional.None[Op]()
			p.issued++
		}
		return nil
	}

	if p.issued >= s.w.TxnSize {
		if err := s.e.Commit(txnID); err != nil {
			return err
		}
		delete(s.active, txnID)
		s.report.Committed++
		return nil
	}

	if s.gen.shouldRollback() {
		if err := s.e.Rollback(txnID); err != nil {
			return err
		}
		delete(s.active, txnID)
		s.report.Aborted[engine.AbortReasonRequested]++
		return nil
	}

	op := s.gen.nextOp()
	granted, err := s.exec(txnID, op)
	if err != nil {
		return err
	}
	if granted {
		p.issued++
	} else {
		p.pending = optional.Some(op)
		s.report.Waits++
	}

	return nil
}

func (s *Simulator) exec(txnID common.TxnID, op Op) (bool, error) {
	var (
		status txns.LockStatus
		err    error
	)

	switch op.Kind {
	case OpRead:
		_, status, err = s.e.Read(txnID, op.Item)
	case OpWrite:
		status, err = s.e.Write(txnID, op.Item, op.Value)
	}
	if err != nil {
		return false, fmt.Errorf("%v of item %d by %v: %w", op.Kind, op.Item, txnID, err)
	}

	if status != txns.LockGranted {
		return false, nil
	}

	switch op.Kind {
	case OpRead:
		s.report.Reads++
	case OpWrite:
		s.report.Writes++
	}
	return true, nil
}
