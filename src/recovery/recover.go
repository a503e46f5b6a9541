package recovery

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Blackdeer1524/txnsim/src/pkg/common"
)

// Report summarizes one recovery run.
type Report struct {
	Records      int
	Transactions int
	MaxTxnID     common.TxnID
	Committed    int
	RolledBack   int
	// transactions without a terminal record, undone by this run
	Losers  []common.TxnID
	Redone  int
	Undone  int
	Archive string
}

// LastRecovery returns the report of the latest Recover call.
func (m *Manager) LastRecovery() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastRecovery
}

// Recover brings the database to a state containing exactly the effects of
// committed transactions. It replays the whole log in three passes:
// analysis finds the transactions and their outcome, redo reinstalls
// after-images of committed transactions in log order, undo restores
// before-images of unfinished ones in reverse log order and logs their
// rollback. Returns the largest transaction id found in the log.
func (m *Manager) Recover(ctx context.Context) (common.TxnID, error) {
	ctx, span := m.tracer.Start(ctx, "recovery.Recover")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	report, err := m.recoverLocked(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return common.NilTxnID, err
	}
	m.lastRecovery = report

	span.SetAttributes(
		attribute.Int("records", report.Records),
		attribute.Int("redone", report.Redone),
		attribute.Int("undone", report.Undone),
	)
	m.log.Infow(
		"recovery finished",
		"records", report.Records,
		"transactions", report.Transactions,
		"committed", report.Committed,
		"rolledBack", report.RolledBack,
		"losers", report.Losers,
		"redone", report.Redone,
		"undone", report.Undone,
		"maxTxnID", report.MaxTxnID,
	)

	return report.MaxTxnID, nil
}

func (m *Manager) recoverLocked(ctx context.Context) (Report, error) {
	if err := m.flushLocked(); err != nil {
		return Report{}, err
	}

	records, err := m.readLogFileLocked()
	if err != nil {
		return Report{}, err
	}

	att, err := m.analysis(ctx, records)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Records:      len(records),
		Transactions: att.Len(),
		MaxTxnID:     att.MaxTxnID(),
		Losers:       att.Losers(),
	}

	for _, id := range att.txnIDs() {
		e, _ := att.Get(id)
		m.txns[id] = txnEntry{state: e.state, startLSN: e.startLSN}
	}

	if report.Redone, err = m.redo(ctx, records, &att); err != nil {
		return Report{}, err
	}

	if report.Undone, err = m.undo(ctx, records, &att); err != nil {
		return Report{}, err
	}

	for _, id := range att.txnIDs() {
		e, _ := att.Get(id)
		switch e.state {
		case common.TxnCommitted:
			report.Committed++
		case common.TxnAborted:
			report.RolledBack++
		}
	}

	if err := m.store.Persist(); err != nil {
		return Report{}, fmt.Errorf("failed to persist recovered state: %w", err)
	}

	if !m.resetOnRecover {
		return report, nil
	}

	if m.archiveLogs {
		if report.Archive, err = m.archiveLocked(); err != nil {
			return Report{}, err
		}
	}

	if err := m.resetLocked(); err != nil {
		return Report{}, err
	}

	return report, nil
}

func (m *Manager) analysis(ctx context.Context, records []LogRecord) (ActiveTransactionsTable, error) {
	_, span := m.tracer.Start(ctx, "recovery.analysis")
	defer span.End()

	att := NewATT()
	maxLSN := common.NilLSN
	for iter := newForwardIter(records); iter.Move(); {
		r := iter.Record()
		if err := att.Insert(r); err != nil {
			err = fmt.Errorf("%w: line %d: %w", ErrLogCorrupted, iter.Line(), err)
			span.RecordError(err)
			return ActiveTransactionsTable{}, err
		}
		maxLSN = max(maxLSN, r.LSN)
	}

	// records appended from now on must not reuse sequence numbers of the
	// recovered log
	m.nextLSN = max(m.nextLSN, maxLSN+1)

	span.SetAttributes(attribute.Int("transactions", att.Len()))
	return att, nil
}

func (m *Manager) redo(
	ctx context.Context,
	records []LogRecord,
	att *ActiveTransactionsTable,
) (int, error) {
	_, span := m.tracer.Start(ctx, "recovery.redo")
	defer span.End()

	redone := 0
	for iter := newForwardIter(records); iter.Move(); {
		r := iter.Record()
		if r.Type != TypeUpdate {
			continue
		}
		if e, _ := att.Get(r.TxnID); e.state != common.TxnCommitted {
			continue
		}

		if err := m.store.Install(r.Item, r.After); err != nil {
			return redone, fmt.Errorf("redo of %v: %w", r, err)
		}
		redone++
	}

	span.SetAttributes(attribute.Int("redone", redone))
	return redone, nil
}

func (m *Manager) undo(
	ctx context.Context,
	records []LogRecord,
	att *ActiveTransactionsTable,
) (int, error) {
	_, span := m.tracer.Start(ctx, "recovery.undo", trace.WithAttributes(
		attribute.Int("losers", len(att.Losers())),
	))
	defer span.End()

	undone := 0
	for iter := newBackwardIter(records); iter.Move(); {
		r := iter.Record()
		e, _ := att.Get(r.TxnID)
		if e.state != common.TxnActive {
			continue
		}

		switch r.Type {
		case TypeUpdate:
			if err := m.store.Install(r.Item, r.Before); err != nil {
				return undone, fmt.Errorf("undo of %v: %w", r, err)
			}
			undone++
		case TypeStart:
			m.store.DiscardWrites(r.TxnID)
			if _, err := m.logRollbackLocked(r.TxnID); err != nil {
				return undone, err
			}
			att.MarkAborted(r.TxnID)
		}
	}

	span.SetAttributes(attribute.Int("undone", undone))
	return undone, nil
}
