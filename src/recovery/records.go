package recovery

import (
	"fmt"

	"github.com/Blackdeer1524/txnsim/src/pkg/common"
)

type LogRecordTypeTag byte

const (
	TypeStart    LogRecordTypeTag = 'S'
	TypeUpdate   LogRecordTypeTag = 'F'
	TypeCommit   LogRecordTypeTag = 'C'
	TypeRollback LogRecordTypeTag = 'R'
)

func (t LogRecordTypeTag) String() string {
	switch t {
	case TypeStart, TypeUpdate, TypeCommit, TypeRollback:
		return string(rune(t))
	}
	return fmt.Sprintf("LogRecordTypeTag(%d)", byte(t))
}

func parseTypeTag(s string) (LogRecordTypeTag, bool) {
	if len(s) != 1 {
		return 0, false
	}

	switch t := LogRecordTypeTag(s[0]); t {
	case TypeStart, TypeUpdate, TypeCommit, TypeRollback:
		return t, true
	}
	return 0, false
}

// LogRecord is one entry of the write-ahead log. Item, Before and After are
// meaningful only for TypeUpdate records.
type LogRecord struct {
	LSN    common.LSN
	Type   LogRecordTypeTag
	TxnID  common.TxnID
	Item   common.ItemID
	Before common.Value
	After  common.Value
}

func NewStartLogRecord(lsn common.LSN, txnID common.TxnID) LogRecord {
	return LogRecord{LSN: lsn, Type: TypeStart, TxnID: txnID}
}

func NewUpdateLogRecord(
	lsn common.LSN,
	txnID common.TxnID,
	item common.ItemID,
	before common.Value,
	after common.Value,
) LogRecord {
	return LogRecord{
		LSN:    lsn,
		Type:   TypeUpdate,
		TxnID:  txnID,
		Item:   item,
		Before: before,
		After:  after,
	}
}

func NewCommitLogRecord(lsn common.LSN, txnID common.TxnID) LogRecord {
	return LogRecord{LSN: lsn, Type: TypeCommit, TxnID: txnID}
}

func NewRollbackLogRecord(lsn common.LSN, txnID common.TxnID) LogRecord {
	return LogRecord{LSN: lsn, Type: TypeRollback, TxnID: txnID}
}

func (r LogRecord) String() string {
	if r.Type == TypeUpdate {
		return fmt.Sprintf(
			"#%d %v %v item=%d before=%d after=%d",
			r.LSN,
			r.Type,
			r.TxnID,
			r.Item,
			r.Before,
			r.After,
		)
	}
	return fmt.Sprintf("#%d %v %v", r.LSN, r.Type, r.TxnID)
}
