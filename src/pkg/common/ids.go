package common

import "strconv"

// TxnID is a monotonically increasing counter. It is unique between
// transactions of one database, including across restarts: recovery hands
// back the largest id found in the log so allocation resumes above it.
type TxnID uint64

const NilTxnID TxnID = 0

func (id TxnID) String() string {
	return "T" + strconv.FormatUint(uint64(id), 10)
}

// ItemID indexes a data item slot of the database.
type ItemID uint64

type Value int64

// LSN is the sequence number of a log record. It is considered NIL iff it is NilLSN.
type LSN uint64

const NilLSN LSN = 0

// Tick is a point of the logical clock the simulation advances once per cycle.
type Tick uint64

type TxnState byte

const (
	TxnActive TxnState = iota
	TxnCommitted
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnActive:
		return "active"
	case TxnCommitted:
		return "committed"
	case TxnAborted:
		return "aborted"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}
