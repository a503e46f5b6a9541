package recovery

import (
	"github.com/Blackdeer1524/txnsim/src/pkg/assert"
)

// LogRecordsIter walks decoded log records in either direction. A fresh
// iterator is positioned before the first (or after the last) record, so
// the first Move call yields the first record of the walk.
type LogRecordsIter struct {
	records  []LogRecord
	pos      int
	backward bool
}

func newForwardIter(records []LogRecord) *LogRecordsIter {
	return &LogRecordsIter{records: records, pos: -1}
}

func newBackwardIter(records []LogRecord) *LogRecordsIter {
	return &LogRecordsIter{records: records, pos: len(records), backward: true}
}

// Move advances the iterator. Returns false once the records are exhausted.
func (iter *LogRecordsIter) Move() bool {
	if iter.backward {
		if iter.pos > 0 {
			iter.pos--
			return true
		}
		iter.pos = -1
		return false
	}

	if iter.pos+1 < len(iter.records) {
		iter.pos++
		return true
	}
	iter.pos = len(iter.records)
	return false
}

func (iter *LogRecordsIter) Record() LogRecord {
	assert.Assert(
		iter.pos >= 0 && iter.pos < len(iter.records),
		"LogIter invariant violated. position: %d, records: %d",
		iter.pos,
		len(iter.records),
	)
	return iter.records[iter.pos]
}

// Line is the 1-based line of the current record in the log file.
func (iter *LogRecordsIter) Line() int {
	return iter.pos + 1
}
