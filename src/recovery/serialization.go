package recovery

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-faster/jx"

	"github.com/Blackdeer1524/txnsim/src/pkg/common"
)

var ErrLogCorrupted = errors.New("log is corrupted")

const (
	fieldLSN    = "lsn"
	fieldType   = "type"
	fieldTxn    = "txn"
	fieldItem   = "item"
	fieldBefore = "before"
	fieldAfter  = "after"
)

// appendLogRecord encodes r as a single JSON line and appends it to dst.
func appendLogRecord(e *jx.Encoder, dst []byte, r LogRecord) []byte {
	e.Reset()
	e.ObjStart()
	e.FieldStart(fieldLSN)
	e.UInt64(uint64(r.LSN))
	e.FieldStart(fieldType)
	e.Str(r.Type.String())
	e.FieldStart(fieldTxn)
	e.UInt64(uint64(r.TxnID))
	if r.Type == TypeUpdate {
		e.FieldStart(fieldItem)
		e.UInt64(uint64(r.Item))
		e.FieldStart(fieldBefore)
		e.Int64(int64(r.Before))
		e.FieldStart(fieldAfter)
		e.Int64(int64(r.After))
	}
	e.ObjEnd()

	dst = append(dst, e.Bytes()...)
	return append(dst, '\n')
}

func (r LogRecord) MarshalText() ([]byte, error) {
	var e jx.Encoder
	return bytes.TrimSuffix(appendLogRecord(&e, nil, r), []byte{'\n'}), nil
}

func (r *LogRecord) UnmarshalText(data []byte) error {
	rec, err := decodeLogRecord(data)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

const (
	seenLSN = 1 << iota
	seenType
	seenTxn
	seenItem
	seenBefore
	seenAfter

	seenHeader = seenLSN | seenType | seenTxn
	seenUpdate = seenItem | seenBefore | seenAfter
)

func decodeLogRecord(data []byte) (LogRecord, error) {
	var (
		r    LogRecord
		seen int
	)

	d := jx.DecodeBytes(data)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var bit int
		switch string(key) {
		case fieldLSN:
			bit = seenLSN
			v, err := d.UInt64()
			if err != nil {
				return err
			}
			r.LSN = common.LSN(v)
		case fieldType:
			bit = seenType
			s, err := d.Str()
			if err != nil {
				return err
			}
			t, ok := parseTypeTag(s)
			if !ok {
				return fmt.Errorf("unknown record type %q", s)
			}
			r.Type = t
		case fieldTxn:
			bit = seenTxn
			v, err := d.UInt64()
			if err != nil {
				return err
			}
			r.TxnID = common.TxnID(v)
		case fieldItem:
			bit = seenItem
			v, err := d.UInt64()
			if err != nil {
				return err
			}
			r.Item = common.ItemID(v)
		case fieldBefore:
			bit = seenBefore
			v, err := d.Int64()
			if err != nil {
				return err
			}
			r.Before = common.Value(v)
		case fieldAfter:
			bit = seenAfter
			v, err := d.Int64()
			if err != nil {
				return err
			}
			r.After = common.Value(v)
		default:
			return fmt.Errorf("unexpected field %q", key)
		}

		if seen&bit != 0 {
			return fmt.Errorf("duplicate field %q", key)
		}
		seen |= bit
		return nil
	})
	if err != nil {
		return LogRecord{}, fmt.Errorf("%w: %w", ErrLogCorrupted, err)
	}

	if d.Next() != jx.Invalid {
		return LogRecord{}, fmt.Errorf("%w: trailing data after record", ErrLogCorrupted)
	}

	if seen&seenHeader != seenHeader {
		return LogRecord{}, fmt.Errorf("%w: missing lsn, type or txn", ErrLogCorrupted)
	}

	if r.TxnID == common.NilTxnID || r.LSN == common.NilLSN {
		return LogRecord{}, fmt.Errorf("%w: nil txn id or lsn", ErrLogCorrupted)
	}

	switch {
	case r.Type == TypeUpdate && seen&seenUpdate != seenUpdate:
		return LogRecord{}, fmt.Errorf("%w: update record without images", ErrLogCorrupted)
	case r.Type != TypeUpdate && seen&seenUpdate != 0:
		return LogRecord{}, fmt.Errorf("%w: %v record with update fields", ErrLogCorrupted, r.Type)
	}

	return r, nil
}

// decodeLog parses a whole log file. A missing newline after the last record
// is tolerated; an empty line anywhere else is not.
func decodeLog(data []byte) ([]LogRecord, error) {
	data = bytes.TrimSuffix(data, []byte{'\n'})
	if len(data) == 0 {
		return nil, nil
	}

	lines := bytes.Split(data, []byte{'\n'})
	records := make([]LogRecord, 0, len(lines))
	for i, line := range lines {
		r, err := decodeLogRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		records = append(records, r)
	}

	return records, nil
}
