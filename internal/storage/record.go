package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// WAL operation kinds. One record per line; the op discriminates the
// remaining fields.
const (
	OpPut = "put" // requires k and v
	OpDel = "del" // requires k
	OpClr = "clr" // no fields
	OpTTL = "ttl" // requires k and exp (absolute ms since epoch)
)

// ErrInvalidRecord means a WAL line is malformed or incomplete.
var ErrInvalidRecord = errors.New("invalid wal record")

// Record is the canonical durable representation of a single mutation.
// It mirrors logical operations rather than engine internals, so the
// store can be refactored without a WAL format change.
type Record struct {
	Op  string          `json:"op"`
	Key string          `json:"k,omitempty"`
	Val json.RawMessage `json:"v,omitempty"`
	Exp int64           `json:"exp,omitempty"`
}

// NewPut builds a put record, serialising the value to raw JSON.
func NewPut(key string, value any) (Record, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Record{}, fmt.Errorf("marshal value: %w", err)
	}
	return Record{Op: OpPut, Key: key, Val: raw}, nil
}

// NewDel builds a delete record.
func NewDel(key string) Record { return Record{Op: OpDel, Key: key} }

// NewClr builds a clear record.
func NewClr() Record { return Record{Op: OpClr} }

// NewTTL builds an expiry record with an absolute deadline in ms.
func NewTTL(key string, expMillis int64) Record {
	return Record{Op: OpTTL, Key: key, Exp: expMillis}
}

// EncodeRecord serialises a record into one newline-terminated JSON line.
// Validation happens here so a malformed record can never reach the log.
func EncodeRecord(rec Record) ([]byte, error) {
	if err := validate(rec); err != nil {
		return nil, err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return append(line, '\n'), nil
}

// DecodeRecord parses a single log line. Decoding is strict: unknown ops
// and missing required fields are rejected so replay can distinguish a
// torn tail from a valid record.
func DecodeRecord(line []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := validate(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func validate(rec Record) error {
	switch rec.Op {
	case OpPut:
		if rec.Key == "" || len(rec.Val) == 0 {
			return ErrInvalidRecord
		}
	case OpDel:
		if rec.Key == "" {
			return ErrInvalidRecord
		}
	case OpTTL:
		if rec.Key == "" || rec.Exp == 0 {
			return ErrInvalidRecord
		}
	case OpClr:
	default:
		return ErrInvalidRecord
	}
	return nil
}
