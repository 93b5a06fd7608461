// Package jsonx carries JSON helpers for the HTTP surface: a
// presence-tracking Field[T] for request bodies where "absent" and
// "null" mean different things, and a strict body decoder.
package jsonx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Field[T] tracks whether a key appeared in the payload:
//   - IsSet() == true  => the key existed, even as null
//   - Value() == nil   => the value was JSON null
type Field[T any] struct {
	set bool
	val *T
}

func (f Field[T]) IsSet() bool  { return f.set }
func (f Field[T]) IsNull() bool { return f.set && f.val == nil }
func (f Field[T]) Value() *T    { return f.val }

func (f *Field[T]) UnmarshalJSON(b []byte) error {
	if string(bytes.TrimSpace(b)) == "null" {
		f.set, f.val = true, nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	f.set, f.val = true, &v
	return nil
}

var (
	ErrEmptyBody    = errors.New("empty body")
	ErrTrailingJSON = errors.New("trailing data")
)

// maxBodyBytes caps request bodies read through ParseStrictBody.
const maxBodyBytes = 1 << 20

// ParseStrictBody reads and strictly decodes a JSON request body into
// dst: unknown fields, trailing values, empty and oversized bodies all
// fail. Every error maps to a 400 at the HTTP layer.
func ParseStrictBody[T any](r *http.Request, dst *T) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return ErrEmptyBody
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ErrTrailingJSON
	}
	return nil
}
