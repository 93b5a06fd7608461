package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	put, err := NewPut("user:1", map[string]any{"name": "ada", "age": float64(36)})
	require.NoError(t, err)

	for _, rec := range []Record{
		put,
		NewDel("user:1"),
		NewClr(),
		NewTTL("session", 1700000000000),
	} {
		line, err := EncodeRecord(rec)
		require.NoError(t, err)
		assert.Equal(t, byte('\n'), line[len(line)-1])

		got, err := DecodeRecord(line[:len(line)-1])
		require.NoError(t, err)
		assert.Equal(t, rec.Op, got.Op)
		assert.Equal(t, rec.Key, got.Key)
		assert.Equal(t, rec.Exp, got.Exp)
		assert.JSONEq(t, orEmpty(rec.Val), orEmpty(got.Val))
	}
}

func orEmpty(raw []byte) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}

func TestEncodeRejectsInvalid(t *testing.T) {
	cases := []Record{
		{Op: "put", Key: "k"},          // missing value
		{Op: "del"},                    // missing key
		{Op: "ttl", Key: "k"},          // missing expiry
		{Op: "bump", Key: "k"},         // unknown op
		{},                             // empty
	}
	for _, rec := range cases {
		_, err := EncodeRecord(rec)
		assert.ErrorIs(t, err, ErrInvalidRecord, "record %+v", rec)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, line := range []string{
		`{"op":"put","k":"a","v":1`, // torn tail
		`not json at all`,
		`{"op":"nope","k":"a"}`,
	} {
		_, err := DecodeRecord([]byte(line))
		assert.Error(t, err, "line %q", line)
	}
}
