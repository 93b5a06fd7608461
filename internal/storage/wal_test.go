package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func walPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "store.log")
}

func TestWALAppendAndReplay(t *testing.T) {
	path := walPath(t)
	w, err := OpenWAL(path, zap.NewNop())
	require.NoError(t, err)

	put, err := NewPut("a", float64(1))
	require.NoError(t, err)
	require.NoError(t, w.Append(put))
	require.NoError(t, w.Append(NewTTL("a", 1234)))
	require.NoError(t, w.Append(NewDel("a")))
	require.NoError(t, w.Close())

	var got []Record
	require.NoError(t, ReplayWAL(path, zap.NewNop(), func(rec Record) error {
		got = append(got, rec)
		return nil
	}))
	require.Len(t, got, 3)
	assert.Equal(t, OpPut, got[0].Op)
	assert.Equal(t, OpTTL, got[1].Op)
	assert.Equal(t, OpDel, got[2].Op)
}

func TestWALReplayMissingFile(t *testing.T) {
	err := ReplayWAL(filepath.Join(t.TempDir(), "nope.log"), zap.NewNop(), func(Record) error {
		t.Fatal("apply must not be called")
		return nil
	})
	assert.NoError(t, err)
}

func TestWALReplaySkipsTornTail(t *testing.T) {
	path := walPath(t)
	w, err := OpenWAL(path, zap.NewNop())
	require.NoError(t, err)
	put, err := NewPut("a", "one")
	require.NoError(t, err)
	require.NoError(t, w.Append(put))
	require.NoError(t, w.Close())

	// Simulate a crash mid-append: a partial record with no closing brace.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"op":"put","k":"b","v":"tw`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var keys []string
	require.NoError(t, ReplayWAL(path, zap.NewNop(), func(rec Record) error {
		keys = append(keys, rec.Key)
		return nil
	}))
	assert.Equal(t, []string{"a"}, keys)
}

func TestWALTruncate(t *testing.T) {
	path := walPath(t)
	w, err := OpenWAL(path, zap.NewNop())
	require.NoError(t, err)
	put, err := NewPut("a", float64(1))
	require.NoError(t, err)
	require.NoError(t, w.Append(put))

	require.NoError(t, w.Truncate())
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	// The log stays usable after truncation.
	put2, err := NewPut("b", float64(2))
	require.NoError(t, err)
	require.NoError(t, w.Append(put2))
	require.NoError(t, w.Close())

	var got []Record
	require.NoError(t, ReplayWAL(path, zap.NewNop(), func(rec Record) error {
		got = append(got, rec)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Key)
}

func TestWALAppendAfterClose(t *testing.T) {
	w, err := OpenWAL(walPath(t), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close()) // idempotent

	put, err := NewPut("a", float64(1))
	require.NoError(t, err)
	assert.ErrorIs(t, w.Append(put), ErrWALClosed)
}

func TestWALConcurrentAppendsAllSurvive(t *testing.T) {
	path := walPath(t)
	w, err := OpenWAL(path, zap.NewNop())
	require.NoError(t, err)

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for g := 0; g < writers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				put, err := NewPut("k", map[string]any{"g": g, "i": i})
				if err == nil {
					_ = w.Append(put)
				}
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	count := 0
	require.NoError(t, ReplayWAL(path, zap.NewNop(), func(rec Record) error {
		var v map[string]any
		require.NoError(t, json.Unmarshal(rec.Val, &v))
		count++
		return nil
	}))
	assert.Equal(t, writers*perWriter, count)
}
