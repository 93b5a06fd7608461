package storage

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testPaths(t *testing.T) Paths {
	t.Helper()
	return Paths{Dir: t.TempDir(), Base: "store"}
}

func TestSnapshotRoundTrip(t *testing.T) {
	p := testPaths(t)
	data := map[string]any{
		"a": float64(1),
		"b": map[string]any{"nested": []any{"x", float64(2)}},
		"c": nil,
	}
	require.NoError(t, WriteSnapshot(p, data))

	state, err := LoadSnapshot(p, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, state.Degraded)
	if diff := cmp.Diff(data, state.Data); diff != "" {
		t.Fatalf("snapshot round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotAbsentIsEmpty(t *testing.T) {
	state, err := LoadSnapshot(testPaths(t), zap.NewNop())
	require.NoError(t, err)
	assert.False(t, state.Degraded)
	assert.Empty(t, state.Data)
}

func TestSnapshotOverwritesStaleTemp(t *testing.T) {
	p := testPaths(t)
	// Leftover from a crashed write attempt.
	require.NoError(t, os.WriteFile(p.Temp(), []byte("garbage"), 0o644))

	require.NoError(t, WriteSnapshot(p, map[string]any{"k": "v"}))
	state, err := LoadSnapshot(p, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "v", state.Data["k"])

	_, err = os.Stat(p.Temp())
	assert.True(t, os.IsNotExist(err), "tmp file must be consumed by the rename")
}

func TestCorruptSnapshotFallsBackToBackup(t *testing.T) {
	p := testPaths(t)
	require.NoError(t, WriteSnapshot(p, map[string]any{"good": float64(1)}))
	require.NoError(t, RotateBackups(p, 5, zap.NewNop()))

	// Corrupt the live snapshot.
	require.NoError(t, os.WriteFile(p.Snapshot(), []byte("{broken"), 0o644))

	state, err := LoadSnapshot(p, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, state.Degraded)
	assert.NotEmpty(t, state.RestoredFrom)
	assert.Equal(t, float64(1), state.Data["good"])

	// The intact backup was promoted back over the snapshot.
	again, err := LoadSnapshot(p, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, again.RestoredFrom)
	assert.Equal(t, float64(1), again.Data["good"])
}

func TestAllRecoveryPathsFailedStartsEmpty(t *testing.T) {
	p := testPaths(t)
	require.NoError(t, os.WriteFile(p.Snapshot(), []byte("{broken"), 0o644))

	state, err := LoadSnapshot(p, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, state.Degraded)
	assert.Empty(t, state.Data)
}

func TestBackupRotationKeepsNewest(t *testing.T) {
	p := testPaths(t)
	for i := 0; i < 4; i++ {
		require.NoError(t, WriteSnapshot(p, map[string]any{"i": float64(i)}))
		require.NoError(t, RotateBackups(p, 2, zap.NewNop()))
	}
	backups, err := p.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 2)

	// Newest backup holds the most recent pre-rotation state.
	data, err := readSnapshotFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, float64(3), data["i"])
}
