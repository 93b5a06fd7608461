package replication

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturingFollower struct {
	mu   sync.Mutex
	ops  []Op
	srv  *httptest.Server
	fail bool
}

func newCapturingFollower(t *testing.T) *capturingFollower {
	t.Helper()
	f := &capturingFollower{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r.URL.Path == "/replication/apply" {
			var op Op
			if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.ops = append(f.ops, op)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *capturingFollower) received() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Op(nil), f.ops...)
}

func (f *capturingFollower) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestBroadcastReachesAllFollowers(t *testing.T) {
	f1 := newCapturingFollower(t)
	f2 := newCapturingFollower(t)

	b := NewBroadcaster(Config{
		NodeID:    "node-a",
		Followers: []string{f1.srv.URL, f2.srv.URL},
	}, zap.NewNop())
	defer b.Close()

	b.Enqueue(Op{Op: OpSet, Key: "x", Value: float64(1), Ts: 100, NodeID: "node-a"})
	b.Enqueue(Op{Op: OpDelete, Key: "x", Ts: 101, NodeID: "node-a"})

	waitFor(t, func() bool { return len(f1.received()) == 2 && len(f2.received()) == 2 })

	got := f1.received()
	assert.Equal(t, OpSet, got[0].Op)
	assert.Equal(t, "x", got[0].Key)
	assert.Equal(t, float64(1), got[0].Value)
	assert.Equal(t, OpDelete, got[1].Op, "per-follower delivery preserves enqueue order")

	for _, st := range b.Health() {
		assert.True(t, st.Alive)
		assert.Zero(t, st.Fails)
	}
}

func TestFailuresMarkFollowerDown(t *testing.T) {
	f := newCapturingFollower(t)
	f.setFail(true)

	b := NewBroadcaster(Config{
		NodeID:         "node-a",
		Followers:      []string{f.srv.URL},
		RequestTimeout: 500 * time.Millisecond,
	}, zap.NewNop())
	defer b.Close()

	for i := 0; i < downAfterFails; i++ {
		b.Enqueue(Op{Op: OpSet, Key: "k", Value: float64(i), Ts: int64(i), NodeID: "node-a"})
	}

	waitFor(t, func() bool {
		h := b.Health()
		return len(h) == 1 && !h[0].Alive
	})
	assert.GreaterOrEqual(t, b.Health()[0].Fails, downAfterFails)

	// Recovery: one success resets the table.
	f.setFail(false)
	b.Enqueue(Op{Op: OpSet, Key: "k", Value: float64(9), Ts: 9, NodeID: "node-a"})
	waitFor(t, func() bool {
		h := b.Health()
		return h[0].Alive && h[0].Fails == 0
	})
}

func TestHeartbeatUpdatesHealth(t *testing.T) {
	f := newCapturingFollower(t)

	b := NewBroadcaster(Config{
		NodeID:       "node-a",
		Followers:    []string{f.srv.URL},
		SyncInterval: 20 * time.Millisecond,
	}, zap.NewNop())
	defer b.Close()

	waitFor(t, func() bool {
		h := b.Health()
		return len(h) == 1 && !h[0].LastPing.IsZero()
	})
	require.True(t, b.Health()[0].Alive)
}

func TestUnreachableFollowerNeverBlocksEnqueue(t *testing.T) {
	b := NewBroadcaster(Config{
		NodeID:         "node-a",
		Followers:      []string{"http://127.0.0.1:1"}, // nothing listens here
		RequestTimeout: 100 * time.Millisecond,
	}, zap.NewNop())
	defer b.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.Enqueue(Op{Op: OpSet, Key: "k", Ts: int64(i), NodeID: "node-a"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a dead follower")
	}
}
