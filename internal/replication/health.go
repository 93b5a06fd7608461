package replication

import (
	"sync"
	"time"
)

// downAfterFails marks a follower dead after this many consecutive
// failures (heartbeat or broadcast).
const downAfterFails = 3

// FollowerStatus is a point-in-time copy of one follower's health.
type FollowerStatus struct {
	URL      string    `json:"url"`
	Alive    bool      `json:"alive"`
	Fails    int       `json:"fails"`
	LastPing time.Time `json:"lastPing"`
	LagMs    int64     `json:"lagMs"`
}

// healthTable tracks per-follower delivery health. It is written only by
// the replication goroutines; readers get value copies.
type healthTable struct {
	mu        sync.Mutex
	followers map[string]*FollowerStatus
	order     []string
}

func newHealthTable(urls []string) *healthTable {
	h := &healthTable{followers: make(map[string]*FollowerStatus, len(urls))}
	for _, u := range urls {
		if _, ok := h.followers[u]; ok {
			continue
		}
		h.followers[u] = &FollowerStatus{URL: u, Alive: true}
		h.order = append(h.order, u)
	}
	return h
}

func (h *healthTable) recordSuccess(url string, rtt time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.followers[url]
	if !ok {
		return
	}
	f.Alive = true
	f.Fails = 0
	f.LastPing = time.Now()
	f.LagMs = rtt.Milliseconds()
}

func (h *healthTable) recordFailure(url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.followers[url]
	if !ok {
		return
	}
	f.Fails++
	if f.Fails >= downAfterFails {
		f.Alive = false
	}
}

func (h *healthTable) snapshot() []FollowerStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]FollowerStatus, 0, len(h.order))
	for _, u := range h.order {
		out = append(out, *h.followers[u])
	}
	return out
}
