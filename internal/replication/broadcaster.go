package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultRequestTimeout bounds one broadcast or heartbeat request.
	DefaultRequestTimeout = 5 * time.Second
	// DefaultSyncInterval is the heartbeat period.
	DefaultSyncInterval = 10 * time.Second

	// queueDepth bounds the in-flight op queue. Ops beyond it are dropped
	// with a warning; the follower shows the gap through health/lag and
	// is resynced by the operator (buffered replay is a non-goal).
	queueDepth = 1024
)

// Config wires a Broadcaster.
type Config struct {
	NodeID         string
	Followers      []string
	RequestTimeout time.Duration
	SyncInterval   time.Duration
}

// Broadcaster is the primary-side fan-out. Ops are enqueued from the
// engine's writer critical section (a non-blocking hand-off that
// preserves write order) and dispatched by a single goroutine, one op at
// a time, to every follower concurrently.
type Broadcaster struct {
	log    *zap.Logger
	nodeID string
	cfg    Config

	client *http.Client
	queue  chan Op
	health *healthTable

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewBroadcaster starts the dispatch and heartbeat loops.
func NewBroadcaster(cfg Config, log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	followers := make([]string, 0, len(cfg.Followers))
	for _, u := range cfg.Followers {
		followers = append(followers, strings.TrimRight(u, "/"))
	}
	cfg.Followers = followers

	b := &Broadcaster{
		log:    log.Named("replication"),
		nodeID: cfg.NodeID,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		queue:  make(chan Op, queueDepth),
		health: newHealthTable(followers),
		done:   make(chan struct{}),
	}

	b.wg.Add(2)
	go b.dispatchLoop()
	go b.heartbeatLoop()
	return b
}

// Enqueue hands one op to the dispatcher. Never blocks the caller: when
// the queue is full the op is dropped and the gap is visible in health.
func (b *Broadcaster) Enqueue(op Op) {
	select {
	case b.queue <- op:
	default:
		b.log.Warn("broadcast queue full; dropping op",
			zap.String("op", op.Op),
			zap.String("key", op.Key),
		)
	}
}

// Followers returns the configured follower URLs.
func (b *Broadcaster) Followers() []string { return b.cfg.Followers }

// Health returns a copy of the follower health table.
func (b *Broadcaster) Health() []FollowerStatus { return b.health.snapshot() }

// Close drains nothing: pending queued ops are abandoned, consistent
// with the at-most-once delivery model.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

func (b *Broadcaster) dispatchLoop() {
	defer b.wg.Done()
	for {
		select {
		case op := <-b.queue:
			b.fanOut(op)
		case <-b.done:
			return
		}
	}
}

// fanOut posts one op to every follower concurrently and waits for all
// attempts. Failures update health only; the write path is already done.
func (b *Broadcaster) fanOut(op Op) {
	g, ctx := errgroup.WithContext(context.Background())
	for _, follower := range b.cfg.Followers {
		follower := follower
		g.Go(func() error {
			start := time.Now()
			if err := b.post(ctx, follower+"/replication/apply", op); err != nil {
				b.health.recordFailure(follower)
				b.log.Warn("broadcast failed",
					zap.String("follower", follower),
					zap.String("key", op.Key),
					zap.Error(err),
				)
				return nil // one slow follower must not cancel the rest
			}
			b.health.recordSuccess(follower, time.Since(start))
			return nil
		})
	}
	_ = g.Wait()
}

func (b *Broadcaster) heartbeatLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.pingAll()
		case <-b.done:
			return
		}
	}
}

func (b *Broadcaster) pingAll() {
	g, ctx := errgroup.WithContext(context.Background())
	for _, follower := range b.cfg.Followers {
		follower := follower
		g.Go(func() error {
			start := time.Now()
			ping := Op{Op: "ping", Ts: start.UnixMilli(), NodeID: b.nodeID}
			if err := b.post(ctx, follower+"/replication/ping", ping); err != nil {
				b.health.recordFailure(follower)
				return nil
			}
			b.health.recordSuccess(follower, time.Since(start))
			return nil
		})
	}
	_ = g.Wait()
}

// post sends one JSON object; any non-2xx status is a failure.
func (b *Broadcaster) post(ctx context.Context, url string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("follower returned %d", resp.StatusCode)
	}
	return nil
}
