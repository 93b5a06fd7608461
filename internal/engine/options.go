package engine

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keelworks/keeldb/internal/replication"
)

// Defaults applied by Options.withDefaults.
const (
	DefaultCacheLimit      = 1000
	DefaultSaveInterval    = 30 * time.Second
	DefaultSweepInterval   = 10 * time.Second
	DefaultBackupRetention = 5
)

// Options configures an Engine. The zero value plus Dir/Base is usable.
type Options struct {
	// Dir and Base locate the on-disk artifacts (<Base>.json, <Base>.log, ...).
	Dir  string
	Base string

	// CacheLimit bounds the hot cache (entries). Default 1000.
	CacheLimit int
	// SaveInterval is the snapshot compaction period. Default 30s;
	// negative disables periodic compaction.
	SaveInterval time.Duration
	// SweepInterval is the TTL sweep period. Default 10s.
	SweepInterval time.Duration
	// BackupRetention bounds rotated snapshot backups. Default 5.
	BackupRetention int

	// Role selects primary (default) or replica behaviour.
	Role replication.Role
	// NodeID identifies this process in replication traffic. A random
	// UUID is generated when empty.
	NodeID string
	// Followers are replica base URLs; primary only.
	Followers []string
	// SyncInterval is the heartbeat period. Default 10s.
	SyncInterval time.Duration
	// RequestTimeout bounds one broadcast/heartbeat request. Default 5s.
	RequestTimeout time.Duration
	// OnConflict, when set, decides replica write conflicts. Otherwise
	// last-writer-wins with the remote preferred.
	OnConflict replication.Resolver

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Base == "" {
		o.Base = "keeldb"
	}
	if o.CacheLimit <= 0 {
		o.CacheLimit = DefaultCacheLimit
	}
	if o.SaveInterval == 0 {
		o.SaveInterval = DefaultSaveInterval
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.BackupRetention <= 0 {
		o.BackupRetention = DefaultBackupRetention
	}
	if o.Role == "" {
		o.Role = replication.RolePrimary
	}
	if o.NodeID == "" {
		o.NodeID = uuid.New().String()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// SetOption refines one Set call.
type SetOption func(*setConfig)

type setConfig struct {
	ttl   time.Duration
	has   bool
	event string
}

// WithTTL gives the key a time-to-live. Zero or negative makes the key
// eligible for deletion at the next sweep.
func WithTTL(ttl time.Duration) SetOption {
	return func(c *setConfig) {
		c.ttl = ttl
		c.has = true
	}
}

// WithEvent overrides the event type emitted for this write. Types
// outside the taxonomy fall back to "set".
func WithEvent(event string) SetOption {
	return func(c *setConfig) {
		c.event = event
	}
}
