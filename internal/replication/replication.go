// Package replication fans durable mutations out from the primary to
// follower nodes and tracks follower health. Delivery is best-effort and
// eventually consistent: a follower that misses ops while down shows up
// in the health table but is not replayed (operator-driven resync).
package replication

import "time"

// Role of a node in the topology.
type Role string

const (
	RolePrimary Role = "primary"
	RoleReplica Role = "replica"
)

// Wire op names.
const (
	OpSet    = "set"
	OpDelete = "delete"
	OpClear  = "clear"
)

// Op is the wire shape of one replicated mutation.
type Op struct {
	Op     string `json:"op"`
	Key    string `json:"key"`
	Value  any    `json:"value,omitempty"`
	Ts     int64  `json:"ts"` // primary wall clock, ms since epoch
	NodeID string `json:"nodeId"`
}

// Conflict resolution strategies recorded in the conflict log.
const (
	StrategyLWWRemote = "lww_remote"
	StrategyCustom    = "custom"
)

// Resolver lets the host decide a conflict; the returned value wins.
type Resolver func(local, remote any, op Op) any

// Conflict is one entry of the bounded conflict log kept on a replica.
type Conflict struct {
	Key      string    `json:"key"`
	Strategy string    `json:"strategy"`
	LocalTs  int64     `json:"localTs"`
	RemoteTs int64     `json:"remoteTs"`
	NodeID   string    `json:"nodeId"`
	Local    any       `json:"local"`
	Remote   any       `json:"remote"`
	At       time.Time `json:"at"`
}

// ConflictLogCap bounds the persisted conflict log to the most recent
// entries.
const ConflictLogCap = 100

// Status is the replication view exposed through the status surface.
type Status struct {
	Role      Role             `json:"role"`
	NodeID    string           `json:"nodeId"`
	Followers []FollowerStatus `json:"followers"`
	Conflicts int              `json:"conflicts"`
}
