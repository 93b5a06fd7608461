package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keelworks/keeldb/internal/engine"
	"github.com/keelworks/keeldb/internal/replication"
	"github.com/keelworks/keeldb/pkg/jsonx"
)

// ApplyReplicatedOp is the follower-side ingest: the primary POSTs one
// op and a 2xx acknowledges its application.
func (h *Handler) ApplyReplicatedOp(c *gin.Context) {
	var op replication.Op
	if err := jsonx.ParseStrictBody(c.Request, &op); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}

	err := h.eng.ApplyOp(op)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"applied": true})
	case errors.Is(err, engine.ErrNotReplica):
		c.Error(err)
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
	case errors.Is(err, engine.ErrInternalKey):
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	default:
		h.writeEngineError(c, err)
	}
}

// ReplicationPing answers the primary's heartbeat with this node's
// identity and clock, so the primary can estimate lag.
func (h *Handler) ReplicationPing(c *gin.Context) {
	var ping replication.Op
	if err := jsonx.ParseStrictBody(c.Request, &ping); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}
	now := time.Now().UnixMilli()
	c.JSON(http.StatusOK, gin.H{
		"nodeId": h.eng.NodeID(),
		"role":   h.eng.Role(),
		"ts":     now,
		"lagMs":  now - ping.Ts,
	})
}
