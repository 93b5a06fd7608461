package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/keelworks/keeldb/internal/engine"
	"github.com/keelworks/keeldb/pkg/jsonx"
)

// putKeyReq is the PUT /api/keys/:key body. Value presence is tracked
// so a stored null is distinguishable from a missing field.
type putKeyReq struct {
	Value jsonx.Field[any] `json:"value"`
	TTLMs jsonx.Field[int64] `json:"ttl_ms"`
}

func (h *Handler) GetKey(c *gin.Context) {
	key := c.Param("key")
	v, ok := h.eng.Get(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": v})
}

func (h *Handler) PutKey(c *gin.Context) {
	key := c.Param("key")

	var req putKeyReq
	if err := jsonx.ParseStrictBody(c.Request, &req); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}
	if !req.Value.IsSet() {
		c.JSON(http.StatusBadRequest, gin.H{"message": "value is required"})
		return
	}
	var value any
	if req.Value.Value() != nil {
		value = *req.Value.Value()
	}

	var opts []engine.SetOption
	if req.TTLMs.IsSet() && req.TTLMs.Value() != nil {
		opts = append(opts, engine.WithTTL(time.Duration(*req.TTLMs.Value())*time.Millisecond))
	}
	if err := h.eng.Set(key, value, opts...); err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

func (h *Handler) DeleteKey(c *gin.Context) {
	key := c.Param("key")
	ok, err := h.eng.Delete(key)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": key})
}

func (h *Handler) ListKeys(c *gin.Context) {
	all := h.eng.All()
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

func (h *Handler) ClearKeys(c *gin.Context) {
	if err := h.eng.Clear(); err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// writeEngineError maps engine sentinels onto HTTP statuses.
func (h *Handler) writeEngineError(c *gin.Context, err error) {
	c.Error(err)
	switch {
	case errors.Is(err, engine.ErrReplicaReadOnly):
		c.JSON(http.StatusForbidden, gin.H{"message": err.Error()})
	case errors.Is(err, engine.ErrVetoed):
		c.JSON(http.StatusForbidden, gin.H{"message": err.Error()})
	case errors.Is(err, engine.ErrNotReady), errors.Is(err, engine.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
	}
}
