package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.eng.Stats())
}

func (h *Handler) Status(c *gin.Context) {
	st := h.eng.ReplicationStatus()
	c.JSON(http.StatusOK, gin.H{
		"role":      st.Role,
		"nodeId":    st.NodeID,
		"followers": st.Followers,
		"conflicts": st.Conflicts,
		"degraded":  h.eng.Degraded(),
		"size":      h.eng.Len(),
	})
}
