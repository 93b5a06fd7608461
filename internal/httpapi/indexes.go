package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keelworks/keeldb/internal/index"
	"github.com/keelworks/keeldb/pkg/jsonx"
)

type createIndexReq struct {
	Field string `json:"field"`
	Kind  string `json:"kind"`
}

func (h *Handler) CreateIndex(c *gin.Context) {
	var req createIndexReq
	if err := jsonx.ParseStrictBody(c.Request, &req); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}
	if req.Field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "field is required"})
		return
	}

	err := h.eng.CreateIndex(c.Request.Context(), req.Field, index.Kind(req.Kind))
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"field": req.Field, "kind": req.Kind})
	case errors.Is(err, index.ErrIndexExists):
		c.Error(err)
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
	case errors.Is(err, index.ErrUnsupportedKind):
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	default:
		h.writeEngineError(c, err)
	}
}

func (h *Handler) DropIndex(c *gin.Context) {
	err := h.eng.DropIndex(c.Param("field"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"dropped": c.Param("field")})
	case errors.Is(err, index.ErrIndexNotFound):
		c.Error(err)
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
	default:
		h.writeEngineError(c, err)
	}
}

func (h *Handler) ListIndexes(c *gin.Context) {
	infos := h.eng.ListIndexes()
	if infos == nil {
		infos = []index.Info{}
	}
	c.JSON(http.StatusOK, gin.H{"indexes": infos})
}
