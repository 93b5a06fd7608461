package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keelworks/keeldb/internal/collection"
	"github.com/keelworks/keeldb/pkg/jsonx"
)

func (h *Handler) InsertDocument(c *gin.Context) {
	var doc map[string]any
	if err := jsonx.ParseStrictBody(c.Request, &doc); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}

	stored, err := h.coll(c.Param("name")).Insert(doc)
	if err != nil {
		h.writeCollectionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

func (h *Handler) ListDocuments(c *gin.Context) {
	docs, err := h.coll(c.Param("name")).Find(nil)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

type findReq struct {
	Filter collection.Filter `json:"filter"`
}

func (h *Handler) FindDocuments(c *gin.Context) {
	var req findReq
	if err := jsonx.ParseStrictBody(c.Request, &req); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}
	docs, err := h.coll(c.Param("name")).Find(req.Filter)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

type updateReq struct {
	Filter collection.Filter `json:"filter"`
	Change map[string]any    `json:"change"`
	Many   bool              `json:"many"`
}

func (h *Handler) UpdateDocuments(c *gin.Context) {
	var req updateReq
	if err := jsonx.ParseStrictBody(c.Request, &req); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}
	if len(req.Change) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "change is required"})
		return
	}

	coll := h.coll(c.Param("name"))
	var (
		updated int
		err     error
	)
	if req.Many {
		updated, err = coll.UpdateMany(req.Filter, req.Change)
	} else {
		updated, err = coll.Update(req.Filter, req.Change)
	}
	if err != nil {
		h.writeCollectionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

type removeReq struct {
	Filter collection.Filter `json:"filter"`
	Many   bool              `json:"many"`
}

func (h *Handler) RemoveDocuments(c *gin.Context) {
	var req removeReq
	if err := jsonx.ParseStrictBody(c.Request, &req); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}

	coll := h.coll(c.Param("name"))
	var (
		removed int
		err     error
	)
	if req.Many {
		removed, err = coll.RemoveMany(req.Filter)
	} else {
		removed, err = coll.Remove(req.Filter)
	}
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *Handler) DropCollection(c *gin.Context) {
	if err := h.coll(c.Param("name")).Drop(); err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dropped": c.Param("name")})
}

func (h *Handler) SetCollectionSchema(c *gin.Context) {
	var schema collection.Schema
	if err := jsonx.ParseStrictBody(c.Request, &schema); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}
	if err := h.coll(c.Param("name")).SetSchema(schema); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema": "installed"})
}

// writeCollectionError adds the 422 mapping for validation failures on
// top of the engine mapping.
func (h *Handler) writeCollectionError(c *gin.Context, err error) {
	var verr *collection.ValidationError
	if errors.As(err, &verr) {
		c.Error(err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"message": verr.Error(),
			"field":   verr.Field,
			"rule":    verr.Rule,
		})
		return
	}
	h.writeEngineError(c, err)
}
