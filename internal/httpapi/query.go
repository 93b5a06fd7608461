package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keelworks/keeldb/pkg/jsonx"
)

// queryReq is the POST /api/query body: one clause plus optional
// pipeline steps.
type queryReq struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`

	Sort  jsonx.Field[sortSpec] `json:"sort"`
	Limit jsonx.Field[int]      `json:"limit"`
	Skip  jsonx.Field[int]      `json:"skip"`
}

type sortSpec struct {
	Field     string `json:"field"`
	Direction string `json:"direction"` // asc (default) or desc
}

func (h *Handler) Query(c *gin.Context) {
	var req queryReq
	if err := jsonx.ParseStrictBody(c.Request, &req); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}
	if req.Field == "" || req.Op == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "field and op are required"})
		return
	}

	res, err := h.eng.Where(req.Field, req.Op, req.Value)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	if s := req.Sort.Value(); s != nil {
		res = res.Sort(s.Field, s.Direction)
	}
	if v := req.Skip.Value(); v != nil {
		res = res.Skip(*v)
	}
	if v := req.Limit.Value(); v != nil {
		res = res.Limit(*v)
	}

	c.JSON(http.StatusOK, gin.H{
		"matches": res.Matches(),
		"count":   res.Count(),
	})
}
