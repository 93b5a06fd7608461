package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxRequestBody caps every request body at the router level.
const maxRequestBody = 10 << 20

// NewRouter assembles the gin engine: recovery first, request id,
// optional dev CORS, body cap, access log, then the routes.
func NewRouter(log *zap.Logger, h *Handler, dev bool) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestID())
	if dev {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  []string{"http://localhost:5173", "http://localhost:3000", "http://127.0.0.1:3000"},
			AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"X-Request-ID", "Content-Type"},
			ExposeHeaders: []string{"X-Request-ID"},
			MaxAge:        12 * time.Hour,
		}))
	}
	r.Use(BodyLimit(maxRequestBody))
	r.Use(AccessLog(log))

	r.GET("/api/ping", h.Ping)
	r.GET("/api/stats", h.Stats)
	r.GET("/api/status", h.Status)

	r.GET("/api/keys", h.ListKeys)
	r.DELETE("/api/keys", h.ClearKeys)
	r.GET("/api/keys/:key", h.GetKey)
	r.PUT("/api/keys/:key", h.PutKey)
	r.DELETE("/api/keys/:key", h.DeleteKey)

	r.POST("/api/query", h.Query)

	r.GET("/api/indexes", h.ListIndexes)
	r.POST("/api/indexes", h.CreateIndex)
	r.DELETE("/api/indexes/:field", h.DropIndex)

	r.POST("/api/collections/:name", h.InsertDocument)
	r.GET("/api/collections/:name", h.ListDocuments)
	r.POST("/api/collections/:name/find", h.FindDocuments)
	r.POST("/api/collections/:name/update", h.UpdateDocuments)
	r.POST("/api/collections/:name/remove", h.RemoveDocuments)
	r.PUT("/api/collections/:name/schema", h.SetCollectionSchema)
	r.DELETE("/api/collections/:name", h.DropCollection)

	r.GET("/api/watch/:key", h.WatchKey)

	r.POST("/replication/apply", h.ApplyReplicatedOp)
	r.POST("/replication/ping", h.ReplicationPing)

	return r
}
