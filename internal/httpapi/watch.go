package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// watchNote is one watcher notification on the wire.
type watchNote struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
	Old   any    `json:"old"`
}

// watchBuffer bounds notifications queued per connection. The engine
// watcher must never block the writer, so a slow client loses
// notifications instead of stalling writes.
const watchBuffer = 64

// WatchKey upgrades to a WebSocket and streams watcher notifications
// for one key until the client disconnects.
func (h *Handler) WatchKey(c *gin.Context) {
	key := c.Param("key")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.Error(err)
		return
	}

	notes := make(chan watchNote, watchBuffer)
	id := h.eng.Watch(key, func(k string, old, val any) {
		select {
		case notes <- watchNote{Key: k, Value: val, Old: old}:
		default:
		}
	})
	defer func() {
		h.eng.Unwatch(key, id)
		conn.Close()
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case note := <-notes:
			if err := conn.WriteJSON(note); err != nil {
				h.log.Debug("watch stream closed", zap.String("key", key), zap.Error(err))
				return
			}
		case <-closed:
			return
		}
	}
}
