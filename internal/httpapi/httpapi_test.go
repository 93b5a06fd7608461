package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keelworks/keeldb/internal/engine"
	"github.com/keelworks/keeldb/internal/replication"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, role replication.Role) (*engine.Engine, *gin.Engine) {
	t.Helper()
	eng := engine.New(engine.Options{
		Dir:    t.TempDir(),
		Role:   role,
		Logger: zap.NewNop(),
	})
	require.NoError(t, eng.Init())
	t.Cleanup(func() { _ = eng.Close() })
	return eng, NewRouter(zap.NewNop(), NewHandler(zap.NewNop(), eng), false)
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestKeyRoundTrip(t *testing.T) {
	_, r := newTestServer(t, replication.RolePrimary)

	w := doJSON(t, r, http.MethodPut, "/api/keys/greeting", gin.H{"value": "hello"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/api/keys/greeting", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", decode(t, w)["value"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = doJSON(t, r, http.MethodDelete, "/api/keys/greeting", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/keys/greeting", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(t, r, http.MethodDelete, "/api/keys/greeting", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutKeyBodyValidation(t *testing.T) {
	_, r := newTestServer(t, replication.RolePrimary)

	// Missing value field.
	w := doJSON(t, r, http.MethodPut, "/api/keys/k", gin.H{"ttl_ms": 1000})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Explicit null is a legal stored value.
	w = doJSON(t, r, http.MethodPut, "/api/keys/k", gin.H{"value": nil})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = doJSON(t, r, http.MethodGet, "/api/keys/k", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode(t, w)["value"])

	// Unknown fields are rejected.
	req := httptest.NewRequest(http.MethodPut, "/api/keys/k", strings.NewReader(`{"value":1,"surprise":2}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAndClearKeys(t *testing.T) {
	_, r := newTestServer(t, replication.RolePrimary)
	for _, k := range []string{"b", "a", "c"} {
		w := doJSON(t, r, http.MethodPut, "/api/keys/"+k, gin.H{"value": k})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(t, r, http.MethodGet, "/api/keys", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(3), body["count"])
	assert.Equal(t, []any{"a", "b", "c"}, body["keys"])

	w = doJSON(t, r, http.MethodDelete, "/api/keys", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodGet, "/api/keys", nil)
	assert.Equal(t, float64(0), decode(t, w)["count"])
}

func TestQueryEndpoint(t *testing.T) {
	eng, r := newTestServer(t, replication.RolePrimary)
	for i, name := range []string{"ada", "brian", "carol"} {
		require.NoError(t, eng.Set("u:"+name, map[string]any{"name": name, "rank": float64(i)}))
	}

	w := doJSON(t, r, http.MethodPost, "/api/query", gin.H{
		"field": "rank", "op": ">=", "value": 1,
		"sort":  gin.H{"field": "rank", "direction": "desc"},
		"limit": 1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])
	matches := body["matches"].([]any)
	first := matches[0].(map[string]any)
	assert.Equal(t, "u:carol", first["key"])

	w = doJSON(t, r, http.MethodPost, "/api/query", gin.H{"op": "="})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCollectionEndpoints(t *testing.T) {
	_, r := newTestServer(t, replication.RolePrimary)

	w := doJSON(t, r, http.MethodPut, "/api/collections/users/schema", gin.H{
		"name": gin.H{"type": "string", "required": true, "min": 2},
		"role": gin.H{"type": "string", "enum": []string{"admin", "user"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/api/collections/users", gin.H{"name": "A"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "min", decode(t, w)["rule"])

	w = doJSON(t, r, http.MethodPost, "/api/collections/users", gin.H{"name": "Al", "role": "user"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "users::1", decode(t, w)["_id"])

	w = doJSON(t, r, http.MethodPost, "/api/collections/users", gin.H{"name": "Bea", "role": "admin"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/collections/users", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["count"])

	w = doJSON(t, r, http.MethodPost, "/api/collections/users/find", gin.H{
		"filter": gin.H{"role": "admin"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Equal(t, float64(1), body["count"])
	doc := body["documents"].([]any)[0].(map[string]any)
	assert.Equal(t, "Bea", doc["name"])

	w = doJSON(t, r, http.MethodPost, "/api/collections/users/update", gin.H{
		"filter": gin.H{"name": "Al"},
		"change": gin.H{"$set": gin.H{"role": "admin"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["updated"])

	w = doJSON(t, r, http.MethodPost, "/api/collections/users/remove", gin.H{
		"filter": gin.H{},
		"many":   true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["removed"])

	w = doJSON(t, r, http.MethodDelete, "/api/collections/users", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIndexEndpoints(t *testing.T) {
	eng, r := newTestServer(t, replication.RolePrimary)
	require.NoError(t, eng.Set("d:1", map[string]any{"group": "a"}))

	w := doJSON(t, r, http.MethodPost, "/api/indexes", gin.H{"field": "group", "kind": "hash"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/api/indexes", gin.H{"field": "group", "kind": "hash"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/indexes", gin.H{"field": "x", "kind": "btree"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/indexes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["indexes"], 1)

	w = doJSON(t, r, http.MethodDelete, "/api/indexes/group", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodDelete, "/api/indexes/group", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReplicaSurface(t *testing.T) {
	eng, r := newTestServer(t, replication.RoleReplica)

	// Public writes are refused on a replica.
	w := doJSON(t, r, http.MethodPut, "/api/keys/k", gin.H{"value": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Replicated ops land through the inbound endpoint.
	w = doJSON(t, r, http.MethodPost, "/replication/apply", replication.Op{
		Op: replication.OpSet, Key: "k", Value: "v", Ts: time.Now().UnixMilli(), NodeID: "p",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v, ok := eng.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	w = doJSON(t, r, http.MethodPost, "/replication/apply", replication.Op{
		Op: replication.OpSet, Key: "_internal", Value: 1, Ts: 1, NodeID: "p",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/replication/ping", replication.Op{
		Op: "ping", Ts: time.Now().UnixMilli(), NodeID: "p",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, eng.NodeID(), decode(t, w)["nodeId"])
}

func TestApplyRejectedOnPrimary(t *testing.T) {
	_, r := newTestServer(t, replication.RolePrimary)
	w := doJSON(t, r, http.MethodPost, "/replication/apply", replication.Op{
		Op: replication.OpSet, Key: "k", Value: 1, Ts: 1, NodeID: "x",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStatsAndStatus(t *testing.T) {
	eng, r := newTestServer(t, replication.RolePrimary)
	require.NoError(t, eng.Set("k", "v"))
	eng.Get("k")

	w := doJSON(t, r, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.Equal(t, float64(1), stats["writes"])
	assert.Equal(t, float64(1), stats["size"])

	w = doJSON(t, r, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Equal(t, "primary", status["role"])
	assert.Equal(t, eng.NodeID(), status["nodeId"])

	w = doJSON(t, r, http.MethodGet, "/api/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWatchStreamsOverWebSocket(t *testing.T) {
	eng, r := newTestServer(t, replication.RolePrimary)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/watch/stock"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	// The watcher is registered during the upgrade handler; give the
	// server a beat before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, eng.Set("stock", float64(10)))
	require.NoError(t, eng.Set("stock", float64(7)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second watchNote
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))

	assert.Equal(t, "stock", first.Key)
	assert.Equal(t, float64(10), first.Value)
	assert.Nil(t, first.Old)
	assert.Equal(t, float64(7), second.Value)
	assert.Equal(t, float64(10), second.Old)
}
