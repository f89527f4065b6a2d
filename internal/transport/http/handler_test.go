package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cwrk-planet/coursechat-service/internal/domain"
	"github.com/cwrk-planet/coursechat-service/internal/gateway"
	"github.com/cwrk-planet/coursechat-service/internal/memstore"
	"github.com/cwrk-planet/coursechat-service/internal/registry"
	"github.com/cwrk-planet/coursechat-service/internal/rooms"
	chathttp "github.com/cwrk-planet/coursechat-service/internal/transport/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stats struct{ conns, rooms int }

func (s stats) Stats() (int, int) { return s.conns, s.rooms }

type env struct {
	srv   *httptest.Server
	gw    *gateway.Gateway
	reg   *registry.Registry
	rooms *rooms.Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	reg := registry.New(8)
	rm := rooms.NewManager(reg)
	gw := gateway.New(memstore.New(), gateway.Options{DefaultLimit: 2, MaxLimit: 3})

	h := chathttp.NewHandler(gw, rm, stats{conns: 3, rooms: 2})
	ws := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }
	srv := httptest.NewServer(chathttp.NewRouter(h, ws, chathttp.RouterOptions{}))
	t.Cleanup(srv.Close)
	return &env{srv: srv, gw: gw, reg: reg, rooms: rm}
}

func (e *env) get(t *testing.T, path string, auth bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+path, nil)
	require.NoError(t, err)
	if auth {
		req.Header.Set("Authorization", "Bearer token")
		req.Header.Set("X-User-ID", "alice")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	resp := e.get(t, "/healthz", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body := decode[chathttp.HealthResponse](t, resp)
	assert.Equal(t, chathttp.HealthResponse{Status: "ok", Connections: 3, Rooms: 2}, body)
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)
	resp := e.get(t, "/courses/C-1/messages", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWSRouteMounted(t *testing.T) {
	e := newEnv(t)
	resp := e.get(t, "/ws", false)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestHistory_PagesNewestFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		_, err := e.gw.Append(ctx, "C-1", "alice", text)
		require.NoError(t, err)
	}

	resp := e.get(t, "/courses/C-1/messages", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[chathttp.HistoryResponse](t, resp)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "three", page.Items[0].Content)
	assert.Equal(t, "two", page.Items[1].Content)
	assert.Equal(t, "alice", page.Items[0].SenderID)
	require.NotEmpty(t, page.NextCursor)

	resp = e.get(t, "/courses/C-1/messages?cursor="+page.NextCursor, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = decode[chathttp.HistoryResponse](t, resp)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "one", page.Items[0].Content)
	assert.Empty(t, page.NextCursor)
}

func TestHistory_Before(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first, err := e.gw.Append(ctx, "C-1", "alice", "old")
	require.NoError(t, err)
	_, err = e.gw.Append(ctx, "C-1", "alice", "new")
	require.NoError(t, err)

	before := first.CreatedAt.Add(time.Microsecond).Format(time.RFC3339Nano)
	resp := e.get(t, "/courses/C-1/messages?limit=10&before="+before, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[chathttp.HistoryResponse](t, resp)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "old", page.Items[0].Content)
}

func TestHistory_BadInput(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{
		"/courses/C-1/messages?limit=abc",
		"/courses/C-1/messages?before=yesterday",
		"/courses/C-1/messages?cursor=%21%21%21",
	} {
		resp := e.get(t, path, true)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		body := decode[chathttp.ErrorResponse](t, resp)
		assert.NotEmpty(t, body.Error, path)
	}
}

func TestPresence(t *testing.T) {
	e := newEnv(t)
	for _, id := range []string{"c1", "c2"} {
		_, err := e.reg.Register(id, "u-"+id)
		require.NoError(t, err)
		_, err = e.rooms.Join("C-1", id)
		require.NoError(t, err)
	}

	resp := e.get(t, "/courses/C-1/presence", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[domain.RoomPayload](t, resp)
	assert.Equal(t, domain.RoomPayload{CourseID: "C-1", ParticipantCount: 2}, body)

	resp = e.get(t, "/courses/C-2/presence", true)
	body = decode[domain.RoomPayload](t, resp)
	assert.Zero(t, body.ParticipantCount)
}
