package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts ServerOptions) (*httptest.Server, *Registry) {
	t.Helper()
	registry := NewRegistry(nil)
	server := httptest.NewServer(NewServer(registry, opts).Handler())
	t.Cleanup(server.Close)
	return server, registry
}

func decodeSnapshot(t *testing.T, resp *http.Response) Snapshot {
	t.Helper()
	defer resp.Body.Close()
	var snap Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	return snap
}

func put(t *testing.T, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestCreateGetAndSetOverHTTP(t *testing.T) {
	server, _ := newTestServer(t, ServerOptions{})

	resp, err := http.Post(server.URL+"/sessions", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeSnapshot(t, resp)
	require.NotEmpty(t, created.Session)
	assert.Equal(t, "", created.Values[TextKey])

	resp = put(t, server.URL+"/sessions/"+created.Session+"/keys/text", `{"value":"print(1)"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeSnapshot(t, resp)
	assert.Equal(t, "print(1)", updated.Values[TextKey])
	assert.Greater(t, updated.Version, created.Version)

	resp, err = http.Get(server.URL + "/sessions/" + created.Session)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, updated, decodeSnapshot(t, resp))
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	server, _ := newTestServer(t, ServerOptions{})

	resp, err := http.Get(server.URL + "/sessions/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = put(t, server.URL+"/sessions/nope/keys/text", `{"value":"x"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSetRejectsMissingValue(t *testing.T) {
	server, registry := newTestServer(t, ServerOptions{})
	s, err := registry.Create(context.Background())
	require.NoError(t, err)

	for _, body := range []string{`{}`, `not json`} {
		resp := put(t, server.URL+"/sessions/"+s.ID()+"/keys/text", body)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestRateLimitAnswersTooManyRequests(t *testing.T) {
	server, _ := newTestServer(t, ServerOptions{RateLimit: 0.001, RateBurst: 1})

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRateLimitSkipsKeyWrites(t *testing.T) {
	server, registry := newTestServer(t, ServerOptions{RateLimit: 0.001, RateBurst: 1})
	s, err := registry.Create(context.Background())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		resp := put(t, server.URL+"/sessions/"+s.ID()+"/keys/text", `{"value":"x"}`)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, i)
	}
}

func TestRateLimitIsPerClient(t *testing.T) {
	limiters := newClientLimiters(1, 2)
	now := time.Now()

	assert.True(t, limiters.allow("10.0.0.1", now))
	assert.True(t, limiters.allow("10.0.0.1", now))
	assert.False(t, limiters.allow("10.0.0.1", now))
	assert.True(t, limiters.allow("10.0.0.2", now))
	assert.Equal(t, 2, limiters.count())

	later := now.Add(limiterIdle + time.Second)
	assert.True(t, limiters.allow("10.0.0.2", later))
	assert.Equal(t, 1, limiters.count())
}

func TestWatchStreamsSnapshots(t *testing.T) {
	server, registry := newTestServer(t, ServerOptions{})
	s, err := registry.Create(context.Background())
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/sessions/" + s.ID() + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var initial Snapshot
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, s.ID(), initial.Session)

	_, err = s.Set(TextKey, "hello")
	require.NoError(t, err)

	var next Snapshot
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "hello", next.Values[TextKey])

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return s.Watchers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatchUnknownSession(t *testing.T) {
	server, _ := newTestServer(t, ServerOptions{})

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/sessions/nope/watch"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDocumentDownload(t *testing.T) {
	server, registry := newTestServer(t, ServerOptions{})
	s, err := registry.Create(context.Background())
	require.NoError(t, err)
	_, err = s.Set(TextKey, "abc")
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/sessions/" + s.ID() + "/document")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
}
