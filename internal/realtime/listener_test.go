package realtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestListenerJoinsAndDeliversChanges(t *testing.T) {
	joins := make(chan MessageFrame, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var join MessageFrame
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		joins <- join

		conn.WriteJSON(map[string]any{
			"topic": join.Topic,
			"event": EventReply,
			"payload": map[string]any{
				"status":   "ok",
				"response": map[string]any{},
			},
			"ref": join.Ref,
		})
		conn.WriteJSON(map[string]any{
			"topic": join.Topic,
			"event": "INSERT",
			"payload": map[string]any{
				"type":   "INSERT",
				"schema": "public",
				"table":  "conversations",
				"record": map[string]any{"id": 7, "query_text": "hello"},
			},
			"ref": "",
		})

		// Hold the socket open until the client hangs up.
		var discard MessageFrame
		conn.ReadJSON(&discard)
	}))
	defer srv.Close()

	changes := make(chan Change, 4)
	l, err := NewListener(wsURL(srv), "user-1", func(c Change) { changes <- c }, testLogger())
	require.NoError(t, err)
	l.Start(context.Background())
	defer l.Close()

	select {
	case join := <-joins:
		assert.Equal(t, EventJoin, join.Event)
		assert.Equal(t, "realtime:public:conversations:user_id=eq.user-1", join.Topic)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for phx_join")
	}

	select {
	case c := <-changes:
		assert.Equal(t, ChangeInsert, c.Type)
		assert.Equal(t, "conversations", c.Table)
		assert.Contains(t, string(c.Record), "hello")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
}

func TestListenerReconnectsAfterDrop(t *testing.T) {
	var conns int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		var join MessageFrame
		if err := conn.ReadJSON(&join); err != nil {
			conn.Close()
			return
		}

		if atomic.AddInt32(&conns, 1) == 1 {
			// Drop the first connection right after the join.
			conn.Close()
			return
		}
		defer conn.Close()

		conn.WriteJSON(map[string]any{
			"topic": join.Topic,
			"event": "DELETE",
			"payload": map[string]any{
				"type":       "DELETE",
				"schema":     "public",
				"table":      "conversations",
				"old_record": map[string]any{"id": 3},
			},
			"ref": "",
		})
		var discard MessageFrame
		conn.ReadJSON(&discard)
	}))
	defer srv.Close()

	changes := make(chan Change, 4)
	l, err := NewListener(wsURL(srv), "user-1", func(c Change) { changes <- c }, testLogger())
	require.NoError(t, err)
	l.backoff = 10 * time.Millisecond
	l.Start(context.Background())
	defer l.Close()

	select {
	case c := <-changes:
		assert.Equal(t, ChangeDelete, c.Type)
		assert.Contains(t, string(c.OldRecord), "3")
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not reconnect after drop")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&conns), int32(2))
}

func TestListenerCloseIsIdempotent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var discard MessageFrame
		conn.ReadJSON(&discard)
	}))
	defer srv.Close()

	l, err := NewListener(wsURL(srv), "user-1", func(Change) {}, testLogger())
	require.NoError(t, err)
	l.Start(context.Background())
	time.Sleep(50 * time.Millisecond)

	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}

func TestNewListenerRequiresHandlerAndLogger(t *testing.T) {
	if _, err := NewListener("ws://localhost", "u", nil, testLogger()); err == nil {
		t.Error("expected error for nil handler")
	}
	if _, err := NewListener("ws://localhost", "u", func(Change) {}, nil); err == nil {
		t.Error("expected error for nil logger")
	}
}
