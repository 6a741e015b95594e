// Package realtime subscribes to database changes over the Supabase
// realtime websocket so the history list tracks edits made elsewhere.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ChangeType identifies the row operation behind a change event.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change is one database row change on the subscribed table.
type Change struct {
	Type      ChangeType
	Table     string
	Record    json.RawMessage
	OldRecord json.RawMessage
}

// Handler receives changes from the listener goroutine. It must not
// block.
type Handler func(Change)

// Listener maintains a subscription to the conversations table of one
// user, reconnecting with backoff when the socket drops.
type Listener struct {
	url     string
	topic   string
	handler Handler
	logger  *slog.Logger

	heartbeat time.Duration
	backoff   time.Duration
	ref       int32

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}
}

// NewListener creates a listener for one user's conversation rows. The
// url is the realtime websocket endpoint including the apikey query.
func NewListener(url, userID string, handler Handler, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	return &Listener{
		url:       url,
		topic:     fmt.Sprintf("realtime:public:conversations:user_id=eq.%s", userID),
		handler:   handler,
		logger:    logger,
		heartbeat: 25 * time.Second,
		backoff:   time.Second,
		done:      make(chan struct{}),
	}, nil
}

// Start runs the subscription until ctx is canceled or Close is
// called. It returns immediately; connection failures are retried in
// the background.
func (l *Listener) Start(ctx context.Context) {
	go l.run(ctx)
}

// Close tears the subscription down.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	close(l.done)

	if l.conn != nil {
		l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		l.conn.Close()
	}

	l.logger.Info("closed realtime listener", "topic", l.topic)
	return nil
}

func (l *Listener) run(ctx context.Context) {
	const maxBackoff = 30 * time.Second
	backoff := l.backoff

	for {
		if err := l.connect(ctx); err != nil {
			l.logger.Warn("realtime connect failed", "error", err, "retry_in", backoff)
			if !l.wait(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = l.backoff
		err := l.listen(ctx)
		if l.isClosed() || ctx.Err() != nil {
			return
		}
		l.logger.Warn("realtime connection lost", "error", err, "retry_in", backoff)
		if !l.wait(ctx, backoff) {
			return
		}
	}
}

// connect dials the socket and joins the channel topic.
func (l *Listener) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to realtime socket: %w", err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		conn.Close()
		return fmt.Errorf("listener is closed")
	}
	l.conn = conn
	l.mu.Unlock()

	join := PushFrame{
		Topic:   l.topic,
		Event:   EventJoin,
		Payload: struct{}{},
		Ref:     l.nextRef(),
	}
	if err := l.write(join); err != nil {
		conn.Close()
		return fmt.Errorf("failed to join channel: %w", err)
	}

	l.logger.Info("joined realtime channel", "topic", l.topic)
	return nil
}

// listen reads frames until the connection fails. A heartbeat loop
// keeps the socket alive for as long as the read loop runs.
func (l *Listener) listen(ctx context.Context) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go l.heartbeatLoop(conn, stop)

	for {
		// A healthy channel replies to every heartbeat, so a socket
		// silent past two intervals is dead.
		conn.SetReadDeadline(time.Now().Add(2 * l.heartbeat))
		var frame MessageFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("failed to read frame: %w", err)
		}

		switch frame.Event {
		case EventReply:
			var reply ReplyPayload
			if err := json.Unmarshal(frame.Payload, &reply); err != nil {
				l.logger.Warn("malformed phx_reply", "error", err)
				continue
			}
			if reply.Status != "ok" {
				l.logger.Warn("channel push rejected",
					"topic", frame.Topic, "response", string(reply.Response))
			}
		case EventError, EventClose:
			return fmt.Errorf("channel terminated: %s", frame.Event)
		case string(ChangeInsert), string(ChangeUpdate), string(ChangeDelete):
			if frame.Topic != l.topic {
				continue
			}
			var change ChangePayload
			if err := json.Unmarshal(frame.Payload, &change); err != nil {
				l.logger.Warn("malformed change payload", "error", err)
				continue
			}
			l.logger.Debug("database change", "type", frame.Event, "table", change.Table)
			l.handler(Change{
				Type:      ChangeType(frame.Event),
				Table:     change.Table,
				Record:    change.Record,
				OldRecord: change.OldRecord,
			})
		}
	}
}

func (l *Listener) heartbeatLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(l.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-l.done:
			return
		case <-ticker.C:
			beat := PushFrame{
				Topic:   TopicPhoenix,
				Event:   EventHeartbeat,
				Payload: struct{}{},
				Ref:     l.nextRef(),
			}
			if err := l.write(beat); err != nil {
				// The read loop sees the broken socket and reconnects.
				l.logger.Debug("heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (l *Listener) write(frame PushFrame) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.conn == nil {
		return fmt.Errorf("listener is closed")
	}
	return l.conn.WriteJSON(frame)
}

func (l *Listener) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-l.done:
		return false
	case <-time.After(d):
		return true
	}
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Listener) nextRef() string {
	return strconv.Itoa(int(atomic.AddInt32(&l.ref, 1)))
}
