package realtime

import "encoding/json"

// Phoenix channel protocol types for the Supabase realtime socket.

// Phoenix lifecycle events.
const (
	EventJoin      = "phx_join"
	EventReply     = "phx_reply"
	EventError     = "phx_error"
	EventClose     = "phx_close"
	EventHeartbeat = "heartbeat"
)

// TopicPhoenix is the control topic heartbeats are sent on.
const TopicPhoenix = "phoenix"

// PushFrame is a client-to-server channel message.
type PushFrame struct {
	Topic   string      `json:"topic"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Ref     string      `json:"ref"`
}

// MessageFrame is a server-to-client channel message.
type MessageFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

// ReplyPayload is the payload of a phx_reply.
type ReplyPayload struct {
	Status   string          `json:"status"` // "ok" or "error"
	Response json.RawMessage `json:"response"`
}

// ChangePayload is the payload of a postgres_changes broadcast.
type ChangePayload struct {
	Type            string          `json:"type"` // "INSERT", "UPDATE" or "DELETE"
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	CommitTimestamp string          `json:"commit_timestamp"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
}
