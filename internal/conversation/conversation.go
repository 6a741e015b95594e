package conversation

import (
	"strings"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Message represents a single chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Summary represents one entry in the conversation history list.
type Summary struct {
	ID        int64     `json:"id"`
	QueryText string    `json:"query_text"`
	CreatedAt time.Time `json:"created_at"`
}

// Title returns the summary's query text trimmed to at most n runes,
// with an ellipsis when it was cut.
func (s Summary) Title(n int) string {
	text := strings.TrimSpace(s.QueryText)
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	if n <= 1 {
		return string(runes[:n])
	}
	return string(runes[:n-1]) + "…"
}

// Transcript is the active conversation: an optional remote id and the
// ordered message sequence. ID 0 means an unsaved new session. Not safe
// for concurrent use; callers serialize access.
type Transcript struct {
	id       int64
	messages []Message
}

// New returns an empty transcript with no remote id.
func New() *Transcript {
	return &Transcript{}
}

// Load returns a transcript bound to a remote id with the given
// messages, replacing nothing.
func Load(id int64, messages []Message) *Transcript {
	t := &Transcript{id: id}
	t.messages = append(t.messages, messages...)
	return t
}

// ID returns the remote conversation id, or 0 for an unsaved session.
func (t *Transcript) ID() int64 { return t.id }

// SetID binds the transcript to a remote conversation id.
func (t *Transcript) SetID(id int64) { t.id = id }

// Len returns the number of messages.
func (t *Transcript) Len() int { return len(t.messages) }

// Messages returns a copy of the message sequence.
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Last returns the trailing message and true, or a zero message and
// false when the transcript is empty.
func (t *Transcript) Last() (Message, bool) {
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// AppendUser appends a user message.
func (t *Transcript) AppendUser(content string) {
	t.messages = append(t.messages, Message{Role: RoleUser, Content: content})
}

// AppendPlaceholder appends an empty ai message so the view can show a
// typing affordance before the first chunk arrives.
func (t *Transcript) AppendPlaceholder() {
	t.messages = append(t.messages, Message{Role: RoleAI})
}

// SetTrailingAI replaces the content of the trailing ai message with a
// full new value, or appends an ai message when the sequence does not
// end in one. The sequence never gains two consecutive ai entries.
func (t *Transcript) SetTrailingAI(content string) {
	if n := len(t.messages); n > 0 && t.messages[n-1].Role == RoleAI {
		t.messages[n-1].Content = content
		return
	}
	t.messages = append(t.messages, Message{Role: RoleAI, Content: content})
}
