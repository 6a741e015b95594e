package stream

import (
	"errors"
	"strings"
	"testing"

	"ResearchChat/internal/conversation"
)

func newSendTranscript(query string) *conversation.Transcript {
	tr := conversation.New()
	tr.AppendUser(query)
	tr.AppendPlaceholder()
	return tr
}

func TestReducerGrowsTrailingEntry(t *testing.T) {
	tr := newSendTranscript("hello")
	r := NewReducer(tr)

	if got := r.Feed([]byte("Hi")); got != "Hi" {
		t.Errorf("after first chunk: accumulated = %q, want %q", got, "Hi")
	}
	if got := r.Feed([]byte(" there")); got != "Hi there" {
		t.Errorf("after second chunk: accumulated = %q, want %q", got, "Hi there")
	}
	r.Finish()

	msgs := tr.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
	if msgs[0].Role != conversation.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("messages[0] = %+v, want {user hello}", msgs[0])
	}
	if msgs[1].Role != conversation.RoleAI || msgs[1].Content != "Hi there" {
		t.Errorf("messages[1] = %+v, want {ai Hi there}", msgs[1])
	}
}

func TestReducerPartialRuneAcrossChunks(t *testing.T) {
	tr := newSendTranscript("q")
	r := NewReducer(tr)

	raw := []byte("世界")
	r.Feed(raw[:2])

	// Nothing decodable yet, so the placeholder must still be empty.
	if last, _ := tr.Last(); last.Content != "" {
		t.Errorf("placeholder content = %q before rune completes, want empty", last.Content)
	}

	r.Feed(raw[2:])
	r.Finish()

	if last, _ := tr.Last(); last.Content != "世界" {
		t.Errorf("final content = %q, want %q", last.Content, "世界")
	}
}

func TestReducerFinishFlushesIncompleteTail(t *testing.T) {
	tr := newSendTranscript("q")
	r := NewReducer(tr)

	r.Feed([]byte("ok "))
	r.Feed([]byte{0xe4, 0xb8})
	got := r.Finish()

	if got != "ok �" {
		t.Errorf("Finish() = %q, want %q", got, "ok �")
	}
	if last, _ := tr.Last(); last.Content != got {
		t.Errorf("trailing content = %q, want %q", last.Content, got)
	}
}

func TestReducerFailReplacesPlaceholder(t *testing.T) {
	tr := newSendTranscript("hello")
	r := NewReducer(tr)
	r.Feed([]byte("partial answ"))

	msg := r.Fail(errors.New("overloaded"))

	if msg != "Error: overloaded" {
		t.Errorf("Fail() = %q, want %q", msg, "Error: overloaded")
	}
	msgs := tr.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
	if !strings.Contains(msgs[1].Content, "overloaded") {
		t.Errorf("trailing content = %q, want it to contain %q", msgs[1].Content, "overloaded")
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Role == conversation.RoleAI && msgs[i-1].Role == conversation.RoleAI {
			t.Fatalf("consecutive ai entries after Fail: %+v", msgs)
		}
	}
}

func TestReducerFailWithoutPlaceholderAppends(t *testing.T) {
	tr := conversation.New()
	tr.AppendUser("hello")
	r := NewReducer(tr)

	r.Fail(errors.New("connection reset"))

	msgs := tr.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
	if msgs[1].Role != conversation.RoleAI {
		t.Errorf("trailing role = %q, want ai", msgs[1].Role)
	}
}

func TestReducerAccumulatesMonotonically(t *testing.T) {
	tr := newSendTranscript("q")
	r := NewReducer(tr)

	prev := ""
	for _, chunk := range []string{"a", "", "bc", "é", "def"} {
		got := r.Feed([]byte(chunk))
		if !strings.HasPrefix(got, prev) {
			t.Fatalf("accumulated %q does not extend %q", got, prev)
		}
		prev = got
	}
	if got := r.Accumulated(); got != "abcédef" {
		t.Errorf("Accumulated() = %q, want %q", got, "abcédef")
	}
}
