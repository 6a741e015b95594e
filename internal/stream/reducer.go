package stream

import (
	"strings"

	"ResearchChat/internal/conversation"
)

// Reducer accumulates a streamed response and mirrors it into the
// trailing ai entry of a transcript. Each applied chunk replaces that
// entry with the full accumulated value; the view re-renders from
// transcript snapshots rather than patching deltas. Callers guarantee a
// single active stream per transcript.
type Reducer struct {
	dec         Decoder
	accumulated strings.Builder
	transcript  *conversation.Transcript
}

// NewReducer returns a reducer bound to t. The caller appends the empty
// ai placeholder before the stream starts; the reducer only rewrites it.
func NewReducer(t *conversation.Transcript) *Reducer {
	return &Reducer{transcript: t}
}

// Feed applies one chunk and returns the accumulated text so far.
func (r *Reducer) Feed(chunk []byte) string {
	if text := r.dec.Write(chunk); text != "" {
		r.accumulated.WriteString(text)
		r.transcript.SetTrailingAI(r.accumulated.String())
	}
	return r.accumulated.String()
}

// Finish flushes the decoder at end-of-stream and returns the final
// text. The last replacement stands as the message's content.
func (r *Reducer) Finish() string {
	if tail := r.dec.Flush(); tail != "" {
		r.accumulated.WriteString(tail)
		r.transcript.SetTrailingAI(r.accumulated.String())
	}
	return r.accumulated.String()
}

// Fail replaces the trailing ai entry with an error message, appending
// one when the transcript does not end in an ai entry. The transcript
// never ends up with two consecutive ai entries.
func (r *Reducer) Fail(err error) string {
	msg := "Error: " + err.Error()
	r.transcript.SetTrailingAI(msg)
	return msg
}

// Accumulated returns the text decoded so far.
func (r *Reducer) Accumulated() string { return r.accumulated.String() }
