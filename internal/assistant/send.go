package assistant

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"ResearchChat/internal/auth"
	"ResearchChat/internal/backend"
	"ResearchChat/internal/conversation"
	"ResearchChat/internal/stream"
)

// UpdateType tags a send progress event.
type UpdateType int

const (
	// UpdateChunk carries the accumulated response text so far.
	UpdateChunk UpdateType = iota
	// UpdateDone carries the final response text. History has been
	// resynced by the time it arrives.
	UpdateDone
	// UpdateError carries the error text now shown in the transcript.
	UpdateError
)

// Update is one progress event of an in-flight send.
type Update struct {
	Type    UpdateType
	Content string
}

// Send submits a query for the active conversation. It appends the
// user entry and an empty response placeholder before returning, then
// streams progress on the returned channel until the exchange settles.
// The channel is closed after the final Update.
//
// Only one send can be in flight; further calls return ErrBusy until
// the channel closes.
func (a *Assistant) Send(ctx context.Context, query string) (<-chan Update, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	sess := a.auth.Session()
	if sess == nil {
		return nil, auth.ErrNoSession
	}

	a.mu.Lock()
	if a.busy {
		a.mu.Unlock()
		return nil, ErrBusy
	}
	a.busy = true
	transcript := a.transcript
	transcript.AppendUser(query)
	transcript.AppendPlaceholder()
	conversationID := transcript.ID()
	a.mu.Unlock()

	updates := make(chan Update, 100)
	go a.run(ctx, updates, transcript, query, sess.User.ID, conversationID)
	return updates, nil
}

// run drives one exchange to completion. The reducer is bound to the
// transcript captured at send time, so switching conversations
// mid-stream leaves the detached transcript to finish invisibly.
func (a *Assistant) run(ctx context.Context, updates chan<- Update, transcript *conversation.Transcript, query, userID string, conversationID int64) {
	reducer := stream.NewReducer(transcript)
	defer close(updates)
	defer func() {
		a.mu.Lock()
		a.busy = false
		a.mu.Unlock()
	}()

	ctx, span := a.tracer.Start(ctx, "research_request")
	defer span.End()

	start := time.Now()
	chunks := 0

	events, err := a.backend.Research(ctx, query, userID, conversationID)
	if err != nil {
		a.logger.Error("research request failed", "error", err)
		updates <- Update{Type: UpdateError, Content: a.fail(reducer, err)}
		return
	}

	var failed bool
	var final string
	for ev := range events {
		switch ev.Type {
		case backend.EventChunk:
			a.mu.Lock()
			text := reducer.Feed(ev.Chunk)
			a.mu.Unlock()
			chunks++
			updates <- Update{Type: UpdateChunk, Content: text}
		case backend.EventError:
			a.logger.Error("research stream failed", "error", ev.Err)
			updates <- Update{Type: UpdateError, Content: a.fail(reducer, ev.Err)}
			failed = true
		case backend.EventDone:
			a.mu.Lock()
			final = reducer.Finish()
			a.mu.Unlock()
		}
	}

	duration := time.Since(start).Seconds()
	histogram, err := a.meter.Float64Histogram(
		"research.request.duration",
		metric.WithDescription("Duration of research requests"),
		metric.WithUnit("s"),
	)
	if err == nil {
		histogram.Record(ctx, duration)
	}
	counter, err := a.meter.Int64Counter(
		"research.stream.chunks",
		metric.WithDescription("Streamed response chunks"),
	)
	if err == nil {
		counter.Add(ctx, int64(chunks))
	}
	a.logger.Info("research request finished",
		"conversation_id", conversationID,
		"chunks", chunks,
		"duration_seconds", duration,
		"failed", failed)

	if failed {
		return
	}

	a.settle(ctx, transcript, userID, conversationID)
	updates <- Update{Type: UpdateDone, Content: final}
}

func (a *Assistant) fail(reducer *stream.Reducer, err error) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return reducer.Fail(err)
}

// settle refetches history after a completed exchange. When the
// exchange created the conversation, the newest refetched entry is its
// server-assigned id and the transcript adopts it.
func (a *Assistant) settle(ctx context.Context, transcript *conversation.Transcript, userID string, conversationID int64) {
	summaries, err := a.store.Summaries(ctx, userID)
	if err != nil {
		// An unsaved chat keeps id 0 here and the next send creates a
		// second conversation remotely.
		a.logger.Warn("failed to resync history after send", "error", err)
		return
	}

	a.mu.Lock()
	a.summaries = summaries
	if conversationID == 0 && len(summaries) > 0 {
		conversationID = summaries[0].ID
		transcript.SetID(conversationID)
	}
	messages := transcript.Messages()
	a.mu.Unlock()

	a.mirrorSummaries(userID, summaries)
	if a.mirror != nil && conversationID != 0 {
		id := conversationID
		go func() {
			if err := a.mirror.SaveTranscript(id, messages); err != nil {
				a.logger.Warn("failed to mirror transcript", "id", id, "error", err)
			}
		}()
	}
}
