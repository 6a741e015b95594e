// Package assistant owns the application state around the external
// collaborators: the active transcript, the history list, the busy
// flag, and the flows that mutate them.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ResearchChat/internal/auth"
	"ResearchChat/internal/backend"
	"ResearchChat/internal/cache"
	"ResearchChat/internal/conversation"
	"ResearchChat/internal/store"
)

var (
	// ErrBusy rejects a send while another one is in flight.
	ErrBusy = errors.New("a request is already in progress")
	// ErrEmptyQuery rejects a send with nothing to ask.
	ErrEmptyQuery = errors.New("query is empty")
)

// SessionSource provides the current auth session.
type SessionSource interface {
	Session() *auth.Session
}

// Store is the slice of the database client the assistant needs.
type Store interface {
	Summaries(ctx context.Context, userID string) ([]conversation.Summary, error)
	DeleteMessages(ctx context.Context, conversationID int64) error
	DeleteConversation(ctx context.Context, conversationID int64) error
}

// Backend is the slice of the research backend client the assistant
// needs.
type Backend interface {
	Research(ctx context.Context, query, userID string, conversationID int64) (<-chan backend.StreamEvent, error)
	LoadConversation(ctx context.Context, id int64) ([]conversation.Message, error)
	UploadDocument(ctx context.Context, path, userID string) (string, error)
}

var (
	_ SessionSource = (*auth.Client)(nil)
	_ Store         = (*store.Client)(nil)
	_ Backend       = (*backend.Client)(nil)
)

// Options wires an Assistant's collaborators. Mirror is optional.
type Options struct {
	Auth    SessionSource
	Store   Store
	Backend Backend
	Mirror  *cache.Mirror
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Meter   metric.Meter
}

// Assistant is the single application-state struct behind the UI. All
// state access is serialized; readers get copies.
type Assistant struct {
	auth    SessionSource
	store   Store
	backend Backend
	mirror  *cache.Mirror
	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter

	mu         sync.Mutex
	transcript *conversation.Transcript
	summaries  []conversation.Summary
	busy       bool
}

// New creates an Assistant.
func New(opts Options) (*Assistant, error) {
	if opts.Auth == nil || opts.Store == nil || opts.Backend == nil {
		return nil, fmt.Errorf("auth, store, and backend are required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("researchchat")
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter("researchchat")
	}
	return &Assistant{
		auth:       opts.Auth,
		store:      opts.Store,
		backend:    opts.Backend,
		mirror:     opts.Mirror,
		logger:     opts.Logger,
		tracer:     tracer,
		meter:      meter,
		transcript: conversation.New(),
	}, nil
}

// Transcript returns the active conversation id and a copy of its
// messages.
func (a *Assistant) Transcript() (int64, []conversation.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transcript.ID(), a.transcript.Messages()
}

// Summaries returns a copy of the history list, newest first.
func (a *Assistant) Summaries() []conversation.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]conversation.Summary, len(a.summaries))
	copy(out, a.summaries)
	return out
}

// Busy reports whether a send is in flight.
func (a *Assistant) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busy
}

// User returns the signed-in user, or nil.
func (a *Assistant) User() *auth.User {
	s := a.auth.Session()
	if s == nil {
		return nil
	}
	u := s.User
	return &u
}

// NewChat replaces the active transcript with an unsaved session.
func (a *Assistant) NewChat() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transcript = conversation.New()
	a.logger.Debug("started new chat")
}

// OpenConversation makes a history entry the active transcript. The
// mirror answers first when it has the conversation; otherwise the
// backend is asked and the result mirrored.
func (a *Assistant) OpenConversation(ctx context.Context, id int64) error {
	if a.mirror != nil {
		if messages, ok := a.mirror.LoadTranscript(id); ok {
			a.setTranscript(id, messages)
			return nil
		}
	}

	ctx, span := a.tracer.Start(ctx, "load_conversation")
	defer span.End()

	messages, err := a.backend.LoadConversation(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load conversation %d: %w", id, err)
	}
	a.setTranscript(id, messages)

	if a.mirror != nil {
		go func() {
			if err := a.mirror.SaveTranscript(id, messages); err != nil {
				a.logger.Warn("failed to mirror transcript", "id", id, "error", err)
			}
		}()
	}
	return nil
}

func (a *Assistant) setTranscript(id int64, messages []conversation.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transcript = conversation.Load(id, messages)
}

// RefreshHistory refetches the summaries list from the remote store.
func (a *Assistant) RefreshHistory(ctx context.Context) error {
	sess := a.auth.Session()
	if sess == nil {
		return auth.ErrNoSession
	}

	ctx, span := a.tracer.Start(ctx, "refresh_history")
	defer span.End()

	summaries, err := a.store.Summaries(ctx, sess.User.ID)
	if err != nil {
		return fmt.Errorf("failed to refresh history: %w", err)
	}

	a.mu.Lock()
	a.summaries = summaries
	a.mu.Unlock()

	a.mirrorSummaries(sess.User.ID, summaries)
	return nil
}

// SeedFromMirror paints the history list from the local mirror until
// the first remote fetch lands. It never overwrites fetched data.
func (a *Assistant) SeedFromMirror() {
	if a.mirror == nil {
		return
	}
	sess := a.auth.Session()
	if sess == nil {
		return
	}
	cached, err := a.mirror.Summaries(sess.User.ID)
	if err != nil || len(cached) == 0 {
		return
	}
	a.mu.Lock()
	if len(a.summaries) == 0 {
		a.summaries = cached
	}
	a.mu.Unlock()
}

// Delete removes a conversation remotely, messages first, then the
// conversation row. The local list keeps the entry unless both deletes
// succeed, so a partial remote failure stays visible.
func (a *Assistant) Delete(ctx context.Context, id int64) error {
	ctx, span := a.tracer.Start(ctx, "delete_conversation")
	defer span.End()

	if err := a.store.DeleteMessages(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation %d: %w", id, err)
	}
	if err := a.store.DeleteConversation(ctx, id); err != nil {
		// Messages are gone but the conversation row is not: surface
		// the error and leave the entry in place rather than mask the
		// inconsistent remote state.
		return fmt.Errorf("failed to delete conversation %d: %w", id, err)
	}

	a.mu.Lock()
	// Fresh slice: a mirror goroutine may still be reading the old
	// backing array.
	kept := make([]conversation.Summary, 0, len(a.summaries))
	for _, s := range a.summaries {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	a.summaries = kept
	if a.transcript.ID() == id {
		a.transcript = conversation.New()
	}
	a.mu.Unlock()

	if a.mirror != nil {
		go func() {
			if err := a.mirror.Forget(id); err != nil {
				a.logger.Warn("failed to evict conversation from mirror", "id", id, "error", err)
			}
		}()
	}
	a.logger.Info("deleted conversation", "id", id)
	return nil
}

// Upload sends a document to the backend for ingestion and returns its
// status message.
func (a *Assistant) Upload(ctx context.Context, path string) (string, error) {
	sess := a.auth.Session()
	if sess == nil {
		return "", auth.ErrNoSession
	}

	ctx, span := a.tracer.Start(ctx, "upload_document")
	defer span.End()

	msg, err := a.backend.UploadDocument(ctx, path, sess.User.ID)
	if err != nil {
		return "", err
	}
	return msg, nil
}

// Reset clears all local state, called on sign-out.
func (a *Assistant) Reset() {
	a.mu.Lock()
	a.transcript = conversation.New()
	a.summaries = nil
	a.busy = false
	a.mu.Unlock()

	if a.mirror != nil {
		if err := a.mirror.Purge(); err != nil {
			a.logger.Warn("failed to purge mirror", "error", err)
		}
	}
}

func (a *Assistant) mirrorSummaries(userID string, summaries []conversation.Summary) {
	if a.mirror == nil {
		return
	}
	go func() {
		if err := a.mirror.ReplaceSummaries(userID, summaries); err != nil {
			a.logger.Warn("failed to mirror summaries", "error", err)
		}
	}()
}
