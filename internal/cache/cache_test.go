package cache

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ResearchChat/internal/conversation"
	"ResearchChat/internal/telemetry"
)

func newTestMirror(t *testing.T) *Mirror {
	t.Helper()
	db, err := telemetry.InitMirror(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	m := NewMirror(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { m.Close() })
	return m
}

func TestReplaceSummariesSwapsWholesale(t *testing.T) {
	m := newTestMirror(t)
	now := time.Now().UTC().Truncate(time.Second)

	first := []conversation.Summary{
		{ID: 2, QueryText: "newer", CreatedAt: now},
		{ID: 1, QueryText: "older", CreatedAt: now.Add(-time.Hour)},
	}
	require.NoError(t, m.ReplaceSummaries("user-1", first))

	got, err := m.Summaries("user-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID, "newest first")
	assert.Equal(t, "newer", got[0].QueryText)
	assert.True(t, got[0].CreatedAt.Equal(now))

	second := []conversation.Summary{{ID: 3, QueryText: "only", CreatedAt: now}}
	require.NoError(t, m.ReplaceSummaries("user-1", second))

	got, err = m.Summaries("user-1")
	require.NoError(t, err)
	require.Len(t, got, 1, "replace swaps, not merges")
	assert.Equal(t, int64(3), got[0].ID)
}

func TestSummariesIsolatedPerUser(t *testing.T) {
	m := newTestMirror(t)
	now := time.Now()
	require.NoError(t, m.ReplaceSummaries("user-1", []conversation.Summary{{ID: 1, QueryText: "a", CreatedAt: now}}))
	require.NoError(t, m.ReplaceSummaries("user-2", []conversation.Summary{{ID: 2, QueryText: "b", CreatedAt: now}}))

	got, err := m.Summaries("user-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
}

func TestTranscriptRoundTrip(t *testing.T) {
	m := newTestMirror(t)
	msgs := []conversation.Message{
		{Role: conversation.RoleUser, Content: "q"},
		{Role: conversation.RoleAI, Content: "a"},
	}
	require.NoError(t, m.SaveTranscript(42, msgs))

	got, ok := m.LoadTranscript(42)
	require.True(t, ok)
	assert.Equal(t, msgs, got)

	// Mutating the returned slice must not poison the memo.
	got[0].Content = "mutated"
	again, ok := m.LoadTranscript(42)
	require.True(t, ok)
	assert.Equal(t, "q", again[0].Content)
}

func TestLoadTranscriptColdFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := telemetry.InitMirror(path)
	require.NoError(t, err)
	warm := NewMirror(db, logger)
	msgs := []conversation.Message{{Role: conversation.RoleUser, Content: "persisted"}}
	require.NoError(t, warm.SaveTranscript(7, msgs))
	require.NoError(t, warm.Close())

	db2, err := telemetry.InitMirror(path)
	require.NoError(t, err)
	cold := NewMirror(db2, logger)
	defer cold.Close()

	got, ok := cold.LoadTranscript(7)
	require.True(t, ok, "transcript survives process restart")
	assert.Equal(t, msgs, got)
}

func TestLoadTranscriptMiss(t *testing.T) {
	m := newTestMirror(t)
	if _, ok := m.LoadTranscript(999); ok {
		t.Error("LoadTranscript(999) = hit on empty mirror")
	}
}

func TestForget(t *testing.T) {
	m := newTestMirror(t)
	now := time.Now()
	require.NoError(t, m.ReplaceSummaries("user-1", []conversation.Summary{{ID: 42, QueryText: "q", CreatedAt: now}}))
	require.NoError(t, m.SaveTranscript(42, []conversation.Message{{Role: conversation.RoleUser, Content: "q"}}))

	require.NoError(t, m.Forget(42))

	if _, ok := m.LoadTranscript(42); ok {
		t.Error("transcript survived Forget")
	}
	got, err := m.Summaries("user-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPurge(t *testing.T) {
	m := newTestMirror(t)
	now := time.Now()
	require.NoError(t, m.ReplaceSummaries("user-1", []conversation.Summary{{ID: 1, QueryText: "q", CreatedAt: now}}))
	require.NoError(t, m.SaveTranscript(1, []conversation.Message{{Role: conversation.RoleAI, Content: "a"}}))

	require.NoError(t, m.Purge())

	got, err := m.Summaries("user-1")
	require.NoError(t, err)
	assert.Empty(t, got)
	if _, ok := m.LoadTranscript(1); ok {
		t.Error("transcript survived Purge")
	}
}
