package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"ResearchChat/internal/assistant"
	"ResearchChat/internal/auth"
	"ResearchChat/internal/conversation"
	"ResearchChat/internal/realtime"
)

// Messages produced by commands and background goroutines.
type (
	streamMsg   assistant.Update
	sendDoneMsg struct{}

	historyMsg struct {
		summaries []conversation.Summary
		err       error
	}

	openDoneMsg struct {
		id  int64
		err error
	}

	deleteDoneMsg struct {
		id  int64
		err error
	}

	uploadDoneMsg struct {
		status string
		err    error
	}

	authDoneMsg struct {
		pending bool // signup needs email confirmation
		err     error
	}

	realtimeChangeMsg struct{ change realtime.Change }
)

// forwardStream pumps stream updates into the event loop. It blocks
// inside the command goroutine until the update channel closes.
func forwardStream(shared *sharedState, updates <-chan assistant.Update) tea.Cmd {
	return func() tea.Msg {
		for u := range updates {
			if shared.program != nil {
				shared.program.Send(streamMsg(u))
			}
		}
		return sendDoneMsg{}
	}
}

func refreshHistory(asst *assistant.Assistant) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := asst.RefreshHistory(ctx)
		return historyMsg{summaries: asst.Summaries(), err: err}
	}
}

func openConversation(asst *assistant.Assistant, id int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return openDoneMsg{id: id, err: asst.OpenConversation(ctx, id)}
	}
}

func deleteConversation(asst *assistant.Assistant, id int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return deleteDoneMsg{id: id, err: asst.Delete(ctx, id)}
	}
}

func uploadDocument(asst *assistant.Assistant, path string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		status, err := asst.Upload(ctx, path)
		return uploadDoneMsg{status: status, err: err}
	}
}

func signIn(authClient *auth.Client, email, password string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, err := authClient.SignIn(ctx, email, password)
		return authDoneMsg{err: err}
	}
}

func signUp(authClient *auth.Client, email, password string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sess, err := authClient.SignUp(ctx, email, password)
		if err != nil {
			return authDoneMsg{err: err}
		}
		return authDoneMsg{pending: sess == nil}
	}
}
