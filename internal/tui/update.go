package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"ResearchChat/internal/assistant"
	"ResearchChat/internal/realtime"
)

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleWindowSize(msg)

	case tea.KeyMsg:
		if m.screen == screenLogin {
			return m.handleLoginKey(msg)
		}
		return m.handleChatKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.sending {
			m.refreshViewport()
		}
		return m, cmd

	case streamMsg:
		u := assistant.Update(msg)
		if u.Type == assistant.UpdateError {
			m.status = u.Content
		}
		m.refreshViewport()
		m.viewport.GotoBottom()
		return m, nil

	case sendDoneMsg:
		return m.handleSendDone()

	case historyMsg:
		if msg.err != nil {
			m.status = "History refresh failed: " + msg.err.Error()
		}
		m.syncSidebar()
		return m, nil

	case openDoneMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
			return m, nil
		}
		m.refreshViewport()
		m.viewport.GotoTop()
		m.focus = focusInput
		m.input.Focus()
		m.status = ""
		return m, nil

	case deleteDoneMsg:
		m.deleting = false
		if msg.err != nil {
			m.status = "Delete failed: " + msg.err.Error()
			return m, nil
		}
		m.syncSidebar()
		m.refreshViewport()
		m.status = "Conversation deleted"
		return m, nil

	case uploadDoneMsg:
		m.uploadMode = false
		m.input.Placeholder = "Ask the research assistant... (Enter to send)"
		if msg.err != nil {
			m.status = "Upload failed: " + msg.err.Error()
		} else {
			m.status = msg.status
		}
		return m, nil

	case authDoneMsg:
		return m.handleAuthDone(msg)

	case realtimeChangeMsg:
		// Summaries are immutable, so only row creation and removal can
		// change the list.
		if msg.change.Type == realtime.ChangeUpdate {
			return m, nil
		}
		return m, refreshHistory(m.assistant)
	}

	return m.routeToComponents(msg)
}

// routeToComponents forwards non-key messages (cursor blinks and the
// like) to the focused widgets.
func (m Model) routeToComponents(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	if m.screen == screenLogin {
		m.emailInput, cmd = m.emailInput.Update(msg)
		cmds = append(cmds, cmd)
		m.passwordInput, cmd = m.passwordInput.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)
	}

	if !m.sending {
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleLoginKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit

	case "tab", "down":
		m.setFormFocus(m.formFocus + 1)
		return m, nil

	case "shift+tab", "up":
		m.setFormFocus(m.formFocus - 1)
		return m, nil

	case "ctrl+s":
		m.signupMode = !m.signupMode
		m.authErr = ""
		m.authNotice = ""
		return m, nil

	case "enter":
		if m.authBusy {
			return m, nil
		}
		email := strings.TrimSpace(m.emailInput.Value())
		password := m.passwordInput.Value()
		if email == "" || password == "" {
			m.authErr = "Email and password are required"
			return m, nil
		}
		m.authBusy = true
		m.authErr = ""
		m.authNotice = ""
		if m.signupMode {
			return m, tea.Batch(m.spinner.Tick, signUp(m.auth, email, password))
		}
		return m, tea.Batch(m.spinner.Tick, signIn(m.auth, email, password))
	}

	var cmd tea.Cmd
	if m.formFocus == 0 {
		m.emailInput, cmd = m.emailInput.Update(msg)
	} else {
		m.passwordInput, cmd = m.passwordInput.Update(msg)
	}
	return m, cmd
}

func (m *Model) setFormFocus(idx int) {
	if idx < 0 {
		idx = 1
	}
	if idx > 1 {
		idx = 0
	}
	m.formFocus = idx
	if idx == 0 {
		m.emailInput.Focus()
		m.passwordInput.Blur()
	} else {
		m.emailInput.Blur()
		m.passwordInput.Focus()
	}
}

func (m Model) handleAuthDone(msg authDoneMsg) (tea.Model, tea.Cmd) {
	m.authBusy = false
	if msg.err != nil {
		m.authErr = msg.err.Error()
		return m, nil
	}
	if msg.pending {
		m.signupMode = false
		m.authNotice = "Check your email to confirm your account, then sign in."
		return m, nil
	}

	m.screen = screenChat
	m.input.Focus()
	m.assistant.SeedFromMirror()
	m.syncSidebar()
	if user := m.assistant.User(); user != nil {
		m.status = "Signed in as " + user.Email
	}
	return m, tea.Batch(refreshHistory(m.assistant), startRealtime(m.cfg, m.auth, m.shared, m.logger))
}

func (m Model) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "esc":
		if m.uploadMode {
			m.uploadMode = false
			m.input.Reset()
			m.input.Placeholder = "Ask the research assistant... (Enter to send)"
			return m, nil
		}
		if m.focus == focusSidebar {
			m.focus = focusInput
			m.input.Focus()
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case "tab":
		if m.focus == focusInput {
			m.focus = focusSidebar
			m.input.Blur()
		} else {
			m.focus = focusInput
			m.input.Focus()
		}
		return m, nil

	case "enter":
		return m.handleEnterKey()

	case "alt+enter", "ctrl+j":
		if !m.sending && m.focus == focusInput {
			m.input.SetValue(m.input.Value() + "\n")
		}
		return m, nil

	case "ctrl+n":
		if !m.sending {
			m.assistant.NewChat()
			m.refreshViewport()
			m.status = "New chat"
		}
		return m, nil

	case "ctrl+u":
		if !m.sending {
			m.uploadMode = !m.uploadMode
			m.input.Reset()
			if m.uploadMode {
				m.focus = focusInput
				m.input.Focus()
				m.input.Placeholder = "Path to document (.pdf .png .jpg .jpeg .txt .md), Enter to upload"
			} else {
				m.input.Placeholder = "Ask the research assistant... (Enter to send)"
			}
		}
		return m, nil

	case "ctrl+r":
		return m, refreshHistory(m.assistant)

	case "ctrl+d":
		if m.focus == focusSidebar && !m.deleting {
			if item, ok := m.sidebar.SelectedItem().(summaryItem); ok {
				m.deleting = true
				m.status = "Deleting..."
				return m, deleteConversation(m.assistant, item.summary.ID)
			}
		}
		return m, nil

	case "up", "down", "pgup", "pgdown", "home", "end":
		var cmd tea.Cmd
		if m.focus == focusSidebar {
			m.sidebar, cmd = m.sidebar.Update(msg)
		} else {
			m.viewport, cmd = m.viewport.Update(msg)
		}
		return m, cmd
	}

	if m.focus == focusSidebar {
		var cmd tea.Cmd
		m.sidebar, cmd = m.sidebar.Update(msg)
		return m, cmd
	}
	if !m.sending {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleEnterKey() (tea.Model, tea.Cmd) {
	if m.focus == focusSidebar {
		if item, ok := m.sidebar.SelectedItem().(summaryItem); ok {
			m.status = "Loading..."
			return m, openConversation(m.assistant, item.summary.ID)
		}
		return m, nil
	}

	if m.sending {
		return m, nil
	}

	value := strings.TrimSpace(m.input.Value())
	if value == "" {
		return m, nil
	}

	if m.uploadMode {
		m.input.Reset()
		m.status = "Uploading " + value + "..."
		return m, tea.Batch(m.spinner.Tick, uploadDocument(m.assistant, value))
	}

	// Send appends the user entry and the response placeholder before
	// returning, so the transcript can be painted right away.
	updates, err := m.assistant.Send(context.Background(), value)
	if err != nil {
		m.status = err.Error()
		return m, nil
	}

	m.input.Reset()
	m.sending = true
	m.status = ""
	m.refreshViewport()
	m.viewport.GotoBottom()
	return m, tea.Batch(m.spinner.Tick, forwardStream(m.shared, updates))
}

func (m Model) handleSendDone() (tea.Model, tea.Cmd) {
	m.sending = false
	m.input.Focus()
	m.syncSidebar()
	m.refreshViewport()
	m.viewport.GotoBottom()
	return m, nil
}

func (m Model) handleWindowSize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	headerHeight := 1
	statusHeight := 1
	inputHeight := 5
	vpWidth := msg.Width - sidebarWidth - 2
	if vpWidth < 20 {
		vpWidth = 20
	}
	vpHeight := msg.Height - headerHeight - statusHeight - inputHeight
	if vpHeight < 3 {
		vpHeight = 3
	}

	if !m.ready {
		m.viewport = viewport.New(vpWidth, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = vpWidth
		m.viewport.Height = vpHeight
	}

	m.renderer, _ = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(vpWidth-4),
	)
	m.refreshViewport()

	m.sidebar.SetSize(sidebarWidth, vpHeight)
	m.input.SetWidth(msg.Width - 6)

	return m, nil
}

// syncSidebar rebuilds the list items from the assistant's summaries,
// keeping the cursor near its previous position.
func (m *Model) syncSidebar() {
	summaries := m.assistant.Summaries()
	items := make([]list.Item, len(summaries))
	for i, s := range summaries {
		items[i] = summaryItem{summary: s}
	}
	idx := m.sidebar.Index()
	m.sidebar.SetItems(items)
	if idx >= len(items) {
		idx = len(items) - 1
	}
	if idx >= 0 {
		m.sidebar.Select(idx)
	}
}
