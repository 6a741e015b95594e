package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"ResearchChat/internal/conversation"
)

// View renders the interface.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.screen == screenLogin {
		return m.loginView()
	}
	if !m.ready {
		return "\n  Initializing..."
	}
	return m.chatView()
}

func (m Model) loginView() string {
	var b strings.Builder

	b.WriteString("\n" + titleStyle.Render("ResearchChat") + "\n\n")

	mode := "Sign in"
	if m.signupMode {
		mode = "Create account"
	}
	b.WriteString("  " + formLabelStyle.Render(mode) + "\n\n")

	b.WriteString("  " + formLabelStyle.Render("Email") + "\n")
	b.WriteString("  " + m.emailInput.View() + "\n\n")
	b.WriteString("  " + formLabelStyle.Render("Password") + "\n")
	b.WriteString("  " + m.passwordInput.View() + "\n\n")

	if m.authBusy {
		b.WriteString("  " + m.spinner.View() + thinkingStyle.Render(" Signing in...") + "\n")
	}
	if m.authErr != "" {
		b.WriteString("  " + errorStyle.Render(m.authErr) + "\n")
	}
	if m.authNotice != "" {
		b.WriteString("  " + noticeStyle.Render(m.authNotice) + "\n")
	}

	b.WriteString("\n" + statusStyle.Render("enter submit • tab next field • ctrl+s switch sign in/sign up • esc quit"))
	return b.String()
}

func (m Model) chatView() string {
	header := titleStyle.Render("ResearchChat")
	if user := m.assistant.User(); user != nil {
		header += formLabelStyle.Render(" " + user.Email)
	}
	if m.sending {
		header += " " + m.spinner.View()
	}

	main := lipgloss.JoinHorizontal(
		lipgloss.Top,
		sidebarStyle.Render(m.sidebar.View()),
		m.viewport.View(),
	)

	inputStyle := inputBorderStyle
	if m.focus == focusInput {
		inputStyle = focusedInputStyle
	}
	input := inputStyle.Width(m.width - 4).Render(m.input.View())

	hints := "enter send • tab history • ctrl+n new • ctrl+d delete • ctrl+u upload • ctrl+r refresh • esc quit"
	text := m.status
	if text == "" {
		text = hints
	}
	status := statusStyle.Width(m.width).Render(text)

	return header + "\n" + main + "\n" + input + "\n" + status
}

// refreshViewport repaints the transcript into the viewport.
func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
}

// renderTranscript draws the active conversation. Response entries go
// through the markdown renderer; the in-flight placeholder shows a
// spinner instead of an empty block.
func (m *Model) renderTranscript() string {
	_, messages := m.assistant.Transcript()
	if len(messages) == 0 {
		return "\n" + thinkingStyle.Render("  Ask a question, or pick a conversation from the history.")
	}

	var b strings.Builder
	for i, msg := range messages {
		switch msg.Role {
		case conversation.RoleUser:
			b.WriteString(userStyle.Render("You") + "\n")
			b.WriteString(msg.Content + "\n\n")
		case conversation.RoleAI:
			if msg.Content == "" {
				if m.sending && i == len(messages)-1 {
					b.WriteString(m.spinner.View() + thinkingStyle.Render(" Thinking...") + "\n\n")
				}
				continue
			}
			if strings.HasPrefix(msg.Content, "Error: ") {
				b.WriteString(errorStyle.Render(msg.Content) + "\n\n")
				continue
			}
			// Partial markdown has unclosed fences; render it raw until
			// the stream ends.
			if m.sending && i == len(messages)-1 {
				b.WriteString(msg.Content + "\n\n")
				continue
			}
			rendered := msg.Content + "\n\n"
			if m.renderer != nil {
				if out, err := m.renderer.Render(msg.Content); err == nil {
					rendered = strings.TrimRight(out, "\n") + "\n\n"
				}
			}
			b.WriteString(rendered)
		}
	}
	return b.String()
}
