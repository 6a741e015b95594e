// Package tui provides the Bubble Tea chat interface.
package tui

import (
	"context"
	"log/slog"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"ResearchChat/internal/assistant"
	"ResearchChat/internal/auth"
	"ResearchChat/internal/config"
	"ResearchChat/internal/conversation"
	"ResearchChat/internal/realtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	thinkingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	inputBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(0, 1)

	focusedInputStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("205")).
				Padding(0, 1)

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(lipgloss.Color("238")).
			PaddingRight(1)

	formLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// screen selects which top-level view is shown.
type screen int

const (
	screenLogin screen = iota
	screenChat
)

// focusArea selects which chat component receives keys.
type focusArea int

const (
	focusInput focusArea = iota
	focusSidebar
)

const sidebarWidth = 32

// summaryItem adapts a conversation summary to the sidebar list.
type summaryItem struct {
	summary conversation.Summary
}

func (i summaryItem) Title() string       { return i.summary.Title(sidebarWidth - 6) }
func (i summaryItem) Description() string { return i.summary.CreatedAt.Format("Jan 2 15:04") }
func (i summaryItem) FilterValue() string { return i.summary.QueryText }

// sharedState survives model copies. The program pointer is needed by
// goroutines that push messages into the event loop.
type sharedState struct {
	program  *tea.Program
	listener *realtime.Listener
}

// Model is the top-level TUI model.
type Model struct {
	cfg       *config.Config
	auth      *auth.Client
	assistant *assistant.Assistant
	logger    *slog.Logger
	shared    *sharedState

	screen   screen
	width    int
	height   int
	ready    bool
	quitting bool

	// Login form
	emailInput    textinput.Model
	passwordInput textinput.Model
	formFocus     int
	signupMode    bool
	authBusy      bool
	authNotice    string
	authErr       string

	// Chat view
	sidebar    list.Model
	viewport   viewport.Model
	input      textarea.Model
	spinner    spinner.Model
	renderer   *glamour.TermRenderer
	focus      focusArea
	sending    bool
	deleting   bool
	uploadMode bool
	status     string
}

// NewModel builds the initial model. The screen starts on chat when a
// session was restored before launch.
func NewModel(cfg *config.Config, authClient *auth.Client, asst *assistant.Assistant, logger *slog.Logger) Model {
	email := textinput.New()
	email.Placeholder = "you@example.com"
	email.CharLimit = 128
	email.Width = 40
	email.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword
	password.CharLimit = 128
	password.Width = 40

	ta := textarea.New()
	ta.Placeholder = "Ask the research assistant... (Enter to send)"
	ta.CharLimit = 4000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("205")).
		BorderForeground(lipgloss.Color("205"))

	sidebar := list.New([]list.Item{}, delegate, sidebarWidth, 10)
	sidebar.Title = "History"
	sidebar.SetShowStatusBar(false)
	sidebar.SetShowHelp(false)
	sidebar.SetFilteringEnabled(false)
	sidebar.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("205")).
		Bold(true)

	initial := screenLogin
	if authClient.Session() != nil {
		initial = screenChat
	}

	return Model{
		cfg:           cfg,
		auth:          authClient,
		assistant:     asst,
		logger:        logger,
		shared:        &sharedState{},
		screen:        initial,
		emailInput:    email,
		passwordInput: password,
		sidebar:       sidebar,
		input:         ta,
		spinner:       sp,
	}
}

// Init kicks off the spinner and, when already signed in, the first
// history fetch.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if m.screen == screenChat {
		m.assistant.SeedFromMirror()
		cmds = append(cmds, refreshHistory(m.assistant), startRealtime(m.cfg, m.auth, m.shared, m.logger))
	}
	return tea.Batch(cmds...)
}

// Run starts the interactive interface and blocks until it exits.
func Run(cfg *config.Config, authClient *auth.Client, asst *assistant.Assistant, logger *slog.Logger) error {
	model := NewModel(cfg, authClient, asst, logger)

	p := tea.NewProgram(model, tea.WithAltScreen())
	model.shared.program = p

	_, err := p.Run()
	if model.shared.listener != nil {
		model.shared.listener.Close()
	}
	return err
}

// realtimeHandler forwards database changes into the event loop.
func realtimeHandler(shared *sharedState) realtime.Handler {
	return func(c realtime.Change) {
		if shared.program != nil {
			shared.program.Send(realtimeChangeMsg{change: c})
		}
	}
}

// startRealtime subscribes to remote conversation changes once a
// session exists. Disabled or unconfigured realtime is a no-op.
func startRealtime(cfg *config.Config, authClient *auth.Client, shared *sharedState, logger *slog.Logger) tea.Cmd {
	return func() tea.Msg {
		if !cfg.Realtime || shared.listener != nil {
			return nil
		}
		sess := authClient.Session()
		if sess == nil {
			return nil
		}
		l, err := realtime.NewListener(cfg.RealtimeURL(), sess.User.ID, realtimeHandler(shared), logger)
		if err != nil {
			return nil
		}
		shared.listener = l
		l.Start(context.Background())
		return nil
	}
}
