package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"sidekick/internal/types"
	"sidekick/internal/workspace"
)

// Engine is the inbound half of the sync protocol: the operations the
// surface can invoke. *controller.Controller satisfies it.
type Engine interface {
	Submit(text string)
	CancelGeneration()
	NewChat() error
	LoadSession(id string) error
	ListSessions() ([]types.SessionSummary, error)
	AddContext(ref types.FileRef) bool
	RemoveContext(key string) bool
	ToggleAutoContext()
	TrackEditor()
	Search(query string)
	RecentFiles()
	Resync()
}

type chatMessage struct {
	role    types.Role
	content string
}

// Model is the bubbletea model for the chat surface. It holds no
// authoritative state: the transcript and context bar render whatever the
// engine last pushed.
type Model struct {
	engine Engine
	editor *workspace.Headless
	bridge *Bridge

	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	styles    Styles
	renderer  *glamour.TermRenderer

	entries   []types.ContextEntry
	history   []chatMessage
	streamBuf string
	streaming bool
	thinking  bool
	notice    string

	workRoot string
	width    int
	height   int
	ready    bool
}

// NewModel builds the chat surface bound to an engine and its bridge.
func NewModel(engine Engine, editor *workspace.Headless, bridge *Bridge, workRoot string) Model {
	styles := DefaultStyles()

	ti := textinput.New()
	ti.Placeholder = "Ask about your code... (Enter to send, /help for commands)"
	ti.Focus()
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80
	ti.PromptStyle = styles.Prompt

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	vp := viewport.New(80, 20)
	vp.SetContent("")

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	return Model{
		engine:    engine,
		editor:    editor,
		bridge:    bridge,
		textinput: ti,
		viewport:  vp,
		spinner:   sp,
		styles:    styles,
		renderer:  renderer,
		workRoot:  workRoot,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.bridge.Wait(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit

		case tea.KeyEsc:
			if m.streaming || m.thinking {
				m.engine.CancelGeneration()
				return m, nil
			}
			return m, tea.Quit

		case tea.KeyEnter:
			if !m.streaming && !m.thinking {
				return m.handleSubmit()
			}
			return m, nil
		}
		m.textinput, tiCmd = m.textinput.Update(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 3
		contextHeight := 1
		footerHeight := 2
		inputHeight := 3

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, msg.Height-headerHeight-contextHeight-footerHeight-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = msg.Height - headerHeight - contextHeight - footerHeight - inputHeight
		}
		m.textinput.Width = msg.Width - 6

		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(max(20, msg.Width-8)),
		)
		m.refreshViewport()

	case spinner.TickMsg:
		if m.thinking || m.streaming {
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}

	case BridgeMsg:
		m = m.handleEngineMessage(msg.Msg)
		return m, tea.Batch(m.bridge.Wait(), m.spinner.Tick)
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

// handleEngineMessage applies one protocol push to the surface.
func (m Model) handleEngineMessage(msg types.Message) Model {
	switch msg := msg.(type) {
	case types.ThinkingStarted:
		m.thinking = true
		m.notice = ""

	case types.ThinkingEnded:
		m.thinking = false

	case types.StreamStarted:
		m.streaming = true
		m.streamBuf = ""
		m.refreshViewport()

	case types.StreamChunk:
		// Chunks arriving outside a stream (a cancelled request racing
		// its teardown) are dropped, never rendered.
		if !m.streaming {
			return m
		}
		m.streamBuf += msg.Text
		m.refreshViewport()

	case types.StreamEnded:
		if !m.streaming {
			return m
		}
		m.streaming = false
		switch {
		case msg.Cancelled:
			m.history = append(m.history, chatMessage{
				role:    types.RoleModel,
				content: "_generation stopped_",
			})
		case msg.Failed:
			// The partial render is dead; the engine's replay of the
			// rolled-back transcript follows the error notice.
		case m.streamBuf != "":
			m.history = append(m.history, chatMessage{
				role:    types.RoleModel,
				content: m.streamBuf,
			})
		}
		m.streamBuf = ""
		m.refreshViewport()

	case types.ErrorNotice:
		m.notice = msg.Message

	case types.ContextSnapshot:
		m.entries = msg.Entries

	case types.ConversationReplay:
		m.history = m.history[:0]
		for _, turn := range msg.Turns {
			m.history = append(m.history, chatMessage{
				role:    turn.Role,
				content: displayText(turn),
			})
		}
		m.refreshViewport()

	case types.FileResults:
		m.history = append(m.history, chatMessage{
			role:    types.RoleModel,
			content: formatFileResults(msg),
		})
		m.refreshViewport()

	case types.SessionList:
		m.history = append(m.history, chatMessage{
			role:    types.RoleModel,
			content: formatSessionList(msg.Sessions),
		})
		m.refreshViewport()
	}
	return m
}

func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textinput.Value())
	if input == "" {
		return m, nil
	}
	m.textinput.Reset()
	m.notice = ""

	if strings.HasPrefix(input, "/") {
		return m.handleCommand(input)
	}

	m.history = append(m.history, chatMessage{role: types.RoleUser, content: input})
	m.refreshViewport()
	m.engine.Submit(input)
	return m, m.spinner.Tick
}

func (m Model) handleCommand(input string) (tea.Model, tea.Cmd) {
	parts := strings.Fields(input)
	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "/quit", "/exit", "/q":
		return m, tea.Quit

	case "/help":
		m.history = append(m.history, chatMessage{role: types.RoleModel, content: helpText})

	case "/new":
		if err := m.engine.NewChat(); err != nil {
			m.notice = err.Error()
		}

	case "/context":
		if len(args) == 0 {
			m.history = append(m.history, chatMessage{role: types.RoleModel, content: formatContext(m.entries)})
			break
		}
		switch args[0] {
		case "add":
			if len(args) < 2 {
				m.notice = "usage: /context add <file>"
			} else if !m.engine.AddContext(types.FileRef(args[1])) {
				m.notice = fmt.Sprintf("%s is already in context", args[1])
			}
		case "rm":
			if len(args) < 2 {
				m.notice = "usage: /context rm <file>"
			} else if !m.engine.RemoveContext(args[1]) {
				m.notice = fmt.Sprintf("%s is not a pinned context file", args[1])
			}
		case "toggle":
			m.engine.ToggleAutoContext()
		default:
			m.notice = "usage: /context [add|rm|toggle]"
		}

	case "/open":
		if len(args) < 1 {
			m.notice = "usage: /open <file>"
			break
		}
		m.editor.Open(types.FileRef(args[0]))
		m.engine.TrackEditor()

	case "/close":
		m.editor.CloseActive()
		m.engine.TrackEditor()

	case "/find":
		if len(args) < 1 {
			m.notice = "usage: /find <query>"
			break
		}
		m.engine.Search(strings.Join(args, " "))

	case "/recent":
		m.engine.RecentFiles()

	case "/sessions":
		if _, err := m.engine.ListSessions(); err != nil {
			m.notice = err.Error()
		}

	case "/load":
		if len(args) < 1 {
			m.notice = "usage: /load <session-id>"
			break
		}
		if err := m.engine.LoadSession(args[0]); err != nil {
			m.notice = err.Error()
		}

	default:
		m.notice = fmt.Sprintf("unknown command %s (/help for commands)", cmd)
	}

	m.refreshViewport()
	return m, nil
}

func (m *Model) refreshViewport() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) renderHistory() string {
	var sb strings.Builder
	for _, msg := range m.history {
		if msg.role == types.RoleUser {
			sb.WriteString(m.styles.UserLabel.Render("You"))
			sb.WriteString("\n")
			sb.WriteString(msg.content)
			sb.WriteString("\n\n")
			continue
		}
		sb.WriteString(m.styles.BotLabel.Render("Sidekick"))
		sb.WriteString("\n")
		sb.WriteString(m.renderMarkdown(msg.content))
		sb.WriteString("\n")
	}
	if m.streaming && m.streamBuf != "" {
		sb.WriteString(m.styles.BotLabel.Render("Sidekick"))
		sb.WriteString("\n")
		// Raw text while streaming; markdown is rendered once the
		// response settles.
		sb.WriteString(m.streamBuf)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return out
}

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	header := m.renderHeader()
	contextBar := m.renderContextBar()
	chatView := m.viewport.View()

	if m.thinking {
		chatView += "\n" + m.styles.Spinner.Render(m.spinner.View()) + m.styles.Muted.Render(" Thinking...")
	} else if m.streaming {
		chatView += "\n" + m.styles.Spinner.Render(m.spinner.View()) + m.styles.Muted.Render(" Streaming (Esc to stop)")
	}
	if m.notice != "" {
		chatView += "\n" + m.styles.Error.Render(m.notice)
	}

	inputArea := m.styles.Input.Render(m.textinput.View())
	footer := m.styles.Muted.Render("Enter: send • Esc: stop/quit • /help: commands • Ctrl+C: exit")

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		contextBar,
		chatView,
		inputArea,
		footer,
	)
}

func (m Model) renderHeader() string {
	title := m.styles.Header.Render(" sidekick ")
	root := m.styles.Muted.Render(m.workRoot)

	var status string
	switch {
	case m.streaming:
		status = m.styles.Warning.Render("● Streaming")
	case m.thinking:
		status = m.styles.Warning.Render("● Thinking")
	default:
		status = m.styles.Success.Render("● Ready")
	}

	line := lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", status, "  ", root)
	return lipgloss.JoinVertical(lipgloss.Left, line, m.styles.RenderDivider(m.width))
}

func (m Model) renderContextBar() string {
	if len(m.entries) == 0 {
		return m.styles.Muted.Render("context: none (/open a file or /context add)")
	}
	parts := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		label := e.Ref.Name()
		if e.Origin == types.OriginAuto {
			label = "◉ " + label
		}
		if e.Active {
			parts = append(parts, m.styles.Context.Render(label))
		} else {
			parts = append(parts, m.styles.Inactive.Render(label))
		}
	}
	return m.styles.Muted.Render("context: ") + strings.Join(parts, m.styles.Muted.Render(" · "))
}

// displayText hides the baked context block from the transcript view.
func displayText(turn types.Turn) string {
	if turn.Role != types.RoleUser {
		return turn.Text
	}
	if idx := strings.LastIndex(turn.Text, types.QueryMarker); idx >= 0 {
		return strings.TrimSpace(turn.Text[idx+len(types.QueryMarker):])
	}
	return turn.Text
}

func formatContext(entries []types.ContextEntry) string {
	if len(entries) == 0 {
		return "No context files. Use /open or /context add."
	}
	var sb strings.Builder
	sb.WriteString("Context files:\n")
	for _, e := range entries {
		state := "active"
		if !e.Active {
			state = "inactive"
		}
		sb.WriteString(fmt.Sprintf("- %s (%s, %s)\n", e.Ref, e.Origin, state))
	}
	return sb.String()
}

func formatFileResults(msg types.FileResults) string {
	heading := "Files:"
	if msg.Recent {
		heading = "Recent files:"
	}
	if len(msg.Items) == 0 {
		return heading + " none"
	}
	var sb strings.Builder
	sb.WriteString(heading)
	sb.WriteString("\n")
	for _, hit := range msg.Items {
		sb.WriteString(fmt.Sprintf("- %s\n", hit.Ref))
	}
	return sb.String()
}

func formatSessionList(sessions []types.SessionSummary) string {
	if len(sessions) == 0 {
		return "No archived sessions."
	}
	var sb strings.Builder
	sb.WriteString("Sessions (newest first):\n")
	for _, s := range sessions {
		sb.WriteString(fmt.Sprintf("- %s  %s  %s\n", s.ID, s.CreatedAt.Format("2006-01-02 15:04"), s.Title))
	}
	return sb.String()
}

const helpText = `Commands:
- ` + "`/new`" + ` - archive this chat and start fresh
- ` + "`/context`" + ` - list context files
- ` + "`/context add <file>`" + ` - pin a file
- ` + "`/context rm <file>`" + ` - unpin a file
- ` + "`/context toggle`" + ` - toggle the tracked file on/off
- ` + "`/open <file>`" + ` - focus a file (auto-tracked)
- ` + "`/close`" + ` - drop focus
- ` + "`/find <query>`" + ` - search workspace files
- ` + "`/recent`" + ` - list recently opened files
- ` + "`/sessions`" + ` - list archived chats
- ` + "`/load <id>`" + ` - restore an archived chat
- ` + "`/quit`" + ` - exit`
