package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chatsync/pkg/bus"
	"chatsync/pkg/conn"
	"chatsync/pkg/view"
)

const wheelStep = 3

// SubmitFunc sends one input. sent is false for blank input.
type SubmitFunc func(ctx context.Context, input string) (sent bool, err error)

type entryMsg struct {
	entry view.Entry
}

type scrollMsg struct{}

type statusMsg struct {
	event bus.Event
}

type submitResultMsg struct {
	input string
	sent  bool
	err   error
}

type endedMsg struct {
	err error
}

type model struct {
	ctx    context.Context
	submit SubmitFunc
	title  string
	selfID int64

	theme     theme
	spinner   spinner.Model
	input     textarea.Model
	viewport  viewport.Model
	entries   []view.Entry
	width     int
	height    int
	isReady   bool
	sending   bool
	connected bool
	status    string
	lastErr   string
	followLog bool
	ended     bool
	endErr    error
}

func newModel(ctx context.Context, submit SubmitFunc, opts Options) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("44"))

	in := textarea.New()
	in.Prompt = ""
	in.Placeholder = "Write a message..."
	in.ShowLineNumbers = false
	in.CharLimit = 0
	in.SetHeight(3)
	// Enter submits; alt+enter inserts the line break instead.
	in.KeyMap.InsertNewline.SetEnabled(false)
	in.Focus()

	return &model{
		ctx:       ctx,
		submit:    submit,
		title:     opts.Title,
		selfID:    opts.SelfID,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		status:    "connecting",
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case entryMsg:
		m.entries = append(m.entries, typed.entry)
		m.refreshViewport(false)
		return m, nil
	case scrollMsg:
		m.viewport.GotoBottom()
		m.followLog = true
		return m, nil
	case statusMsg:
		m.applyEvent(typed.event)
		return m, nil
	case submitResultMsg:
		m.sending = false
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			return m, nil
		}
		m.lastErr = ""
		if typed.sent && m.input.Value() == typed.input {
			m.input.Reset()
		}
		return m, nil
	case endedMsg:
		m.ended = true
		m.endErr = typed.err
		m.connected = false
		if typed.err != nil {
			m.lastErr = typed.err.Error()
		}
		if errors.Is(typed.err, conn.ErrAuthAbsent) || errors.Is(typed.err, conn.ErrPolicyClose) {
			return m, tea.Quit
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case tea.KeyMsg:
		return m.handleKey(typed)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	case "tab":
		if m.input.Focused() {
			m.input.Blur()
			return m, nil
		}
		return m, m.input.Focus()
	case "alt+enter":
		if m.input.Focused() {
			m.input.InsertString("\n")
		}
		return m, nil
	case "enter":
		return m, m.submitCmd()
	}

	if handled := m.handleViewportKey(msg); handled {
		return m, nil
	}

	var cmds []tea.Cmd
	if !m.input.Focused() {
		if !isPrintable(msg) {
			return m, nil
		}
		cmds = append(cmds, m.input.Focus())
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// isPrintable reports keys that type a character without a modifier.
func isPrintable(msg tea.KeyMsg) bool {
	if msg.Alt || msg.Paste {
		return false
	}
	return msg.Type == tea.KeyRunes || msg.Type == tea.KeySpace
}

func (m *model) submitCmd() tea.Cmd {
	if m.sending || m.submit == nil {
		return nil
	}

	input := m.input.Value()
	if strings.TrimSpace(input) == "" {
		return nil
	}

	m.sending = true
	ctx, submit := m.ctx, m.submit
	return func() tea.Msg {
		sent, err := submit(ctx, input)
		return submitResultMsg{input: input, sent: sent, err: err}
	}
}

func (m *model) applyEvent(event bus.Event) {
	switch event.Type {
	case bus.EventConnecting:
		m.status = "fetching credential"
	case bus.EventAuthenticating:
		m.status = "connecting"
	case bus.EventOpen:
		m.status = "live"
		m.connected = true
		m.lastErr = ""
	case bus.EventClosing:
		m.status = "closing"
		m.connected = false
	case bus.EventClosed:
		m.status = "disconnected"
		m.connected = false
	case bus.EventReconnectScheduled:
		m.status = fmt.Sprintf("reconnecting in %sms", event.Payload["delay_ms"])
	case bus.EventAuthRequired, bus.EventReauthRequired:
		m.status = "sign-in required: " + event.Redirect
	case bus.EventSendFailed:
		m.lastErr = "message not sent: " + event.Error
	}
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("💬 " + m.title)
	meta := m.theme.headerMeta.Render(fmt.Sprintf("messages:%d · status:%s", len(m.entries), m.status))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("─", max(8, m.width-2)))

	status := m.theme.status.Render("Enter send · Alt+Enter newline · Tab focus · PgUp/PgDn scroll · Esc quit")
	switch {
	case m.lastErr != "":
		status = m.theme.statusErr.Render("🚨 " + m.lastErr)
	case m.sending:
		status = m.theme.statusBusy.Render(m.spinner.View() + " sending...")
	case !m.connected && !m.ended:
		status = m.theme.statusBusy.Render(m.spinner.View() + " " + m.status + "...")
	case m.ended:
		status = m.theme.statusErr.Render("connection closed · Esc quit")
	}

	inputStyle := m.theme.input
	if !m.input.Focused() {
		inputStyle = m.theme.inputIdle
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("✏️  You"),
		inputStyle.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := max(30, m.width-6)
	h := max(6, m.height-13)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.SetWidth(w - 2)
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset

	sections := make([]string, 0, len(m.entries))
	for _, entry := range m.entries {
		sections = append(sections, m.renderEntry(entry))
	}

	m.viewport.SetContent(strings.Join(sections, "\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderEntry(entry view.Entry) string {
	label := m.theme.avatar.Render(avatarLabel(entry.AvatarURL))
	if entry.ShowUsername && entry.Username != "" {
		author := m.theme.author
		if m.selfID != 0 && entry.UserID == m.selfID {
			author = m.theme.ownAuthor
		}
		label += " " + author.Render(entry.Username)
	}

	body := m.theme.body.Width(max(10, m.viewport.Width-2)).Render(strings.TrimSpace(entry.Text))
	return lipgloss.JoinVertical(lipgloss.Left, label, body)
}

// avatarLabel shows the avatar file name; terminals cannot draw the image.
func avatarLabel(url string) string {
	url = strings.TrimSpace(url)
	if url == "" {
		return "[•]"
	}
	if i := strings.LastIndex(url, "/"); i >= 0 && i < len(url)-1 {
		url = url[i+1:]
	}
	return "[" + url + "]"
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "ctrl+home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "ctrl+end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.SetYOffset(max(0, m.viewport.YOffset-wheelStep))
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.SetYOffset(m.viewport.YOffset + wheelStep)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}
