// Package chatlist renders the live chat list and lets the user pick a
// conversation.
package chatlist

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"chatsync/pkg/bus"
	"chatsync/pkg/conn"
	"chatsync/pkg/view"
)

type renderMsg struct {
	summaries []view.Summary
}

type statusMsg struct {
	event bus.Event
}

type endedMsg struct {
	err error
}

type styles struct {
	header   lipgloss.Style
	row      lipgloss.Style
	selected lipgloss.Style
	name     lipgloss.Style
	preview  lipgloss.Style
	stamp    lipgloss.Style
	status   lipgloss.Style
	errText  lipgloss.Style
	hint     lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("24")),
		row: lipgloss.NewStyle().
			PaddingLeft(2),
		selected: lipgloss.NewStyle().
			PaddingLeft(1).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("214")),
		name: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("44")),
		preview: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")),
		stamp: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		status: lipgloss.NewStyle().
			Foreground(lipgloss.Color("222")).
			Bold(true),
		errText: lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true),
		hint: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
	}
}

type model struct {
	styles    styles
	spinner   spinner.Model
	summaries []view.Summary
	cursor    int
	width     int
	status    string
	connected bool
	lastErr   string
	chosen    *view.Summary
}

func newModel() *model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return &model{
		styles:  defaultStyles(),
		spinner: spin,
		width:   80,
		status:  "connecting",
	}
}

func (m *model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		return m, nil
	case renderMsg:
		m.applySnapshot(typed.summaries)
		return m, nil
	case statusMsg:
		m.applyEvent(typed.event)
		return m, nil
	case endedMsg:
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
		switch typed.String() {
		case "ctrl+c", "esc", "q":
			return m, tea.Quit
		case "up", "k":
			m.cursor = max(0, m.cursor-1)
		case "down", "j":
			m.cursor = min(len(m.summaries)-1, m.cursor+1)
			m.cursor = max(0, m.cursor)
		case "enter":
			if len(m.summaries) == 0 {
				return m, nil
			}
			chosen := m.summaries[m.cursor]
			m.chosen = &chosen
			return m, tea.Quit
		}
	}

	return m, nil
}

// applySnapshot replaces the rows and keeps the cursor on the same room.
func (m *model) applySnapshot(summaries []view.Summary) {
	selected := ""
	if m.cursor < len(m.summaries) {
		selected = m.summaries[m.cursor].RoomID
	}

	m.summaries = summaries
	m.cursor = 0
	for i, summary := range summaries {
		if summary.RoomID == selected {
			m.cursor = i
			break
		}
	}
}

func (m *model) applyEvent(event bus.Event) {
	if event.Terminal() {
		m.status = "sign-in required: " + event.Redirect
		m.connected = false
		return
	}

	switch event.Type {
	case bus.EventOpen:
		m.status = "live"
		m.connected = true
		m.lastErr = ""
	case bus.EventReconnectScheduled:
		m.status = fmt.Sprintf("reconnecting in %sms", event.Payload["delay_ms"])
		m.connected = false
	case bus.EventClosed:
		m.status = "disconnected"
		m.connected = false
	}
}

func (m *model) View() string {
	lines := []string{m.styles.header.Width(max(20, m.width-2)).Render(fmt.Sprintf("🗂  Chats (%d)", len(m.summaries)))}

	if len(m.summaries) == 0 {
		lines = append(lines, m.styles.hint.Render("  no conversations yet"))
	}
	for i, summary := range m.summaries {
		lines = append(lines, m.renderRow(summary, i == m.cursor))
	}

	status := m.styles.hint.Render("↑/↓ select · Enter open · q quit")
	switch {
	case m.lastErr != "":
		status = m.styles.errText.Render("🚨 " + m.lastErr)
	case !m.connected:
		status = m.styles.status.Render(m.spinner.View() + " " + m.status + "...")
	}
	lines = append(lines, "", status)

	return strings.Join(lines, "\n")
}

func (m *model) renderRow(summary view.Summary, selected bool) string {
	name := summary.Recipient.Username
	if name == "" {
		name = "room " + summary.RoomID
	}

	row := m.styles.name.Render(name)
	if stamp := view.FormatTimestamp(summary.LastMessageAt); stamp != "" {
		row += " " + m.styles.stamp.Render(stamp)
	}
	row += "\n" + m.styles.preview.Render(preview(summary.LastMessage, max(20, m.width-8)))

	if selected {
		return m.styles.selected.Render(row)
	}
	return m.styles.row.Render(row)
}

// preview flattens a message onto one line and truncates it to width runes.
func preview(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	return runewidth.Truncate(text, width, "…")
}
