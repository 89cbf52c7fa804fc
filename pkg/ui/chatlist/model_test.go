package chatlist

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"chatsync/pkg/conn"
	"chatsync/pkg/protocol"
	"chatsync/pkg/view"
)

func summaries(ids ...string) []view.Summary {
	out := make([]view.Summary, 0, len(ids))
	for _, id := range ids {
		out = append(out, view.Summary{RoomID: id, Recipient: protocol.Recipient{Username: "user-" + id}})
	}
	return out
}

func TestSnapshotKeepsCursorOnSameRoom(t *testing.T) {
	t.Parallel()

	m := newModel()
	m.Update(renderMsg{summaries: summaries("1", "2", "3")})
	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	if m.cursor != 1 {
		t.Fatalf("cursor = %d, want 1", m.cursor)
	}

	// Room 3 is promoted; room 2 moves down one row.
	m.Update(renderMsg{summaries: summaries("3", "1", "2")})
	if m.summaries[m.cursor].RoomID != "2" {
		t.Fatalf("cursor on room %q, want 2", m.summaries[m.cursor].RoomID)
	}
}

func TestEnterChoosesRoom(t *testing.T) {
	t.Parallel()

	m := newModel()
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Fatal("enter on empty list should do nothing")
	}

	m.Update(renderMsg{summaries: summaries("7", "8")})
	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil || m.chosen == nil || m.chosen.RoomID != "8" {
		t.Fatalf("chosen = %+v, want room 8", m.chosen)
	}
}

func TestRowShowsTimestampOnlyWhenPresent(t *testing.T) {
	t.Parallel()

	m := newModel()
	at := time.Date(2025, 11, 4, 9, 0, 0, 0, time.Local)
	withStamp := m.renderRow(view.Summary{RoomID: "1", Recipient: protocol.Recipient{Username: "bob"}, LastMessage: "hey", LastMessageAt: &at}, false)
	if !strings.Contains(withStamp, "04.11") {
		t.Fatalf("row = %q, want timestamp", withStamp)
	}

	withoutStamp := m.renderRow(view.Summary{RoomID: "2", LastMessage: "hey"}, true)
	if strings.Contains(withoutStamp, ".") {
		t.Fatalf("row = %q, want no time label", withoutStamp)
	}
	if !strings.Contains(withoutStamp, "room 2") {
		t.Fatalf("row = %q, want room fallback name", withoutStamp)
	}
}

func TestPreviewTruncates(t *testing.T) {
	t.Parallel()

	if got := preview("a\nb   c", 20); got != "a b c" {
		t.Fatalf("preview = %q", got)
	}
	if got := preview(strings.Repeat("x", 30), 10); runewidth.StringWidth(got) > 10 || !strings.HasSuffix(got, "…") {
		t.Fatalf("preview = %q", got)
	}
	if got := preview("日本語のメッセージです", 8); runewidth.StringWidth(got) > 8 || !strings.HasSuffix(got, "…") {
		t.Fatalf("wide preview = %q (width %d)", got, runewidth.StringWidth(got))
	}
}

func TestEndedByRedirectQuits(t *testing.T) {
	t.Parallel()

	m := newModel()
	_, cmd := m.Update(endedMsg{err: conn.ErrAuthAbsent})
	if cmd == nil {
		t.Fatal("expected quit after auth redirect")
	}
}
