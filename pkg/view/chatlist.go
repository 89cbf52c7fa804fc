package view

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatsync/pkg/protocol"
)

// Summary is one chat-list row.
type Summary struct {
	RoomID        string
	Recipient     protocol.Recipient
	LastMessage   string
	LastMessageAt *time.Time
}

// ChatListSurface renders the full ordered chat list.
type ChatListSurface interface {
	RenderChatList(summaries []Summary)
}

// Lister fetches the chat list, most recent first.
type Lister interface {
	ListChats(ctx context.Context) ([]protocol.ChatListUpdate, error)
}

// ChatList keeps at most one summary per room, most recently updated first.
type ChatList struct {
	surface ChatListSurface
	lister  Lister
	log     *slog.Logger

	summaries []Summary
}

func NewChatList(surface ChatListSurface, lister Lister, log *slog.Logger) *ChatList {
	if log == nil {
		log = slog.Default()
	}

	return &ChatList{
		surface: surface,
		lister:  lister,
		log:     log.With("component", "view.chat_list"),
	}
}

// Reconcile applies one update with upsert-and-promote and renders once.
// An update for an unknown room that carries no recipient cannot build a row,
// so the list is reloaded instead.
func (l *ChatList) Reconcile(ctx context.Context, update protocol.ChatListUpdate) error {
	index := l.indexOf(update.RoomID)
	if index < 0 && update.Recipient.IsZero() {
		l.log.Debug("Resyncing chat list for unknown room", "room_id", update.RoomID)
		return l.LoadAll(ctx)
	}

	summary := Summary{RoomID: update.RoomID}
	if index >= 0 {
		summary = l.summaries[index]
		l.summaries = append(l.summaries[:index], l.summaries[index+1:]...)
	}
	if !update.Recipient.IsZero() {
		summary.Recipient = update.Recipient
	}
	summary.LastMessage = update.LastMessage
	summary.LastMessageAt = update.LastMessageAt

	l.summaries = append([]Summary{summary}, l.summaries...)
	l.render()
	return nil
}

// LoadAll replaces the list with the server listing, in server order.
func (l *ChatList) LoadAll(ctx context.Context) error {
	chats, err := l.lister.ListChats(ctx)
	if err != nil {
		l.log.Warn("Chat list load failed", "error", err)
		return fmt.Errorf("load chat list: %w", err)
	}

	summaries := make([]Summary, 0, len(chats))
	seen := make(map[string]struct{}, len(chats))
	for _, chat := range chats {
		if _, dup := seen[chat.RoomID]; dup {
			continue
		}
		seen[chat.RoomID] = struct{}{}
		summaries = append(summaries, Summary{
			RoomID:        chat.RoomID,
			Recipient:     chat.Recipient,
			LastMessage:   chat.LastMessage,
			LastMessageAt: chat.LastMessageAt,
		})
	}

	l.summaries = summaries
	l.render()
	return nil
}

// Summaries returns a copy of the current list.
func (l *ChatList) Summaries() []Summary {
	return append([]Summary(nil), l.summaries...)
}

func (l *ChatList) indexOf(roomID string) int {
	for i, summary := range l.summaries {
		if summary.RoomID == roomID {
			return i
		}
	}
	return -1
}

func (l *ChatList) render() {
	if l.surface != nil {
		l.surface.RenderChatList(l.Summaries())
	}
}

// FormatTimestamp renders t as a local day.month label, or "" when absent.
func FormatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Local().Format("02.01")
}
