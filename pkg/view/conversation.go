// Package view reconciles decoded events into the conversation transcript and
// the chat list, and drives an injected rendering surface.
package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chatsync/pkg/protocol"
)

// Entry is one rendered transcript line.
type Entry struct {
	Text      string
	Username  string
	AvatarURL string
	UserID    int64
	// ShowUsername is false when the author label is hidden.
	ShowUsername bool
}

// ConversationSurface displays transcript entries.
type ConversationSurface interface {
	AppendMessage(entry Entry)
	ScrollToBottom()
}

// Sender delivers one encoded outbound frame.
type Sender interface {
	Send(ctx context.Context, payload string) error
}

type ConversationOptions struct {
	ShowUsername bool
}

// Conversation holds the append-only transcript of one conversation.
type Conversation struct {
	surface      ConversationSurface
	sender       Sender
	showUsername bool
	log          *slog.Logger

	transcript []Entry
}

func NewConversation(surface ConversationSurface, sender Sender, opts ConversationOptions, log *slog.Logger) *Conversation {
	if log == nil {
		log = slog.Default()
	}

	return &Conversation{
		surface:      surface,
		sender:       sender,
		showUsername: opts.ShowUsername,
		log:          log.With("component", "view.conversation"),
	}
}

// Reconcile appends one entry per visible chat message, in order, and
// returns how many were appended.
func (c *Conversation) Reconcile(events []protocol.Event) int {
	appended := 0
	for _, event := range events {
		switch e := event.(type) {
		case protocol.ChatMessage:
			if strings.TrimSpace(e.Text) == "" {
				continue
			}
			entry := Entry{
				Text:         e.Text,
				Username:     e.Username,
				AvatarURL:    e.AvatarURL,
				UserID:       e.UserID,
				ShowUsername: c.showUsername,
			}
			c.transcript = append(c.transcript, entry)
			appended++
			if c.surface != nil {
				c.surface.AppendMessage(entry)
				c.surface.ScrollToBottom()
			}
		case protocol.Unrecognized:
			c.log.Warn("Dropped unrecognized frame", "reason", e.Reason, "raw", e.Raw)
		case protocol.ChatListUpdate:
			c.log.Debug("Ignoring chat-list update on conversation channel", "room_id", e.RoomID)
		}
	}

	return appended
}

// Transcript returns a copy of the entries appended so far.
func (c *Conversation) Transcript() []Entry {
	return append([]Entry(nil), c.transcript...)
}

// Submit sends input when it is non-blank after trimming. sent is false
// without error for blank input. A send failure is logged and returned; the
// caller keeps the input for a retry.
func (c *Conversation) Submit(ctx context.Context, input string) (sent bool, err error) {
	payload, err := protocol.Encode(protocol.OutboundMessage{Text: input})
	if errors.Is(err, protocol.ErrEmptyMessage) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := c.sender.Send(ctx, payload); err != nil {
		c.log.Warn("Message not sent", "error", err)
		return false, fmt.Errorf("submit message: %w", err)
	}

	return true, nil
}
