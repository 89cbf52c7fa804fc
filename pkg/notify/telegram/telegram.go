// Package telegram relays chat-list alerts to a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chatsync/pkg/config"
	"chatsync/pkg/notify"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const messagePreviewLimit = 240

// sender is the subset of *telego.Bot the relay uses.
type sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Relay forwards alerts as Telegram messages.
type Relay struct {
	bot    sender
	chatID int64
	log    *slog.Logger
}

// NewRelay validates Telegram configuration and constructs a relay.
func NewRelay(cfg config.TelegramConfig, log *slog.Logger) (*Relay, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("notifications.telegram.token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notifications.telegram.chat_id is required")
	}

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return newRelay(bot, cfg.ChatID, log), nil
}

func newRelay(bot sender, chatID int64, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}

	return &Relay{
		bot:    bot,
		chatID: chatID,
		log:    log.With("component", "notify.telegram"),
	}
}

// Alert sends one formatted alert to the configured chat.
func (r *Relay) Alert(ctx context.Context, alert notify.Alert) error {
	text := formatAlert(alert)
	r.log.Debug("Relaying alert", "chat_id", r.chatID, "room_id", alert.RoomID)

	if _, err := r.bot.SendMessage(ctx, tu.Message(tu.ID(r.chatID), text)); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}

	return nil
}

// formatAlert renders the alert as one short message.
func formatAlert(alert notify.Alert) string {
	from := strings.TrimSpace(alert.From)
	if from == "" {
		from = "room " + strings.TrimSpace(alert.RoomID)
	}

	body := previewText(alert.LastMessage)
	if body == "" {
		return "New activity from " + from
	}

	return from + ": " + body
}

// previewText returns at most messagePreviewLimit runes of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= messagePreviewLimit {
		return trimmed
	}

	return string(runes[:messagePreviewLimit]) + "..."
}
