package protocol

import (
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	TypeChatMessage = "chat_message"
	TypeChatUpdate  = "chat_update"
)

const (
	ReasonMalformed   = "malformed"
	ReasonNotObject   = "not_object"
	ReasonUnknownType = "unknown_type"
)

// ErrEmptyMessage is returned when outbound input is blank after trimming.
var ErrEmptyMessage = errors.New("message is empty")

// naive ISO 8601 layouts the server emits for timestamps without a zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Decode turns one inbound frame into events in frame order. A frame is a
// single JSON object or an array of them. Malformed input yields exactly one
// Unrecognized event. Chat messages with blank text carry nothing to show and
// are dropped.
func Decode(raw string) []Event {
	if !gjson.Valid(raw) {
		return []Event{Unrecognized{Raw: raw, Reason: ReasonMalformed}}
	}

	parsed := gjson.Parse(raw)
	if !parsed.IsArray() {
		return appendEvent(nil, parsed)
	}

	var events []Event
	parsed.ForEach(func(_, element gjson.Result) bool {
		events = appendEvent(events, element)
		return true
	})

	return events
}

func appendEvent(events []Event, element gjson.Result) []Event {
	event, ok := classify(element)
	if !ok {
		return events
	}

	return append(events, event)
}

// classify maps one JSON value to an event. ok is false for chat messages
// dropped by the blank-text rule.
func classify(element gjson.Result) (Event, bool) {
	if !element.IsObject() {
		return Unrecognized{Raw: element.Raw, Reason: ReasonNotObject}, true
	}

	eventType := element.Get("type").String()
	switch {
	case eventType == TypeChatUpdate:
		return decodeChatListUpdate(element), true
	case eventType == TypeChatMessage, eventType == "" && element.Get("text").Exists():
		message := decodeChatMessage(element)
		if strings.TrimSpace(message.Text) == "" {
			return nil, false
		}
		return message, true
	default:
		return Unrecognized{Raw: element.Raw, Reason: ReasonUnknownType}, true
	}
}

func decodeChatMessage(element gjson.Result) ChatMessage {
	return ChatMessage{
		Text:      element.Get("text").String(),
		Username:  element.Get("username").String(),
		AvatarURL: element.Get("avatarUrl").String(),
		UserID:    element.Get("user_id").Int(),
	}
}

func decodeChatListUpdate(element gjson.Result) ChatListUpdate {
	recipient := element.Get("recipient")
	avatar := recipient.Get("profile.avatar").String()
	if avatar == "" {
		avatar = recipient.Get("avatar").String()
	}

	return ChatListUpdate{
		RoomID: element.Get("room_id").String(),
		Recipient: Recipient{
			ID:       recipient.Get("id").Int(),
			Username: recipient.Get("username").String(),
			Avatar:   avatar,
		},
		LastMessage:   element.Get("last_message").String(),
		LastMessageAt: ParseTimestamp(element.Get("last_message_time").String()),
		SenderID:      element.Get("sender_id").Int(),
	}
}

// ParseTimestamp accepts RFC 3339 and zone-less ISO 8601 (read as UTC).
// Empty or unparseable input yields nil.
func ParseTimestamp(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return &parsed
		}
	}

	return nil
}

// Encode renders an outbound chat message. The wire form is the bare trimmed
// text, not a JSON envelope.
func Encode(msg OutboundMessage) (string, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return "", ErrEmptyMessage
	}

	return text, nil
}

// EncodeCredential renders the authentication frame, sent once as the first
// frame of a connection.
func EncodeCredential(credential Credential) string {
	return string(credential)
}
