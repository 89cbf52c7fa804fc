// Package protocol decodes inbound chat frames into events and encodes
// outbound frames for the streaming chat channels.
package protocol

import "time"

// Event is one decoded inbound event. The set of implementations is closed:
// ChatMessage, ChatListUpdate and Unrecognized.
type Event interface {
	isEvent()
}

// ChatMessage is one message in a conversation transcript.
type ChatMessage struct {
	Text      string
	Username  string
	AvatarURL string
	UserID    int64
}

// Recipient identifies the other participant of a chat-list room.
type Recipient struct {
	ID       int64
	Username string
	Avatar   string
}

// IsZero reports whether the server omitted the recipient.
func (r Recipient) IsZero() bool {
	return r.ID == 0 && r.Username == "" && r.Avatar == ""
}

// ChatListUpdate announces new activity in one room of the chat list.
type ChatListUpdate struct {
	RoomID        string
	Recipient     Recipient
	LastMessage   string
	LastMessageAt *time.Time
	SenderID      int64
}

// Unrecognized wraps a frame or frame element that matched no known event.
type Unrecognized struct {
	Raw    string
	Reason string
}

func (ChatMessage) isEvent()    {}
func (ChatListUpdate) isEvent() {}
func (Unrecognized) isEvent()   {}

// Credential is the short-lived session token sent as the first frame.
type Credential string

// OutboundMessage is user input bound for the conversation channel.
type OutboundMessage struct {
	Text string
}
