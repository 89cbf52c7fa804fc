// Package conn owns the lifecycle of one authenticated streaming connection:
// credential fetch, dial, first-frame authentication, inbound framing onto the
// bus and the reconnect policy.
package conn

import (
	"context"
	"errors"
	"strconv"
	"time"

	"chatsync/pkg/protocol"
)

var (
	// ErrAuthAbsent means no credential could be obtained; the user must sign in.
	ErrAuthAbsent = errors.New("credential absent")
	// ErrPolicyClose means the server closed with 1008; the user must re-authenticate.
	ErrPolicyClose = errors.New("connection closed by policy")
	// ErrTransportClosed covers every other close and network failure.
	ErrTransportClosed  = errors.New("transport closed")
	ErrNotOpen          = errors.New("connection is not open")
	ErrSendFailed       = errors.New("send failed")
	ErrAlreadyRunning   = errors.New("connection manager already running")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

type State int

const (
	StateClosed State = iota
	StateConnecting
	StateAuthenticating
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Channel is the subscription target of one connection: a single
// conversation or the aggregate chat list.
type Channel struct {
	recipientID int64
}

// Conversation returns the channel for the conversation with recipientID.
func Conversation(recipientID int64) Channel {
	return Channel{recipientID: recipientID}
}

// ChatList returns the aggregate chat-list channel.
func ChatList() Channel {
	return Channel{}
}

func (c Channel) IsChatList() bool {
	return c.recipientID == 0
}

func (c Channel) RecipientID() int64 {
	return c.recipientID
}

// Name labels the channel in logs and events.
func (c Channel) Name() string {
	if c.IsChatList() {
		return "chat-list"
	}
	return "conversation:" + strconv.FormatInt(c.recipientID, 10)
}

// Path is the websocket path relative to the server origin.
func (c Channel) Path() string {
	if c.IsChatList() {
		return "/ws/chat-list"
	}
	return "/ws/" + strconv.FormatInt(c.recipientID, 10)
}

// TokenProvider yields a credential per connection attempt. ok is false when
// none is available.
type TokenProvider interface {
	FetchCredential(ctx context.Context) (protocol.Credential, bool)
}

// Transport is one open streaming connection carrying text frames.
type Transport interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, payload string) error
	Close(reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// Options control reconnects for one channel.
type Options struct {
	AutoReconnect  bool
	ReconnectDelay time.Duration
	// MaxReconnectAttempts caps consecutive reconnects without reaching Open.
	// Zero means unbounded.
	MaxReconnectAttempts int
}
