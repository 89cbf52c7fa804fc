package session

import (
	"context"
	"log/slog"

	"chatsync/pkg/bus"
	"chatsync/pkg/config"
	"chatsync/pkg/conn"
	"chatsync/pkg/protocol"
	"chatsync/pkg/view"
)

// Conversation keeps one conversation transcript in sync.
type Conversation struct {
	*runner
	view *view.Conversation
}

func NewConversation(cfg config.ConversationConfig, recipientID int64, transport Transport, surface view.ConversationSurface, log *slog.Logger) (*Conversation, error) {
	if log == nil {
		log = slog.Default()
	}

	opts := reconnectOptions(cfg.AutoReconnect, cfg.ReconnectDelaySeconds, cfg.MaxReconnectAttempts)
	r, err := newRunner(conn.Conversation(recipientID), transport, opts, log)
	if err != nil {
		return nil, err
	}

	s := &Conversation{runner: r}
	s.view = view.NewConversation(surface, r.manager, view.ConversationOptions{ShowUsername: cfg.ShowUsername}, log)
	r.handle = s.handleFrame
	return s, nil
}

// Run connects and reconciles until teardown or a terminal close.
func (s *Conversation) Run(ctx context.Context) error {
	return s.run(ctx)
}

// Close tears the connection down without reconnecting.
func (s *Conversation) Close() {
	s.close()
}

// Submit sends input; see view.Conversation.Submit.
func (s *Conversation) Submit(ctx context.Context, input string) (bool, error) {
	return s.view.Submit(ctx, input)
}

// Subscribe streams connection lifecycle events.
func (s *Conversation) Subscribe(ctx context.Context) (<-chan bus.Event, func()) {
	return s.subscribe(ctx)
}

// Transcript returns the entries reconciled so far. Call it after Run has
// returned or from the surface.
func (s *Conversation) Transcript() []view.Entry {
	return s.view.Transcript()
}

func (s *Conversation) handleFrame(frame bus.Frame) error {
	if frame.Kind != bus.FrameMessage {
		return nil
	}

	s.view.Reconcile(protocol.Decode(frame.Payload))
	return nil
}
