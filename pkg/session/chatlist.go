package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chatsync/pkg/bus"
	"chatsync/pkg/config"
	"chatsync/pkg/conn"
	"chatsync/pkg/notify"
	"chatsync/pkg/protocol"
	"chatsync/pkg/view"
)

const alertTimeout = 10 * time.Second

// ChatList keeps the chat list in sync and raises throttled alerts.
type ChatList struct {
	*runner
	view     *view.ChatList
	throttle *notify.Throttle
	alerter  notify.Alerter
	now      func() time.Time

	ctx    context.Context
	alerts sync.WaitGroup
}

func NewChatList(cfg config.Config, transport Transport, lister view.Lister, surface view.ChatListSurface, alerter notify.Alerter, log *slog.Logger) (*ChatList, error) {
	if log == nil {
		log = slog.Default()
	}

	opts := reconnectOptions(cfg.ChatList.AutoReconnect, cfg.ChatList.ReconnectDelaySeconds, cfg.ChatList.MaxReconnectAttempts)
	r, err := newRunner(conn.ChatList(), transport, opts, log)
	if err != nil {
		return nil, err
	}

	s := &ChatList{
		runner:   r,
		view:     view.NewChatList(surface, lister, log),
		throttle: notify.NewThrottle(time.Duration(cfg.Notifications.CooldownMillis) * time.Millisecond),
		alerter:  alerter,
		now:      time.Now,
		ctx:      context.Background(),
	}
	r.handle = s.handleFrame
	return s, nil
}

// Run connects and reconciles until teardown or a terminal close. The list
// is reloaded each time the channel opens.
func (s *ChatList) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx = ctx

	err := s.run(ctx)
	s.alerts.Wait()
	return err
}

// Close tears the connection down without reconnecting.
func (s *ChatList) Close() {
	s.close()
}

// Subscribe streams connection lifecycle events.
func (s *ChatList) Subscribe(ctx context.Context) (<-chan bus.Event, func()) {
	return s.subscribe(ctx)
}

// Summaries returns the current list. Call it after Run has returned or from
// the surface.
func (s *ChatList) Summaries() []view.Summary {
	return s.view.Summaries()
}

func (s *ChatList) handleFrame(frame bus.Frame) error {
	if frame.Kind == bus.FrameOpened {
		return s.view.LoadAll(s.ctx)
	}

	var (
		updates []protocol.ChatListUpdate
		errs    []error
	)
	for _, event := range protocol.Decode(frame.Payload) {
		switch e := event.(type) {
		case protocol.ChatListUpdate:
			if err := s.view.Reconcile(s.ctx, e); err != nil {
				s.log.Warn("Chat list update failed", "room_id", e.RoomID, "error", err)
				errs = append(errs, err)
				continue
			}
			updates = append(updates, e)
		case protocol.Unrecognized:
			s.log.Warn("Dropped unrecognized frame", "reason", e.Reason, "raw", e.Raw)
		}
	}

	// One alert decision per frame, however many updates it carried.
	if len(updates) > 0 && s.throttle.ShouldFire(s.now()) {
		s.raise(updates[len(updates)-1])
	}

	return errors.Join(errs...)
}

func (s *ChatList) raise(update protocol.ChatListUpdate) {
	if s.alerter == nil {
		return
	}

	alert := notify.Alert{RoomID: update.RoomID, From: update.Recipient.Username, LastMessage: update.LastMessage}
	if alert.From == "" {
		for _, summary := range s.view.Summaries() {
			if summary.RoomID == update.RoomID {
				alert.From = summary.Recipient.Username
				break
			}
		}
	}

	s.alerts.Add(1)
	go func() {
		defer s.alerts.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), alertTimeout)
		defer cancel()
		if err := s.alerter.Alert(ctx, alert); err != nil {
			s.log.Warn("Alert delivery failed", "room_id", alert.RoomID, "error", err)
		}
	}()
}
