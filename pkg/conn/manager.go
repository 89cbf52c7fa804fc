package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"chatsync/pkg/api"
	"chatsync/pkg/bus"
	"chatsync/pkg/protocol"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	writeTimeout          = 10 * time.Second
)

// Manager runs the connection state machine for one channel. Inbound frames
// are queued on the bus for a single consumer; lifecycle transitions are
// published as bus events.
type Manager struct {
	channel Channel
	url     string
	opts    Options
	tokens  TokenProvider
	dialer  Dialer
	bus     *bus.Queue
	log     *slog.Logger

	mu        sync.Mutex
	state     State
	attemptID string
	transport Transport
	cancel    context.CancelFunc
	running   bool
}

// NewManager builds a manager dialing url for channel.
func NewManager(channel Channel, url string, opts Options, tokens TokenProvider, dialer Dialer, queue *bus.Queue, log *slog.Logger) (*Manager, error) {
	if tokens == nil {
		return nil, errors.New("token provider is required")
	}
	if dialer == nil {
		return nil, errors.New("dialer is required")
	}
	if queue == nil {
		return nil, errors.New("message bus is required")
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if log == nil {
		log = slog.Default()
	}

	return &Manager{
		channel: channel,
		url:     url,
		opts:    opts,
		tokens:  tokens,
		dialer:  dialer,
		bus:     queue,
		log:     log.With("component", "conn.manager", "channel", channel.Name()),
	}, nil
}

func (m *Manager) Channel() Channel {
	return m.channel
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run connects and keeps the channel connected until ctx ends, Close is
// called, or a terminal condition occurs. Explicit teardown returns nil.
// ErrAuthAbsent and ErrPolicyClose are terminal and published as redirects.
func (m *Manager) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.cancel = cancel
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.mu.Unlock()
	}()

	failures := 0
	for {
		opened, err := m.attempt(ctx)
		if opened {
			failures = 0
		}

		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrAuthAbsent):
			m.publish(bus.Event{Type: bus.EventAuthRequired, Redirect: api.RedirectLogin})
			return err
		case errors.Is(err, ErrPolicyClose):
			m.publish(bus.Event{Type: bus.EventReauthRequired, Redirect: api.RedirectProfile})
			return err
		}

		if !m.opts.AutoReconnect {
			return err
		}

		failures++
		if m.opts.MaxReconnectAttempts > 0 && failures > m.opts.MaxReconnectAttempts {
			m.log.Warn("Giving up reconnecting", "attempts", failures-1, "error", err)
			return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}

		m.log.Info("Reconnect scheduled", "delay", m.opts.ReconnectDelay, "attempt", failures, "error", err)
		m.publish(bus.Event{
			Type:    bus.EventReconnectScheduled,
			Error:   errorString(err),
			Payload: map[string]string{"delay_ms": strconv.FormatInt(m.opts.ReconnectDelay.Milliseconds(), 10), "attempt": strconv.Itoa(failures)},
		})

		timer := time.NewTimer(m.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// attempt runs one connection attempt to completion. opened reports whether
// the attempt reached Open.
func (m *Manager) attempt(ctx context.Context) (opened bool, err error) {
	attemptID := uuid.NewString()
	log := m.log.With("attempt_id", attemptID)

	m.setState(StateConnecting, attemptID, nil)
	defer func() {
		m.setState(StateClosed, attemptID, err)
	}()

	credential, ok := m.tokens.FetchCredential(ctx)
	if ctx.Err() != nil {
		log.Debug("Discarding credential fetched after teardown")
		return false, ctx.Err()
	}
	if !ok || credential == "" {
		log.Warn("No credential available")
		return false, ErrAuthAbsent
	}

	m.setState(StateAuthenticating, attemptID, nil)
	transport, err := m.dialer.Dial(ctx, m.url)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Warn("Dial failed", "url", m.url, "error", err)
		return false, fmt.Errorf("%w: dial: %w", ErrTransportClosed, err)
	}
	defer func() {
		m.mu.Lock()
		m.transport = nil
		m.mu.Unlock()
		_ = transport.Close("")
	}()

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	err = transport.Write(writeCtx, protocol.EncodeCredential(credential))
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, m.classifyClose(err)
	}

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false, ctx.Err()
	}
	m.transport = transport
	m.mu.Unlock()
	m.setState(StateOpen, attemptID, nil)
	log.Info("Connection open")

	openFrame := bus.Frame{Kind: bus.FrameOpened, Channel: m.channel.Name(), AttemptID: attemptID, ReceivedAt: time.Now().UTC()}
	if !m.bus.Push(ctx, openFrame) {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		return true, fmt.Errorf("%w: message bus closed", ErrTransportClosed)
	}

	return true, m.readLoop(ctx, transport, attemptID)
}

func (m *Manager) readLoop(ctx context.Context, transport Transport, attemptID string) error {
	for {
		payload, err := transport.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return m.classifyClose(err)
		}

		frame := bus.Frame{
			Channel:    m.channel.Name(),
			AttemptID:  attemptID,
			Payload:    payload,
			ReceivedAt: time.Now().UTC(),
		}
		if !m.bus.Push(ctx, frame) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: message bus closed", ErrTransportClosed)
		}
	}
}

func (m *Manager) classifyClose(err error) error {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.StatusPolicyViolation {
			m.log.Warn("Server closed connection by policy", "reason", closeErr.Reason)
			return fmt.Errorf("%w: %s", ErrPolicyClose, closeErr.Reason)
		}
		m.log.Info("Server closed connection", "code", int(closeErr.Code), "reason", closeErr.Reason)
		return fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}

	m.log.Warn("Connection lost", "error", err)
	return fmt.Errorf("%w: %w", ErrTransportClosed, err)
}

// Send writes one outbound frame. It is valid only while Open; otherwise it
// returns ErrNotOpen without touching the transport.
func (m *Manager) Send(ctx context.Context, payload string) error {
	m.mu.Lock()
	state, transport, attemptID := m.state, m.transport, m.attemptID
	m.mu.Unlock()

	if state != StateOpen || transport == nil {
		m.log.Warn("Send attempted while not open", "state", state.String())
		m.publish(bus.Event{Type: bus.EventSendFailed, AttemptID: attemptID, Error: ErrNotOpen.Error()})
		return ErrNotOpen
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := transport.Write(writeCtx, payload); err != nil {
		m.log.Warn("Send failed", "attempt_id", attemptID, "error", err)
		m.publish(bus.Event{Type: bus.EventSendFailed, AttemptID: attemptID, Error: err.Error()})
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	return nil
}

// Close tears the connection down without reconnecting. It is safe to call
// at any time and more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel, previous, attemptID := m.cancel, m.state, m.attemptID
	if cancel == nil {
		m.mu.Unlock()
		return
	}
	closing := previous != StateClosed && previous != StateClosing
	if closing {
		m.state = StateClosing
	}
	m.mu.Unlock()

	if closing {
		m.log.Debug("State changed", "attempt_id", attemptID, "from", previous.String(), "to", StateClosing.String())
		m.publish(bus.Event{Type: bus.EventClosing, AttemptID: attemptID})
	}
	cancel()
}

func (m *Manager) setState(state State, attemptID string, cause error) {
	m.mu.Lock()
	previous := m.state
	// Closing only gives way to Closed.
	if previous == StateClosing && state != StateClosed {
		m.mu.Unlock()
		return
	}
	if state == StateClosed && previous == StateClosing {
		cause = nil
	}
	m.state = state
	m.attemptID = attemptID
	m.mu.Unlock()

	if previous == state {
		return
	}

	m.log.Debug("State changed", "attempt_id", attemptID, "from", previous.String(), "to", state.String())
	m.publish(bus.Event{Type: stateEvents[state], AttemptID: attemptID, Error: errorString(cause)})
}

var stateEvents = map[State]bus.EventType{
	StateClosed:         bus.EventClosed,
	StateConnecting:     bus.EventConnecting,
	StateAuthenticating: bus.EventAuthenticating,
	StateOpen:           bus.EventOpen,
	StateClosing:        bus.EventClosing,
}

func (m *Manager) publish(event bus.Event) {
	event.Channel = m.channel.Name()
	if event.AttemptID == "" {
		m.mu.Lock()
		event.AttemptID = m.attemptID
		m.mu.Unlock()
	}
	m.bus.Emit(context.Background(), event)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
