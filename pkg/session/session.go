// Package session wires one channel end to end: the connection manager
// produces frames, a single consumer decodes them and reconciles the view.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chatsync/pkg/api"
	"chatsync/pkg/bus"
	"chatsync/pkg/config"
	"chatsync/pkg/conn"
)

// Redirect returns the surface a terminal connection error sends the user
// to, or "" when the error has none.
func Redirect(err error) string {
	switch {
	case errors.Is(err, conn.ErrAuthAbsent):
		return api.RedirectLogin
	case errors.Is(err, conn.ErrPolicyClose):
		return api.RedirectProfile
	default:
		return api.RedirectFor(err)
	}
}

// Transport bundles what every session needs to connect.
type Transport struct {
	Tokens conn.TokenProvider
	Dialer conn.Dialer
	// BaseURL is the websocket origin, see conn.WebsocketBase.
	BaseURL string
}

// TransportFromConfig connects with the api client's credentials and the
// websocket dialer.
func TransportFromConfig(cfg config.ServerConfig, client *api.Client) (Transport, error) {
	base, err := conn.WebsocketBase(cfg)
	if err != nil {
		return Transport{}, err
	}

	return Transport{Tokens: client, Dialer: conn.WebsocketDialer{}, BaseURL: base}, nil
}

// runner is the shared run loop: one consumer drains the bus while the
// manager owns the connection.
type runner struct {
	manager *conn.Manager
	bus     *bus.Queue
	log     *slog.Logger
	handle  bus.FrameHandler

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newRunner(channel conn.Channel, transport Transport, opts conn.Options, log *slog.Logger) (*runner, error) {
	queue := bus.New()
	manager, err := conn.NewManager(channel, conn.Endpoint(transport.BaseURL, channel), opts, transport.Tokens, transport.Dialer, queue, log)
	if err != nil {
		queue.Close()
		return nil, err
	}

	return &runner{
		manager: manager,
		bus:     queue,
		log:     log.With("component", "session", "channel", channel.Name()),
	}, nil
}

// run blocks until the connection ends for good. The consumer has stopped
// when it returns, so the view is no longer touched.
func (r *runner) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	onErr := func(frame bus.Frame, err error) {
		r.log.Warn("Frame handling failed", "attempt_id", frame.AttemptID, "error", err)
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		r.bus.Drain(ctx, r.handle, onErr)
	}()

	err := r.manager.Run(ctx)
	cancel()
	<-drained
	// Frames read before the close are still applied.
	if n := r.bus.Flush(r.handle, onErr); n > 0 {
		r.log.Debug("Applied buffered frames after close", "count", n)
	}
	r.bus.Close()

	if err != nil {
		r.log.Info("Session ended", "error", err, "redirect", Redirect(err))
	}
	return err
}

func (r *runner) close() {
	r.manager.Close()

	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *runner) subscribe(ctx context.Context) (<-chan bus.Event, func()) {
	return r.bus.Subscribe(ctx, 32)
}

func reconnectOptions(autoReconnect bool, delaySeconds int, maxAttempts int) conn.Options {
	return conn.Options{
		AutoReconnect:        autoReconnect,
		ReconnectDelay:       time.Duration(delaySeconds) * time.Second,
		MaxReconnectAttempts: maxAttempts,
	}
}
