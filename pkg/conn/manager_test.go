package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"chatsync/pkg/api"
	"chatsync/pkg/bus"
	"chatsync/pkg/logger"
	"chatsync/pkg/protocol"
)

type staticTokens struct {
	credential protocol.Credential
	ok         bool

	mu    sync.Mutex
	calls int
}

func (s *staticTokens) FetchCredential(context.Context) (protocol.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.credential, s.ok
}

// slowTokens ignores cancellation so the manager has to discard its result.
type slowTokens struct {
	started chan struct{}
	release chan struct{}
}

func (s *slowTokens) FetchCredential(context.Context) (protocol.Credential, bool) {
	close(s.started)
	<-s.release
	return "late", true
}

type readResult struct {
	payload string
	err     error
}

type fakeTransport struct {
	reads chan readResult
	done  chan struct{}
	once  sync.Once

	mu     sync.Mutex
	writes []string
}

func newFakeTransport(results ...readResult) *fakeTransport {
	reads := make(chan readResult, len(results)+1)
	for _, result := range results {
		reads <- result
	}
	return &fakeTransport{reads: reads, done: make(chan struct{})}
}

func (f *fakeTransport) Read(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-f.done:
		return "", errors.New("use of closed connection")
	case result := <-f.reads:
		return result.payload, result.err
	}
}

func (f *fakeTransport) Write(_ context.Context, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, payload)
	return nil
}

func (f *fakeTransport) Close(string) error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeTransport) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	err        error
	urls       []string
	dialed     chan struct{}
}

func newFakeDialer(transports ...*fakeTransport) *fakeDialer {
	return &fakeDialer{transports: transports, dialed: make(chan struct{}, 16)}
}

func (f *fakeDialer) Dial(_ context.Context, url string) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.urls = append(f.urls, url)
	f.dialed <- struct{}{}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.transports) == 0 {
		return newFakeTransport(), nil
	}

	next := f.transports[0]
	f.transports = f.transports[1:]
	return next, nil
}

func (f *fakeDialer) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

func newTestManager(t *testing.T, channel Channel, opts Options, tokens TokenProvider, dialer Dialer) (*Manager, *bus.Queue, <-chan bus.Event) {
	t.Helper()

	queue := bus.New()
	t.Cleanup(queue.Close)
	events, _ := queue.Subscribe(context.Background(), 64)

	manager, err := NewManager(channel, "ws://chat.test"+channel.Path(), opts, tokens, dialer, queue, logger.Discard())
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	return manager, queue, events
}

func runAsync(manager *Manager) <-chan error {
	done := make(chan error, 1)
	go func() { done <- manager.Run(context.Background()) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
		return nil
	}
}

func waitDial(t *testing.T, dialer *fakeDialer) {
	t.Helper()

	select {
	case <-dialer.dialed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
	}
}

func drainEvents(events <-chan bus.Event) []bus.Event {
	var out []bus.Event
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, event)
		default:
			return out
		}
	}
}

func countEvents(events []bus.Event, eventType bus.EventType) int {
	count := 0
	for _, event := range events {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

func TestRunWithoutCredentialOpensNoTransport(t *testing.T) {
	t.Parallel()

	for name, tokens := range map[string]*staticTokens{
		"absent": {ok: false},
		"empty":  {credential: "", ok: true},
	} {
		dialer := newFakeDialer()
		manager, _, events := newTestManager(t, ChatList(), Options{AutoReconnect: true}, tokens, dialer)

		err := manager.Run(context.Background())
		if !errors.Is(err, ErrAuthAbsent) {
			t.Fatalf("%s: Run error = %v, want ErrAuthAbsent", name, err)
		}
		if dialer.Dials() != 0 {
			t.Fatalf("%s: dials = %d, want 0", name, dialer.Dials())
		}

		var redirect string
		for _, event := range drainEvents(events) {
			if event.Type == bus.EventAuthRequired {
				redirect = event.Redirect
			}
		}
		if redirect != api.RedirectLogin {
			t.Fatalf("%s: redirect = %q, want %q", name, redirect, api.RedirectLogin)
		}
		if manager.State() != StateClosed {
			t.Fatalf("%s: state = %s, want closed", name, manager.State())
		}
	}
}

func TestCredentialIsFirstFrameAndFramesReachBus(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport(readResult{payload: `[{"text":"hi"}]`})
	dialer := newFakeDialer(transport)
	manager, queue, _ := newTestManager(t, Conversation(7), Options{}, &staticTokens{credential: "tok", ok: true}, dialer)

	done := runAsync(manager)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	opened, ok := queue.Next(ctx)
	if !ok || opened.Kind != bus.FrameOpened {
		t.Fatalf("first frame = %+v, want opened marker", opened)
	}
	frame, ok := queue.Next(ctx)
	if !ok {
		t.Fatal("expected inbound frame")
	}
	if frame.Kind != bus.FrameMessage || frame.AttemptID != opened.AttemptID || frame.Payload != `[{"text":"hi"}]` || frame.Channel != "conversation:7" || frame.AttemptID == "" {
		t.Fatalf("frame = %+v", frame)
	}
	if manager.State() != StateOpen {
		t.Fatalf("state = %s, want open", manager.State())
	}

	if err := manager.Send(ctx, "hello"); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	manager.Close()
	if err := waitRun(t, done); err != nil {
		t.Fatalf("Run error after Close = %v, want nil", err)
	}

	writes := transport.Writes()
	if len(writes) != 2 || writes[0] != "tok" || writes[1] != "hello" {
		t.Fatalf("writes = %q, want credential then message", writes)
	}
	if dialer.urls[0] != "ws://chat.test/ws/7" {
		t.Fatalf("dial url = %q", dialer.urls[0])
	}
	if manager.State() != StateClosed {
		t.Fatalf("state = %s, want closed", manager.State())
	}
}

func TestChatListReconnectsOnceAfterClose(t *testing.T) {
	t.Parallel()

	first := newFakeTransport(readResult{err: websocket.CloseError{Code: websocket.StatusInternalError, Reason: "boom"}})
	second := newFakeTransport()
	dialer := newFakeDialer(first, second)
	tokens := &staticTokens{credential: "tok", ok: true}
	manager, _, events := newTestManager(t, ChatList(), Options{AutoReconnect: true, ReconnectDelay: 20 * time.Millisecond}, tokens, dialer)

	done := runAsync(manager)
	waitDial(t, dialer)
	waitDial(t, dialer)

	manager.Close()
	if err := waitRun(t, done); err != nil {
		t.Fatalf("Run error = %v, want nil", err)
	}

	collected := drainEvents(events)
	if got := countEvents(collected, bus.EventReconnectScheduled); got != 1 {
		t.Fatalf("reconnects scheduled = %d, want 1", got)
	}
	if dialer.Dials() != 2 {
		t.Fatalf("dials = %d, want 2", dialer.Dials())
	}
	if tokens.calls != 2 {
		t.Fatalf("credential fetches = %d, want one per attempt", tokens.calls)
	}
	if writes := second.Writes(); len(writes) != 1 || writes[0] != "tok" {
		t.Fatalf("second attempt writes = %q", writes)
	}
}

func TestPolicyCloseIsTerminal(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport(readResult{err: websocket.CloseError{Code: websocket.StatusPolicyViolation, Reason: "expired"}})
	dialer := newFakeDialer(transport)
	manager, _, events := newTestManager(t, ChatList(), Options{AutoReconnect: true, ReconnectDelay: time.Millisecond}, &staticTokens{credential: "tok", ok: true}, dialer)

	err := manager.Run(context.Background())
	if !errors.Is(err, ErrPolicyClose) {
		t.Fatalf("Run error = %v, want ErrPolicyClose", err)
	}
	if dialer.Dials() != 1 {
		t.Fatalf("dials = %d, want 1", dialer.Dials())
	}

	collected := drainEvents(events)
	if got := countEvents(collected, bus.EventReconnectScheduled); got != 0 {
		t.Fatalf("reconnects scheduled = %d, want 0", got)
	}
	var redirect string
	for _, event := range collected {
		if event.Type == bus.EventReauthRequired {
			redirect = event.Redirect
		}
	}
	if redirect != api.RedirectProfile {
		t.Fatalf("redirect = %q, want %q", redirect, api.RedirectProfile)
	}
}

func TestConversationDoesNotReconnectByDefault(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport(readResult{err: errors.New("connection reset")})
	dialer := newFakeDialer(transport)
	manager, _, events := newTestManager(t, Conversation(3), Options{}, &staticTokens{credential: "tok", ok: true}, dialer)

	err := manager.Run(context.Background())
	if !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("Run error = %v, want ErrTransportClosed", err)
	}
	if dialer.Dials() != 1 {
		t.Fatalf("dials = %d, want 1", dialer.Dials())
	}
	if got := countEvents(drainEvents(events), bus.EventReconnectScheduled); got != 0 {
		t.Fatalf("reconnects scheduled = %d, want 0", got)
	}
}

func TestReconnectCap(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	dialer.err = errors.New("connection refused")
	manager, _, _ := newTestManager(t, ChatList(), Options{AutoReconnect: true, ReconnectDelay: time.Millisecond, MaxReconnectAttempts: 2}, &staticTokens{credential: "tok", ok: true}, dialer)

	err := manager.Run(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) || !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("Run error = %v, want ErrRetriesExhausted wrapping ErrTransportClosed", err)
	}
	if dialer.Dials() != 3 {
		t.Fatalf("dials = %d, want 3", dialer.Dials())
	}
}

func TestCredentialResolvedAfterTeardownIsDiscarded(t *testing.T) {
	t.Parallel()

	tokens := &slowTokens{started: make(chan struct{}), release: make(chan struct{})}
	dialer := newFakeDialer()
	manager, _, _ := newTestManager(t, ChatList(), Options{AutoReconnect: true}, tokens, dialer)

	done := runAsync(manager)
	<-tokens.started
	manager.Close()
	close(tokens.release)

	if err := waitRun(t, done); err != nil {
		t.Fatalf("Run error = %v, want nil", err)
	}
	if dialer.Dials() != 0 {
		t.Fatalf("dials = %d, want 0", dialer.Dials())
	}
}

func TestSendWhenNotOpen(t *testing.T) {
	t.Parallel()

	manager, _, events := newTestManager(t, Conversation(1), Options{}, &staticTokens{}, newFakeDialer())

	if err := manager.Send(context.Background(), "hi"); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Send error = %v, want ErrNotOpen", err)
	}
	if got := countEvents(drainEvents(events), bus.EventSendFailed); got != 1 {
		t.Fatalf("send_failed events = %d, want 1", got)
	}

	manager.Close()
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	manager, _, _ := newTestManager(t, ChatList(), Options{}, &staticTokens{credential: "tok", ok: true}, dialer)

	done := runAsync(manager)
	waitDial(t, dialer)

	if err := manager.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run error = %v, want ErrAlreadyRunning", err)
	}

	manager.Close()
	if err := waitRun(t, done); err != nil {
		t.Fatalf("Run error = %v, want nil", err)
	}
}

func TestCloseHoldsClosingUntilClosed(t *testing.T) {
	t.Parallel()

	tokens := &slowTokens{started: make(chan struct{}), release: make(chan struct{})}
	manager, _, events := newTestManager(t, ChatList(), Options{AutoReconnect: true}, tokens, newFakeDialer())

	done := runAsync(manager)
	<-tokens.started

	manager.Close()
	if manager.State() != StateClosing {
		t.Fatalf("state after Close = %s, want closing", manager.State())
	}

	manager.setState(StateConnecting, "stale", nil)
	if manager.State() != StateClosing {
		t.Fatalf("state = %s, want closing to hold until closed", manager.State())
	}

	close(tokens.release)
	if err := waitRun(t, done); err != nil {
		t.Fatalf("Run error = %v, want nil after Close", err)
	}

	var got []bus.EventType
	for _, event := range drainEvents(events) {
		got = append(got, event.Type)
	}
	want := []bus.EventType{bus.EventConnecting, bus.EventClosing, bus.EventClosed}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}
