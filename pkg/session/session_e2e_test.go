package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/api"
	"chatsync/pkg/bus"
	"chatsync/pkg/config"
	"chatsync/pkg/conn"
	"chatsync/pkg/devserver"
	"chatsync/pkg/logger"
	"chatsync/pkg/notify"
	"chatsync/pkg/protocol"
	"chatsync/pkg/view"
)

type conversationRecorder struct {
	mu      sync.Mutex
	entries []view.Entry
}

func (r *conversationRecorder) AppendMessage(entry view.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *conversationRecorder) ScrollToBottom() {}

func (r *conversationRecorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	texts := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		texts = append(texts, entry.Text)
	}
	return texts
}

type listRecorder struct {
	mu     sync.Mutex
	latest []view.Summary
	count  int
}

func (r *listRecorder) RenderChatList(summaries []view.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = summaries
	r.count++
}

func (r *listRecorder) snapshot() []view.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]view.Summary(nil), r.latest...)
}

type countingAlerter struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (a *countingAlerter) Alert(_ context.Context, alert notify.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *countingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

type fixedTokens string

func (f fixedTokens) FetchCredential(context.Context) (protocol.Credential, bool) {
	return protocol.Credential(f), f != ""
}

func startDevServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := devserver.New(devserver.SeedStore(), "", logger.Discard())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func transportFor(t *testing.T, ts *httptest.Server, token string) (Transport, *api.Client) {
	t.Helper()

	cfg := config.Default().Server
	cfg.BaseURL = ts.URL
	cfg.SessionToken = token

	client, err := api.New(cfg, logger.Discard())
	require.NoError(t, err)

	transport, err := TransportFromConfig(cfg, client)
	require.NoError(t, err)
	return transport, client
}

func runAsync(run func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- run(context.Background()) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session to end")
		return nil
	}
}

// rawPeer joins a conversation as another user and sends text frames.
func rawPeer(t *testing.T, ts *httptest.Server, path string, token string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.CloseNow() })

	require.NoError(t, peer.Write(ctx, websocket.MessageText, []byte(token)))
	_, _, err = peer.Read(ctx)
	require.NoError(t, err)
	return peer
}

func TestConversationEndToEnd(t *testing.T) {
	ts := startDevServer(t)
	transport, _ := transportFor(t, ts, "alice-token")

	surface := &conversationRecorder{}
	cfg := config.Default().Conversation
	session, err := NewConversation(cfg, 2, transport, surface, logger.Discard())
	require.NoError(t, err)

	events, unsubscribe := session.Subscribe(context.Background())
	defer unsubscribe()

	done := runAsync(session.Run)
	waitForOpen(t, events)
	waitForHub(t, ts, func(rooms int, _ int) bool { return rooms == 1 })

	peer := rawPeer(t, ts, "/ws/1", "bob-token")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, peer.Write(ctx, websocket.MessageText, []byte("hi alice")))

	require.Eventually(t, func() bool {
		return len(surface.texts()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	sent, err := session.Submit(ctx, "   ")
	require.NoError(t, err)
	require.False(t, sent)

	sent, err = session.Submit(ctx, "  hello bob  ")
	require.NoError(t, err)
	require.True(t, sent)

	require.Eventually(t, func() bool {
		return len(surface.texts()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	session.Close()
	require.NoError(t, waitDone(t, done))

	require.Equal(t, []string{"hi alice", "hello bob"}, surface.texts())
	transcript := session.Transcript()
	require.Len(t, transcript, 2)
	require.Equal(t, "bob", transcript[0].Username)
	require.True(t, transcript[0].ShowUsername)

	_, err = session.Submit(context.Background(), "after close")
	require.ErrorIs(t, err, conn.ErrNotOpen)
}

func TestConversationReceivesHistoryBatch(t *testing.T) {
	ts := startDevServer(t)

	peer := rawPeer(t, ts, "/ws/1", "bob-token")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, text := range []string{"one", " ", "two"} {
		require.NoError(t, peer.Write(ctx, websocket.MessageText, []byte(text)))
	}
	// Each stored message is echoed back; two reads mean both were stored.
	for i := 0; i < 2; i++ {
		_, _, err := peer.Read(ctx)
		require.NoError(t, err)
	}

	transport, _ := transportFor(t, ts, "alice-token")
	surface := &conversationRecorder{}
	session, err := NewConversation(config.Default().Conversation, 2, transport, surface, logger.Discard())
	require.NoError(t, err)

	done := runAsync(session.Run)
	require.Eventually(t, func() bool {
		return len(surface.texts()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	session.Close()
	require.NoError(t, waitDone(t, done))
	require.Equal(t, []string{"one", "two"}, surface.texts())
}

func TestChatListEndToEnd(t *testing.T) {
	ts := startDevServer(t)
	transport, client := transportFor(t, ts, "bob-token")

	cfg := config.Default()
	cfg.Notifications.CooldownMillis = 60_000

	surface := &listRecorder{}
	alerter := &countingAlerter{}
	session, err := NewChatList(cfg, transport, client, surface, alerter, logger.Discard())
	require.NoError(t, err)

	events, unsubscribe := session.Subscribe(context.Background())
	defer unsubscribe()

	done := runAsync(session.Run)
	waitForOpen(t, events)
	waitForHub(t, ts, func(_ int, listeners int) bool { return listeners == 1 })

	alice := rawPeer(t, ts, "/ws/2", "alice-token")
	carol := rawPeer(t, ts, "/ws/2", "carol-token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, alice.Write(ctx, websocket.MessageText, []byte("first")))
	require.Eventually(t, func() bool {
		return len(surface.snapshot()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, carol.Write(ctx, websocket.MessageText, []byte("from carol")))
	require.Eventually(t, func() bool {
		summaries := surface.snapshot()
		return len(summaries) == 2 && summaries[0].Recipient.Username == "carol"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Write(ctx, websocket.MessageText, []byte("second")))

	require.Eventually(t, func() bool {
		summaries := surface.snapshot()
		return len(summaries) == 2 && summaries[0].LastMessage == "second"
	}, 5*time.Second, 10*time.Millisecond)

	session.Close()
	require.NoError(t, waitDone(t, done))

	summaries := session.Summaries()
	require.Equal(t, "alice", summaries[0].Recipient.Username)
	require.Equal(t, "carol", summaries[1].Recipient.Username)
	require.NotNil(t, summaries[0].LastMessageAt, "the server stamps every update")
	require.Equal(t, 1, alerter.count(), "alerts inside one cooldown window collapse to one")
}

func TestSessionRedirects(t *testing.T) {
	ts := startDevServer(t)

	t.Run("no credential", func(t *testing.T) {
		transport, _ := transportFor(t, ts, "")
		session, err := NewConversation(config.Default().Conversation, 2, transport, &conversationRecorder{}, logger.Discard())
		require.NoError(t, err)

		err = waitDone(t, runAsync(session.Run))
		require.ErrorIs(t, err, conn.ErrAuthAbsent)
		require.Equal(t, api.RedirectLogin, Redirect(err))
	})

	t.Run("policy close", func(t *testing.T) {
		transport, client := transportFor(t, ts, "")
		transport.Tokens = fixedTokens("stale-token")

		cfg := config.Default()
		session, err := NewChatList(cfg, transport, client, &listRecorder{}, nil, logger.Discard())
		require.NoError(t, err)

		err = waitDone(t, runAsync(session.Run))
		require.ErrorIs(t, err, conn.ErrPolicyClose)
		require.Equal(t, api.RedirectProfile, Redirect(err))
	})

	require.Equal(t, "", Redirect(errors.New("boom")))
	require.Equal(t, api.RedirectNotFound, Redirect(api.ErrNotFound))
}

// waitForHub polls the dev server health endpoint until ready reports true
// for its room and listener counts.
func waitForHub(t *testing.T, ts *httptest.Server, ready func(rooms int, listeners int) bool) {
	t.Helper()

	require.Eventually(t, func() bool {
		resp, err := ts.Client().Get(ts.URL + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		var status struct {
			Rooms     int `json:"rooms"`
			Listeners int `json:"listeners"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return false
		}
		return ready(status.Rooms, status.Listeners)
	}, 5*time.Second, 10*time.Millisecond)
}

func waitForOpen(t *testing.T, events <-chan bus.Event) {
	t.Helper()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Type == bus.EventOpen {
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for open")
		}
	}
}
