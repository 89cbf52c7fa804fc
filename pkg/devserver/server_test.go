package devserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/logger"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	srv := New(SeedStore(), "", logger.Discard())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func get(t *testing.T, ts *httptest.Server, path string, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "access_token", Value: token})
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func dial(t *testing.T, ts *httptest.Server, path string, credential string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(credential)))
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, out any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func TestCredentialEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp := get(t, ts, "/getcookies/", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = get(t, ts, "/getcookies/", "alice-token")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, `"alice-token"`, strings.TrimSpace(string(body)))
}

func TestUserProfileNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp := get(t, ts, "/get/user-profile/99", "alice-token")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSocketRejectsBadCredential(t *testing.T) {
	_, ts := newTestServer(t)

	conn := dial(t, ts, "/ws/chat-list", "nope")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestConversationBroadcastsToRoomAndChatList(t *testing.T) {
	srv, ts := newTestServer(t)

	list := dial(t, ts, "/ws/chat-list", "bob-token")
	// Wait until the listener is registered before sending.
	require.Eventually(t, func() bool {
		_, listeners := srv.hub.counts()
		return listeners == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn := dial(t, ts, "/ws/2", "alice-token")
	var history []chatMessageFrame
	readJSON(t, conn, &history)
	require.Empty(t, history)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("   ")))
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("hello bob")))

	var echoed chatMessageFrame
	readJSON(t, conn, &echoed)
	require.Equal(t, "hello bob", echoed.Text)
	require.Equal(t, "alice", echoed.Username)
	require.Equal(t, int64(1), echoed.UserID)

	var update chatUpdateFrame
	readJSON(t, list, &update)
	require.Equal(t, "chat_update", update.Type)
	require.Equal(t, "hello bob", update.LastMessage)
	require.Equal(t, "alice", update.Recipient.Username)
	require.NotEmpty(t, update.LastMessageTime)

	second := dial(t, ts, "/ws/1", "bob-token")
	readJSON(t, second, &history)
	require.Len(t, history, 1)
	require.Equal(t, "hello bob", history[0].Text)
}

func TestConversationRateLimit(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.WithMessageRate(0.001, 2)

	conn := dial(t, ts, "/ws/2", "alice-token")
	var history []chatMessageFrame
	readJSON(t, conn, &history)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(text)))
	}

	var first, second chatMessageFrame
	readJSON(t, conn, &first)
	readJSON(t, conn, &second)
	require.Equal(t, "one", first.Text)
	require.Equal(t, "two", second.Text)

	var rejected errorFrame
	readJSON(t, conn, &rejected)
	require.Equal(t, errorFrame{Type: "error", Reason: "rate_limited"}, rejected)

	room := srv.Store().Room(1, 2)
	require.Len(t, srv.Store().History(room), 2)
}

func TestStorePagination(t *testing.T) {
	t.Parallel()

	store := NewStore()
	for _, name := range []string{"ann", "andy", "anton", "bea"} {
		store.AddUser(name, name+"-token")
	}

	req := httptest.NewRequest(http.MethodGet, "/search/?query=an&page=2&limit=2", nil)
	page := paginate(store.Search("an"), req)
	require.Len(t, page, 1)
	require.Equal(t, "anton", page[0].Username)

	req = httptest.NewRequest(http.MethodGet, "/search/?query=an&page=3&limit=2", nil)
	require.Empty(t, paginate(store.Search("an"), req))
}

func TestStoreTruncatesAndOrdersRooms(t *testing.T) {
	t.Parallel()

	store := SeedStore()
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	alice, _ := store.User(1)
	first := store.Room(1, 2)
	second := store.Room(1, 3)
	require.Same(t, first, store.Room(2, 1))

	stored := store.AppendMessage(first, alice, strings.Repeat("x", 2000))
	require.Len(t, stored.Text, maxMessageLength)
	store.AppendMessage(second, alice, "later")

	rooms := store.RoomsFor(1)
	require.Len(t, rooms, 2)
	require.Equal(t, second.ID, rooms[0].ID)
	require.Equal(t, first.ID, rooms[1].ID)
	require.Empty(t, store.RoomsFor(99))
}
