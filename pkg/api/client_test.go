package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatsync/pkg/config"
	"chatsync/pkg/devserver"
	"chatsync/pkg/logger"
)

func newClient(t *testing.T, baseURL string, token string) *Client {
	t.Helper()

	client, err := New(config.ServerConfig{
		BaseURL:               baseURL,
		SessionCookie:         config.DefaultSessionCookie,
		SessionToken:          token,
		RequestTimeoutSeconds: 5,
	}, logger.Discard())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return client
}

func newDevServer(t *testing.T) (*devserver.Server, *httptest.Server) {
	t.Helper()

	srv := devserver.New(devserver.SeedStore(), "", logger.Discard())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestNewRejectsNonHTTPBase(t *testing.T) {
	t.Parallel()

	if _, err := New(config.ServerConfig{BaseURL: "ftp://example.com"}, nil); err == nil {
		t.Fatal("expected error for ftp base url")
	}
}

func TestFetchCredentialStripsQuotes(t *testing.T) {
	t.Parallel()

	_, ts := newDevServer(t)
	client := newClient(t, ts.URL, "alice-token")

	credential, ok := client.FetchCredential(context.Background())
	if !ok {
		t.Fatal("FetchCredential ok = false, want true")
	}
	if credential != "alice-token" {
		t.Fatalf("credential = %q, want %q", credential, "alice-token")
	}
}

func TestFetchCredentialFailuresAreAbsent(t *testing.T) {
	t.Parallel()

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`  ""  `))
	}))
	t.Cleanup(empty.Close)

	_, ts := newDevServer(t)

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	cases := map[string]*Client{
		"unauthorized": newClient(t, ts.URL, ""),
		"empty body":   newClient(t, empty.URL, ""),
		"unreachable":  newClient(t, closedURL, ""),
	}

	for name, client := range cases {
		if credential, ok := client.FetchCredential(context.Background()); ok || credential != "" {
			t.Fatalf("%s: FetchCredential = (%q, %v), want absent", name, credential, ok)
		}
	}
}

func TestNormalizeCredential(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`"abc"`:          "abc",
		" abc \n":        "abc",
		`  "abc"  `:      "abc",
		`""`:             "",
		"":               "",
		`"a.b.c"` + "\n": "a.b.c",
	}
	for input, want := range cases {
		if got := normalizeCredential(input); got != want {
			t.Fatalf("normalizeCredential(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestListChatsAcceptsNumericAndStringRoomIDs(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != chatsPath {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[
		  {"room_id": 7, "recipient": {"id": 2, "username": "bob", "profile": {"avatar": "/b.png"}}, "last_message": "yo", "last_message_time": "2025-02-03T04:05:06.000000"},
		  {"room_id": "r-9", "recipient": {"id": 3, "username": "carol"}, "last_message": null, "last_message_time": null}
		]`))
	}))
	t.Cleanup(ts.Close)

	chats, err := newClient(t, ts.URL, "").ListChats(context.Background())
	if err != nil {
		t.Fatalf("ListChats error: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("len(chats) = %d, want 2", len(chats))
	}

	if chats[0].RoomID != "7" || chats[0].Recipient.Avatar != "/b.png" || chats[0].LastMessage != "yo" {
		t.Fatalf("chats[0] = %+v", chats[0])
	}
	if chats[0].LastMessageAt == nil || chats[0].LastMessageAt.Day() != 3 {
		t.Fatalf("chats[0].LastMessageAt = %v", chats[0].LastMessageAt)
	}
	if chats[1].RoomID != "r-9" || chats[1].LastMessage != "" || chats[1].LastMessageAt != nil {
		t.Fatalf("chats[1] = %+v", chats[1])
	}
}

func TestListChatsUnauthorized(t *testing.T) {
	t.Parallel()

	_, ts := newDevServer(t)
	_, err := newClient(t, ts.URL, "").ListChats(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("ListChats error = %v, want ErrUnauthorized", err)
	}
	if got := RedirectFor(err); got != RedirectLogin {
		t.Fatalf("RedirectFor = %q, want %q", got, RedirectLogin)
	}
}

func TestProfiles(t *testing.T) {
	t.Parallel()

	_, ts := newDevServer(t)
	client := newClient(t, ts.URL, "alice-token")

	me, err := client.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser error: %v", err)
	}
	if me.Username != "alice" || me.AvatarURL() == "" {
		t.Fatalf("current user = %+v", me)
	}

	_, err = client.UserProfile(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("UserProfile error = %v, want ErrNotFound", err)
	}
	if got := RedirectFor(err); got != RedirectNotFound {
		t.Fatalf("RedirectFor = %q, want %q", got, RedirectNotFound)
	}
	if got := RedirectFor(errors.New("boom")); got != "" {
		t.Fatalf("RedirectFor(other) = %q, want empty", got)
	}
}

func TestFriendPagerStopsOnEmptyPage(t *testing.T) {
	t.Parallel()

	srv, ts := newDevServer(t)
	store := srv.Store()
	for _, name := range []string{"dave", "erin", "frank"} {
		user := store.AddUser(name, name+"-token")
		store.AddFriend(1, user.ID)
	}
	client := newClient(t, ts.URL, "alice-token")

	pager := client.Friends(2)
	var names []string
	for pager.HasMore() {
		users, err := pager.Next(context.Background())
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		for _, user := range users {
			names = append(names, user.Username)
		}
	}

	want := []string{"bob", "dave", "erin", "frank"}
	if len(names) != len(want) {
		t.Fatalf("friends = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("friends = %v, want %v", names, want)
		}
	}
	if pager.Page() != 3 {
		t.Fatalf("page = %d, want 3", pager.Page())
	}

	users, err := pager.Next(context.Background())
	if err != nil || users != nil {
		t.Fatalf("Next after exhaustion = (%v, %v), want (nil, nil)", users, err)
	}
}

func TestSearchAndAddFriend(t *testing.T) {
	t.Parallel()

	_, ts := newDevServer(t)
	client := newClient(t, ts.URL, "alice-token")

	users, err := client.Search("car").Next(context.Background())
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(users) != 1 || users[0].Username != "carol" {
		t.Fatalf("search results = %+v", users)
	}

	carol := users[0].Identity()
	isFriend, err := client.IsFriend(context.Background(), carol)
	if err != nil || isFriend {
		t.Fatalf("IsFriend before add = (%v, %v), want (false, nil)", isFriend, err)
	}

	if err := client.AddFriend(context.Background(), carol); err != nil {
		t.Fatalf("AddFriend error: %v", err)
	}

	isFriend, err = client.IsFriend(context.Background(), carol)
	if err != nil || !isFriend {
		t.Fatalf("IsFriend after add = (%v, %v), want (true, nil)", isFriend, err)
	}

	if err := client.AddFriend(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddFriend unknown error = %v, want ErrNotFound", err)
	}
}
