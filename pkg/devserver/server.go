// Package devserver is an in-memory chat server exposing the HTTP and
// websocket endpoints the client talks to. It backs local development and
// end-to-end tests.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"chatsync/pkg/config"
)

const (
	defaultPageSize     = 10
	defaultMessageRate  = 10
	defaultMessageBurst = 20
)

type Server struct {
	store  *Store
	cookie string
	log    *slog.Logger
	hub    *hub

	messageRate  rate.Limit
	messageBurst int

	mu        sync.RWMutex
	startedAt time.Time
}

type statusResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Rooms         int    `json:"rooms"`
	Listeners     int    `json:"listeners"`
}

// New builds a server over store. cookie names the session cookie HTTP
// endpoints read; empty means config.DefaultSessionCookie.
func New(store *Store, cookie string, log *slog.Logger) *Server {
	if store == nil {
		store = SeedStore()
	}
	if strings.TrimSpace(cookie) == "" {
		cookie = config.DefaultSessionCookie
	}
	if log == nil {
		log = slog.Default()
	}

	return &Server{
		store:        store,
		cookie:       cookie,
		log:          log.With("component", "devserver"),
		hub:          newHub(),
		messageRate:  defaultMessageRate,
		messageBurst: defaultMessageBurst,
		startedAt:    time.Now().UTC(),
	}
}

// WithMessageRate caps how fast one conversation socket may post. Values
// <= 0 keep the current setting.
func (s *Server) WithMessageRate(perSecond float64, burst int) *Server {
	if perSecond > 0 {
		s.messageRate = rate.Limit(perSecond)
	}
	if burst > 0 {
		s.messageBurst = burst
	}
	return s
}

// Store returns the backing store.
func (s *Server) Store() *Store {
	return s.store
}

// Handler returns the router serving every endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/getcookies/", s.handleCredential)
	r.Get("/api/chats", s.handleChats)
	r.Get("/friends/", s.handleFriends)
	r.Get("/friends/is-friend/{userID}", s.handleIsFriend)
	r.Get("/search/", s.handleSearch)
	r.Post("/add/friend/{userID}", s.handleAddFriend)
	r.Get("/protect/profile/", s.handleCurrentUser)
	r.Get("/get/user-profile/{userID}", s.handleUserProfile)
	r.Get("/ws/chat-list", s.handleChatListSocket)
	r.Get("/ws/{recipientID}", s.handleConversationSocket)

	return r
}

// Run serves on host:port until ctx is cancelled.
func (s *Server) Run(ctx context.Context, cfg config.DevServerConfig) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.closeAll()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Dev server started", "address", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}

	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	startedAt := s.startedAt
	s.mu.RUnlock()

	rooms, listeners := s.hub.counts()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(startedAt).Seconds()),
		Rooms:         rooms,
		Listeners:     listeners,
	})
}

// sessionUser resolves the session cookie, writing 401 when absent or unknown.
func (s *Server) sessionUser(w http.ResponseWriter, r *http.Request) (User, bool) {
	cookie, err := r.Cookie(s.cookie)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
		return User{}, false
	}

	user, ok := s.store.Authenticate(cookie.Value)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid token"})
		return User{}, false
	}

	return user, true
}

func (s *Server) handleCredential(w http.ResponseWriter, r *http.Request) {
	user, ok := s.sessionUser(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, user.Token)
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	user, ok := s.sessionUser(w, r)
	if !ok {
		return
	}

	rooms := s.store.RoomsFor(user.ID)
	items := make([]chatItem, 0, len(rooms))
	for _, room := range rooms {
		other, _ := s.store.User(room.Other(user.ID))
		last := room.Messages[len(room.Messages)-1]
		items = append(items, chatItem{
			RoomID:          room.ID,
			Recipient:       profileView(other),
			LastMessage:     last.Text,
			LastMessageTime: formatTime(last.At),
		})
	}

	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleFriends(w http.ResponseWriter, r *http.Request) {
	user, ok := s.sessionUser(w, r)
	if !ok {
		return
	}

	friends := s.store.Friends(user.ID)
	if r.URL.Query().Get("pagination") == "true" {
		friends = paginate(friends, r)
	}

	writeJSON(w, http.StatusOK, listView(friends))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.sessionUser(w, r); !ok {
		return
	}

	found := s.store.Search(r.URL.Query().Get("query"))
	writeJSON(w, http.StatusOK, listView(paginate(found, r)))
}

func (s *Server) handleIsFriend(w http.ResponseWriter, r *http.Request) {
	user, ok := s.sessionUser(w, r)
	if !ok {
		return
	}

	otherID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"is_friend": s.store.IsFriend(user.ID, otherID)})
}

func (s *Server) handleAddFriend(w http.ResponseWriter, r *http.Request) {
	user, ok := s.sessionUser(w, r)
	if !ok {
		return
	}

	otherID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	if _, exists := s.store.User(otherID); !exists || otherID == user.ID {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "User not found"})
		return
	}

	s.store.AddFriend(user.ID, otherID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, ok := s.sessionUser(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, profileView(user))
}

func (s *Server) handleUserProfile(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.sessionUser(w, r); !ok {
		return
	}

	otherID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	other, exists := s.store.User(otherID)
	if !exists {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "User not found"})
		return
	}

	writeJSON(w, http.StatusOK, profileView(other))
}

type profileBody struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar"`
}

type userBody struct {
	ID       int64        `json:"id"`
	Username string       `json:"username"`
	Email    string       `json:"email,omitempty"`
	Avatar   string       `json:"avatar,omitempty"`
	Profile  *profileBody `json:"profile,omitempty"`
}

type chatItem struct {
	RoomID          int64    `json:"room_id"`
	Recipient       userBody `json:"recipient"`
	LastMessage     string   `json:"last_message"`
	LastMessageTime string   `json:"last_message_time"`
}

func profileView(user User) userBody {
	return userBody{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Profile: &profileBody{
			FirstName: user.FirstName,
			LastName:  user.LastName,
			Avatar:    user.Avatar,
		},
	}
}

func listView(users []User) []userBody {
	out := make([]userBody, 0, len(users))
	for _, user := range users {
		out = append(out, userBody{ID: user.ID, Username: user.Username, Avatar: user.Avatar})
	}
	return out
}

// paginate applies the page and limit query parameters; pages start at 1.
func paginate(users []User, r *http.Request) []User {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		limit = defaultPageSize
	}

	start := (page - 1) * limit
	if start >= len(users) {
		return nil
	}
	return users[start:min(start+limit, len(users))]
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "User not found"})
		return 0, false
	}
	return id, true
}

// formatTime renders the zone-less ISO 8601 form the production server emits.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
