package devserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

const (
	credentialTimeout = 10 * time.Second
	writeTimeout      = 5 * time.Second
)

// errorFrame tells the sender a message was not accepted.
type errorFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type chatMessageFrame struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
	UserID    int64  `json:"user_id"`
}

type chatUpdateFrame struct {
	Type            string   `json:"type"`
	RoomID          int64    `json:"room_id"`
	Recipient       userBody `json:"recipient"`
	LastMessage     string   `json:"last_message"`
	LastMessageTime string   `json:"last_message_time"`
	SenderID        int64    `json:"sender_id"`
}

// hub tracks open sockets per room and chat-list listeners per user.
type hub struct {
	mu        sync.Mutex
	rooms     map[int64]map[*websocket.Conn]struct{}
	listeners map[*websocket.Conn]int64
}

func newHub() *hub {
	return &hub{
		rooms:     make(map[int64]map[*websocket.Conn]struct{}),
		listeners: make(map[*websocket.Conn]int64),
	}
}

func (h *hub) join(roomID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.rooms[roomID]
	if !ok {
		set = make(map[*websocket.Conn]struct{})
		h.rooms[roomID] = set
	}
	set[conn] = struct{}{}
}

func (h *hub) leave(roomID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.rooms[roomID], conn)
	if len(h.rooms[roomID]) == 0 {
		delete(h.rooms, roomID)
	}
}

func (h *hub) listen(userID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[conn] = userID
}

func (h *hub) unlisten(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, conn)
}

func (h *hub) roomConns(roomID int64) []*websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := make([]*websocket.Conn, 0, len(h.rooms[roomID]))
	for conn := range h.rooms[roomID] {
		conns = append(conns, conn)
	}
	return conns
}

// listenersFor returns chat-list sockets belonging to any of userIDs.
func (h *hub) listenersFor(userIDs ...int64) map[*websocket.Conn]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[*websocket.Conn]int64)
	for conn, owner := range h.listeners {
		for _, id := range userIDs {
			if owner == id {
				out[conn] = owner
			}
		}
	}
	return out
}

func (h *hub) counts() (rooms int, listeners int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms), len(h.listeners)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	var conns []*websocket.Conn
	for _, set := range h.rooms {
		for conn := range set {
			conns = append(conns, conn)
		}
	}
	for conn := range h.listeners {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// authenticate reads the credential frame and closes with 1008 when it does
// not resolve to a user.
func (s *Server) authenticate(ctx context.Context, conn *websocket.Conn) (User, bool) {
	readCtx, cancel := context.WithTimeout(ctx, credentialTimeout)
	defer cancel()

	_, data, err := conn.Read(readCtx)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "credential required")
		return User{}, false
	}

	user, ok := s.store.Authenticate(string(data))
	if !ok {
		s.log.Info("Rejected websocket credential")
		_ = conn.Close(websocket.StatusPolicyViolation, "invalid credential")
		return User{}, false
	}

	return user, true
}

func (s *Server) handleChatListSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket accept failed", "path", r.URL.Path, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	user, ok := s.authenticate(ctx, conn)
	if !ok {
		return
	}

	s.hub.listen(user.ID, conn)
	defer s.hub.unlisten(conn)
	s.log.Debug("Chat-list listener joined", "user_id", user.ID)

	// The chat list never sends; reading keeps control frames flowing.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (s *Server) handleConversationSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket accept failed", "path", r.URL.Path, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	user, ok := s.authenticate(ctx, conn)
	if !ok {
		return
	}

	recipientID, err := strconv.ParseInt(chi.URLParam(r, "recipientID"), 10, 64)
	recipient, exists := s.store.User(recipientID)
	if err != nil || !exists || recipientID == user.ID {
		_ = conn.Close(websocket.StatusPolicyViolation, "unknown recipient")
		return
	}

	room := s.store.Room(user.ID, recipient.ID)
	s.hub.join(room.ID, conn)
	defer s.hub.leave(room.ID, conn)

	if err := s.sendHistory(ctx, conn, room); err != nil {
		s.log.Warn("Send history failed", "room_id", room.ID, "error", err)
		return
	}

	limiter := rate.NewLimiter(s.messageRate, s.messageBurst)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
				s.log.Debug("Conversation socket read ended", "room_id", room.ID, "error", err)
			}
			return
		}

		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}
		if !limiter.Allow() {
			s.log.Warn("Dropped message over rate limit", "room_id", room.ID, "user_id", user.ID)
			s.write(ctx, conn, errorFrame{Type: "error", Reason: "rate_limited"})
			continue
		}

		message := s.store.AppendMessage(room, user, text)
		s.broadcastMessage(ctx, room, message)
		s.broadcastUpdate(ctx, room, message)
	}
}

func (s *Server) sendHistory(ctx context.Context, conn *websocket.Conn, room *Room) error {
	history := s.store.History(room)
	frames := make([]chatMessageFrame, 0, len(history))
	for _, message := range history {
		frames = append(frames, messageFrame(message))
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, frames)
}

func (s *Server) broadcastMessage(ctx context.Context, room *Room, message Message) {
	frame := messageFrame(message)
	for _, conn := range s.hub.roomConns(room.ID) {
		s.write(ctx, conn, frame)
	}
}

// broadcastUpdate notifies both members' chat lists. Each listener sees the
// other member as the recipient.
func (s *Server) broadcastUpdate(ctx context.Context, room *Room, message Message) {
	for conn, owner := range s.hub.listenersFor(room.Members[0], room.Members[1]) {
		other, _ := s.store.User(room.Other(owner))
		s.write(ctx, conn, chatUpdateFrame{
			Type:            "chat_update",
			RoomID:          room.ID,
			Recipient:       profileView(other),
			LastMessage:     message.Text,
			LastMessageTime: formatTime(message.At),
			SenderID:        message.UserID,
		})
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, payload any) {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := wsjson.Write(writeCtx, conn, payload); err != nil {
		s.log.Debug("Websocket write failed", "error", err)
	}
}

func messageFrame(message Message) chatMessageFrame {
	return chatMessageFrame{
		Type:      "chat_message",
		Text:      message.Text,
		Username:  message.Username,
		AvatarURL: message.Avatar,
		UserID:    message.UserID,
	}
}
