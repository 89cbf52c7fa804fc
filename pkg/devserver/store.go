package devserver

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"
)

// maxMessageLength caps stored message text, matching the production server.
const maxMessageLength = 1024

// User is one account known to the dev server.
type User struct {
	ID        int64
	Username  string
	Email     string
	FirstName string
	LastName  string
	Avatar    string
	Token     string
}

// Message is one stored chat message.
type Message struct {
	UserID   int64
	Username string
	Avatar   string
	Text     string
	At       time.Time
}

// Room is the conversation between two users.
type Room struct {
	ID       int64
	Members  [2]int64
	Messages []Message
}

// Other returns the member that is not userID.
func (r *Room) Other(userID int64) int64 {
	if r.Members[0] == userID {
		return r.Members[1]
	}
	return r.Members[0]
}

// Store keeps users, friendships and rooms in memory.
type Store struct {
	mu         sync.RWMutex
	users      map[int64]*User
	tokens     map[string]int64
	friends    map[int64]map[int64]struct{}
	rooms      map[[2]int64]*Room
	nextUserID int64
	nextRoomID int64
	now        func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:   make(map[int64]*User),
		tokens:  make(map[string]int64),
		friends: make(map[int64]map[int64]struct{}),
		rooms:   make(map[[2]int64]*Room),
		now:     time.Now,
	}
}

// SeedStore returns a store with three demo users; alice and bob are friends.
func SeedStore() *Store {
	s := NewStore()
	alice := s.AddUser("alice", "alice-token")
	bob := s.AddUser("bob", "bob-token")
	s.AddUser("carol", "carol-token")
	s.AddFriend(alice.ID, bob.ID)
	return s
}

// AddUser registers a user authenticated by token.
func (s *Store) AddUser(username string, token string) User {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextUserID++
	user := &User{
		ID:        s.nextUserID,
		Username:  username,
		Email:     username + "@example.com",
		FirstName: strings.ToUpper(username[:1]) + username[1:],
		Avatar:    "/static/img/" + username + ".png",
		Token:     token,
	}
	s.users[user.ID] = user
	s.tokens[token] = user.ID
	return *user
}

// Authenticate resolves a token to its user.
func (s *Store) Authenticate(token string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokens[strings.TrimSpace(token)]
	if !ok {
		return User{}, false
	}
	return *s.users[id], true
}

// User looks a user up by id.
func (s *Store) User(id int64) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return User{}, false
	}
	return *user, true
}

// AddFriend records a mutual friendship.
func (s *Store) AddFriend(a int64, b int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pair := range [][2]int64{{a, b}, {b, a}} {
		set, ok := s.friends[pair[0]]
		if !ok {
			set = make(map[int64]struct{})
			s.friends[pair[0]] = set
		}
		set[pair[1]] = struct{}{}
	}
}

// IsFriend reports whether b is a friend of a.
func (s *Store) IsFriend(a int64, b int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.friends[a][b]
	return ok
}

// Friends returns a's friends ordered by id.
func (s *Store) Friends(a int64) []User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	friends := make([]User, 0, len(s.friends[a]))
	for id := range s.friends[a] {
		friends = append(friends, *s.users[id])
	}
	slices.SortFunc(friends, func(x, y User) int { return cmp.Compare(x.ID, y.ID) })
	return friends
}

// Search returns users whose username contains query, ordered by id.
func (s *Store) Search(query string) []User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(strings.TrimSpace(query))
	var found []User
	for _, user := range s.users {
		if strings.Contains(strings.ToLower(user.Username), query) {
			found = append(found, *user)
		}
	}
	slices.SortFunc(found, func(x, y User) int { return cmp.Compare(x.ID, y.ID) })
	return found
}

// Room returns the room between a and b, creating it on first use.
func (s *Store) Room(a int64, b int64) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := roomKey(a, b)
	room, ok := s.rooms[key]
	if !ok {
		s.nextRoomID++
		room = &Room{ID: s.nextRoomID, Members: key}
		s.rooms[key] = room
	}
	return room
}

// History returns a copy of the room's messages, oldest first.
func (s *Store) History(room *Room) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(room.Messages)
}

// AppendMessage stores text from sender in room and returns the stored message.
func (s *Store) AppendMessage(room *Room, sender User, text string) Message {
	if len(text) > maxMessageLength {
		text = text[:maxMessageLength]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	message := Message{
		UserID:   sender.ID,
		Username: sender.Username,
		Avatar:   sender.Avatar,
		Text:     text,
		At:       s.now().UTC(),
	}
	room.Messages = append(room.Messages, message)
	return message
}

// RoomsFor returns userID's rooms that have messages, most recent first.
func (s *Store) RoomsFor(userID int64) []Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rooms []Room
	for _, room := range s.rooms {
		if room.Members[0] != userID && room.Members[1] != userID {
			continue
		}
		if len(room.Messages) == 0 {
			continue
		}
		copied := *room
		copied.Messages = slices.Clone(room.Messages)
		rooms = append(rooms, copied)
	}

	slices.SortFunc(rooms, func(x, y Room) int {
		return y.Messages[len(y.Messages)-1].At.Compare(x.Messages[len(x.Messages)-1].At)
	})
	return rooms
}

func roomKey(a int64, b int64) [2]int64 {
	if a > b {
		a, b = b, a
	}
	return [2]int64{a, b}
}
