package bus

import (
	"context"
	"sync"
	"time"
)

type EventType string

// Connection lifecycle events published by the connection manager.
const (
	EventConnecting         EventType = "connecting"
	EventAuthenticating     EventType = "authenticating"
	EventOpen               EventType = "open"
	EventClosing            EventType = "closing"
	EventClosed             EventType = "closed"
	EventReconnectScheduled EventType = "reconnect_scheduled"
	EventAuthRequired       EventType = "auth_required"
	EventReauthRequired     EventType = "reauth_required"
	EventSendFailed         EventType = "send_failed"
)

// Event is one lifecycle notification. Redirect is set on auth events and
// names the surface the user is sent to.
type Event struct {
	Type      EventType         `json:"type"`
	At        time.Time         `json:"at"`
	Channel   string            `json:"channel,omitempty"`
	AttemptID string            `json:"attempt_id,omitempty"`
	Redirect  string            `json:"redirect,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Terminal reports whether the event ends the session without a retry.
func (e Event) Terminal() bool {
	return e.Type == EventAuthRequired || e.Type == EventReauthRequired
}

// Emit delivers event to every subscriber without blocking. A subscriber
// whose buffer is full misses it and Missed is incremented.
func (q *Queue) Emit(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if q.stopped(ctx) {
		return false
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, ch := range q.subs {
		select {
		case ch <- event:
		default:
			q.missed.Add(1)
		}
	}

	return true
}

// Missed counts events dropped on full subscriber buffers.
func (q *Queue) Missed() uint64 {
	return q.missed.Load()
}

// Subscribe registers a subscriber. The channel closes when ctx ends, the
// returned cancel func runs, or the queue closes.
func (q *Queue) Subscribe(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	q.mu.Lock()
	if q.stopped(context.Background()) {
		q.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := q.nextID
	q.nextID++
	q.subs[id] = ch
	q.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			q.mu.Lock()
			if sub, ok := q.subs[id]; ok {
				delete(q.subs, id)
				close(sub)
			}
			q.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-q.done:
		}
		cancel()
	}()

	return ch, cancel
}
