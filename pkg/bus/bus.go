// Package bus carries one connection's inbound frames to the task that
// reconciles them, and fans lifecycle events out to observers.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 100

// Queue is the per-connection hand-off between the transport reader and the
// single consumer. Frames are delivered in push order to exactly one
// consumer. Events are advisory and go to every subscriber.
type Queue struct {
	frames chan Frame

	subs   map[uint64]chan Event
	nextID uint64
	missed atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

func New() *Queue {
	return &Queue{
		frames: make(chan Frame, defaultBufferSize),
		subs:   make(map[uint64]chan Event),
		done:   make(chan struct{}),
	}
}

// stopped reports whether ctx has ended or the queue is closed, without
// blocking.
func (q *Queue) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-q.done:
		return true
	default:
		return false
	}
}

// Push enqueues frame, blocking while the buffer is full. It returns false
// once ctx ends or the queue closes.
func (q *Queue) Push(ctx context.Context, frame Frame) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if q.stopped(ctx) {
		return false
	}

	select {
	case q.frames <- frame:
		return true
	case <-ctx.Done():
	case <-q.done:
	}
	return false
}

// Next blocks for the oldest queued frame.
func (q *Queue) Next(ctx context.Context) (Frame, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case frame := <-q.frames:
		return frame, true
	case <-ctx.Done():
	case <-q.done:
	}
	return Frame{}, false
}

// Drain consumes frames in arrival order until ctx ends or the queue closes.
// A handler error is reported through onErr and does not stop the loop.
func (q *Queue) Drain(ctx context.Context, handle FrameHandler, onErr func(Frame, error)) {
	for {
		frame, ok := q.Next(ctx)
		if !ok {
			return
		}
		if err := handle(frame); err != nil && onErr != nil {
			onErr(frame, err)
		}
	}
}

// Flush hands every frame still buffered to handle, in order, without
// blocking. It is meant for the consumer after producers have stopped.
func (q *Queue) Flush(handle FrameHandler, onErr func(Frame, error)) int {
	flushed := 0
	for {
		select {
		case frame := <-q.frames:
			flushed++
			if err := handle(frame); err != nil && onErr != nil {
				onErr(frame, err)
			}
		default:
			return flushed
		}
	}
}

// Close stops Push and Next and closes every subscription. Frames still
// buffered are discarded.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)

		q.mu.Lock()
		for id, ch := range q.subs {
			close(ch)
			delete(q.subs, id)
		}
		q.mu.Unlock()
	})
}
