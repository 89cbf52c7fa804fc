package bus

import "time"

type FrameKind int

const (
	// FrameMessage carries one inbound transport payload.
	FrameMessage FrameKind = iota
	// FrameOpened marks a connection reaching Open; it has no payload.
	FrameOpened
)

// Frame is one entry of the inbound queue, consumed in arrival order by the
// single task that decodes and reconciles.
type Frame struct {
	Kind       FrameKind `json:"kind"`
	Channel    string    `json:"channel"`
	AttemptID  string    `json:"attempt_id"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// FrameHandler processes one frame. It runs to completion before the next
// frame is consumed.
type FrameHandler func(Frame) error
