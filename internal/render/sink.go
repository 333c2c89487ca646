// Package render publishes board frames to terminals and websocket clients.
package render

import (
	"sync"

	"evo2048/internal/board"
)

// Frame is one observed board state of a population entry.
type Frame struct {
	EntryID   string           `json:"entry_id"`
	Tick      int              `json:"tick"`
	Tiles     [board.Cells]int `json:"tiles"`
	Direction string           `json:"direction,omitempty"`
	Points    int              `json:"points"`
	Fitness   float64          `json:"fitness"`
	Terminal  bool             `json:"terminal,omitempty"`
}

// Sink receives frames. Publish must not block the caller for long;
// wrap slow sinks with Async.
type Sink interface {
	Publish(Frame)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Frame)

func (f SinkFunc) Publish(frame Frame) { f(frame) }

// Multi fans a frame out to every sink in order.
type Multi []Sink

func (m Multi) Publish(frame Frame) {
	for _, s := range m {
		if s != nil {
			s.Publish(frame)
		}
	}
}

// Recorder keeps every published frame. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *Recorder) Publish(frame Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, frame)
	r.mu.Unlock()
}

func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, len(r.frames))
	copy(out, r.frames)
	return out
}
