package render

import (
	"sync"
	"sync/atomic"
)

// Async forwards frames to a slower sink from its own goroutine. Publish
// never blocks: when the buffer is full the frame is dropped and counted.
type Async struct {
	next    Sink
	frames  chan Frame
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewAsync(next Sink, buffer int) *Async {
	if buffer <= 0 {
		buffer = 1
	}
	a := &Async{
		next:   next,
		frames: make(chan Frame, buffer),
		done:   make(chan struct{}),
	}
	go a.drain()
	return a
}

func (a *Async) drain() {
	defer close(a.done)
	for frame := range a.frames {
		a.next.Publish(frame)
	}
}

func (a *Async) Publish(frame Frame) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.frames <- frame:
	default:
		a.dropped.Add(1)
	}
}

// Close delivers the buffered frames and waits for the drain goroutine.
// Frames published after Close are dropped.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.frames)
	}
	a.mu.Unlock()
	<-a.done
}

// Dropped is the number of frames that never reached the wrapped sink.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}
