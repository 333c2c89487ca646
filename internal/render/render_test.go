package render

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFrame(id string, tick int) Frame {
	f := Frame{EntryID: id, Tick: tick, Direction: "left", Points: 1234, Fitness: 5678.5}
	f.Tiles[0] = 2
	f.Tiles[3] = 2048
	f.Tiles[15] = 4
	return f
}

func TestFormatFrame(t *testing.T) {
	text := FormatFrame(sampleFrame("a", 3))
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")

	require.Len(t, lines, 10)
	assert.Equal(t, "a  tick 3  points 1,234  fitness 5,678.5  left", lines[0])
	assert.Equal(t, "+------+------+------+------+", lines[1])
	assert.Equal(t, "|    2 |      |      | 2048 |", lines[2])
	assert.Equal(t, "|      |      |      |    4 |", lines[8])
}

func TestTextSinkFiltersEntryAndAppendsWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	sink := NewTextSink(&buf, "b")

	sink.Publish(sampleFrame("a", 1))
	sink.Publish(sampleFrame("b", 1))
	sink.Publish(sampleFrame("b", 2))

	out := buf.String()
	assert.NotContains(t, out, "a  tick")
	assert.Equal(t, 2, strings.Count(out, "b  tick"))
	assert.NotContains(t, out, "\x1b[", "a buffer is not a terminal")
}

func TestMultiAndSinkFunc(t *testing.T) {
	var got []string
	rec := &Recorder{}
	m := Multi{rec, nil, SinkFunc(func(f Frame) { got = append(got, f.EntryID) })}

	m.Publish(sampleFrame("x", 1))
	m.Publish(sampleFrame("y", 1))

	assert.Equal(t, []string{"x", "y"}, got)
	assert.Len(t, rec.Frames(), 2)
}

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	frames  []Frame
}

func (b *blockingSink) Publish(f Frame) {
	<-b.release
	b.mu.Lock()
	b.frames = append(b.frames, f)
	b.mu.Unlock()
}

func TestAsyncDropsWhenFull(t *testing.T) {
	slow := &blockingSink{release: make(chan struct{})}
	a := NewAsync(slow, 2)

	// One frame may be held by the drain goroutine, two fit the buffer.
	for i := 0; i < 10; i++ {
		a.Publish(sampleFrame("a", i))
	}
	close(slow.release)
	a.Close()

	slow.mu.Lock()
	delivered := len(slow.frames)
	slow.mu.Unlock()

	assert.GreaterOrEqual(t, delivered, 2)
	assert.LessOrEqual(t, delivered, 3)
	assert.Equal(t, int64(10-delivered), a.Dropped())

	a.Publish(sampleFrame("a", 11))
	assert.Equal(t, int64(11-delivered), a.Dropped())
}

func TestAsyncDeliversInOrder(t *testing.T) {
	rec := &Recorder{}
	a := NewAsync(rec, 64)
	for i := 0; i < 20; i++ {
		a.Publish(sampleFrame("a", i))
	}
	a.Close()
	a.Close()

	frames := rec.Frames()
	require.Len(t, frames, 20)
	for i, f := range frames {
		assert.Equal(t, i, f.Tick)
	}
	assert.Zero(t, a.Dropped())
}

func TestHubBroadcastsFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil)
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	want := sampleFrame("g0-1", 7)
	hub.Publish(want)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got Frame
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, want, got)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
