package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"evo2048/internal/board"
)

const cellWidth = 6

// TextSink draws boards as ASCII. On a terminal each frame overwrites the
// previous one; otherwise frames are appended.
type TextSink struct {
	mu      sync.Mutex
	w       io.Writer
	entryID string
	inPlace bool
	drawn   int
}

// NewTextSink draws frames of entryID only, or of every entry when entryID
// is empty.
func NewTextSink(w io.Writer, entryID string) *TextSink {
	return &TextSink{w: w, entryID: entryID, inPlace: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (s *TextSink) Publish(frame Frame) {
	if s.entryID != "" && frame.EntryID != s.entryID {
		return
	}
	text := FormatFrame(frame)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inPlace && s.drawn > 0 {
		// Move the cursor up over the previous frame and clear below it.
		fmt.Fprintf(s.w, "\x1b[%dA\x1b[J", s.drawn)
	}
	io.WriteString(s.w, text)
	s.drawn = strings.Count(text, "\n")
}

// FormatFrame renders one frame as a header line followed by the grid.
func FormatFrame(frame Frame) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  tick %d  points %s  fitness %s", frame.EntryID, frame.Tick, humanize.Comma(int64(frame.Points)), humanize.CommafWithDigits(frame.Fitness, 1))
	if frame.Direction != "" {
		fmt.Fprintf(&b, "  %s", frame.Direction)
	}
	if frame.Terminal {
		b.WriteString("  game over")
	}
	b.WriteByte('\n')

	border := "+" + strings.Repeat(strings.Repeat("-", cellWidth)+"+", board.Size) + "\n"
	b.WriteString(border)
	for r := 0; r < board.Size; r++ {
		b.WriteByte('|')
		for c := 0; c < board.Size; c++ {
			v := frame.Tiles[r*board.Size+c]
			if v == 0 {
				b.WriteString(strings.Repeat(" ", cellWidth))
			} else {
				fmt.Fprintf(&b, "%*d ", cellWidth-1, v)
			}
			b.WriteByte('|')
		}
		b.WriteByte('\n')
		b.WriteString(border)
	}
	return b.String()
}
