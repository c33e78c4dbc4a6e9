package term

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rickgao/pixel-canvas/internal/grid"
	"github.com/rickgao/pixel-canvas/internal/session"
)

// Screen draws the canvas and session feedback as text on a writer. It is a
// grid renderer, next-turn indicator and session UI at once.
type Screen struct {
	mu    sync.Mutex
	out   io.Writer
	ansi  bool
	cells []string
	next  string
}

// Option configures a Screen.
type Option func(*Screen)

// WithANSI enables 24-bit color escape sequences.
func WithANSI(enabled bool) Option {
	return func(s *Screen) {
		s.ansi = enabled
	}
}

// NewScreen creates a Screen writing to out.
func NewScreen(out io.Writer, opts ...Option) *Screen {
	s := &Screen{out: out}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ grid.Renderer  = (*Screen)(nil)
	_ grid.Resetter  = (*Screen)(nil)
	_ grid.Flusher   = (*Screen)(nil)
	_ grid.Indicator = (*Screen)(nil)
	_ session.UI     = (*Screen)(nil)
)

// Reset discards the current cells.
func (s *Screen) Reset(cellCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells = make([]string, 0, max(cellCount, 0))
	s.next = ""
}

// CreateCell adds the cell for index.
func (s *Screen) CreateCell(index int) grid.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.cells) <= index {
		s.cells = append(s.cells, "")
	}
	return index
}

// SetCellColor records a cell's color; it is drawn on the next Flush.
func (s *Screen) SetCellColor(h grid.Handle, color string) {
	i, ok := h.(int)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= 0 && i < len(s.cells) {
		s.cells[i] = color
	}
}

// Flush redraws the grid.
func (s *Screen) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	io.WriteString(s.out, s.render())
}

// ShowNextTurn prints the next-turn indicator. An empty value clears it.
func (s *Screen) ShowNextTurn(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == s.next {
		return
	}
	s.next = value
	if value != "" {
		fmt.Fprintf(s.out, "Next pixel: %s\n", value)
	}
}

// ShowNotice prints inline feedback. An empty message prints nothing.
func (s *Screen) ShowNotice(msg string) {
	if msg == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "! %s\n", msg)
}

// Alert prints a failure.
func (s *Screen) Alert(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "error: %v\n", err)
}

// ShowColorForm switches the prompt to color submission.
func (s *Screen) ShowColorForm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	io.WriteString(s.out, "Connected. Pick a color with: color <name|#hex>\n")
}

// Render returns the current grid as text.
func (s *Screen) Render() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.render()
}

// render lays the cells out in the squarest grid. Labels are 1-based.
func (s *Screen) render() string {
	total := len(s.cells)
	if total == 0 {
		return ""
	}
	cols, _ := grid.Layout(total)
	width := len(fmt.Sprint(total))

	var b strings.Builder
	for i, color := range s.cells {
		if i > 0 && i%cols == 0 {
			b.WriteByte('\n')
		}
		label := fmt.Sprintf(" %*d ", width, i+1)
		b.WriteString(s.paint(label, color))
	}
	b.WriteByte('\n')
	return b.String()
}

// paint wraps label in color escapes, or appends the color name when
// escapes are off or the color is unknown.
func (s *Screen) paint(label, color string) string {
	c, ok := parseColor(color)
	if !s.ansi || !ok {
		return "[" + strings.TrimSpace(label) + ":" + color + "]"
	}

	fg := "30"
	if c.dark() {
		fg = "97"
	}
	return fmt.Sprintf("\x1b[%s;48;2;%d;%d;%dm%s\x1b[0m", fg, c.r, c.g, c.b, label)
}
