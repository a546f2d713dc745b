// Package render is the terminal view over the transcript board. Pure
// presentation; it holds a read reference to the board and owns no state of
// its own beyond per-provider print cursors.
package render

import (
	"fmt"
	"io"
	"sync"

	"github.com/morix1500/hikaku-voice/pkg/transcript"
)

// Console prints provider registrations, live partial hypotheses, finalized
// segments with their gated latency and session-level errors as they happen.
type Console struct {
	mu       sync.Mutex
	w        io.Writer
	board    *transcript.Board
	printed  map[string]int
	partials map[string]string
	lastErr  string
	seen     map[string]bool
}

func NewConsole(w io.Writer, board *transcript.Board) *Console {
	c := &Console{
		w:        w,
		board:    board,
		printed:  make(map[string]int),
		partials: make(map[string]string),
		seen:     make(map[string]bool),
	}
	board.AddListener(c.onUpdate)
	return c
}

func (c *Console) onUpdate(providerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg := c.board.LastError(); msg != "" && msg != c.lastErr {
		c.lastErr = msg
		fmt.Fprintf(c.w, "!! server error: %s\n", msg)
	}

	if providerID == "" {
		for _, st := range c.board.Snapshot() {
			c.announceLocked(st)
		}
		return
	}
	st := c.board.State(providerID)
	if st == nil {
		return
	}
	c.announceLocked(*st)
	for i := c.printed[st.ID]; i < len(st.Segments); i++ {
		seg := st.Segments[i]
		fmt.Fprintf(c.w, "[%s] %s  (%dms)\n", st.ID, seg.Text, seg.Latency.Milliseconds())
	}
	c.printed[st.ID] = len(st.Segments)

	// Finalization clears the partial; only reprint when the hypothesis moved.
	if st.PartialText != c.partials[st.ID] {
		if st.PartialText != "" {
			fmt.Fprintf(c.w, " ~ [%s] %s\n", st.ID, st.PartialText)
		}
		c.partials[st.ID] = st.PartialText
	}
}

func (c *Console) announceLocked(st transcript.ProviderState) {
	if c.seen[st.ID] {
		return
	}
	c.seen[st.ID] = true
	name := st.Name
	if name == "" {
		name = st.ID
	}
	fmt.Fprintf(c.w, "-- provider %s\n", name)
}
