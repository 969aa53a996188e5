// Package terminal runs one coding agent per job inside a pseudo-terminal
// and watches its output with a cheap LLM observer that classifies run
// state without parsing the CLI's output format.
package terminal

import (
	"sync"
)

// windowSize is how much trailing output the observer sees. Terminal
// agents redraw heavily; anything older than this is stale context.
const windowSize = 8 * 1024

// rollingWindow keeps the last windowSize bytes of merged PTY output and
// counts total bytes ever appended so the observer can detect new output.
type rollingWindow struct {
	mu    sync.Mutex
	buf   []byte
	total int64
}

func newRollingWindow() *rollingWindow {
	return &rollingWindow{buf: make([]byte, 0, windowSize)}
}

// Append adds output, discarding the oldest bytes beyond the window.
func (w *rollingWindow) Append(p []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.total += int64(len(p))
	w.buf = append(w.buf, p...)
	if len(w.buf) > windowSize {
		w.buf = w.buf[len(w.buf)-windowSize:]
	}
}

// Snapshot returns the current window contents and the total byte count.
func (w *rollingWindow) Snapshot() (string, int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf), w.total
}
