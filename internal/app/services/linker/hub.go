package linker

import (
	"strings"
	"sync"
)

// tailLimit bounds how many log lines are retained per order so late
// subscribers can catch up after the job finished.
const tailLimit = 256

// Hub fans automation log lines out to per-order subscribers. Lines are
// prefixed STATUS:, SUCCESS:, ERROR: or VERIFICATION_CODE: and every job
// ends with exactly one terminal line.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan string]struct{}
	tail map[string][]string
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan string]struct{}),
		tail: make(map[string][]string),
	}
}

// Publish delivers a line to all subscribers of the order and retains it
// for late subscribers. Slow subscribers are dropped rather than blocked.
func (h *Hub) Publish(orderID, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lines := append(h.tail[orderID], line)
	if len(lines) > tailLimit {
		lines = lines[len(lines)-tailLimit:]
	}
	h.tail[orderID] = lines

	for ch := range h.subs[orderID] {
		select {
		case ch <- line:
		default:
			delete(h.subs[orderID], ch)
			close(ch)
		}
	}
}

// Reset clears the retained tail before a fresh job starts so subscribers
// do not replay a previous run.
func (h *Hub) Reset(orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.tail, orderID)
}

// Subscribe returns a channel of log lines for the order, replaying the
// retained tail first. The cancel function must be called when done.
func (h *Hub) Subscribe(orderID string) (<-chan string, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan string, tailLimit+16)
	for _, line := range h.tail[orderID] {
		ch <- line
	}

	if h.subs[orderID] == nil {
		h.subs[orderID] = make(map[chan string]struct{})
	}
	h.subs[orderID][ch] = struct{}{}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[orderID][ch]; ok {
			delete(h.subs[orderID], ch)
			close(ch)
		}
		if len(h.subs[orderID]) == 0 {
			delete(h.subs, orderID)
		}
	}
	return ch, cancel
}

// IsTerminal reports whether a log line ends a job. A verification code is
// terminal; the job succeeded and now waits on the buyer's 2FA confirmation.
func IsTerminal(line string) bool {
	return strings.HasPrefix(line, "SUCCESS:") ||
		strings.HasPrefix(line, "ERROR:") ||
		strings.HasPrefix(line, "VERIFICATION_CODE:")
}
