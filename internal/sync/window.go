package sync

import "sync"

// defaultWindowSize caps the notification dedup window.
const defaultWindowSize = 1000

// Window is an insertion-ordered bounded set of recently seen notification
// sequence numbers. Once full, the oldest entry is evicted. It lives in
// memory only, for the lifetime of the process.
type Window struct {
	mu    sync.Mutex
	cap   int
	order []string
	seen  map[string]struct{}
}

// NewWindow creates a Window holding at most capacity entries. Zero or
// negative capacities fall back to the default.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = defaultWindowSize
	}
	return &Window{
		cap:  capacity,
		seen: make(map[string]struct{}, capacity),
	}
}

// Observe records seq and reports whether this is its first sighting within
// the window. A repeat returns false and leaves the window unchanged.
func (w *Window) Observe(seq string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, dup := w.seen[seq]; dup {
		return false
	}
	if len(w.order) >= w.cap {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, oldest)
	}
	w.order = append(w.order, seq)
	w.seen[seq] = struct{}{}
	return true
}

// Len returns the number of entries currently tracked.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}
