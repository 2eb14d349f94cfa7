// Package perclos implements the PERCLOS sliding-window aggregator and the
// drowsiness classifier.
package perclos

// Window is a fixed-capacity FIFO of eye-closure samples with a running
// count of closed samples. Push is O(1); the window is never rescanned.
//
// Invariant: closed == number of true entries, 0 <= closed <= Len() <= Cap().
//
// A Window is not safe for concurrent use; it has a single writer.
type Window struct {
	buf    []bool
	head   int // index of the oldest sample
	size   int
	closed int
}

// NewWindow returns an empty window holding at most capacity samples.
// A capacity below 1 is treated as 1.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]bool, capacity)}
}

// Push appends a sample, evicting the oldest one when full.
func (w *Window) Push(closed bool) {
	if w.size == len(w.buf) {
		if w.buf[w.head] {
			w.closed--
		}
		w.buf[w.head] = closed
		w.head = (w.head + 1) % len(w.buf)
	} else {
		w.buf[(w.head+w.size)%len(w.buf)] = closed
		w.size++
	}
	if closed {
		w.closed++
	}
}

// Percent is 100 * closed / len, or 0 for an empty window.
func (w *Window) Percent() float64 {
	if w.size == 0 {
		return 0
	}
	return 100 * float64(w.closed) / float64(w.size)
}

func (w *Window) Len() int    { return w.size }
func (w *Window) Cap() int    { return len(w.buf) }
func (w *Window) Closed() int { return w.closed }

// Reset empties the window without reallocating.
func (w *Window) Reset() {
	clear(w.buf)
	w.head, w.size, w.closed = 0, 0, 0
}

// Samples returns the samples oldest first. It copies and is meant for tests
// and diagnostics, not the per-frame path.
func (w *Window) Samples() []bool {
	out := make([]bool, w.size)
	for i := range out {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}
