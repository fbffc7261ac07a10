// Package healthmon keeps rolling per-(source, model) probe windows and
// serves immutable snapshots of them to the routing engine.
package healthmon

import (
	"strings"
	"sync"
	"time"
)

// Sample is one probe outcome: a latency in seconds, or a failure marker.
type Sample struct {
	Seconds float64
	Failed  bool
}

func Success(latency time.Duration) Sample { return Sample{Seconds: latency.Seconds()} }

func Failure() Sample { return Sample{Failed: true} }

// Key identifies one probe window.
type Key struct {
	Source string
	Model  string
}

// String renders the wire form "source|model".
func (k Key) String() string { return k.Source + "|" + k.Model }

// ParseKey splits a wire key on its first separator.
func ParseKey(s string) (Key, bool) {
	source, model, ok := strings.Cut(s, "|")
	if !ok || source == "" || model == "" {
		return Key{}, false
	}
	return Key{Source: source, Model: model}, true
}

// Window is a bounded FIFO of samples. Appending to a full window evicts
// the oldest sample.
type Window struct {
	mu    sync.Mutex
	buf   []Sample
	start int
	n     int
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{buf: make([]Sample, capacity)}
}

func (w *Window) Append(s Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = s
		w.n++
		return
	}
	w.buf[w.start] = s
	w.start = (w.start + 1) % len(w.buf)
}

// Samples copies the window, oldest first.
func (w *Window) Samples() []Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Sample, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

func (w *Window) Capacity() int { return len(w.buf) }
