package healthmon

import (
	"sync"
	"time"
)

// Store owns every probe window. Recording into one window never blocks on
// another; the map lock is only held to find or create a window.
type Store struct {
	capacity int

	mu      sync.RWMutex
	windows map[Key]*Window
}

func NewStore(capacity int) *Store {
	return &Store{
		capacity: capacity,
		windows:  make(map[Key]*Window),
	}
}

// window returns (or lazily creates) the window for key.
func (s *Store) window(key Key) *Window {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[key]; ok {
		return w
	}
	w = NewWindow(s.capacity)
	s.windows[key] = w
	return w
}

// Record appends one probe outcome for (source, model).
func (s *Store) Record(source, model string, sample Sample) {
	s.window(Key{Source: source, Model: model}).Append(sample)
}

// Ensure creates an empty window so the pair shows up in snapshots even if
// it is never probed.
func (s *Store) Ensure(source, model string) {
	s.window(Key{Source: source, Model: model})
}

// Snapshot copies every window into an immutable snapshot.
func (s *Store) Snapshot(now time.Time, span time.Duration) *Snapshot {
	s.mu.RLock()
	windows := make(map[Key]*Window, len(s.windows))
	for k, w := range s.windows {
		windows[k] = w
	}
	s.mu.RUnlock()

	snap := &Snapshot{
		Timestamp:  now,
		WindowSpan: span,
		Windows:    make(map[Key][]Sample, len(windows)),
	}
	for k, w := range windows {
		snap.Windows[k] = w.Samples()
	}
	return snap
}
