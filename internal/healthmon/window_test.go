package healthmon

import (
	"sync"
	"testing"
	"time"
)

func TestWindow_EvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for i := 1; i <= 5; i++ {
		w.Append(Sample{Seconds: float64(i)})
	}
	got := w.Samples()
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	for i, want := range []float64{3, 4, 5} {
		if got[i].Seconds != want {
			t.Errorf("sample %d = %v, want %v", i, got[i].Seconds, want)
		}
	}
}

func TestWindow_NeverExceedsCapacity(t *testing.T) {
	w := NewWindow(100)
	for i := 0; i < 250; i++ {
		if i%3 == 0 {
			w.Append(Failure())
		} else {
			w.Append(Success(time.Second))
		}
		if w.Len() > 100 {
			t.Fatalf("window grew to %d", w.Len())
		}
	}
	if w.Len() != 100 {
		t.Errorf("expected full window, got %d", w.Len())
	}
}

func TestWindow_SamplesIsACopy(t *testing.T) {
	w := NewWindow(2)
	w.Append(Success(time.Second))
	s := w.Samples()
	s[0] = Failure()
	if w.Samples()[0].Failed {
		t.Error("mutating a copy changed the window")
	}
}

func TestParseKey(t *testing.T) {
	k, ok := ParseKey("alpha|gpt-4o|preview")
	if !ok || k.Source != "alpha" || k.Model != "gpt-4o|preview" {
		t.Errorf("unexpected key %+v %v", k, ok)
	}
	if k.String() != "alpha|gpt-4o|preview" {
		t.Errorf("String() = %q", k.String())
	}
	for _, bad := range []string{"alpha", "|gpt", "alpha|"} {
		if _, ok := ParseKey(bad); ok {
			t.Errorf("expected ParseKey(%q) to fail", bad)
		}
	}
}

func TestStore_ConcurrentRecordAndSnapshot(t *testing.T) {
	s := NewStore(10)
	var wg sync.WaitGroup
	for _, source := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Record(source, "m", Success(time.Duration(i)*time.Millisecond))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			snap := s.Snapshot(time.Now(), time.Minute)
			for _, w := range snap.Windows {
				if len(w) > 10 {
					t.Errorf("snapshot window exceeds capacity: %d", len(w))
				}
			}
		}
	}()
	wg.Wait()

	snap := s.Snapshot(time.Now(), time.Minute)
	if len(snap.Windows) != 4 {
		t.Errorf("expected 4 windows, got %d", len(snap.Windows))
	}
	for k, w := range snap.Windows {
		if len(w) != 10 {
			t.Errorf("window %s has %d samples, want 10", k, len(w))
		}
	}
}

func TestStore_SnapshotIsImmutable(t *testing.T) {
	s := NewStore(5)
	s.Record("a", "m", Success(time.Second))
	snap := s.Snapshot(time.Now(), time.Minute)
	s.Record("a", "m", Failure())
	s.Record("b", "m", Failure())

	if w, _ := snap.Window("a", "m"); len(w) != 1 {
		t.Errorf("snapshot changed after record: %d samples", len(w))
	}
	if _, ok := snap.Window("b", "m"); ok {
		t.Error("snapshot gained a window after it was taken")
	}
}

func TestStore_EnsureCreatesEmptyEntry(t *testing.T) {
	s := NewStore(5)
	s.Ensure("a", "blocked")
	w, ok := s.Snapshot(time.Now(), time.Minute).Window("a", "blocked")
	if !ok {
		t.Fatal("expected an entry for an ensured pair")
	}
	if len(w) != 0 {
		t.Errorf("expected empty window, got %d samples", len(w))
	}
}
