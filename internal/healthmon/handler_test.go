package healthmon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type stubSource struct {
	snap      *Snapshot
	triggered int
	running   bool
}

func (s *stubSource) Snapshot() *Snapshot { return s.snap }

func (s *stubSource) Trigger() bool {
	if s.running {
		return false
	}
	s.triggered++
	return true
}

func newTestRouter(src SnapshotSource) http.Handler {
	r := chi.NewRouter()
	NewHandler(src, nil).Routes(r)
	return r
}

func TestHandler_CheckHealthy(t *testing.T) {
	src := &stubSource{snap: &Snapshot{
		Timestamp:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		WindowSpan: 30 * time.Minute,
		Windows:    map[Key][]Sample{{Source: "a", Model: "m"}: {{Seconds: 1.5}, Failure()}},
	}}
	w := httptest.NewRecorder()
	newTestRouter(src).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/check_healthy", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Timestamp         string                `json:"timestamp"`
		WindowSpanMinutes int                   `json:"windowSpanMinutes"`
		Data              map[string][]*float64 `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.WindowSpanMinutes != 30 {
		t.Errorf("expected span 30, got %d", body.WindowSpanMinutes)
	}
	values := body.Data["a|m"]
	if len(values) != 2 || values[0] == nil || *values[0] != 1.5 || values[1] != nil {
		t.Errorf("unexpected values %v", values)
	}
}

func TestHandler_Trigger(t *testing.T) {
	src := &stubSource{snap: EmptySnapshot(time.Now(), time.Minute)}
	router := newTestRouter(src)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/trigger_health_check", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if src.triggered != 1 {
		t.Errorf("expected 1 trigger, got %d", src.triggered)
	}

	src.running = true
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/trigger_health_check", nil))
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "already_running" {
		t.Errorf("expected already_running, got %v", body)
	}
}
