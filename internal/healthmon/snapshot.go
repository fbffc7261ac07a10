package healthmon

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Snapshot is a point-in-time copy of all probe windows. It is never
// mutated after construction.
type Snapshot struct {
	Timestamp  time.Time
	WindowSpan time.Duration
	Windows    map[Key][]Sample
}

// EmptySnapshot carries no telemetry and stays fresh for span.
func EmptySnapshot(now time.Time, span time.Duration) *Snapshot {
	return &Snapshot{Timestamp: now, WindowSpan: span, Windows: map[Key][]Sample{}}
}

// Stale reports whether the snapshot is older than its window span.
func (s *Snapshot) Stale(now time.Time) bool {
	return s == nil || now.Sub(s.Timestamp) > s.WindowSpan
}

func (s *Snapshot) Window(source, model string) ([]Sample, bool) {
	if s == nil {
		return nil, false
	}
	w, ok := s.Windows[Key{Source: source, Model: model}]
	return w, ok
}

// ModelWindows returns the windows of model keyed by source.
func (s *Snapshot) ModelWindows(model string) map[string][]Sample {
	out := make(map[string][]Sample)
	if s == nil {
		return out
	}
	for k, w := range s.Windows {
		if k.Model == model {
			out[k.Source] = w
		}
	}
	return out
}

type wireSnapshot struct {
	Timestamp         string                `json:"timestamp"`
	WindowSpanMinutes int                   `json:"windowSpanMinutes"`
	Data              map[string][]*float64 `json:"data"`
}

const localISOLayout = "2006-01-02T15:04:05.999999999"

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	w := wireSnapshot{
		Timestamp:         s.Timestamp.Format(time.RFC3339Nano),
		WindowSpanMinutes: int(math.Ceil(s.WindowSpan.Minutes())),
		Data:              make(map[string][]*float64, len(s.Windows)),
	}
	for k, samples := range s.Windows {
		values := make([]*float64, len(samples))
		for i, sample := range samples {
			if !sample.Failed {
				v := sample.Seconds
				values[i] = &v
			}
		}
		w.Data[k.String()] = values
	}
	return json.Marshal(w)
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		// Zone-less ISO-8601 is read as local time.
		ts, err = time.ParseInLocation(localISOLayout, w.Timestamp, time.Local)
		if err != nil {
			return fmt.Errorf("parse snapshot timestamp %q: %w", w.Timestamp, err)
		}
	}

	s.Timestamp = ts
	s.WindowSpan = time.Duration(w.WindowSpanMinutes) * time.Minute
	s.Windows = make(map[Key][]Sample, len(w.Data))
	for raw, values := range w.Data {
		key, ok := ParseKey(raw)
		if !ok {
			return fmt.Errorf("invalid snapshot key %q", raw)
		}
		samples := make([]Sample, len(values))
		for i, v := range values {
			if v == nil {
				samples[i] = Failure()
			} else {
				samples[i] = Sample{Seconds: *v}
			}
		}
		s.Windows[key] = samples
	}
	return nil
}
