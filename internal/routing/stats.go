package routing

import "github.com/af-corp/aegis-router/internal/healthmon"

// Stats is what a health window says about one source for one model.
type Stats struct {
	AvgLatency  float64
	SuccessRate float64
	Successes   int
	HasLatency  bool
	HasSuccess  bool
}

// ComputeStats derives the routing metrics from a window. AvgLatency is the
// mean of the successful samples among the most recent tolerance samples;
// with tolerance <= 0 the whole window counts. SuccessRate always covers the
// whole window.
func ComputeStats(window []healthmon.Sample, tolerance int) Stats {
	var st Stats
	if len(window) == 0 {
		return st
	}

	for _, s := range window {
		if !s.Failed {
			st.Successes++
		}
	}
	st.SuccessRate = float64(st.Successes) / float64(len(window))
	st.HasSuccess = true

	recent := window
	if tolerance > 0 && len(recent) > tolerance {
		recent = recent[len(recent)-tolerance:]
	}
	var sum float64
	var n int
	for _, s := range recent {
		if s.Failed {
			continue
		}
		sum += s.Seconds
		n++
	}
	if n > 0 {
		st.AvgLatency = sum / float64(n)
		st.HasLatency = true
	}
	return st
}
