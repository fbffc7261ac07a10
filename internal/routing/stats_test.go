package routing

import (
	"math"
	"testing"

	"github.com/af-corp/aegis-router/internal/healthmon"
)

func lat(seconds float64) healthmon.Sample { return healthmon.Sample{Seconds: seconds} }

var failed = healthmon.Failure()

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestComputeStats(t *testing.T) {
	tests := []struct {
		name        string
		window      []healthmon.Sample
		tolerance   int
		hasLatency  bool
		avg         float64
		hasSuccess  bool
		successRate float64
	}{
		{"empty", nil, 4, false, 0, false, 0},
		{"mixed", []healthmon.Sample{lat(1.2), lat(1.4), failed, lat(1.3)}, 4, true, 1.3, true, 0.75},
		{"all failed", []healthmon.Sample{failed, failed, failed, failed}, 4, false, 0, true, 0},
		{"recent failures hide old latency", []healthmon.Sample{lat(1), lat(2), failed, failed}, 2, false, 0, true, 0.5},
		{"tolerance limits latency only", []healthmon.Sample{lat(10), lat(1), lat(3)}, 2, true, 2, true, 1},
		{"whole window", []healthmon.Sample{lat(10), failed, lat(2)}, 0, true, 6, true, 2.0 / 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := ComputeStats(tt.window, tt.tolerance)
			if st.HasLatency != tt.hasLatency || !approx(st.AvgLatency, tt.avg) {
				t.Errorf("latency: expected (%v, %v), got (%v, %v)", tt.hasLatency, tt.avg, st.HasLatency, st.AvgLatency)
			}
			if st.HasSuccess != tt.hasSuccess || !approx(st.SuccessRate, tt.successRate) {
				t.Errorf("success rate: expected (%v, %v), got (%v, %v)", tt.hasSuccess, tt.successRate, st.HasSuccess, st.SuccessRate)
			}
		})
	}
}
