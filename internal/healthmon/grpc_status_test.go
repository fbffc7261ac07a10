package healthmon

import (
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestSourceStatuses(t *testing.T) {
	snap := &Snapshot{Windows: map[Key][]Sample{
		{Source: "a", Model: "m1"}: {{Seconds: 1}, Failure()},
		{Source: "a", Model: "m2"}: {Failure(), {Seconds: 2}},
		{Source: "b", Model: "m1"}: {{Seconds: 1}, Failure()},
		{Source: "c", Model: "m1"}: {},
	}}
	got := SourceStatuses(snap)
	if got["a"] != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("a = %v, want SERVING", got["a"])
	}
	if got["b"] != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("b = %v, want NOT_SERVING", got["b"])
	}
	if _, ok := got["c"]; ok {
		t.Error("source without samples should not get a status")
	}
}
