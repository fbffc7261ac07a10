package healthmon

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name published for a source.
func ServiceName(source string) string { return "source/" + source }

// StatusPublisher mirrors probe results into a gRPC health server: a
// source is SERVING while any of its models last probed successfully.
type StatusPublisher struct {
	server *health.Server
}

func NewStatusPublisher(server *health.Server) *StatusPublisher {
	return &StatusPublisher{server: server}
}

// Publish updates every source that has at least one sample. Sources with
// no samples keep whatever status they had.
func (p *StatusPublisher) Publish(snap *Snapshot) {
	for source, status := range SourceStatuses(snap) {
		p.server.SetServingStatus(ServiceName(source), status)
	}
}

// SourceStatuses derives a serving status per source from the newest
// sample of each of its windows.
func SourceStatuses(snap *Snapshot) map[string]healthpb.HealthCheckResponse_ServingStatus {
	out := make(map[string]healthpb.HealthCheckResponse_ServingStatus)
	if snap == nil {
		return out
	}
	for k, samples := range snap.Windows {
		if len(samples) == 0 {
			continue
		}
		if !samples[len(samples)-1].Failed {
			out[k.Source] = healthpb.HealthCheckResponse_SERVING
		} else if _, seen := out[k.Source]; !seen {
			out[k.Source] = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	return out
}
