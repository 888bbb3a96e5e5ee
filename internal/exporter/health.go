package exporter

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name that tracks collection.
const HealthService = "bmi.exporter.Collector"

// healthReporter mirrors collection outcomes into the gRPC health service.
type healthReporter struct {
	server *health.Server
}

func newHealthReporter() *healthReporter {
	s := health.NewServer()
	s.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &healthReporter{server: s}
}

func (h *healthReporter) observe(out Outcome) {
	status := healthpb.HealthCheckResponse_SERVING
	if !out.Healthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus(HealthService, status)
}

func (h *healthReporter) shutdown() {
	h.server.Shutdown()
}
