// Package api serves the gateway's operational HTTP endpoints.
//
// The endpoints are read-only and meant for monitoring:
//
//	GET /healthz   component health (broker, database, influxdb)
//	GET /metrics   Prometheus exposition
//	GET /presence  gateway and device online status
//	GET /journal   recently sent commands and alerts
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
