// Package server runs the openclaw-forward-auth process.
//
// A Server owns up to three listeners:
//
//   - the forward-auth listener on server.host:server.port, where /healthz is
//     a liveness probe and every other path is an authorization check
//   - an optional Prometheus listener on metrics.addr
//   - an optional gRPC listener on server.grpc_health_addr serving
//     grpc.health.v1.Health
//
// Run blocks until its context is canceled or a listener fails, then shuts
// everything down within a fixed grace period. The gRPC health status flips
// to NOT_SERVING before the HTTP listeners drain.
package server
