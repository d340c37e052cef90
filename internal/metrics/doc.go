// Package metrics exposes Prometheus collectors for the forward-auth gateway.
//
// Collected series:
//
//	openclaw_forward_auth_decisions_total{decision, reason}
//	openclaw_forward_auth_http_requests_total{route, status}
//	openclaw_forward_auth_http_request_duration_seconds{route}
//	openclaw_forward_auth_build_info{version}
//
// The handler is mounted on its own listener so that the forward-auth port
// keeps treating every non-health path as an authorization check.
package metrics
