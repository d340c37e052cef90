// Package config handles configuration loading for openclaw-forward-auth.
//
// # Overview
//
// Configuration is resolved once at process start, in increasing precedence:
//
//  1. Built-in defaults
//  2. An optional YAML or TOML file named by OPENCLAW_FORWARD_AUTH_CONFIG
//  3. Environment variables
//
// The result is validated and then passed by value into the components that
// need it. Nothing reads configuration from ambient state after startup.
//
// # Environment Variables
//
//	OPENCLAW_TTYD_SECRET                  shared HMAC key (required)
//	OPENCLAW_TTYD_TTL_SECONDS             token lifetime, default 86400
//	OPENCLAW_TTYD_MIN_SIGNATURE_LENGTH    signature floor, default 0 (off)
//	PORT                                  listener port, default 8080
//	OPENCLAW_FORWARD_AUTH_LOG_LEVEL       debug, info, warn, error
//	OPENCLAW_FORWARD_AUTH_LOG_FORMAT      text, json
//	OPENCLAW_FORWARD_AUTH_METRICS_ADDR    enables the metrics listener
//	OPENCLAW_FORWARD_AUTH_GRPC_HEALTH_ADDR enables the gRPC health service
//
// Numeric overrides that fail to parse keep the previous value and are
// reported in Config.Warnings instead of aborting startup. A missing secret
// always aborts startup.
//
// # Configuration File
//
// Files ending in .toml are decoded as TOML, anything else as YAML. Values can
// reference environment variables with ${VAR_NAME}:
//
//	auth:
//	  secret: "${OPENCLAW_TTYD_SECRET}"
//	  ttl_seconds: 86400
//	  min_signature_length: 16
//	server:
//	  host: "0.0.0.0"
//	  port: 8080
//	  read_header_timeout: "10s"
//	  grpc_health_addr: ":9090"
//	logging:
//	  level: "info"
//	  format: "json"
//	metrics:
//	  addr: ":9100"
//	  path: "/metrics"
//
// # Secret Handling
//
// AuthConfig implements slog.LogValuer, so logging the config never prints
// the secret.
package config
