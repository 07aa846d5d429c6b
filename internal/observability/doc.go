// Package observability provides structured logging and Prometheus metrics
// for the clinic gateway.
//
// This package implements:
//   - zap logger construction from LOG_LEVEL and LOG_FORMAT
//   - Prometheus collectors for key set refreshes, token verification and
//     authorization decisions
//   - The /metrics handler
package observability
