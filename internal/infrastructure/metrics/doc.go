// Package metrics exposes identityd's Prometheus metrics at /metrics:
// authentication outcomes (identity_auth_operations_total,
// identity_auth_operation_seconds), HTTP traffic and build info.
package metrics
