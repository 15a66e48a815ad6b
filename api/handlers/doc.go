// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers implements the depflow HTTP endpoints.

# Overview

Every handler is a plain net/http handler. GraphHandler.Register mounts the
graph routes on a Go 1.22 ServeMux; HealthHandler serves liveness, readiness
and version. Swagger annotations on the handlers document the API.

# Core types

  - GraphHandler   - tasks, dependencies, overrides, queries and stats
  - GraphService   - the engine surface GraphHandler depends on
  - HealthHandler  - /health, /ready and /version
  - HealthCheck    - pluggable readiness probe (store ping, breaker state)
  - Response       - JSON envelope: success, data, error, timestamp
  - ErrorInfo      - error code, message and retryable flag
  - ResponseWriter - wraps http.ResponseWriter to capture the status code

# Errors

WriteError maps types.ErrorCode to an HTTP status. Graph rule violations
are 4xx; STORE_UNAVAILABLE and CIRCUIT_OPEN are 503, TIMEOUT is 504 and a
request the client cancelled is 499. CIRCUIT_OPEN responses carry a
Retry-After header and a generic message.
*/
package handlers
