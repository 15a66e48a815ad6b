// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Command depflow serves the task dependency graph over HTTP.

# Overview

depflow loads its configuration (defaults, YAML file, DEPFLOW_* variables),
opens the configured store backend, rebuilds the graph from it and serves
the JSON API plus a separate Prometheus /metrics listener.

# Subcommands

  - serve: run the API and metrics servers until SIGINT or SIGTERM
  - migrate: golang-migrate schema management for the sql backend
  - health: probe /health or /ready of a running instance
  - version: print the build information injected with -ldflags

# Middleware

Requests pass through Recovery, RequestID, SecurityHeaders, OTelTracing,
MetricsMiddleware, RequestLogger, CORS, a per-IP RateLimiter and Principal,
in that order. Principal copies the X-Principal header into the request
context so overrides without requested_by are still attributed.
*/
package main
