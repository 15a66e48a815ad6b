// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package api holds the request and response types of the depflow HTTP API.
//
// # API Overview
//
// depflow exposes its dependency graph over JSON:
//   - Tasks: create, read, update phase, delete, project associations
//   - Dependencies: add and remove typed edges, emergency overrides
//   - Queries: direct dependencies and dependents, ancestors, descendants,
//     topological order
//   - Health, readiness, version and graph statistics
//
// Every response is wrapped in handlers.Response. Failures carry an error
// code; STORE_UNAVAILABLE, CIRCUIT_OPEN and TIMEOUT are retryable, and
// CIRCUIT_OPEN responses include a Retry-After header.
package api
