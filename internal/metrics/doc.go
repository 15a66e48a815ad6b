// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package metrics exposes depflow's Prometheus metrics.

# Overview

Collector registers its metrics on a caller-supplied prometheus.Registerer
through promauto.With, so tests can use a private registry. All metric
names share a namespace.

# Sources

  - Graph engine: Collector implements graph.Observer (operation counts
    by error code, latency, cache lookups, overrides).
  - Circuit breaker: ObserveBreakerTransition is passed as the breaker's
    OnStateChange hook and drives a state gauge and a transition counter.
  - Query cache: RegisterCacheStats exports size, entries and evictions
    as functions of cache.Statistics.
  - SQL store: RegisterDBStats exports open and idle connections.
  - HTTP: RecordHTTPRequest is called by the request middleware.
*/
package metrics
