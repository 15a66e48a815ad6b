// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types holds the shared domain model and error taxonomy of depflow.

# Overview

types is the lowest package in the tree and imports nothing internal. The
graph engine, the stores, the HTTP handlers and the binary all exchange
these values.

# Core types

  - Task, Phase        - graph node with ordered lifecycle phase and version
  - Edge, DependencyType - FS / SS / FF / SF temporal constraints
  - OverrideRecord     - immutable audit entry of an emergency override
  - Error / ErrorCode  - structured errors with HTTP status and retryability

# Error semantics

Every error the core returns is (or wraps) a *Error. Error.Is compares codes,
so sentinels such as graph.ErrCycleDetected match with errors.Is while the
concrete value keeps its message and cause. ErrorCode.Category splits codes
into logic, infrastructure and capacity errors; only infrastructure errors
are retryable.
*/
package types
