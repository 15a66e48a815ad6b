// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package testutil provides shared helpers for depflow tests.

# Overview

Context helpers (TestContext, TestContextWithTimeout, CancelledContext)
register their cancel functions with t.Cleanup. Polling assertions
(AssertEventuallyTrue, WaitFor) wait for asynchronous state such as a
circuit breaker cooling down.

# Subpackages

  - testutil/mocks: FaultStore, a store.Store wrapper with per-operation
    error injection, latency injection and call counting.

# Example

	ctx := testutil.TestContext(t)
	st := mocks.NewFaultStore(memory.New()).WithApplyError(errors.New("disk full"))
	engine, _ := graph.New(st)
	_, err := engine.AddTask(ctx, "a", types.PhaseDesign)
*/
package testutil
