// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package graph implements the task dependency engine: a directed acyclic
graph of tasks whose edges are persisted in a store.Store.

# Model

A Task has an id, a lifecycle Phase, a version bumped on every mutation and
its project associations (one primary, at most three related). An Edge
source -> target carries one of the four dependency types (FS, SS, FF, SF).
GetDependencies follows outgoing edges, GetDependents incoming ones;
GetDescendants and GetAncestors are their transitive closures.

# Consistency

Writers are serialized: validation (existence, self-loop, cycle check),
the atomic store batch and the in-memory update run as one unit. Readers
run concurrently on the in-memory indices. Every store call goes through a
circuit breaker, so a failing store is fast-failed with CIRCUIT_OPEN and a
slow one surfaces as TIMEOUT. A failed write leaves the graph unchanged.

# Caching

Neighbour and closure queries are memoized in a byte-bounded LRU cache as
id lists and invalidated per task when an edge changes.

# Emergency overrides

OverrideDependency removes an existing edge, or forces a missing one in
without the cycle check, and writes an audit record in the same batch.
ListOverrides reads the records back.

# Usage

	engine, err := graph.New(st, graph.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := engine.Load(ctx); err != nil {
		return err
	}
	_, err = engine.AddDependency(ctx, "design-api", "build-api", types.FinishToStart)
	if errors.Is(err, graph.ErrCycleDetected) {
		...
	}
*/
package graph
