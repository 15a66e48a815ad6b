package graph

import (
	"container/heap"
	"context"

	"github.com/BaSui01/depflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Cached query kinds. A cache key is "<kind>:<task id>".
//
// Invalidation is per task: an edge change s -> t drops the dependencies of
// s, the dependents of t, the descendants of s and of every ancestor of s,
// and the ancestors of t and of every descendant of t. The sets are computed
// on the graph before the change, which for removals is the larger graph.
// Overrides clear the whole cache.
const (
	queryDependencies = "deps"
	queryDependents   = "dependents"
	queryAncestors    = "anc"
	queryDescendants  = "desc"
)

func queryKey(kind, id string) string {
	return kind + ":" + id
}

func taskQueryKeys(id string) []string {
	return []string{
		queryKey(queryDependencies, id),
		queryKey(queryDependents, id),
		queryKey(queryAncestors, id),
		queryKey(queryDescendants, id),
	}
}

// edgeQueryKeysLocked lists the cache keys an edge change source -> target
// invalidates. Caller holds mu.
func (e *Engine) edgeQueryKeysLocked(source, target string) []string {
	keys := []string{
		queryKey(queryDependencies, source),
		queryKey(queryDependents, target),
		queryKey(queryDescendants, source),
		queryKey(queryAncestors, target),
	}
	for _, id := range e.walkLocked(source, e.sourcesOf) {
		keys = append(keys, queryKey(queryDescendants, id))
	}
	for _, id := range e.walkLocked(target, e.targetsOf) {
		keys = append(keys, queryKey(queryAncestors, id))
	}
	return keys
}

// Stats summarizes the graph.
type Stats struct {
	Tasks  int  `json:"tasks"`
	Edges  int  `json:"edges"`
	Cyclic bool `json:"cyclic"`
}

// GetDependencies returns the targets of the task's outgoing edges, ordered by id.
func (e *Engine) GetDependencies(ctx context.Context, id string) (tasks []types.Task, err error) {
	ctx, done := e.begin(ctx, "GetDependencies", attribute.String("task.id", id))
	defer done(&err)
	return e.query(ctx, queryDependencies, id, e.targetsOf)
}

// GetDependents returns the sources of the task's incoming edges, ordered by id.
func (e *Engine) GetDependents(ctx context.Context, id string) (tasks []types.Task, err error) {
	ctx, done := e.begin(ctx, "GetDependents", attribute.String("task.id", id))
	defer done(&err)
	return e.query(ctx, queryDependents, id, e.sourcesOf)
}

// GetAncestors returns every task that reaches id, in breadth-first order
// from id with neighbours visited by id. The task itself is excluded.
func (e *Engine) GetAncestors(ctx context.Context, id string) (tasks []types.Task, err error) {
	ctx, done := e.begin(ctx, "GetAncestors", attribute.String("task.id", id))
	defer done(&err)
	return e.query(ctx, queryAncestors, id, func(start string) []string {
		return e.walkLocked(start, e.sourcesOf)
	})
}

// GetDescendants returns every task reachable from id, in breadth-first
// order with neighbours visited by id. The task itself is excluded.
func (e *Engine) GetDescendants(ctx context.Context, id string) (tasks []types.Task, err error) {
	ctx, done := e.begin(ctx, "GetDescendants", attribute.String("task.id", id))
	defer done(&err)
	return e.query(ctx, queryDescendants, id, func(start string) []string {
		return e.walkLocked(start, e.targetsOf)
	})
}

// query answers kind for id from the cache, computing and caching it on a
// miss. Concurrent misses for the same key and graph generation share one
// computation.
func (e *Engine) query(ctx context.Context, kind, id string, compute func(id string) []string) ([]types.Task, error) {
	key := queryKey(kind, id)

	ids, hit := e.cache.Get(key)
	e.observer.ObserveCacheLookup(kind, hit)
	if !hit {
		e.mu.RLock()
		gen := e.generation
		e.mu.RUnlock()

		v, err, _ := e.flight.Do(flightKey(key, gen), func() (any, error) {
			e.mu.RLock()
			defer e.mu.RUnlock()
			if _, err := e.taskLocked(id); err != nil {
				return nil, err
			}
			computed := compute(id)
			// Set happens under the read lock so a concurrent mutation cannot
			// invalidate before the stale result is inserted.
			if err := e.cache.Set(key, computed); err != nil {
				e.logger.Debug("query result not cached", zap.String("key", key), zap.Error(err))
			}
			return computed, nil
		})
		if err != nil {
			return nil, err
		}
		ids = v.([]string)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.materialize(ids), nil
}

// materialize resolves ids to task copies, skipping ids removed since the
// list was computed.
func (e *Engine) materialize(ids []string) []types.Task {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := e.tasks[id]; ok {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (e *Engine) targetsOf(id string) []string {
	return sortedTargets(e.forward[id])
}

func (e *Engine) sourcesOf(id string) []string {
	return sortedSources(e.reverse[id])
}

// walkLocked is a breadth-first traversal from start along next, limited
// to as many levels as there are tasks. start is never part of the result,
// even when an override made it reachable from itself. Caller holds mu.
func (e *Engine) walkLocked(start string, next func(string) []string) []string {
	visited := map[string]struct{}{start: {}}
	frontier := []string{start}
	var out []string
	for depth := 0; depth < len(e.tasks) && len(frontier) > 0; depth++ {
		var level []string
		for _, id := range frontier {
			for _, n := range next(id) {
				if _, seen := visited[n]; seen {
					continue
				}
				visited[n] = struct{}{}
				out = append(out, n)
				level = append(level, n)
			}
		}
		frontier = level
	}
	if out == nil {
		out = []string{}
	}
	return out
}

// TopologicalOrder returns all tasks such that every edge source precedes
// its target. Among tasks that are ready at the same time the smaller id
// comes first. It fails with CYCLE_DETECTED when an override left a cycle.
func (e *Engine) TopologicalOrder(ctx context.Context) (tasks []types.Task, err error) {
	_, done := e.begin(ctx, "TopologicalOrder")
	defer done(&err)

	e.mu.RLock()
	defer e.mu.RUnlock()

	order, complete := e.kahnLocked()
	if !complete {
		return nil, types.Errorf(types.ErrCycleDetected,
			"graph contains a cycle: %d of %d tasks cannot be ordered", len(e.tasks)-len(order), len(e.tasks))
	}
	out := make([]types.Task, 0, len(order))
	for _, id := range order {
		out = append(out, e.tasks[id].Clone())
	}
	return out, nil
}

// HasCycle reports whether the committed edges contain a cycle. Only an
// emergency override can introduce one.
func (e *Engine) HasCycle(ctx context.Context) bool {
	_, done := e.begin(ctx, "HasCycle")
	defer done(nil)

	e.mu.RLock()
	defer e.mu.RUnlock()
	_, complete := e.kahnLocked()
	return !complete
}

// Stats returns task and edge counts.
func (e *Engine) Stats(ctx context.Context) Stats {
	_, done := e.begin(ctx, "Stats")
	defer done(nil)

	e.mu.RLock()
	defer e.mu.RUnlock()
	_, complete := e.kahnLocked()
	return Stats{Tasks: len(e.tasks), Edges: e.edgeCount, Cyclic: !complete}
}

// kahnLocked runs Kahn's algorithm with a min-heap of ready ids. complete is
// false when some tasks sit on or behind a cycle. Caller holds mu.
func (e *Engine) kahnLocked() (order []string, complete bool) {
	indegree := make(map[string]int, len(e.tasks))
	ready := &idHeap{}
	for id := range e.tasks {
		indegree[id] = len(e.reverse[id])
		if indegree[id] == 0 {
			*ready = append(*ready, id)
		}
	}
	heap.Init(ready)

	order = make([]string, 0, len(e.tasks))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		for target := range e.forward[id] {
			indegree[target]--
			if indegree[target] == 0 {
				heap.Push(ready, target)
			}
		}
	}
	return order, len(order) == len(e.tasks)
}

type idHeap []string

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *idHeap) Push(x any) { *h = append(*h, x.(string)) }

func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
