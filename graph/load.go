package graph

import (
	"context"

	"github.com/BaSui01/depflow/types"
	"go.uber.org/zap"
)

// Load replaces the in-memory graph with the state persisted in the store.
// Tasks and edges are scanned one after the other through the breaker, so a
// half-open breaker sees a single trial. An edge whose endpoint has no task
// record fails the load with CORRUPT_STATE and leaves the current graph
// untouched.
func (e *Engine) Load(ctx context.Context) (err error) {
	ctx, done := e.begin(ctx, "Load")
	defer done(&err)

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.loadLocked(ctx)
}

// loadLocked is Load with writeMu held. Success clears the stale mark.
func (e *Engine) loadLocked(ctx context.Context) error {
	taskKVs, err := e.scan(ctx, "load tasks", taskPrefix)
	if err != nil {
		return err
	}
	edgeKVs, err := e.scan(ctx, "load edges", edgePrefix)
	if err != nil {
		return err
	}

	tasks := make(map[string]*types.Task, len(taskKVs))
	for _, kv := range taskKVs {
		t, err := decodeTask(kv)
		if err != nil {
			return err
		}
		tasks[t.ID] = &t
	}

	edges := make([]types.Edge, 0, len(edgeKVs))
	for _, kv := range edgeKVs {
		edge, err := decodeEdge(kv)
		if err != nil {
			return err
		}
		if _, ok := tasks[edge.Source]; !ok {
			return errCorrupt("edge %s references missing task %q", edge, edge.Source)
		}
		if _, ok := tasks[edge.Target]; !ok {
			return errCorrupt("edge %s references missing task %q", edge, edge.Target)
		}
		edges = append(edges, edge)
	}

	e.publishAndClear(func() {
		e.tasks = tasks
		e.forward = make(map[string]map[string]types.Edge)
		e.reverse = make(map[string]map[string]struct{})
		e.edgeCount = 0
		for _, edge := range edges {
			e.linkLocked(edge)
		}
	})
	e.stale.Store(false)

	e.logger.Info("graph loaded", zap.Int("tasks", len(tasks)), zap.Int("edges", len(edges)))
	return nil
}
