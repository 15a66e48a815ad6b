package graph

import (
	"context"

	"github.com/BaSui01/depflow/store"
	"github.com/BaSui01/depflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AddDependency commits the edge source -> target after checking that both
// tasks exist, that it is not a self-loop and that target does not already
// reach source. An empty depType means FinishToStart.
func (e *Engine) AddDependency(ctx context.Context, source, target string, depType types.DependencyType) (edge types.Edge, err error) {
	ctx, done := e.begin(ctx, "AddDependency",
		attribute.String("edge.source", source), attribute.String("edge.target", target))
	defer done(&err)

	if depType == "" {
		depType = types.FinishToStart
	}
	if !depType.Valid() {
		return types.Edge{}, errInvalid("unknown dependency type %q", depType)
	}

	unlock, err := e.lockWrites(ctx)
	if err != nil {
		return types.Edge{}, err
	}
	defer unlock()

	e.mu.RLock()
	src, tgt, err := e.endpointsLocked(source, target)
	if err == nil {
		if _, exists := e.forward[source][target]; exists {
			err = types.Errorf(types.ErrDependencyExists, "dependency %s -> %s already exists", source, target)
		} else if e.reachableLocked(target, source) {
			err = types.Errorf(types.ErrCycleDetected,
				"dependency %s -> %s would create a cycle: %s already depends on %s", source, target, target, source)
		}
	}
	var (
		nextSrc, nextTgt types.Task
		stale            []string
	)
	if err == nil {
		nextSrc, nextTgt = bumped(src), bumped(tgt)
		stale = e.edgeQueryKeysLocked(source, target)
	}
	e.mu.RUnlock()
	if err != nil {
		return types.Edge{}, err
	}

	edge = types.Edge{Source: source, Target: target, Type: depType, CreatedAt: e.now().UTC()}
	batch := store.NewBatch()
	if err := putEdge(batch, edge); err != nil {
		return types.Edge{}, err
	}
	if err := putTask(batch, nextSrc); err != nil {
		return types.Edge{}, err
	}
	if err := putTask(batch, nextTgt); err != nil {
		return types.Edge{}, err
	}
	if err := e.apply(ctx, "add dependency", batch); err != nil {
		return types.Edge{}, err
	}

	e.publish(func() {
		e.linkLocked(edge)
		e.tasks[source] = &nextSrc
		e.tasks[target] = &nextTgt
	}, stale...)

	e.logger.Debug("dependency added",
		zap.String("source", source), zap.String("target", target), zap.String("type", string(depType)))
	return edge, nil
}

// RemoveDependency deletes the edge source -> target.
func (e *Engine) RemoveDependency(ctx context.Context, source, target string) (err error) {
	ctx, done := e.begin(ctx, "RemoveDependency",
		attribute.String("edge.source", source), attribute.String("edge.target", target))
	defer done(&err)

	unlock, err := e.lockWrites(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	e.mu.RLock()
	src, tgt, err := e.endpointsLocked(source, target)
	if err == nil {
		if _, exists := e.forward[source][target]; !exists {
			err = types.Errorf(types.ErrDependencyNotFound, "dependency %s -> %s not found", source, target)
		}
	}
	var (
		nextSrc, nextTgt types.Task
		stale            []string
	)
	if err == nil {
		nextSrc, nextTgt = bumped(src), bumped(tgt)
		stale = e.edgeQueryKeysLocked(source, target)
	}
	e.mu.RUnlock()
	if err != nil {
		return err
	}

	batch := store.NewBatch().Delete(edgeKey(source, target))
	if err := putTask(batch, nextSrc); err != nil {
		return err
	}
	if err := putTask(batch, nextTgt); err != nil {
		return err
	}
	if err := e.apply(ctx, "remove dependency", batch); err != nil {
		return err
	}

	e.publish(func() {
		e.unlinkLocked(source, target)
		e.tasks[source] = &nextSrc
		e.tasks[target] = &nextTgt
	}, stale...)

	e.logger.Debug("dependency removed", zap.String("source", source), zap.String("target", target))
	return nil
}

// endpointsLocked resolves both ends of an edge. Caller holds mu.
func (e *Engine) endpointsLocked(source, target string) (*types.Task, *types.Task, error) {
	src, err := e.taskLocked(source)
	if err != nil {
		return nil, nil, err
	}
	tgt, err := e.taskLocked(target)
	if err != nil {
		return nil, nil, err
	}
	if source == target {
		return nil, nil, types.Errorf(types.ErrSelfLoop, "task %q cannot depend on itself", source)
	}
	return src, tgt, nil
}

// linkLocked inserts edge into both indices. Caller holds mu for writing.
func (e *Engine) linkLocked(edge types.Edge) {
	out, ok := e.forward[edge.Source]
	if !ok {
		out = make(map[string]types.Edge)
		e.forward[edge.Source] = out
	}
	if _, exists := out[edge.Target]; !exists {
		e.edgeCount++
	}
	out[edge.Target] = edge

	in, ok := e.reverse[edge.Target]
	if !ok {
		in = make(map[string]struct{})
		e.reverse[edge.Target] = in
	}
	in[edge.Source] = struct{}{}
}

// unlinkLocked removes source -> target from both indices. Caller holds mu for writing.
func (e *Engine) unlinkLocked(source, target string) {
	if out, ok := e.forward[source]; ok {
		if _, exists := out[target]; exists {
			delete(out, target)
			e.edgeCount--
		}
		if len(out) == 0 {
			delete(e.forward, source)
		}
	}
	if in, ok := e.reverse[target]; ok {
		delete(in, source)
		if len(in) == 0 {
			delete(e.reverse, target)
		}
	}
}

// reachableLocked reports whether to is reachable from from along forward
// edges. The walk visits only what from reaches and is bounded by the node
// count. Caller holds mu.
func (e *Engine) reachableLocked(from, to string) bool {
	if from == to {
		return true
	}
	visited := map[string]struct{}{from: {}}
	frontier := []string{from}
	for depth := 0; depth < len(e.tasks) && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for n := range e.forward[id] {
				if n == to {
					return true
				}
				if _, seen := visited[n]; seen {
					continue
				}
				visited[n] = struct{}{}
				next = append(next, n)
			}
		}
		frontier = next
	}
	return false
}
