package graph

import (
	"context"
	"strings"

	"github.com/BaSui01/depflow/store"
	"github.com/BaSui01/depflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OverrideResult describes a committed emergency override.
type OverrideResult struct {
	Action          types.OverrideAction `json:"action"`
	Edge            types.Edge           `json:"edge"`
	CycleIntroduced bool                 `json:"cycle_introduced"`
	Record          types.OverrideRecord `json:"record"`
}

type overrideOptions struct {
	depType types.DependencyType
}

// OverrideOption configures OverrideDependency.
type OverrideOption func(*overrideOptions)

// WithOverrideType sets the type of an edge forced through by an override.
// The default is FinishToStart.
func WithOverrideType(t types.DependencyType) OverrideOption {
	return func(o *overrideOptions) { o.depType = t }
}

// OverrideDependency bypasses the graph constraints for source -> target.
//
// If the edge exists it is deleted. Otherwise it is committed without the
// cycle check. Either way the change and an OverrideRecord naming
// requestedBy and justification are written in one atomic batch; if that
// write fails nothing changes. Self-loops are still rejected. An empty
// requestedBy falls back to types.Principal(ctx).
func (e *Engine) OverrideDependency(ctx context.Context, source, target, requestedBy, justification string, opts ...OverrideOption) (result OverrideResult, err error) {
	ctx, done := e.begin(ctx, "OverrideDependency",
		attribute.String("edge.source", source),
		attribute.String("edge.target", target),
		attribute.String("override.requested_by", requestedBy))
	defer done(&err)

	o := overrideOptions{depType: types.FinishToStart}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.depType.Valid() {
		return OverrideResult{}, errInvalid("unknown dependency type %q", o.depType)
	}
	if strings.TrimSpace(requestedBy) == "" {
		requestedBy, _ = types.Principal(ctx)
	}
	if strings.TrimSpace(requestedBy) == "" {
		return OverrideResult{}, errInvalid("override requires the requesting principal")
	}
	if strings.TrimSpace(justification) == "" {
		return OverrideResult{}, errInvalid("override requires a justification")
	}

	unlock, err := e.lockWrites(ctx)
	if err != nil {
		return OverrideResult{}, err
	}
	defer unlock()

	now := e.now().UTC()

	e.mu.RLock()
	src, tgt, err := e.endpointsLocked(source, target)
	if err == nil {
		if existing, ok := e.forward[source][target]; ok {
			result.Action = types.OverrideRemoved
			result.Edge = existing
		} else {
			result.Action = types.OverrideForced
			result.Edge = types.Edge{Source: source, Target: target, Type: o.depType, CreatedAt: now}
			result.CycleIntroduced = e.reachableLocked(target, source)
		}
	}
	var nextSrc, nextTgt types.Task
	if err == nil {
		nextSrc, nextTgt = bumped(src), bumped(tgt)
	}
	e.mu.RUnlock()
	if err != nil {
		return OverrideResult{}, err
	}

	result.Record = types.OverrideRecord{
		ID:              e.newID(),
		Edge:            result.Edge,
		Action:          result.Action,
		RequestedBy:     requestedBy,
		Justification:   justification,
		CycleIntroduced: result.CycleIntroduced,
		CreatedAt:       now,
	}

	batch := store.NewBatch()
	if result.Action == types.OverrideRemoved {
		batch.Delete(edgeKey(source, target))
	} else if err := putEdge(batch, result.Edge); err != nil {
		return OverrideResult{}, err
	}
	if err := putTask(batch, nextSrc); err != nil {
		return OverrideResult{}, err
	}
	if err := putTask(batch, nextTgt); err != nil {
		return OverrideResult{}, err
	}
	if err := putAudit(batch, result.Record); err != nil {
		return OverrideResult{}, err
	}
	if err := e.apply(ctx, "override dependency", batch); err != nil {
		return OverrideResult{}, err
	}

	e.publishAndClear(func() {
		if result.Action == types.OverrideRemoved {
			e.unlinkLocked(source, target)
		} else {
			e.linkLocked(result.Edge)
		}
		e.tasks[source] = &nextSrc
		e.tasks[target] = &nextTgt
	})

	e.observer.ObserveOverride(result.Action, result.CycleIntroduced)
	e.logger.Warn("dependency constraint overridden",
		zap.String("override_id", result.Record.ID),
		zap.String("action", string(result.Action)),
		zap.String("source", source),
		zap.String("target", target),
		zap.String("requested_by", requestedBy),
		zap.String("justification", justification),
		zap.Bool("cycle_introduced", result.CycleIntroduced),
	)
	return result, nil
}

// ListOverrides reads every override record from the store, oldest first.
func (e *Engine) ListOverrides(ctx context.Context) (records []types.OverrideRecord, err error) {
	ctx, done := e.begin(ctx, "ListOverrides")
	defer done(&err)

	kvs, err := e.scan(ctx, "list overrides", auditPrefix)
	if err != nil {
		return nil, err
	}
	records = make([]types.OverrideRecord, 0, len(kvs))
	for _, kv := range kvs {
		rec, err := decodeAudit(kv)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
