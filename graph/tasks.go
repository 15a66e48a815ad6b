package graph

import (
	"context"
	"sort"
	"strings"

	"github.com/BaSui01/depflow/store"
	"github.com/BaSui01/depflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AddTask creates a task at version 1.
func (e *Engine) AddTask(ctx context.Context, id string, phase types.Phase) (task types.Task, err error) {
	ctx, done := e.begin(ctx, "AddTask", attribute.String("task.id", id))
	defer done(&err)

	if strings.TrimSpace(id) == "" {
		return types.Task{}, errInvalid("task id is required")
	}
	if !phase.Valid() {
		return types.Task{}, errInvalid("unknown phase %q", phase)
	}

	unlock, err := e.lockWrites(ctx)
	if err != nil {
		return types.Task{}, err
	}
	defer unlock()

	e.mu.RLock()
	_, exists := e.tasks[id]
	e.mu.RUnlock()
	if exists {
		return types.Task{}, types.Errorf(types.ErrDuplicateTask, "task %q already exists", id)
	}

	task = types.Task{ID: id, Phase: phase, Version: 1}
	batch := store.NewBatch()
	if err := putTask(batch, task); err != nil {
		return types.Task{}, err
	}
	if err := e.apply(ctx, "add task", batch); err != nil {
		return types.Task{}, err
	}

	stored := task.Clone()
	// A task id may be reused after RemoveTask; drop whatever was cached for it.
	e.publish(func() { e.tasks[id] = &stored }, taskQueryKeys(id)...)

	e.logger.Debug("task added", zap.String("task_id", id), zap.String("phase", string(phase)))
	return task, nil
}

// GetTask returns a copy of the task.
func (e *Engine) GetTask(ctx context.Context, id string) (task types.Task, err error) {
	_, done := e.begin(ctx, "GetTask", attribute.String("task.id", id))
	defer done(&err)

	e.mu.RLock()
	defer e.mu.RUnlock()
	t, err := e.taskLocked(id)
	if err != nil {
		return types.Task{}, err
	}
	return t.Clone(), nil
}

// Tasks returns all tasks ordered by id.
func (e *Engine) Tasks(ctx context.Context) []types.Task {
	_, done := e.begin(ctx, "Tasks")
	defer done(nil)

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TaskCount returns the number of tasks.
func (e *Engine) TaskCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.tasks)
}

// UpdatePhase moves a task to another phase. Setting the current phase is a no-op.
func (e *Engine) UpdatePhase(ctx context.Context, id string, phase types.Phase) (task types.Task, err error) {
	ctx, done := e.begin(ctx, "UpdatePhase",
		attribute.String("task.id", id), attribute.String("task.phase", string(phase)))
	defer done(&err)

	if !phase.Valid() {
		return types.Task{}, errInvalid("unknown phase %q", phase)
	}
	return e.mutateTask(ctx, "update phase", id, func(t *types.Task) (bool, error) {
		if t.Phase == phase {
			return false, nil
		}
		t.Phase = phase
		return true, nil
	})
}

// RemoveTask deletes a task. Its incident edges must be removed first.
func (e *Engine) RemoveTask(ctx context.Context, id string) (err error) {
	ctx, done := e.begin(ctx, "RemoveTask", attribute.String("task.id", id))
	defer done(&err)

	unlock, err := e.lockWrites(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	e.mu.RLock()
	_, err = e.taskLocked(id)
	degree := len(e.forward[id]) + len(e.reverse[id])
	e.mu.RUnlock()
	if err != nil {
		return err
	}
	if degree > 0 {
		return types.Errorf(types.ErrTaskHasDependencies,
			"task %q still has %d dependencies, remove them first", id, degree)
	}

	if err := e.apply(ctx, "remove task", store.NewBatch().Delete(taskKey(id))); err != nil {
		return err
	}
	e.publish(func() { delete(e.tasks, id) }, taskQueryKeys(id)...)

	e.logger.Debug("task removed", zap.String("task_id", id))
	return nil
}

// mutateTask applies fn to a copy of the task and persists it with a bumped
// version when fn reports a change. Graph structure is untouched, so cached
// queries stay valid.
func (e *Engine) mutateTask(ctx context.Context, op, id string, fn func(t *types.Task) (bool, error)) (types.Task, error) {
	unlock, err := e.lockWrites(ctx)
	if err != nil {
		return types.Task{}, err
	}
	defer unlock()

	e.mu.RLock()
	current, err := e.taskLocked(id)
	var next types.Task
	if err == nil {
		next = current.Clone()
	}
	e.mu.RUnlock()
	if err != nil {
		return types.Task{}, err
	}

	changed, err := fn(&next)
	if err != nil {
		return types.Task{}, err
	}
	if !changed {
		return next, nil
	}
	next.Version++

	batch := store.NewBatch()
	if err := putTask(batch, next); err != nil {
		return types.Task{}, err
	}
	if err := e.apply(ctx, op, batch); err != nil {
		return types.Task{}, err
	}

	stored := next.Clone()
	e.publish(func() { e.tasks[id] = &stored })

	e.logger.Debug("task updated", zap.String("task_id", id), zap.String("op", op), zap.Uint64("version", next.Version))
	return next, nil
}
