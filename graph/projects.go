package graph

import (
	"context"
	"strings"

	"github.com/BaSui01/depflow/types"
	"go.opentelemetry.io/otel/attribute"
)

// SetPrimaryProject makes project the task's primary project, replacing the
// previous one. A project that is currently related is promoted and leaves
// the related list in the same write.
func (e *Engine) SetPrimaryProject(ctx context.Context, id, project string) (task types.Task, err error) {
	ctx, done := e.begin(ctx, "SetPrimaryProject",
		attribute.String("task.id", id), attribute.String("project", project))
	defer done(&err)

	if strings.TrimSpace(project) == "" {
		return types.Task{}, errInvalid("project is required")
	}
	return e.mutateTask(ctx, "set primary project", id, func(t *types.Task) (bool, error) {
		if t.PrimaryProject == project {
			return false, nil
		}
		t.RelatedProjects = without(t.RelatedProjects, project)
		t.PrimaryProject = project
		return true, nil
	})
}

// AddRelatedProject associates project with the task. A task has at most
// types.MaxRelatedProjects related projects, and its primary project cannot
// also be related. Adding a project that is already related is a no-op.
func (e *Engine) AddRelatedProject(ctx context.Context, id, project string) (task types.Task, err error) {
	ctx, done := e.begin(ctx, "AddRelatedProject",
		attribute.String("task.id", id), attribute.String("project", project))
	defer done(&err)

	if strings.TrimSpace(project) == "" {
		return types.Task{}, errInvalid("project is required")
	}
	return e.mutateTask(ctx, "add related project", id, func(t *types.Task) (bool, error) {
		if t.PrimaryProject == project {
			return false, types.Errorf(types.ErrProjectConflict,
				"project %q is the primary project of task %q", project, id)
		}
		if t.HasRelatedProject(project) {
			return false, nil
		}
		if len(t.RelatedProjects) >= types.MaxRelatedProjects {
			return false, types.Errorf(types.ErrMaxRelatedProjectsExceeded,
				"task %q already has %d related projects", id, types.MaxRelatedProjects)
		}
		t.RelatedProjects = append(t.RelatedProjects, project)
		return true, nil
	})
}

// RemoveRelatedProject drops a related project association.
func (e *Engine) RemoveRelatedProject(ctx context.Context, id, project string) (task types.Task, err error) {
	ctx, done := e.begin(ctx, "RemoveRelatedProject",
		attribute.String("task.id", id), attribute.String("project", project))
	defer done(&err)

	return e.mutateTask(ctx, "remove related project", id, func(t *types.Task) (bool, error) {
		if !t.HasRelatedProject(project) {
			return false, types.Errorf(types.ErrProjectNotAssociated,
				"project %q is not related to task %q", project, id)
		}
		t.RelatedProjects = without(t.RelatedProjects, project)
		return true, nil
	})
}

func without(projects []string, project string) []string {
	out := projects[:0:0]
	for _, p := range projects {
		if p != project {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
