package graph

import (
	"context"
	"testing"

	"github.com/BaSui01/depflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetPrimaryProject(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	addTasks(t, e, "a")

	task, err := e.SetPrimaryProject(ctx, "a", "billing")
	require.NoError(t, err)
	assert.Equal(t, "billing", task.PrimaryProject)
	assert.Equal(t, uint64(2), task.Version)

	task, err = e.SetPrimaryProject(ctx, "a", "billing")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), task.Version, "same primary is a no-op")

	task, err = e.SetPrimaryProject(ctx, "a", "payments")
	require.NoError(t, err)
	assert.Equal(t, "payments", task.PrimaryProject)
	assert.Equal(t, uint64(3), task.Version)

	_, err = e.SetPrimaryProject(ctx, "a", "")
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
	_, err = e.SetPrimaryProject(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestSetPrimaryProject_PromotesRelated(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	addTasks(t, e, "a")
	_, err := e.SetPrimaryProject(ctx, "a", "core")
	require.NoError(t, err)
	for _, p := range []string{"p1", "p2", "p3"} {
		_, err := e.AddRelatedProject(ctx, "a", p)
		require.NoError(t, err)
	}

	task, err := e.SetPrimaryProject(ctx, "a", "p2")
	require.NoError(t, err)
	assert.Equal(t, "p2", task.PrimaryProject)
	assert.Equal(t, []string{"p1", "p3"}, task.RelatedProjects)
	assert.False(t, task.HasRelatedProject(task.PrimaryProject))
}

func TestAddRelatedProject(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	addTasks(t, e, "a")
	_, err := e.SetPrimaryProject(ctx, "a", "core")
	require.NoError(t, err)

	_, err = e.AddRelatedProject(ctx, "a", "core")
	assert.ErrorIs(t, err, ErrProjectConflict)

	for _, p := range []string{"p1", "p2", "p3"} {
		_, err := e.AddRelatedProject(ctx, "a", p)
		require.NoError(t, err)
	}
	task, err := e.AddRelatedProject(ctx, "a", "p2")
	require.NoError(t, err, "re-adding a related project is a no-op")
	assert.Len(t, task.RelatedProjects, 3)

	_, err = e.AddRelatedProject(ctx, "a", "p4")
	assert.ErrorIs(t, err, ErrMaxRelatedProjectsExceeded)
	assert.False(t, types.IsRetryable(err))

	got, err := e.GetTask(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, got.RelatedProjects)
	assert.Equal(t, uint64(5), got.Version)
}

func TestRemoveRelatedProject(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	addTasks(t, e, "a")
	_, err := e.AddRelatedProject(ctx, "a", "p1")
	require.NoError(t, err)

	task, err := e.RemoveRelatedProject(ctx, "a", "p1")
	require.NoError(t, err)
	assert.Empty(t, task.RelatedProjects)

	_, err = e.RemoveRelatedProject(ctx, "a", "p1")
	assert.ErrorIs(t, err, ErrProjectNotAssociated)

	// A freed slot can be reused.
	for _, p := range []string{"p1", "p2", "p3"} {
		_, err := e.AddRelatedProject(ctx, "a", p)
		require.NoError(t, err)
	}
}

func TestWithout(t *testing.T) {
	in := []string{"a", "b", "c"}
	assert.Equal(t, []string{"a", "c"}, without(in, "b"))
	assert.Equal(t, []string{"a", "b", "c"}, in, "input must not be modified")
	assert.Nil(t, without([]string{"a"}, "a"))
	assert.Nil(t, without(nil, "a"))
}
