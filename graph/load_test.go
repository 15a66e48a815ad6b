package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/depflow/resilience/circuitbreaker"
	"github.com/BaSui01/depflow/store"
	"github.com/BaSui01/depflow/store/memory"
	"github.com/BaSui01/depflow/testutil/mocks"
	"github.com/BaSui01/depflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RoundTrip(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	first, err := New(st)
	require.NoError(t, err)
	diamond(t, first)
	_, err = first.SetPrimaryProject(ctx, "a", "core")
	require.NoError(t, err)
	_, err = first.AddRelatedProject(ctx, "a", "docs")
	require.NoError(t, err)
	_, err = first.AddTask(ctx, "team/x y", types.PhaseTesting)
	require.NoError(t, err)
	_, err = first.OverrideDependency(ctx, "e", "team/x y", "alice", "vendor delay")
	require.NoError(t, err)

	second, err := New(st)
	require.NoError(t, err)
	require.NoError(t, second.Load(ctx))

	assert.Equal(t, first.Tasks(ctx), second.Tasks(ctx))
	assert.Equal(t, first.Stats(ctx), second.Stats(ctx))

	for _, id := range []string{"a", "d", "team/x y"} {
		want, err := first.GetAncestors(ctx, id)
		require.NoError(t, err)
		got, err := second.GetAncestors(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ids(want), ids(got), "ancestors of %s", id)
	}

	records, err := second.ListOverrides(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "team/x y", records[0].Edge.Target)
}

func TestLoad_EmptyStore(t *testing.T) {
	e, _ := newTestEngine(t)
	addTasks(t, e, "stale")

	// Load replaces state; the store holds what AddTask wrote.
	require.NoError(t, e.Load(context.Background()))
	assert.Equal(t, 1, e.TaskCount())

	fresh, err := New(memory.New())
	require.NoError(t, err)
	require.NoError(t, fresh.Load(context.Background()))
	assert.Zero(t, fresh.TaskCount())
}

func TestLoad_DanglingEdgeIsCorrupt(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	e, err := New(st)
	require.NoError(t, err)
	addTasks(t, e, "a", "b")
	addEdges(t, e, [2]string{"a", "b"})

	require.NoError(t, st.Delete(ctx, taskKey("b")))

	reloaded, err := New(st)
	require.NoError(t, err)
	addTasks(t, reloaded, "keep")
	err = reloaded.Load(ctx)
	assert.ErrorIs(t, err, ErrCorruptState)
	assert.False(t, types.IsRetryable(err))

	_, err = reloaded.GetTask(ctx, "keep")
	assert.NoError(t, err, "a failed load leaves the graph untouched")
}

func TestLoad_MalformedRecords(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		kv   store.KV
	}{
		{"bad json", store.KV{Key: taskKey("a"), Value: []byte("{")}},
		{"key mismatch", store.KV{Key: taskKey("a"), Value: []byte(`{"id":"b","phase":"design"}`)}},
		{"bad phase", store.KV{Key: taskKey("a"), Value: []byte(`{"id":"a","phase":"done"}`)}},
		{"bad edge type", store.KV{Key: edgeKey("a", "b"), Value: []byte(`{"source":"a","target":"b","type":"blocks"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := memory.New()
			require.NoError(t, st.Put(ctx, tt.kv.Key, tt.kv.Value))
			e, err := New(st)
			require.NoError(t, err)
			assert.ErrorIs(t, e.Load(ctx), ErrCorruptState)
		})
	}
}

func TestLoad_StoreUnavailable(t *testing.T) {
	st := mocks.NewFaultStore(memory.New())
	st.WithError(mocks.OpScan, errors.New("no route to host"))
	e, err := New(st)
	require.NoError(t, err)

	err = e.Load(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, types.IsRetryable(err))
}

func TestLoad_HalfOpenBreaker(t *testing.T) {
	clock := newFakeClock()
	cb := circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Threshold:    1,
		ResetTimeout: time.Second,
		IsFailure:    IsStoreFailure,
		Now:          clock.Now,
	}, nil)
	e, st := newTestEngine(t, WithBreaker(cb))
	ctx := context.Background()
	addTasks(t, e, "a", "b")
	addEdges(t, e, [2]string{"a", "b"})

	st.WithApplyError(errors.New("disk full"))
	_, err := e.AddTask(ctx, "c", types.PhaseDesign)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Equal(t, circuitbreaker.StateOpen, cb.CurrentState())

	st.Heal()
	st.WithDelay(20 * time.Millisecond)
	clock.Advance(2 * time.Second)

	require.NoError(t, e.Load(ctx))
	assert.Equal(t, circuitbreaker.StateClosed, cb.CurrentState())
	assert.Equal(t, 2, st.Calls(mocks.OpScan))
	assert.Equal(t, 2, e.TaskCount())
	deps, err := e.GetDependencies(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(deps))
}
