package graph

import (
	"context"
	"sync"
	"testing"

	"github.com/BaSui01/depflow/cache"
	"github.com/BaSui01/depflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diamond builds
//
//	a -> b -> d
//	a -> c -> d -> e
func diamond(t *testing.T, e *Engine) {
	t.Helper()
	addTasks(t, e, "e", "d", "c", "b", "a")
	addEdges(t, e,
		[2]string{"a", "c"}, [2]string{"a", "b"},
		[2]string{"b", "d"}, [2]string{"c", "d"},
		[2]string{"d", "e"},
	)
}

func TestNeighbours(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	diamond(t, e)

	deps, err := e.GetDependencies(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(deps))

	dependents, err := e.GetDependents(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(dependents))

	leaf, err := e.GetDependencies(ctx, "e")
	require.NoError(t, err)
	assert.Empty(t, leaf)

	_, err = e.GetDependents(ctx, "zz")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestClosures_BreadthFirstOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	diamond(t, e)

	desc, err := e.GetDescendants(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d", "e"}, ids(desc))

	anc, err := e.GetAncestors(ctx, "e")
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "b", "c", "a"}, ids(anc))

	anc, err = e.GetAncestors(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, anc)

	_, err = e.GetAncestors(ctx, "zz")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestQueries_ReturnCurrentTaskVersions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	diamond(t, e)

	_, err := e.GetDescendants(ctx, "a")
	require.NoError(t, err)
	_, err = e.UpdatePhase(ctx, "e", types.PhaseTesting)
	require.NoError(t, err)

	desc, err := e.GetDescendants(ctx, "a")
	require.NoError(t, err)
	require.Len(t, desc, 4)
	assert.Equal(t, types.PhaseTesting, desc[3].Phase)
}

func TestQueries_CacheHitsAndInvalidation(t *testing.T) {
	obs := newRecordingObserver()
	e, _ := newTestEngine(t, WithObserver(obs))
	ctx := context.Background()
	addTasks(t, e, "a", "b", "c", "x")
	addEdges(t, e, [2]string{"a", "b"})

	for i := 0; i < 3; i++ {
		desc, err := e.GetDescendants(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, ids(desc))
	}
	anc, err := e.GetAncestors(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, anc)
	_, err = e.GetDescendants(ctx, "x")
	require.NoError(t, err)

	stats := e.CacheStats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(3), stats.Misses)

	// b -> c changes descendants of a (an ancestor of b) and ancestors of c.
	addEdges(t, e, [2]string{"b", "c"})
	desc, err := e.GetDescendants(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(desc))
	anc, err = e.GetAncestors(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(anc))

	// Unrelated entries survive.
	before := e.CacheStats().Hits
	_, err = e.GetDescendants(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, before+1, e.CacheStats().Hits)

	require.NoError(t, e.RemoveDependency(ctx, "a", "b"))
	desc, err = e.GetDescendants(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, desc)
	deps, err := e.GetDependents(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, deps)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, int(e.CacheStats().Hits), obs.hits)
}

func TestQueries_CacheBudgetRespected(t *testing.T) {
	small, err := NewQueryCache(cache.Config{MaxBytes: 200})
	require.NoError(t, err)
	e, _ := newTestEngine(t, WithCache(small))
	ctx := context.Background()
	diamond(t, e)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		_, err := e.GetDescendants(ctx, id)
		require.NoError(t, err)
		_, err = e.GetAncestors(ctx, id)
		require.NoError(t, err)
		assert.LessOrEqual(t, e.CacheStats().CurrentSize, int64(200))
	}
	assert.Positive(t, e.CacheStats().Evictions)
}

func TestQueries_ConcurrentMissesShareWork(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	diamond(t, e)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			desc, err := e.GetDescendants(ctx, "a")
			assert.NoError(t, err)
			assert.Equal(t, []string{"b", "c", "d", "e"}, ids(desc))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, e.CacheStats().Entries)
}

func TestTopologicalOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	diamond(t, e)
	addTasks(t, e, "0-standalone")

	order, err := e.TopologicalOrder(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0-standalone", "a", "b", "c", "d", "e"}, ids(order))
}

func TestStats(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	assert.Equal(t, Stats{}, e.Stats(ctx))

	diamond(t, e)
	assert.Equal(t, Stats{Tasks: 5, Edges: 5}, e.Stats(ctx))
	assert.False(t, e.HasCycle(ctx))
}

func TestSizeOfIDs(t *testing.T) {
	assert.Equal(t, int64(len("desc:a")+40), sizeOfIDs("desc:a", nil))
	assert.Equal(t, int64(len("desc:a")+40+17+17), sizeOfIDs("desc:a", []string{"b", "c"}))
}
