package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/depflow/resilience/circuitbreaker"
	"github.com/BaSui01/depflow/store"
	"github.com/BaSui01/depflow/store/memory"
	"github.com/BaSui01/depflow/testutil"
	"github.com/BaSui01/depflow/testutil/mocks"
	"github.com/BaSui01/depflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// Helpers
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	mu        sync.Mutex
	ops       map[string]int
	failures  map[string]int
	hits      int
	misses    int
	overrides []types.OverrideAction
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{ops: make(map[string]int), failures: make(map[string]int)}
}

func (o *recordingObserver) ObserveOperation(op string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops[op]++
	if err != nil {
		o.failures[op]++
	}
}

func (o *recordingObserver) ObserveCacheLookup(_ string, hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func (o *recordingObserver) ObserveOverride(action types.OverrideAction, _ bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overrides = append(o.overrides, action)
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *mocks.FaultStore) {
	t.Helper()
	st := mocks.NewFaultStore(memory.New())
	t.Cleanup(func() { _ = st.Close() })

	base := []Option{WithLogger(zaptest.NewLogger(t))}
	e, err := New(st, append(base, opts...)...)
	require.NoError(t, err)
	return e, st
}

func addTasks(t *testing.T, e *Engine, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := e.AddTask(context.Background(), id, types.PhaseDesign)
		require.NoError(t, err, "add task %s", id)
	}
}

func addEdges(t *testing.T, e *Engine, pairs ...[2]string) {
	t.Helper()
	for _, p := range pairs {
		_, err := e.AddDependency(context.Background(), p[0], p[1], types.FinishToStart)
		require.NoError(t, err, "add edge %s -> %s", p[0], p[1])
	}
}

func ids(tasks []types.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

// =============================================================================
// Construction and error mapping
// =============================================================================

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(nil)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestNew_Defaults(t *testing.T) {
	e, err := New(memory.New())
	require.NoError(t, err)

	assert.Equal(t, "graph-store", e.BreakerStats().Name)
	assert.Equal(t, "closed", e.BreakerStats().State)
	assert.Equal(t, int64(16<<20), e.CacheStats().MaxBytes)
	assert.Zero(t, e.TaskCount())
}

func TestIsStoreFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", fmt.Errorf("scan: %w", context.Canceled), false},
		{"logic error", ErrCycleDetected, false},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("connection reset"), true},
		{"store unavailable", ErrStoreUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsStoreFailure(tt.err))
		})
	}
}

func TestStoreError(t *testing.T) {
	assert.NoError(t, storeError("put", nil))

	open := types.NewError(types.ErrCircuitOpen, "open")
	assert.Same(t, open, storeError("put", open))

	err := storeError("put", context.DeadlineExceeded)
	assert.True(t, types.IsErrorCode(err, types.ErrTimeout))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, context.Canceled, storeError("put", context.Canceled))

	raw := errors.New("disk full")
	err = storeError("put", raw)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, raw)
	assert.True(t, types.IsRetryable(err))
}

// =============================================================================
// Breaker integration
// =============================================================================

func TestEngine_BreakerFastFailsStore(t *testing.T) {
	clock := newFakeClock()
	cb := circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Name:         "graph-store",
		Threshold:    3,
		ResetTimeout: time.Minute,
		IsFailure:    IsStoreFailure,
		Now:          clock.Now,
	}, nil)
	e, st := newTestEngine(t, WithBreaker(cb))
	ctx := testutil.TestContext(t)

	st.FailAll(errors.New("connection refused"))
	for i := 0; i < 3; i++ {
		_, err := e.AddTask(ctx, fmt.Sprintf("t%d", i), types.PhaseDesign)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	}
	assert.Equal(t, circuitbreaker.StateOpen, cb.CurrentState())

	_, err := e.AddTask(ctx, "t3", types.PhaseDesign)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, 3, st.Calls(mocks.OpApply), "open breaker must not reach the store")
	assert.Zero(t, e.TaskCount())

	clock.Advance(time.Minute + time.Second)
	st.Heal()
	_, err = e.AddTask(ctx, "t3", types.PhaseDesign)
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, cb.CurrentState())
	assert.Equal(t, 1, e.TaskCount())
}

func TestEngine_LogicErrorsDoNotTripBreaker(t *testing.T) {
	cb := circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{Threshold: 1, IsFailure: IsStoreFailure}, nil)
	e, _ := newTestEngine(t, WithBreaker(cb))
	ctx := context.Background()
	addTasks(t, e, "a", "b")
	addEdges(t, e, [2]string{"a", "b"})

	for i := 0; i < 5; i++ {
		_, err := e.AddDependency(ctx, "b", "a", "")
		assert.ErrorIs(t, err, ErrCycleDetected)
		_, err = e.AddTask(ctx, "a", types.PhaseMVP)
		assert.ErrorIs(t, err, ErrDuplicateTask)
	}
	assert.Equal(t, circuitbreaker.StateClosed, cb.CurrentState())
}

func TestEngine_SlowStoreTimesOut(t *testing.T) {
	cb := circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Name:      "graph-store",
		Threshold: 5,
		Timeout:   20 * time.Millisecond,
		IsFailure: IsStoreFailure,
	}, nil)
	e, st := newTestEngine(t, WithBreaker(cb))
	st.WithDelay(time.Second)

	_, err := e.AddTask(context.Background(), "slow", types.PhaseDesign)
	assert.True(t, types.IsErrorCode(err, types.ErrTimeout), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, e.TaskCount())
	assert.Equal(t, 1, cb.Stats().ConsecutiveFailures)
}

func TestEngine_ReloadsAfterUncertainWrite(t *testing.T) {
	cb := circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Threshold: 5,
		Timeout:   20 * time.Millisecond,
		IsFailure: IsStoreFailure,
	}, nil)
	e, st := newTestEngine(t, WithBreaker(cb))
	ctx := context.Background()
	addTasks(t, e, "a")

	st.WithDelay(time.Second)
	_, err := e.AddTask(ctx, "late", types.PhaseDesign)
	require.True(t, types.IsErrorCode(err, types.ErrTimeout), "got %v", err)
	st.Heal()

	// The timed out commit lands after the engine gave up on it.
	batch := store.NewBatch()
	require.NoError(t, putTask(batch, types.Task{ID: "late", Phase: types.PhaseDesign, Version: 1}))
	require.NoError(t, st.Inner().Apply(ctx, batch))
	assert.Equal(t, 1, e.TaskCount())

	_, err = e.AddTask(ctx, "late", types.PhaseDesign)
	assert.ErrorIs(t, err, ErrDuplicateTask)
	assert.Equal(t, 2, e.TaskCount())
	assert.Equal(t, 2, st.Calls(mocks.OpScan))

	// Reloaded once; later writes go straight to the store.
	addTasks(t, e, "b")
	assert.Equal(t, 2, st.Calls(mocks.OpScan))
}

func TestEngine_CallerDeadlineIsHonored(t *testing.T) {
	e, st := newTestEngine(t)
	st.WithDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := e.AddTask(ctx, "slow", types.PhaseDesign)
	assert.True(t, types.IsErrorCode(err, types.ErrTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	st.Heal()
	_, err = e.GetTask(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestEngine_ObserverSeesOperations(t *testing.T) {
	obs := newRecordingObserver()
	e, _ := newTestEngine(t, WithObserver(obs))
	ctx := context.Background()
	addTasks(t, e, "a")
	_, err := e.AddTask(ctx, "a", types.PhaseDesign)
	require.Error(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 2, obs.ops["AddTask"])
	assert.Equal(t, 1, obs.failures["AddTask"])
}
