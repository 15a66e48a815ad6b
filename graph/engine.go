package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/depflow/cache"
	"github.com/BaSui01/depflow/resilience/circuitbreaker"
	"github.com/BaSui01/depflow/store"
	"github.com/BaSui01/depflow/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const instrumentationName = "github.com/BaSui01/depflow/graph"

// Observer receives engine events. Implementations must be safe for
// concurrent use and must not call back into the engine.
type Observer interface {
	// ObserveOperation is called once per public operation with its outcome.
	ObserveOperation(op string, duration time.Duration, err error)
	// ObserveCacheLookup is called for every read-through query.
	ObserveCacheLookup(query string, hit bool)
	// ObserveOverride is called after an emergency override commits.
	ObserveOverride(action types.OverrideAction, cycleIntroduced bool)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, time.Duration, error) {}
func (nopObserver) ObserveCacheLookup(string, bool)               {}
func (nopObserver) ObserveOverride(types.OverrideAction, bool)    {}

// QueryCache memoizes neighbour and closure queries as sorted task id lists.
type QueryCache = cache.BoundedCache[string, []string]

// NewQueryCache builds a QueryCache whose entries are sized by their key and ids.
func NewQueryCache(cfg cache.Config) (*QueryCache, error) {
	return cache.New[string, []string](cfg, sizeOfIDs)
}

func sizeOfIDs(key string, ids []string) int64 {
	// string headers are 16 bytes, the slice header 24.
	n := int64(len(key) + 16 + 24)
	for _, id := range ids {
		n += int64(len(id) + 16)
	}
	return n
}

// Engine owns the task dependency DAG.
//
// Writers are serialized by writeMu for the whole validate-persist-publish
// sequence, so the cycle check and the commit form one unit. The in-memory
// indices are guarded by mu; readers take it shared and never see a
// half-applied mutation. Every store call goes through the breaker.
type Engine struct {
	store    store.Store
	breaker  circuitbreaker.CircuitBreaker
	cache    *QueryCache
	logger   *zap.Logger
	tracer   trace.Tracer
	observer Observer
	now      func() time.Time
	newID    func() string

	writeMu sync.Mutex
	// stale is set when a write ended without a known outcome: the store may
	// hold a commit the indices lack. The next writer reloads first.
	stale atomic.Bool

	mu         sync.RWMutex
	tasks      map[string]*types.Task
	forward    map[string]map[string]types.Edge // source -> target -> edge
	reverse    map[string]map[string]struct{}   // target -> sources
	edgeCount  int
	generation uint64 // bumped on every committed mutation

	flight singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithBreaker sets the breaker guarding store calls.
func WithBreaker(cb circuitbreaker.CircuitBreaker) Option {
	return func(e *Engine) { e.breaker = cb }
}

// WithCache sets the query cache.
func WithCache(c *QueryCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock sets the clock used for edge and audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator sets the generator for audit record ids.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithTracer sets the tracer. The default is the global otel tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// New creates an empty engine backed by st. Call Load to rebuild state
// already persisted in st.
func New(st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "graph engine requires a store")
	}

	e := &Engine{
		store:   st,
		tasks:   make(map[string]*types.Task),
		forward: make(map[string]map[string]types.Edge),
		reverse: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("component", "graph_engine"))
	if e.breaker == nil {
		cfg := circuitbreaker.DefaultConfig()
		cfg.Name = "graph-store"
		cfg.IsFailure = IsStoreFailure
		e.breaker = circuitbreaker.NewCircuitBreaker(cfg, e.logger)
	}
	if e.cache == nil {
		c, err := NewQueryCache(cache.DefaultConfig())
		if err != nil {
			return nil, err
		}
		e.cache = c
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(instrumentationName)
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e, nil
}

// BreakerStats returns a snapshot of the store breaker.
func (e *Engine) BreakerStats() circuitbreaker.Stats {
	return e.breaker.Stats()
}

// CacheStats returns the query cache statistics.
func (e *Engine) CacheStats() cache.Statistics {
	return e.cache.Statistics()
}

// IsStoreFailure is the breaker failure predicate the engine installs by
// default: graph logic errors and caller cancellation do not count against
// the store.
func IsStoreFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if e, ok := types.AsError(err); ok && e.Code.Category() == types.CategoryLogic {
		return false
	}
	return true
}

// storeError normalizes an error from a breaker-wrapped store call.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch types.GetErrorCode(err) {
	case types.ErrCircuitOpen, types.ErrTimeout, types.ErrStoreUnavailable, types.ErrCorruptState:
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.Errorf(types.ErrTimeout, "store %s timed out", op).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return types.Errorf(types.ErrStoreUnavailable, "store %s failed", op).WithCause(err)
}

// begin starts a span for op and returns a finisher to defer with the
// operation's named error result.
func (e *Engine) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := e.tracer.Start(ctx, "graph."+op, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if code := types.GetErrorCode(err); code != "" {
				span.SetAttributes(attribute.String("error.code", string(code)))
			}
		}
		span.End()
		e.observer.ObserveOperation(op, time.Since(start), err)
	}
}

// lockWrites takes writeMu, reloading from the store first if an earlier
// write left the indices possibly behind it. The caller runs unlock when done.
func (e *Engine) lockWrites(ctx context.Context) (unlock func(), err error) {
	e.writeMu.Lock()
	if e.stale.Load() {
		if err := e.loadLocked(ctx); err != nil {
			e.writeMu.Unlock()
			return nil, err
		}
	}
	return e.writeMu.Unlock, nil
}

// apply commits batch through the breaker. A timed out or cancelled commit
// may still land in the store after apply returns, so the engine is marked
// stale.
func (e *Engine) apply(ctx context.Context, op string, batch *store.Batch) error {
	live := ctx.Err() == nil
	err := e.breaker.Call(ctx, func(ctx context.Context) error {
		return e.store.Apply(ctx, batch)
	})
	err = storeError(op, err)
	if live && (types.IsErrorCode(err, types.ErrTimeout) || errors.Is(err, context.Canceled)) {
		e.stale.Store(true)
		e.logger.Warn("store write outcome unknown, graph will reload before the next write",
			zap.String("op", op), zap.Error(err))
	}
	return err
}

// scan reads every pair under prefix through the breaker.
func (e *Engine) scan(ctx context.Context, op, prefix string) ([]store.KV, error) {
	kvs, err := circuitbreaker.ExecuteTyped(e.breaker, ctx, func(ctx context.Context) ([]store.KV, error) {
		it, err := e.store.ScanPrefix(ctx, prefix)
		if err != nil {
			return nil, err
		}
		return store.Collect(it)
	})
	return kvs, storeError(op, err)
}

// publish runs fn with the indices write-locked and bumps the generation.
// keys are dropped from the cache in the same critical section.
func (e *Engine) publish(fn func(), keys ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
	for _, k := range keys {
		e.cache.Delete(k)
	}
	e.generation++
}

// publishAndClear is publish for mutations whose cache impact is not tracked
// per key.
func (e *Engine) publishAndClear(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
	e.cache.Clear()
	e.generation++
}

// taskLocked returns the live task pointer. Caller holds mu.
func (e *Engine) taskLocked(id string) (*types.Task, error) {
	t, ok := e.tasks[id]
	if !ok {
		return nil, errTaskNotFound(id)
	}
	return t, nil
}

// bumped returns a copy of the task with its version incremented.
func bumped(t *types.Task) types.Task {
	c := t.Clone()
	c.Version++
	return c
}

func sortedTargets(m map[string]types.Edge) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortedSources(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func flightKey(key string, generation uint64) string {
	return fmt.Sprintf("%s@%d", key, generation)
}
