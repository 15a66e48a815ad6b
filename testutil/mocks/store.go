// =============================================================================
// FaultStore - store.Store wrapper with fault injection
// =============================================================================
// Wraps a real store and fails or slows down selected operations on demand.
//
// Usage:
//
//	st := mocks.NewFaultStore(memory.New())
//	st.FailAll(errors.New("connection refused"))
//	...
//	st.Heal()
// =============================================================================
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/depflow/store"
)

// Operation names used by FaultStore for error injection and call counting.
const (
	OpPut   = "put"
	OpGet   = "get"
	OpDel   = "delete"
	OpScan  = "scan"
	OpApply = "apply"
)

// FaultStore is a store.Store whose operations can be made to fail or stall.
type FaultStore struct {
	inner store.Store

	mu    sync.RWMutex
	errs  map[string]error
	delay time.Duration
	calls map[string]int
}

// NewFaultStore wraps inner.
func NewFaultStore(inner store.Store) *FaultStore {
	return &FaultStore{
		inner: inner,
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

// WithError makes op fail with err until Heal is called.
func (s *FaultStore) WithError(op string, err error) *FaultStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[op] = err
	return s
}

// WithApplyError makes Apply fail with err.
func (s *FaultStore) WithApplyError(err error) *FaultStore {
	return s.WithError(OpApply, err)
}

// WithDelay makes every operation wait d (or until its context ends) before running.
func (s *FaultStore) WithDelay(d time.Duration) *FaultStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
	return s
}

// FailAll makes every operation fail with err.
func (s *FaultStore) FailAll(err error) {
	for _, op := range []string{OpPut, OpGet, OpDel, OpScan, OpApply} {
		s.WithError(op, err)
	}
}

// Heal removes all injected errors and delays.
func (s *FaultStore) Heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = make(map[string]error)
	s.delay = 0
}

// Calls returns how many times op reached the store.
func (s *FaultStore) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// TotalCalls returns the number of operations that reached the store.
func (s *FaultStore) TotalCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Inner returns the wrapped store.
func (s *FaultStore) Inner() store.Store {
	return s.inner
}

func (s *FaultStore) enter(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls[op]++
	err := s.errs[op]
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func (s *FaultStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.enter(ctx, OpPut); err != nil {
		return err
	}
	return s.inner.Put(ctx, key, value)
}

func (s *FaultStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.enter(ctx, OpGet); err != nil {
		return nil, false, err
	}
	return s.inner.Get(ctx, key)
}

func (s *FaultStore) Delete(ctx context.Context, key string) error {
	if err := s.enter(ctx, OpDel); err != nil {
		return err
	}
	return s.inner.Delete(ctx, key)
}

func (s *FaultStore) ScanPrefix(ctx context.Context, prefix string) (store.Iterator, error) {
	if err := s.enter(ctx, OpScan); err != nil {
		return nil, err
	}
	return s.inner.ScanPrefix(ctx, prefix)
}

func (s *FaultStore) Apply(ctx context.Context, batch *store.Batch) error {
	if err := s.enter(ctx, OpApply); err != nil {
		return err
	}
	return s.inner.Apply(ctx, batch)
}

func (s *FaultStore) Close() error {
	return s.inner.Close()
}
