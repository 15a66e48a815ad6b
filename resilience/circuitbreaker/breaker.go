package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/depflow/types"
	"go.uber.org/zap"
)

// State is the breaker's position in its state machine.
type State int

const (
	// StateClosed lets calls through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen rejects calls without contacting the protected operation.
	StateOpen
	// StateHalfOpen lets exactly one trial call through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. types.Error matches on code, so ErrCircuitOpen
// matches every rejection, open or half-open, and ErrTimeout matches every
// timed out call. The returned errors carry the breaker name and the cause.
var (
	ErrCircuitOpen = types.NewError(types.ErrCircuitOpen, "circuit breaker is open")
	ErrTimeout     = types.NewError(types.ErrTimeout, "protected call timed out")
)

// FailurePredicate decides whether an error returned by the protected
// operation counts toward tripping the breaker.
type FailurePredicate func(err error) bool

// Config configures a breaker.
type Config struct {
	// Name identifies the breaker in logs and metrics.
	Name string

	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int

	// ResetTimeout is how long the breaker stays open before the next call
	// is let through as a half-open trial.
	ResetTimeout time.Duration

	// Timeout bounds a single protected call. Zero means only the caller's
	// context deadline applies.
	Timeout time.Duration

	// IsFailure classifies errors. Nil counts every error except
	// context.Canceled.
	IsFailure FailurePredicate

	// OnStateChange is invoked after every transition, outside the breaker's lock.
	OnStateChange func(name string, from State, to State)

	// Now is the clock. Nil uses time.Now, whose readings are monotonic.
	Now func() time.Time
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:         "default",
		Threshold:    5,
		ResetTimeout: 60 * time.Second,
	}
}

// CircuitBreaker protects a fallible, possibly slow operation.
type CircuitBreaker interface {
	// Execute runs fn unless the breaker is open. It never retries fn.
	Execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)

	// Call is Execute for operations without a result.
	Call(ctx context.Context, fn func(ctx context.Context) error) error

	// CurrentState returns the current state.
	CurrentState() State

	// Stats returns a snapshot of counters.
	Stats() Stats

	// Reset forces the breaker closed.
	Reset()
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalCalls          uint64    `json:"total_calls"`
	TotalFailures       uint64    `json:"total_failures"`
	Rejected            uint64    `json:"rejected"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	LastStateChange     time.Time `json:"last_state_change"`
}

type transition struct {
	from State
	to   State
}

type breaker struct {
	config Config
	logger *zap.Logger

	mu               sync.Mutex
	state            State
	generation       uint64 // bumped on every transition; stale call outcomes are ignored
	failureCount     int
	openedAt         time.Time
	lastStateChange  time.Time
	halfOpenInFlight bool

	totalCalls    uint64
	totalFailures uint64
	rejected      uint64
}

// NewCircuitBreaker creates a breaker. A nil config uses DefaultConfig.
func NewCircuitBreaker(config *Config, logger *zap.Logger) CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config

	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = DefaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &breaker{
		config:          cfg,
		logger:          logger.With(zap.String("component", "circuit_breaker"), zap.String("breaker", cfg.Name)),
		state:           StateClosed,
		lastStateChange: cfg.Now(),
	}
}

// DefaultIsFailure counts every non-nil error except caller cancellation.
func DefaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Call implements CircuitBreaker.Call.
func (b *breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// Execute implements CircuitBreaker.Execute.
func (b *breaker) Execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	// An already-expired caller context says nothing about the downstream.
	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}

	gen, err := b.beforeCall()
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if b.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()
	}

	resultCh := make(chan callResult, 1)
	go func() {
		result, err := fn(callCtx)
		resultCh <- callResult{result: result, err: err}
	}()

	select {
	case <-callCtx.Done():
		err := contextError(callCtx.Err())
		b.afterCall(gen, err)
		return nil, err

	case res := <-resultCh:
		b.afterCall(gen, res.err)
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	}
}

type callResult struct {
	result any
	err    error
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(ErrTimeout.Code, ErrTimeout.Message).WithCause(err)
	}
	return err
}

// beforeCall decides whether a call may proceed and returns the generation it belongs to.
func (b *breaker) beforeCall() (uint64, error) {
	b.mu.Lock()
	var fired []transition

	switch b.state {
	case StateOpen:
		elapsed := b.config.Now().Sub(b.openedAt)
		if elapsed < b.config.ResetTimeout {
			b.rejected++
			b.mu.Unlock()
			return 0, types.Errorf(types.ErrCircuitOpen,
				"circuit breaker %q is open, retry after %s", b.config.Name, b.config.ResetTimeout-elapsed)
		}
		fired = append(fired, b.setState(StateHalfOpen))
		b.halfOpenInFlight = true
		b.logger.Info("circuit breaker half-open, sending trial call")

	case StateHalfOpen:
		if b.halfOpenInFlight {
			b.rejected++
			b.mu.Unlock()
			return 0, types.Errorf(types.ErrCircuitOpen,
				"circuit breaker %q half-open, trial call in flight", b.config.Name)
		}
		b.halfOpenInFlight = true
	}

	b.totalCalls++
	gen := b.generation
	b.mu.Unlock()

	b.notify(fired)
	return gen, nil
}

// afterCall applies the outcome of a call started in generation gen.
func (b *breaker) afterCall(gen uint64, err error) {
	failed := err != nil && b.config.IsFailure(err)

	b.mu.Lock()
	if failed {
		b.totalFailures++
	}
	if gen != b.generation {
		// The breaker moved on while this call was running.
		b.mu.Unlock()
		return
	}

	var fired []transition
	switch {
	case failed:
		fired = b.onFailure(err)
	case err == nil:
		fired = b.onSuccess()
	case b.state == StateHalfOpen:
		// An uncounted error proves nothing about recovery; the next call
		// becomes the trial.
		b.halfOpenInFlight = false
	}
	b.mu.Unlock()

	b.notify(fired)
}

func (b *breaker) onSuccess() []transition {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.logger.Info("circuit breaker recovered")
		b.failureCount = 0
		return []transition{b.setState(StateClosed)}
	}
	return nil
}

func (b *breaker) onFailure(err error) []transition {
	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.config.Threshold {
			b.logger.Warn("circuit breaker opened",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.Threshold),
				zap.Error(err),
			)
			return []transition{b.setState(StateOpen)}
		}
	case StateHalfOpen:
		b.logger.Warn("circuit breaker trial call failed, reopening", zap.Error(err))
		return []transition{b.setState(StateOpen)}
	}
	return nil
}

// setState must be called with b.mu held.
func (b *breaker) setState(to State) transition {
	from := b.state
	now := b.config.Now()
	b.state = to
	b.generation++
	b.lastStateChange = now
	b.halfOpenInFlight = false
	if to == StateOpen {
		b.openedAt = now
	}
	return transition{from: from, to: to}
}

func (b *breaker) notify(fired []transition) {
	if b.config.OnStateChange == nil {
		return
	}
	for _, t := range fired {
		b.config.OnStateChange(b.config.Name, t.from, t.to)
	}
}

// CurrentState implements CircuitBreaker.CurrentState.
func (b *breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats implements CircuitBreaker.Stats.
func (b *breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:                b.config.Name,
		State:               b.state.String(),
		ConsecutiveFailures: b.failureCount,
		TotalCalls:          b.totalCalls,
		TotalFailures:       b.totalFailures,
		Rejected:            b.rejected,
		OpenedAt:            b.openedAt,
		LastStateChange:     b.lastStateChange,
	}
}

// Reset implements CircuitBreaker.Reset.
func (b *breaker) Reset() {
	b.mu.Lock()
	from := b.state
	var fired []transition
	if from != StateClosed {
		fired = append(fired, b.setState(StateClosed))
	}
	b.failureCount = 0
	b.mu.Unlock()

	b.logger.Info("circuit breaker reset", zap.String("from_state", from.String()))
	b.notify(fired)
}

// String describes the breaker for logs.
func (s Stats) String() string {
	return fmt.Sprintf("%s[%s failures=%d calls=%d rejected=%d]",
		s.Name, s.State, s.ConsecutiveFailures, s.TotalCalls, s.Rejected)
}
