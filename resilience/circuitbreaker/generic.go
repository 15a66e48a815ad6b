package circuitbreaker

import "context"

// ExecuteTyped is a type-safe wrapper around CircuitBreaker.Execute.
//
// Usage:
//
//	task, err := circuitbreaker.ExecuteTyped(cb, ctx, func(ctx context.Context) (types.Task, error) {
//	    return loadTask(ctx, id)
//	})
func ExecuteTyped[T any](cb CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := cb.Execute(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, _ := result.(T)
	return typed, nil
}
