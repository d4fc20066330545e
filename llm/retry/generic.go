package retry

import "context"

// DoWithResult is a type-safe wrapper around Retryer.Do for calls that
// produce a value.
//
// Usage:
//
//	data, err := retry.DoWithResult(ctx, r, func(attempt int) ([]byte, error) {
//	    return fetch(ctx, url)
//	})
func DoWithResult[T any](ctx context.Context, r Retryer, fn func(attempt int) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(attempt int) error {
		v, err := fn(attempt)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
