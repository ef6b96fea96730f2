package resolver

import (
	"context"
	"fmt"

	"github.com/rcourtman/zbxreport/internal/logging"
)

// strategy is one way of producing a result set.
type strategy[T any] struct {
	name string
	run  func(ctx context.Context) ([]T, error)
}

// firstNonEmpty runs strategies in order and returns the first non-empty
// result. A failing strategy is logged and the next one tried; the last
// error is returned only when nothing produced a result.
func firstNonEmpty[T any](ctx context.Context, strategies []strategy[T]) ([]T, error) {
	var lastErr error
	for _, s := range strategies {
		out, err := s.run(ctx)
		if err != nil {
			logger := logging.FromContext(ctx)
			logger.Warn().Err(err).Str("strategy", s.name).Msg("Lookup strategy failed")
			lastErr = fmt.Errorf("%s: %w", s.name, err)
			continue
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, lastErr
}

// union runs every strategy and merges results, keeping the first
// occurrence of each key. It fails only when every strategy failed.
func union[T any](ctx context.Context, strategies []strategy[T], key func(T) string) ([]T, error) {
	var (
		out      []T
		failures int
		lastErr  error
	)
	seen := make(map[string]struct{})
	for _, s := range strategies {
		items, err := s.run(ctx)
		if err != nil {
			failures++
			lastErr = fmt.Errorf("%s: %w", s.name, err)
			continue
		}
		for _, item := range items {
			k := key(item)
			if k == "" {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, item)
		}
	}
	if failures == len(strategies) && failures > 0 {
		return nil, lastErr
	}
	return out, nil
}
