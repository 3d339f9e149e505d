package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// was skipped because its breaker is open.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup] and the breaker created for
// each of its entries.
type FallbackConfig struct {
	// CircuitBreaker is the template for every entry's breaker. Name and
	// Logger are filled in per entry.
	CircuitBreaker CircuitBreakerConfig

	// RetryOpen makes a call that found no working entry try the entries
	// skipped for an open breaker once more, in order, bypassing their
	// breakers. A recovered entry is then reached before its reset timeout.
	RetryOpen bool

	// Logger receives one record per failed or skipped entry.
	// Default: slog.Default().
	Logger *slog.Logger
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// EntryStatus describes one entry of a [FallbackGroup].
type EntryStatus struct {
	Name  string
	State State
}

// FallbackGroup is an ordered list of interchangeable values, each behind its
// own [CircuitBreaker]. Calls go to the first entry; when it fails or its
// breaker is open, the next one is tried, in registration order.
type FallbackGroup[T any] struct {
	cfg FallbackConfig
	log *slog.Logger

	mu      sync.RWMutex
	entries []fallbackEntry[T]
}

// NewFallbackGroup creates an empty group. Entries are registered with
// [FallbackGroup.Add].
func NewFallbackGroup[T any](cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FallbackGroup[T]{cfg: cfg, log: cfg.Logger}
}

// Add appends an entry. Entries are tried in the order they were added.
func (fg *FallbackGroup[T]) Add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	if cbCfg.Logger == nil {
		cbCfg.Logger = fg.log
	}

	fg.mu.Lock()
	defer fg.mu.Unlock()
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	return len(fg.entries)
}

// Status returns the name and breaker state of every entry in order.
func (fg *FallbackGroup[T]) Status() []EntryStatus {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	out := make([]EntryStatus, 0, len(fg.entries))
	for _, e := range fg.entries {
		out = append(out, EntryStatus{Name: e.name, State: e.breaker.State()})
	}
	return out
}

func (fg *FallbackGroup[T]) snapshot() []fallbackEntry[T] {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	return append([]fallbackEntry[T](nil), fg.entries...)
}

// Execute runs fn against each entry in order until one succeeds. With
// [FallbackConfig.RetryOpen], entries skipped for an open breaker are tried
// last. When all fail the returned error wraps [ErrAllFailed] and every entry's error.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(ctx context.Context, name string, v T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, name string, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, name, v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a value.
// It is a function because methods cannot declare type parameters.
//
// A cancelled context stops the sequence before the next entry is tried.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(ctx context.Context, name string, v T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	entries := fg.snapshot()
	if len(entries) == 0 {
		return zero, fmt.Errorf("%w: no providers registered", ErrAllFailed)
	}

	var skipped []fallbackEntry[T]
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		var result R
		err := e.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(ctx, e.name, e.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			skipped = append(skipped, e)
			fg.log.Debug("skipping provider, circuit open", "provider", e.name)
		} else {
			fg.log.Warn("provider failed, trying next", "provider", e.name, "err", err)
		}
	}

	if fg.cfg.RetryOpen {
		for _, e := range skipped {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}

			var result R
			err := e.breaker.Bypass(func() error {
				var callErr error
				result, callErr = fn(ctx, e.name, e.value)
				return callErr
			})
			if err == nil {
				fg.log.Info("provider answered despite open circuit", "provider", e.name)
				return result, nil
			}
			errs = append(errs, fmt.Errorf("%s (bypass): %w", e.name, err))
			fg.log.Warn("provider failed on bypass", "provider", e.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
