package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Fetcher is a generic function type for fetching data by a key.
type Fetcher[K comparable, V any] func(ctx context.Context, key K) (V, error)

// KeyFunc derives the cache key string for a fetch key.
type KeyFunc[K comparable] func(key K) string

// MemoizedFetcher wraps a Fetcher with a private TTLCache. A hit returns the
// cached value without invoking the underlying fetcher; a miss calls through
// and stores the result with the configured TTL.
//
// By default two concurrent misses for the same key both invoke the
// underlying fetcher and both write the cache. WithSingleFlight collapses
// such misses into one in-flight call.
type MemoizedFetcher[K comparable, V any] struct {
	ttl     time.Duration
	keyFn   KeyFunc[K]
	fetch   Fetcher[K, V]
	store   *TTLCache
	flight  *singleflight.Group
	logger  zerolog.Logger
}

// MemoizeOption configures a MemoizedFetcher.
type MemoizeOption func(*memoizeOptions)

type memoizeOptions struct {
	singleFlight bool
}

// WithSingleFlight deduplicates concurrent misses for an identical key into
// a single call to the underlying fetcher, fanning its result out to all
// waiters. This is stricter than the default behavior, which allows
// duplicate upstream calls.
func WithSingleFlight() MemoizeOption {
	return func(o *memoizeOptions) {
		o.singleFlight = true
	}
}

// NewMemoizedFetcher creates a MemoizedFetcher around fetch. Results are
// cached for ttl under the key produced by keyFn.
func NewMemoizedFetcher[K comparable, V any](
	ttl time.Duration,
	keyFn KeyFunc[K],
	fetch Fetcher[K, V],
	logger zerolog.Logger,
	opts ...MemoizeOption,
) *MemoizedFetcher[K, V] {
	var options memoizeOptions
	for _, opt := range opts {
		opt(&options)
	}

	m := &MemoizedFetcher[K, V]{
		ttl:    ttl,
		keyFn:  keyFn,
		fetch:  fetch,
		store:  NewTTLCache(),
		logger: logger.With().Str("component", "MemoizedFetcher").Logger(),
	}
	if options.singleFlight {
		m.flight = &singleflight.Group{}
	}
	return m
}

// Fetch returns the value for key, from cache when possible.
func (m *MemoizedFetcher[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	cacheKey := m.keyFn(key)

	if cached, found := m.store.Get(cacheKey); found {
		m.logger.Debug().Str("key", cacheKey).Msg("Cache hit.")
		return cached.(V), nil
	}
	m.logger.Debug().Str("key", cacheKey).Msg("Cache miss. Calling through.")

	if m.flight == nil {
		return m.fetchAndStore(ctx, cacheKey, key)
	}

	value, err, _ := m.flight.Do(cacheKey, func() (any, error) {
		return m.fetchAndStore(ctx, cacheKey, key)
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return value.(V), nil
}

func (m *MemoizedFetcher[K, V]) fetchAndStore(ctx context.Context, cacheKey string, key K) (V, error) {
	value, err := m.fetch(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}

	m.store.Set(cacheKey, value, m.ttl)
	return value, nil
}
