package cache_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-instaproxy/pkg/cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	t.Run("Deterministic option ordering", func(t *testing.T) {
		a := cache.Key([]any{int64(42)}, map[string]string{"next_cursor": "abc", "limit": "10"})
		b := cache.Key([]any{int64(42)}, map[string]string{"limit": "10", "next_cursor": "abc"})
		assert.Equal(t, a, b)
	})

	t.Run("Positional and named streams do not collide", func(t *testing.T) {
		a := cache.Key([]any{"a", "b"}, nil)
		b := cache.Key([]any{"a"}, map[string]string{"x": "b"})
		assert.NotEqual(t, a, b)
	})

	t.Run("Different arguments produce different keys", func(t *testing.T) {
		a := cache.Key([]any{"someuser"}, nil)
		b := cache.Key([]any{"otheruser"}, nil)
		assert.NotEqual(t, a, b)
	})
}

func TestTTLCache_GetSet(t *testing.T) {
	t.Run("Set then Get returns the value", func(t *testing.T) {
		c := cache.NewTTLCache()

		c.Set("k", "v", 0)

		value, found := c.Get("k")
		require.True(t, found)
		assert.Equal(t, "v", value)
	})

	t.Run("Get on an absent key reports not found", func(t *testing.T) {
		c := cache.NewTTLCache()

		value, found := c.Get("missing")
		assert.False(t, found)
		assert.Nil(t, value)
	})

	t.Run("Entry without TTL never expires", func(t *testing.T) {
		c := cache.NewTTLCache()
		c.Set("forever", 1, 0)

		c.Evict()

		value, found := c.Get("forever")
		require.True(t, found)
		assert.Equal(t, 1, value)
	})

	t.Run("Expired entry is removed on Get", func(t *testing.T) {
		c := cache.NewTTLCache()
		c.Set("short", "v", 10*time.Millisecond)

		time.Sleep(25 * time.Millisecond)

		_, found := c.Get("short")
		assert.False(t, found)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("Entry is served before its TTL elapses", func(t *testing.T) {
		c := cache.NewTTLCache()
		c.Set("k", "v", 5*time.Second)

		value, found := c.Get("k")
		require.True(t, found)
		assert.Equal(t, "v", value)
	})
}

func TestTTLCache_Evict(t *testing.T) {
	// Arrange: one expired, one live, one permanent entry.
	c := cache.NewTTLCache()
	c.Set("expired", 1, 10*time.Millisecond)
	c.Set("live", 2, 5*time.Second)
	c.Set("permanent", 3, 0)
	time.Sleep(25 * time.Millisecond)

	// Act
	c.Evict()

	// Assert: only the expired entry is gone.
	assert.Equal(t, 2, c.Len())
	_, found := c.Get("expired")
	assert.False(t, found)
	_, found = c.Get("live")
	assert.True(t, found)
	_, found = c.Get("permanent")
	assert.True(t, found)
}

func TestTTLCache_SetSweepsExpired(t *testing.T) {
	c := cache.NewTTLCache()
	c.Set("stale", "old", 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	// The write sweeps the expired entry before storing the new one.
	c.Set("fresh", "new", 0)

	assert.Equal(t, 1, c.Len())
	_, found := c.Get("fresh")
	assert.True(t, found)
}

func TestTTLCache_EndToEndExpiry(t *testing.T) {
	c := cache.NewTTLCache()
	c.Set("k", "v", 100*time.Millisecond)

	// Well before the TTL the entry is served.
	time.Sleep(50 * time.Millisecond)
	value, found := c.Get("k")
	require.True(t, found)
	assert.Equal(t, "v", value)

	// After the TTL an eviction sweep removes it and Get misses.
	time.Sleep(75 * time.Millisecond)
	c.Evict()
	assert.Equal(t, 0, c.Len())
	value, found = c.Get("k")
	assert.False(t, found)
	assert.Nil(t, value)
}

func TestMemoizedFetcher(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()
	keyFn := func(key string) string { return cache.Key([]any{key}, nil) }

	t.Run("Underlying fetcher called once per TTL window", func(t *testing.T) {
		// Arrange
		var calls atomic.Int32
		fetch := func(ctx context.Context, key string) (string, error) {
			calls.Add(1)
			return "value-for-" + key, nil
		}
		m := cache.NewMemoizedFetcher(time.Minute, keyFn, fetch, logger)

		// Act
		first, err1 := m.Fetch(ctx, "k")
		second, err2 := m.Fetch(ctx, "k")

		// Assert
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.Equal(t, "value-for-k", first)
		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), calls.Load(), "fetcher should not be invoked on a cache hit")
	})

	t.Run("Distinct keys fetch independently", func(t *testing.T) {
		var calls atomic.Int32
		fetch := func(ctx context.Context, key string) (string, error) {
			calls.Add(1)
			return key, nil
		}
		m := cache.NewMemoizedFetcher(time.Minute, keyFn, fetch, logger)

		_, err := m.Fetch(ctx, "a")
		require.NoError(t, err)
		_, err = m.Fetch(ctx, "b")
		require.NoError(t, err)

		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("Errors are not cached", func(t *testing.T) {
		var calls atomic.Int32
		fetch := func(ctx context.Context, key string) (string, error) {
			if calls.Add(1) == 1 {
				return "", fmt.Errorf("upstream down")
			}
			return "recovered", nil
		}
		m := cache.NewMemoizedFetcher(time.Minute, keyFn, fetch, logger)

		_, err := m.Fetch(ctx, "k")
		require.Error(t, err)

		value, err := m.Fetch(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "recovered", value)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("Expired entry falls through to the fetcher again", func(t *testing.T) {
		var calls atomic.Int32
		fetch := func(ctx context.Context, key string) (string, error) {
			calls.Add(1)
			return "v", nil
		}
		m := cache.NewMemoizedFetcher(10*time.Millisecond, keyFn, fetch, logger)

		_, err := m.Fetch(ctx, "k")
		require.NoError(t, err)
		time.Sleep(25 * time.Millisecond)
		_, err = m.Fetch(ctx, "k")
		require.NoError(t, err)

		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("Single flight collapses concurrent misses", func(t *testing.T) {
		// Arrange: a slow fetcher so all goroutines miss together.
		var calls atomic.Int32
		release := make(chan struct{})
		fetch := func(ctx context.Context, key string) (string, error) {
			calls.Add(1)
			<-release
			return "shared", nil
		}
		m := cache.NewMemoizedFetcher(time.Minute, keyFn, fetch, logger, cache.WithSingleFlight())

		// Act
		var wg sync.WaitGroup
		results := make([]string, 4)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				value, err := m.Fetch(ctx, "k")
				assert.NoError(t, err)
				results[i] = value
			}(i)
		}
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		// Assert
		assert.Equal(t, int32(1), calls.Load(), "concurrent misses should share one upstream call")
		for _, value := range results {
			assert.Equal(t, "shared", value)
		}
	})
}
