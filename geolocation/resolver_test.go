package geolocation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls   atomic.Int32
	loc     Location
	err     error
	release chan struct{}
}

func (p *countingProvider) Lookup(ctx context.Context, _ string) (Location, error) {
	p.calls.Add(1)
	if p.release != nil {
		<-p.release
	}
	return p.loc, p.err
}

func strPtr(s string) *string { return &s }

func quietLogger() *log.Logger { return log.New(io.Discard) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestResolveUsesCacheWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	provider := &countingProvider{loc: Location{Country: strPtr("Netherlands"), City: strPtr("Amsterdam")}}
	resolver := NewResolver(provider, NewMemoryCache(WithClock(clock.Now)), DefaultTTL, quietLogger())

	first := resolver.Resolve(context.Background(), "203.0.113.5")
	clock.Advance(23 * time.Hour)
	second := resolver.Resolve(context.Background(), "203.0.113.5")

	assert.Equal(t, first, second)
	assert.Equal(t, "Amsterdam", *second.City)
	assert.EqualValues(t, 1, provider.calls.Load())

	clock.Advance(2 * time.Hour)
	resolver.Resolve(context.Background(), "203.0.113.5")
	assert.EqualValues(t, 2, provider.calls.Load())
}

func TestResolveProviderFailureIsEmptyAndNotCached(t *testing.T) {
	provider := &countingProvider{err: errors.New("lookup exploded")}
	cache := NewMemoryCache()
	resolver := NewResolver(provider, cache, DefaultTTL, quietLogger())

	loc := resolver.Resolve(context.Background(), "198.51.100.9")

	assert.True(t, loc.Empty())
	assert.Zero(t, cache.Len())
}

func TestResolveTimeoutDegradesToEmpty(t *testing.T) {
	provider := &countingProvider{loc: Location{Country: strPtr("Chile")}, release: make(chan struct{})}
	defer close(provider.release)
	resolver := NewResolver(provider, NewMemoryCache(), DefaultTTL, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	loc := resolver.Resolve(ctx, "192.0.2.44")

	assert.True(t, loc.Empty())
	assert.Less(t, time.Since(start), time.Second)
}

func TestResolveCollapsesConcurrentLookups(t *testing.T) {
	provider := &countingProvider{loc: Location{Country: strPtr("Japan")}, release: make(chan struct{})}
	resolver := NewResolver(provider, NewMemoryCache(), DefaultTTL, quietLogger())

	var wg sync.WaitGroup
	results := make([]Location, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = resolver.Resolve(context.Background(), "192.0.2.7")
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(provider.release)
	wg.Wait()

	assert.EqualValues(t, 1, provider.calls.Load())
	for _, loc := range results {
		require.NotNil(t, loc.Country)
		assert.Equal(t, "Japan", *loc.Country)
	}
}

func TestResolveWithoutProvider(t *testing.T) {
	resolver := NewResolver(nil, nil, 0, quietLogger())
	assert.True(t, resolver.Resolve(context.Background(), "192.0.2.1").Empty())
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	provider := &countingProvider{loc: Location{Country: strPtr("Brazil"), City: strPtr("Recife")}}
	resolver := NewResolver(provider, NewRedisCache(client), DefaultTTL, quietLogger())

	loc := resolver.Resolve(context.Background(), "203.0.113.9")
	require.NotNil(t, loc.City)
	assert.Equal(t, "Recife", *loc.City)
	assert.True(t, mr.Exists("geolocation_203.0.113.9"))
	assert.Equal(t, DefaultTTL, mr.TTL("geolocation_203.0.113.9"))

	again := resolver.Resolve(context.Background(), "203.0.113.9")
	assert.Equal(t, loc, again)
	assert.EqualValues(t, 1, provider.calls.Load())

	mr.FastForward(DefaultTTL + time.Second)
	resolver.Resolve(context.Background(), "203.0.113.9")
	assert.EqualValues(t, 2, provider.calls.Load())
}

func TestRedisCacheReadFailureFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	provider := &countingProvider{loc: Location{Country: strPtr("Kenya")}}
	resolver := NewResolver(provider, NewRedisCache(client), DefaultTTL, quietLogger())

	loc := resolver.Resolve(context.Background(), "192.0.2.80")
	require.NotNil(t, loc.Country)
	assert.Equal(t, "Kenya", *loc.Country)
}

func TestOpenGeoIPMissingFile(t *testing.T) {
	_, err := OpenGeoIP("testdata/does-not-exist.mmdb")
	assert.Error(t, err)
}

func TestMemoryCacheSweepsExpiredEntriesOnSet(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewMemoryCache(WithClock(clock.Now))

	for i := 0; i < 100; i++ {
		require.NoError(t, cache.Set(ctx, fmt.Sprintf("198.51.100.%d", i), Location{}, 24*time.Hour))
	}
	assert.Equal(t, 100, cache.Len())

	clock.Advance(25 * time.Hour)
	require.NoError(t, cache.Set(ctx, "203.0.113.1", Location{Country: strPtr("Chile")}, 24*time.Hour))

	assert.Equal(t, 1, cache.Len())
	loc, ok, err := cache.Get(ctx, "203.0.113.1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Chile", *loc.Country)
}

func TestMemoryCacheKeepsLiveEntriesOnSweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewMemoryCache(WithClock(clock.Now))

	require.NoError(t, cache.Set(ctx, "short", Location{}, time.Minute))
	require.NoError(t, cache.Set(ctx, "long", Location{}, 24*time.Hour))

	clock.Advance(time.Hour)
	require.NoError(t, cache.Set(ctx, "new", Location{}, time.Minute))

	assert.Equal(t, 2, cache.Len())
	_, ok, err := cache.Get(ctx, "long")
	require.NoError(t, err)
	assert.True(t, ok)
}
