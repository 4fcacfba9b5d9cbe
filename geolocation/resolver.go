// Package geolocation resolves an IP address to a country and city, backed by
// a TTL cache shared across requests.
package geolocation

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL = 24 * time.Hour
	keyPrefix  = "geolocation_"
)

var ErrInvalidAddress = errors.New("geolocation: invalid ip address")

// Location is the resolved origin of an address. Unknown parts are nil.
type Location struct {
	Country *string `json:"country,omitempty"`
	City    *string `json:"city,omitempty"`
}

func (l Location) Empty() bool {
	return l.Country == nil && l.City == nil
}

// Provider performs the uncached lookup.
type Provider interface {
	Lookup(ctx context.Context, ip string) (Location, error)
}

// Cache stores resolved locations with an expiry.
type Cache interface {
	Get(ctx context.Context, key string) (Location, bool, error)
	Set(ctx context.Context, key string, loc Location, ttl time.Duration) error
}

// CacheKey is the cache key a location for ip is stored under.
func CacheKey(ip string) string {
	return keyPrefix + ip
}

type Resolver struct {
	provider Provider
	cache    Cache
	ttl      time.Duration
	logger   *log.Logger
	flights  singleflight.Group
}

// NewResolver builds a resolver. A nil provider resolves everything to an
// empty Location.
func NewResolver(provider Provider, cache Cache, ttl time.Duration, logger *log.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.Default()
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Resolver{
		provider: provider,
		cache:    cache,
		ttl:      ttl,
		logger:   logger.WithPrefix("geolocation"),
	}
}

// Resolve never fails: cache or provider faults, and ctx expiring, all
// degrade to an empty Location.
func (r *Resolver) Resolve(ctx context.Context, ip string) Location {
	if r.provider == nil || ip == "" {
		return Location{}
	}

	key := CacheKey(ip)
	if loc, ok := r.cached(ctx, key); ok {
		return loc
	}

	ch := r.flights.DoChan(key, func() (interface{}, error) {
		// Concurrent callers may have filled the cache while this flight was queued.
		flightCtx := context.WithoutCancel(ctx)
		if loc, ok := r.cached(flightCtx, key); ok {
			return loc, nil
		}

		loc, err := r.provider.Lookup(flightCtx, ip)
		if err != nil {
			return Location{}, err
		}
		if err := r.cache.Set(flightCtx, key, loc, r.ttl); err != nil {
			r.logger.Warn("Failed to cache location", "ip", ip, "error", err)
		}
		return loc, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			r.logger.Warn("Lookup failed", "ip", ip, "error", res.Err)
			return Location{}
		}
		return res.Val.(Location)
	case <-ctx.Done():
		r.logger.Warn("Lookup timed out", "ip", ip, "error", ctx.Err())
		return Location{}
	}
}

func (r *Resolver) cached(ctx context.Context, key string) (Location, bool) {
	loc, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("Cache read failed", "key", key, "error", err)
		return Location{}, false
	}
	return loc, ok
}
