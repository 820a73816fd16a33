// Package cache wraps enrichment sources with a Redis-backed response cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/enrichment"
	"memecoin-signal-lab/internal/observability"
)

// DefaultTTL is how long a source response stays cached.
const DefaultTTL = 5 * time.Minute

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rdb, nil
}

// Options configures a caching enricher.
type Options struct {
	TTL     time.Duration
	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Enricher serves Fetch from Redis when a fresh response exists and
// otherwise calls the wrapped enricher and stores its result.
// Only successful responses are cached. Redis failures are logged and
// bypassed; they never fail an enrichment.
type Enricher struct {
	inner   enrichment.Enricher
	client  redis.Cmdable
	ttl     time.Duration
	log     zerolog.Logger
	metrics *observability.Metrics
}

// Wrap decorates inner with a TTL cache on client.
func Wrap(inner enrichment.Enricher, client redis.Cmdable, opts Options) *Enricher {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Enricher{
		inner:   inner,
		client:  client,
		ttl:     opts.TTL,
		log:     opts.Logger.With().Str("component", "cache").Str("source", inner.Name()).Logger(),
		metrics: opts.Metrics,
	}
}

// Key returns the cache key for a source and address.
func Key(source, address string) string {
	return "enrich:" + source + ":" + address
}

// Name returns the wrapped source name.
func (e *Enricher) Name() string { return e.inner.Name() }

// Fetch returns the cached response or fetches and caches a new one.
func (e *Enricher) Fetch(ctx context.Context, address string) (*domain.PartialEnrichment, error) {
	key := Key(e.inner.Name(), address)

	if cached, ok := e.get(ctx, key); ok {
		e.metrics.RecordCacheLookup(e.inner.Name(), true)
		return cached, nil
	}
	e.metrics.RecordCacheLookup(e.inner.Name(), false)

	res, err := e.inner.Fetch(ctx, address)
	if err != nil {
		return nil, err
	}

	if res != nil {
		if data, err := json.Marshal(res); err == nil {
			if err := e.client.Set(ctx, key, data, e.ttl).Err(); err != nil {
				e.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
			}
		}
	}
	return res, nil
}

func (e *Enricher) get(ctx context.Context, key string) (*domain.PartialEnrichment, bool) {
	val, err := e.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			e.log.Warn().Err(err).Str("key", key).Msg("cache get failed")
		}
		return nil, false
	}

	var p domain.PartialEnrichment
	if err := json.Unmarshal(val, &p); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("discarding undecodable cache entry")
		return nil, false
	}
	return &p, true
}

// Compile-time interface check
var _ enrichment.Enricher = (*Enricher)(nil)
