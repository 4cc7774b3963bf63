package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// opTimeout bounds each individual Redis command so that a hung cache can
// never stall the pipeline for longer than a provider call would.
const opTimeout = 2 * time.Second

// warnInterval throttles unreachable-cache warnings. With the cache down,
// every request would otherwise emit one warning per cache call.
const warnInterval = time.Minute

// Redis is a Store backed by a shared go-redis client. One instance is
// created at startup and passed to every subsystem; the client's pool
// handles concurrent use.
type Redis struct {
	client *redis.Client
	stats  struct {
		hits   atomic.Int64
		misses atomic.Int64
		sets   atomic.Int64
	}
	lastWarn atomic.Int64 // unix nanos of the last transport warning
}

// NewRedis creates a Store from a redis:// URL. The connection is probed
// once; a failed probe is returned as an error so startup can decide
// whether to continue with the in-process store.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = opTimeout
	opts.WriteTimeout = opTimeout
	opts.PoolSize = 10
	opts.MinIdleConns = 2

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}

	slog.Info("connected to redis cache", "addr", opts.Addr, "db", opts.DB)
	return &Redis{client: client}, nil
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string, dest any) bool {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		r.stats.misses.Add(1)
		return false
	}
	if err != nil {
		r.warn("redis get failed", key, err)
		r.stats.misses.Add(1)
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		// A malformed stored value is a miss, not a failure.
		slog.Warn("cache value malformed, treating as miss", "key", key, "error", err)
		r.stats.misses.Add(1)
		return false
	}
	r.stats.hits.Add(1)
	return true
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		slog.Warn("cache marshal failed", "key", key, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		r.warn("redis set failed", key, err)
		return
	}
	r.stats.sets.Add(1)
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.warn("redis delete failed", key, err)
	}
}

// Ping implements Store.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements Store.
func (r *Redis) Close() error { return r.client.Close() }

// Stats returns hit/miss/set counts.
func (r *Redis) Stats() Stats {
	return Stats{
		Hits:   r.stats.hits.Load(),
		Misses: r.stats.misses.Load(),
		Sets:   r.stats.sets.Load(),
	}
}

// warn logs a transport failure, at most once per warnInterval.
func (r *Redis) warn(msg, key string, err error) {
	now := time.Now().UnixNano()
	last := r.lastWarn.Load()
	if now-last < int64(warnInterval) {
		return
	}
	if r.lastWarn.CompareAndSwap(last, now) {
		slog.Warn(msg, "key", key, "error", err)
	}
}
