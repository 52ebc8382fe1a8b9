package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"restkit/internal/config"
	"restkit/internal/instrument"
	"restkit/internal/logging"
)

// Cache stores rendered GET responses. Any write invalidates every entry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, body []byte)
	Invalidate(ctx context.Context)
}

// Key identifies a response by request line and caller. Callers with
// different rules see different rows, so the subject is part of the key.
func Key(method, path, rawQuery, subject string) string {
	sum := sha256.Sum256([]byte(method + " " + path + "?" + rawQuery + "#" + subject))
	return hex.EncodeToString(sum[:])
}

// New returns a Redis cache when enabled, otherwise a no-op.
func New(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
		logging.FromContext(ctx).Warn("cache redis address not set, using default", "addr", addr)
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, time.Duration(cfg.TTLSeconds)*time.Second), nil
}

type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (Noop) Set(context.Context, string, []byte)        {}
func (Noop) Invalidate(context.Context)                 {}

// Redis keys entries under a generation counter. Invalidate bumps the
// counter; stale entries are left to expire.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

const generationKey = "restkit:generation"

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) entryKey(ctx context.Context, key string) (string, error) {
	gen, err := r.client.Get(ctx, generationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return "restkit:resp:" + strconv.FormatInt(gen, 10) + ":" + key, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	k, err := r.entryKey(ctx, key)
	if err != nil {
		instrument.CacheLookups.WithLabelValues("error").Inc()
		logging.FromContext(ctx).Warn("cache generation lookup failed", "error", err)
		return nil, false
	}
	body, err := r.client.Get(ctx, k).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		instrument.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	case err != nil:
		instrument.CacheLookups.WithLabelValues("error").Inc()
		logging.FromContext(ctx).Warn("cache get failed", "error", err)
		return nil, false
	}
	instrument.CacheLookups.WithLabelValues("hit").Inc()
	return body, true
}

func (r *Redis) Set(ctx context.Context, key string, body []byte) {
	k, err := r.entryKey(ctx, key)
	if err != nil {
		logging.FromContext(ctx).Warn("cache generation lookup failed", "error", err)
		return
	}
	if err := r.client.Set(ctx, k, body, r.ttl).Err(); err != nil {
		logging.FromContext(ctx).Warn("cache set failed", "error", err)
	}
}

func (r *Redis) Invalidate(ctx context.Context) {
	if err := r.client.Incr(ctx, generationKey).Err(); err != nil {
		logging.FromContext(ctx).Error("cache invalidate failed", "error", err)
	}
}

// Close releases the client.
func (r *Redis) Close() error { return r.client.Close() }
