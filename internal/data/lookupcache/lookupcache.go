// Package lookupcache memoizes immutable storage lookups in Redis.
//
// Only mappings that cannot change while their study exists are cached
// (study name <-> id, trial id -> study id and number). Entries carry a TTL
// and are dropped when a study is deleted. Redis failures never fail a
// lookup: the cache logs and falls through to the store.
package lookupcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/yungbote/trialstore/internal/data/engine"
	"github.com/yungbote/trialstore/internal/observability"
	"github.com/yungbote/trialstore/internal/platform/logger"
)

const (
	defaultPrefix = "trialstore:"
	defaultTTL    = 10 * time.Minute
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

type Cache struct {
	rdb     goredis.UniversalClient
	log     *logger.Logger
	metrics *observability.Metrics
	prefix  string
	ttl     time.Duration

	// group collapses concurrent misses for the same key into one store read.
	group singleflight.Group
}

var _ engine.LookupCache = (*Cache)(nil)

// Dial connects to Redis and verifies the connection with a ping.
func Dial(ctx context.Context, cfg Config) (goredis.UniversalClient, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("lookupcache: missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("lookupcache: redis ping: %w", err)
	}
	return rdb, nil
}

func New(rdb goredis.UniversalClient, log *logger.Logger, metrics *observability.Metrics, cfg Config) *Cache {
	if log == nil {
		log = logger.Nop()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{
		rdb:     rdb,
		log:     log.With("component", "LookupCache"),
		metrics: metrics,
		prefix:  prefix,
		ttl:     ttl,
	}
}

func (c *Cache) LoadInt(ctx context.Context, key string, load func(ctx context.Context) (int64, error)) (int64, error) {
	return loadThrough(ctx, c, key, load, func(raw string) (int64, error) {
		return strconv.ParseInt(raw, 10, 64)
	}, func(v int64) string {
		return strconv.FormatInt(v, 10)
	})
}

func (c *Cache) LoadString(ctx context.Context, key string, load func(ctx context.Context) (string, error)) (string, error) {
	return loadThrough(ctx, c, key, load, func(raw string) (string, error) {
		return raw, nil
	}, func(v string) string {
		return v
	})
}

func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	if err := c.rdb.Del(ctx, full...).Err(); err != nil {
		c.metrics.IncCache("error")
		c.log.Warn("lookup cache invalidation failed", "keys", len(full), "error", err)
	}
}

func loadThrough[T any](
	ctx context.Context,
	c *Cache,
	key string,
	load func(context.Context) (T, error),
	decode func(string) (T, error),
	encode func(T) string,
) (T, error) {
	full := c.prefix + key
	raw, err := c.rdb.Get(ctx, full).Result()
	switch {
	case err == nil:
		if v, derr := decode(raw); derr == nil {
			c.metrics.IncCache("hit")
			return v, nil
		}
		c.log.Warn("lookup cache entry unreadable; reloading", "key", full)
	case errors.Is(err, goredis.Nil):
		c.metrics.IncCache("miss")
	default:
		c.metrics.IncCache("error")
		c.log.Warn("lookup cache read failed; using store", "key", full, "error", err)
	}

	out, err, _ := c.group.Do(full, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		if serr := c.rdb.Set(ctx, full, encode(v), c.ttl).Err(); serr != nil {
			c.metrics.IncCache("error")
			c.log.Warn("lookup cache write failed", "key", full, "error", serr)
		}
		return v, nil
	})
	v, _ := out.(T)
	return v, err
}
