package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jam-Ngai/chatserver/internal/pool"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the cache connection pool behind RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int

	CheckInterval time.Duration
	StaleAfter    time.Duration
	ProbeTimeout  time.Duration
}

// RedisStore runs every command on a dedicated *redis.Conn checked out of a
// pool.Pool, so the number of cache links is bounded by PoolSize and idle
// links are kept alive by PING.
type RedisStore struct {
	client *redis.Client
	conns  *pool.Pool[*redis.Conn]
}

func NewRedisStore(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisStore, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 5
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	conns, err := pool.New(ctx, pool.Options[*redis.Conn]{
		Name: "redis",
		Size: opts.PoolSize,
		New: func(ctx context.Context) (*redis.Conn, error) {
			conn := client.Conn()
			if err := conn.Ping(ctx).Err(); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
		Ping: func(ctx context.Context, c *redis.Conn) error {
			return c.Ping(ctx).Err()
		},
		Close:         func(c *redis.Conn) error { return c.Close() },
		CheckInterval: opts.CheckInterval,
		StaleAfter:    opts.StaleAfter,
		ProbeTimeout:  opts.ProbeTimeout,
		Logger:        logger,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisStore{client: client, conns: conns}, nil
}

// Close shuts the pool first so no caller holds a link while the client
// goes away.
func (s *RedisStore) Close() error {
	s.conns.Close()
	return s.client.Close()
}

func (s *RedisStore) with(ctx context.Context, fn func(c *redis.Conn) error) error {
	return s.conns.Do(ctx, fn)
}

func notFound(err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	return err
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.with(ctx, func(c *redis.Conn) error {
		var err error
		v, err = c.Get(ctx, key).Result()
		return notFound(err)
	})
	return v, err
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.with(ctx, func(c *redis.Conn) error {
		return c.Set(ctx, key, value, ttl).Err()
	})
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.with(ctx, func(c *redis.Conn) error {
		return c.Del(ctx, key).Err()
	})
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, error) {
	var v string
	err := s.with(ctx, func(c *redis.Conn) error {
		var err error
		v, err = c.HGet(ctx, key, field).Result()
		return notFound(err)
	})
	return v, err
}

func (s *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	return s.with(ctx, func(c *redis.Conn) error {
		return c.HSet(ctx, key, field, value).Err()
	})
}

func (s *RedisStore) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	var n int64
	err := s.with(ctx, func(c *redis.Conn) error {
		var err error
		n, err = c.HIncrBy(ctx, key, field, delta).Result()
		return err
	})
	return n, err
}

func (s *RedisStore) HDel(ctx context.Context, key, field string) error {
	return s.with(ctx, func(c *redis.Conn) error {
		return c.HDel(ctx, key, field).Err()
	})
}
