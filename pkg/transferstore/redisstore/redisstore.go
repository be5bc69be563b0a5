// Package redisstore is a transferstore.Backend on Redis. Writes publish on
// "<key>:changed" so every process sharing the server can reload.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"

	"github.com/chainsafe/usdc-hopper/pkg/config"
	"github.com/chainsafe/usdc-hopper/pkg/transferstore"
)

// Store is a redis-backed key-value backend
type Store struct {
	pool   *redis.Pool
	logger *zap.Logger
}

// NewPool builds a connection pool from the redis settings.
func NewPool(cfg *config.RedisConfig) *redis.Pool {
	addr := cfg.Addr()
	opts := []redis.DialOption{
		redis.DialConnectTimeout(cfg.DialTimeout),
		redis.DialReadTimeout(cfg.DialTimeout),
		redis.DialWriteTimeout(cfg.DialTimeout),
		redis.DialDatabase(cfg.DB),
	}
	if cfg.Password != "" {
		opts = append(opts, redis.DialPassword(cfg.Password))
	}
	return &redis.Pool{
		MaxIdle:     cfg.MaxIdle,
		IdleTimeout: 5 * time.Minute,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", addr, opts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// New wraps an existing pool. Close closes the pool.
func New(pool *redis.Pool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = redis.DoContext(conn, ctx, "PING")
	return err
}

func changedChannel(key string) string {
	return key + ":changed"
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	value, err := redis.Bytes(redis.DoContext(conn, ctx, "GET", key))
	if errors.Is(err, redis.ErrNil) {
		return nil, transferstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := redis.DoContext(conn, ctx, "SET", key, value); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	s.publish(ctx, conn, key)
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := redis.DoContext(conn, ctx, "DEL", key); err != nil {
		return fmt.Errorf("redis DEL %s: %w", key, err)
	}
	s.publish(ctx, conn, key)
	return nil
}

// publish is best effort. A missed notification only delays other readers.
func (s *Store) publish(ctx context.Context, conn redis.Conn, key string) {
	if _, err := redis.DoContext(conn, ctx, "PUBLISH", changedChannel(key), "1"); err != nil {
		s.logger.Warn("Failed to publish change notification", zap.String("key", key), zap.Error(err))
	}
}

// Watch subscribes to the key's change channel on a dedicated connection.
func (s *Store) Watch(ctx context.Context, key string) (<-chan struct{}, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	psc := redis.PubSubConn{Conn: conn}
	if err := psc.Subscribe(changedChannel(key)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("redis SUBSCRIBE %s: %w", changedChannel(key), err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer psc.Close()

		for {
			switch v := psc.ReceiveContext(ctx).(type) {
			case redis.Message:
				select {
				case out <- struct{}{}:
				default:
				}
			case redis.Subscription:
				s.logger.Debug("Redis subscription", zap.String("channel", v.Channel), zap.String("kind", v.Kind))
			case error:
				if ctx.Err() == nil {
					s.logger.Warn("Redis subscription ended", zap.String("key", key), zap.Error(v))
				}
				return
			}
		}
	}()
	return out, nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}
