package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/web3-frozen/yield-indexer/internal/snapshot"
)

// DefaultPublishKey is the key the published set is written under.
const DefaultPublishKey = "snapshots.json"

// Redis keeps the compact JSON set under one key, overwritten on every save.
type Redis struct {
	rdb *redis.Client
	key string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, redisURL, password, key string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: redis url: %v", ErrInvalidURL, err)
	}
	if password != "" {
		opts.Password = password
	}
	if key == "" {
		key = DefaultPublishKey
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{rdb: rdb, key: key}, nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Load(ctx context.Context) (*snapshot.Set, error) {
	data, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return snapshot.NewSet(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", r.key, err)
	}
	set, err := snapshot.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.key, err)
	}
	return set, nil
}

func (r *Redis) Save(ctx context.Context, set *snapshot.Set) error {
	data, err := snapshot.Encode(set, false)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", r.key, err)
	}
	return nil
}
