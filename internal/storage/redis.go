package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "leagueconsole:"

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key. Defaults to "leagueconsole:".
	Prefix string
}

// Redis shares items between console instances behind a load balancer.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Redis{client: client, prefix: prefix}, nil
}

// Ping verifies the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) GetItem(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}

	value, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get item %q: %w", key, err)
	}
	return value, true, nil
}

func (r *Redis) SetItem(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("set item %q: %w", key, err)
	}
	return nil
}

func (r *Redis) RemoveItem(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("remove item %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
