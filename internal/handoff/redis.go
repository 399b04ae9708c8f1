package handoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Backend shared by several server instances. Take uses GETDEL, so at-most-once
// delivery holds across instances.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis wraps client. Every key is stored under prefix and expires after ttl.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) Redis {
	return Redis{client: client, prefix: prefix, ttl: ttl}
}

// Put implements Backend.
func (r Redis) Put(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get implements Backend.
func (r Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrAbsent
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

// Take implements Backend.
func (r Redis) Take(ctx context.Context, key string) (string, error) {
	v, err := r.client.GetDel(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrAbsent
	}
	if err != nil {
		return "", fmt.Errorf("redis getdel: %w", err)
	}
	return v, nil
}
