package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores one JSON blob per owner under prefix:ownerID.
type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisBackend returns a backend using rdb. An empty prefix defaults to "acct".
func NewRedisBackend(rdb redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "acct"
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

func (b *RedisBackend) key(ownerID string) string {
	return b.prefix + ":" + ownerID
}

// Load reads and decodes the owner record.
func (b *RedisBackend) Load(ctx context.Context, ownerID string) (*Owner, error) {
	data, err := b.rdb.Get(ctx, b.key(ownerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrOwnerNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	o, err := Decode(data)
	if err != nil {
		return nil, err
	}
	o.ID = ownerID
	return o, nil
}

// Save overwrites the owner record.
func (b *RedisBackend) Save(ctx context.Context, owner *Owner) error {
	data, err := Encode(owner)
	if err != nil {
		return err
	}
	if err := b.rdb.Set(ctx, b.key(owner.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Delete removes the owner record.
func (b *RedisBackend) Delete(ctx context.Context, ownerID string) error {
	if err := b.rdb.Del(ctx, b.key(ownerID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Ping reports round-trip latency to Redis.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
