package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces snapshot keys.
const DefaultRedisPrefix = "qrescue:store:"

// RedisPersister stores each collection snapshot under one string key.
type RedisPersister struct {
	client *redis.Client
	prefix string
}

// NewRedisPersister constructs a persister; an empty prefix uses
// DefaultRedisPrefix.
func NewRedisPersister(client *redis.Client, prefix string) *RedisPersister {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisPersister{client: client, prefix: prefix}
}

// Save overwrites the snapshot key. Snapshots never expire.
func (r *RedisPersister) Save(ctx context.Context, collection string, data []byte) error {
	if err := r.client.Set(ctx, r.prefix+collection, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", collection, err)
	}
	return nil
}

// Load reads the snapshot key.
func (r *RedisPersister) Load(ctx context.Context, collection string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.prefix+collection).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", collection, err)
	}
	return data, nil
}
