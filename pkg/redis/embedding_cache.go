package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmbeddingCache stores name vectors under "<prefix><normalized name>" with a TTL.
type EmbeddingCache struct {
	client *Client
	prefix string
	ttl    time.Duration
}

func NewEmbeddingCache(client *Client, prefix string, ttl time.Duration) *EmbeddingCache {
	if prefix == "" {
		prefix = "sorrel:embedding:"
	}
	return &EmbeddingCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *EmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	raw, err := c.client.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var vector []float32
	if err := json.Unmarshal(raw, &vector); err != nil {
		return nil, false, fmt.Errorf("corrupt embedding for %q: %w", key, err)
	}
	return vector, true, nil
}

func (c *EmbeddingCache) Set(ctx context.Context, key string, vector []float32) error {
	raw, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	return c.client.rdb.Set(ctx, c.prefix+key, raw, c.ttl).Err()
}
