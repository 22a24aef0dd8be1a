// Package cache keeps embedding vectors in Redis so repeated builds and
// queries skip the embedding model.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

type EmbeddingCache struct {
	client *redisv9.Client
	ttl    time.Duration
	prefix string
}

// NewEmbeddingCache stores vectors under prefix with the given TTL.
// A zero TTL keeps entries for a week.
func NewEmbeddingCache(client *redisv9.Client, prefix string, ttl time.Duration) *EmbeddingCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if prefix == "" {
		prefix = "handbook:embedding"
	}
	return &EmbeddingCache{client: client, ttl: ttl, prefix: prefix}
}

// Connect creates a client and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*redisv9.Client, error) {
	client := redisv9.NewClient(&redisv9.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis failed: %w", err)
	}
	return client, nil
}

func (c *EmbeddingCache) Get(ctx context.Context, model, text string) ([]float64, bool, error) {
	raw, err := c.client.Get(ctx, c.key(model, text)).Bytes()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get embedding failed: %w", err)
	}
	var vec []float64
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached embedding failed: %w", err)
	}
	return vec, true, nil
}

func (c *EmbeddingCache) Set(ctx context.Context, model, text string, vector []float64) error {
	payload, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("marshal embedding failed: %w", err)
	}
	if err := c.client.Set(ctx, c.key(model, text), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set embedding failed: %w", err)
	}
	return nil
}

// key is prefix:model:sha256(text); the model name separates embedding spaces.
func (c *EmbeddingCache) key(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:%s:%s", c.prefix, model, hex.EncodeToString(sum[:]))
}
