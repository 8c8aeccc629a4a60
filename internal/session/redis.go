package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisSessionPrefix = "shopaway:session:"
	redisOpTimeout     = 3 * time.Second
)

// RedisStore shares carts between server processes. Store errors read as a
// missing session so a Redis outage degrades to an empty cart.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(ctx context.Context, connectionString string) (*RedisStore, error) {
	opts, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis connection string: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to session redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Data, bool) {
	if id == "" {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	raw, err := r.client.Get(ctx, redisSessionPrefix+id).Bytes()
	if err != nil {
		return nil, false
	}
	data := &Data{}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, false
	}
	return data, true
}

func (r *RedisStore) Set(ctx context.Context, id string, data *Data, ttl time.Duration) {
	if id == "" || data == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	_ = r.client.Set(ctx, redisSessionPrefix+id, raw, ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	_ = r.client.Del(ctx, redisSessionPrefix+id).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
