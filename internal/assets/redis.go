package assets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultRedisKey is the list binary asset records are pushed onto.
const DefaultRedisKey = "bundlebridge:binary-assets"

// ListClient is the subset of the Redis API the store uses. *redis.Client
// and redis.UniversalClient satisfy it.
type ListClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisStore pushes records onto a Redis list so a separate deploy process
// can pick them up. Works with any Redis-compatible server.
type RedisStore struct {
	client ListClient
	key    string
}

// NewRedisStore connects to url (redis://[password@]host:port[/db]).
func NewRedisStore(ctx context.Context, url, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis-compatible backend for binary assets")

	return NewRedisStoreWithClient(client, key), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client ListClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// Key returns the list key.
func (s *RedisStore) Key() string {
	return s.key
}

// Add pushes rec as JSON.
func (s *RedisStore) Add(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.key, payload).Err()
}

// Records reads back every record on the list.
func (s *RedisStore) Records(ctx context.Context) ([]Record, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("corrupt record in %s: %w", s.key, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Clear removes the list.
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
