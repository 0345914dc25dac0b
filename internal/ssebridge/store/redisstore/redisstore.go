// Package redisstore implements store.Store directly on top of a
// *redis.Client, without an intervening replicated-map or streaming
// abstraction: the bridge's shared state (connection table, buffers, task
// records) is simple enough that the hash/list/pub-sub primitives Redis
// already exposes are sufficient.
package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/store"
)

// Store wraps a *redis.Client to satisfy store.Store.
type Store struct {
	rdb *redis.Client
}

// New constructs a Store backed by rdb. The caller owns rdb's lifecycle
// (construction and Close).
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return s.rdb.HSet(ctx, key, args...).Err()
}

func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

func (s *Store) HKeys(ctx context.Context, key string) ([]string, error) {
	return s.rdb.HKeys(ctx, key).Result()
}

func (s *Store) HLen(ctx context.Context, key string) (int64, error) {
	return s.rdb.HLen(ctx, key).Result()
}

func (s *Store) HExists(ctx context.Context, key, field string) (bool, error) {
	return s.rdb.HExists(ctx, key, field).Result()
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.rdb.HDel(ctx, key, fields...).Err()
}

func (s *Store) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *Store) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.rdb.LPush(ctx, key, args...).Err()
}

func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.rdb.LTrim(ctx, key, start, stop).Err()
}

func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.rdb.LRange(ctx, key, start, stop).Result()
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.rdb.Expire(ctx, key, ttl).Err()
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.rdb.TTL(ctx, key).Result()
}

func (s *Store) Publish(ctx context.Context, channel, message string) error {
	return s.rdb.Publish(ctx, channel, message).Err()
}

func (s *Store) Subscribe(ctx context.Context, channel string) (store.Subscription, error) {
	pubsub := s.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	return &subscription{pubsub: pubsub, ch: toMessageChannel(pubsub)}, nil
}

func toMessageChannel(pubsub *redis.PubSub) <-chan string {
	out := make(chan string, 64)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			out <- msg.Payload
		}
	}()
	return out
}

type subscription struct {
	pubsub *redis.PubSub
	ch     <-chan string
}

func (s *subscription) Channel() <-chan string { return s.ch }
func (s *subscription) Close() error           { return s.pubsub.Close() }

// ScanMatch walks the keyspace with SCAN (never KEYS) so large deployments
// don't block the server while cleanup or stats routines enumerate keys.
func (s *Store) ScanMatch(ctx context.Context, pattern string, fn func(key string) error) error {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := fn(key); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
