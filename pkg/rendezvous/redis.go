package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisLogPrefix = "rendezvous:redis"

// RedisStore is the production Store over Redis. Redis supplies the two
// properties the bridge relies on: atomic per-key operations (GETDEL for the
// take) and per-key TTLs for reclamation, so many coordinator processes can
// share one correlation id space.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the Redis at url (redis://...) and verifies
// connectivity. prefix namespaces all keys (e.g. "coordinator:rpc:").
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse redis URL: %w", redisLogPrefix, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%s - failed to ping redis: %w", redisLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Connected to redis at %s", redisLogPrefix, opts.Addr))
	return &RedisStore{client: client, prefix: prefix}, nil
}

// NewRedisStoreFromClient wraps an existing client, for tests.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) pendingKey(id string) string {
	return s.prefix + PendingKeyPrefix + id
}

func (s *RedisStore) responseKey(id string) string {
	return s.prefix + ResponseKeyPrefix + id
}

// PutPending implements Store.
func (s *RedisStore) PutPending(ctx context.Context, inv PendingInvocation, ttl time.Duration) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("%s - failed to encode pending invocation: %w", redisLogPrefix, err)
	}
	return s.client.Set(ctx, s.pendingKey(inv.CorrelationID), data, ttl).Err()
}

// GetPending implements Store.
func (s *RedisStore) GetPending(ctx context.Context, correlationID string) (*PendingInvocation, error) {
	data, err := s.client.Get(ctx, s.pendingKey(correlationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var inv PendingInvocation
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("%s - failed to decode pending invocation %s: %w", redisLogPrefix, correlationID, err)
	}
	return &inv, nil
}

// DeletePending implements Store.
func (s *RedisStore) DeletePending(ctx context.Context, correlationID string) error {
	return s.client.Del(ctx, s.pendingKey(correlationID)).Err()
}

// PutResponse implements Store.
func (s *RedisStore) PutResponse(ctx context.Context, correlationID string, payload []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.responseKey(correlationID), payload, ttl).Err()
}

// TakeResponse implements Store. GETDEL makes the read-then-delete a single
// atomic step on the server.
func (s *RedisStore) TakeResponse(ctx context.Context, correlationID string) ([]byte, error) {
	data, err := s.client.GetDel(ctx, s.responseKey(correlationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ExpiredPending implements Store. Redis TTLs normally reclaim pending keys
// on their own; the scan is the backstop for entries whose recorded expiry
// has passed but whose key TTL has not yet fired (grace skew).
func (s *RedisStore) ExpiredPending(ctx context.Context, now time.Time) ([]string, error) {
	var expired []string
	iter := s.client.Scan(ctx, 0, s.prefix+PendingKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var inv PendingInvocation
		if err := json.Unmarshal(data, &inv); err != nil {
			slog.Warn(fmt.Sprintf("%s - skipping malformed pending entry %s: %v", redisLogPrefix, iter.Val(), err))
			continue
		}
		if !now.Before(inv.ExpiresAt) {
			expired = append(expired, inv.CorrelationID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return expired, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
