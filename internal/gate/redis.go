package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces all gate keys.
const DefaultRedisPrefix = "switchyard:gate:"

// maxTxRetries bounds optimistic-lock retries in UpdateThrottle.
const maxTxRetries = 10

// RedisStore keeps gate state in Redis so several relay instances share it.
// Event keys carry a native TTL; throttle keys live for two days.
type RedisStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client goredis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("gate: redis store: client is required")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (r *RedisStore) eventKey(id string) string      { return r.prefix + "event:" + id }
func (r *RedisStore) throttleKey(addr string) string { return r.prefix + "throttle:" + addr }

func (r *RedisStore) EventExpiry(ctx context.Context, eventID string) (time.Time, bool, error) {
	val, err := r.client.Get(ctx, r.eventKey(eventID)).Result()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("gate: redis: bad event value %q: %w", val, err)
	}
	return time.Unix(0, nanos), true, nil
}

func (r *RedisStore) PutEvent(ctx context.Context, eventID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := r.client.Set(ctx, r.eventKey(eventID), strconv.FormatInt(expiresAt.UnixNano(), 10), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisStore) DeleteEvent(ctx context.Context, eventID string) error {
	if err := r.client.Del(ctx, r.eventKey(eventID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// SweepEvents is a no-op; Redis expires event keys itself.
func (r *RedisStore) SweepEvents(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (r *RedisStore) GetThrottle(ctx context.Context, address string) (ThrottleState, bool, error) {
	data, err := r.client.Get(ctx, r.throttleKey(address)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return ThrottleState{Address: address}, false, nil
	}
	if err != nil {
		return ThrottleState{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var st ThrottleState
	if err := json.Unmarshal(data, &st); err != nil {
		return ThrottleState{}, false, fmt.Errorf("gate: redis: decode throttle: %w", err)
	}
	return st, true, nil
}

// UpdateThrottle runs fn inside a WATCH/MULTI transaction, retrying when
// another writer touched the key first.
func (r *RedisStore) UpdateThrottle(ctx context.Context, address string, fn func(*ThrottleState) bool) (ThrottleState, error) {
	key := r.throttleKey(address)
	var result ThrottleState

	txf := func(tx *goredis.Tx) error {
		st := ThrottleState{Address: address}
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, &st); err != nil {
				return fmt.Errorf("gate: redis: decode throttle: %w", err)
			}
		}
		if !fn(&st) {
			result = st
			return nil
		}
		encoded, err := json.Marshal(st)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 48*time.Hour)
			return nil
		})
		if err == nil {
			result = st
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return ThrottleState{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ThrottleState{}, fmt.Errorf("gate: redis: update throttle %s: too much contention", address)
}
