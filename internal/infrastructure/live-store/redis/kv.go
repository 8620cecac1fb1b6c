package redislivestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KVStore stores JSON encoded values of type T under a common key prefix.
type KVStore[T any] struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisKVStore[T any](rdb *redis.Client, prefix string) *KVStore[T] {
	return &KVStore[T]{rdb: rdb, prefix: prefix}
}

func (s *KVStore[T]) Key(id string) string {
	return s.prefix + id
}

func (s *KVStore[T]) Set(ctx context.Context, id string, value *T) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", s.Key(id), err)
	}
	return s.rdb.Set(ctx, s.Key(id), buf, 0).Err()
}

// SetNX stores the value only if the key doesn't exist yet.
func (s *KVStore[T]) SetNX(ctx context.Context, id string, value *T) (bool, error) {
	buf, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s: %w", s.Key(id), err)
	}
	return s.rdb.SetNX(ctx, s.Key(id), buf, 0).Result()
}

// SetPipe queues the write on the pipeline, a zero ttl means no expiration.
func (s *KVStore[T]) SetPipe(
	ctx context.Context, pipe redis.Pipeliner, id string, value *T, ttl time.Duration,
) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", s.Key(id), err)
	}
	pipe.Set(ctx, s.Key(id), buf, ttl)
	return nil
}

// Get returns nil if the key doesn't exist.
func (s *KVStore[T]) Get(ctx context.Context, id string) (*T, error) {
	buf, err := s.rdb.Get(ctx, s.Key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return s.decode(buf)
}

// GetTx reads the key within a watched transaction.
func (s *KVStore[T]) GetTx(ctx context.Context, tx *redis.Tx, id string) (*T, error) {
	buf, err := tx.Get(ctx, s.Key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return s.decode(buf)
}

// GetMulti returns the values in the order of the given ids, skipping the
// missing ones, which are returned apart.
func (s *KVStore[T]) GetMulti(ctx context.Context, ids []string) ([]*T, []string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.Key(id))
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, err
	}

	res := make([]*T, 0, len(values))
	missing := make([]string, 0)
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		value, err := s.decode([]byte(str))
		if err != nil {
			return nil, nil, err
		}
		res = append(res, value)
	}
	return res, missing, nil
}

// Delete removes the key and reports whether it existed.
func (s *KVStore[T]) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Del(ctx, s.Key(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *KVStore[T]) decode(buf []byte) (*T, error) {
	var value T
	if err := json.Unmarshal(buf, &value); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return &value, nil
}
