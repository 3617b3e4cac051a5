package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxTxAttempts bounds the optimistic retries of Atomically.
const maxTxAttempts = 10

// RedisStore is a Store shared by every process pointing at the same Redis
// database, for deployments where several clients must see one queue.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	timeout   time.Duration
}

// NewRedisStore creates a RedisStore. Keys are namespaced with keyPrefix and
// each operation is bounded by timeout.
func NewRedisStore(client *redis.Client, keyPrefix string, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		timeout:   timeout,
	}
}

func (s *RedisStore) key(k string) string {
	return s.keyPrefix + k
}

// Get implements Store.
func (s *RedisStore) Get(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read key %q from redis: %w", key, err)
	}
	return val, nil
}

// Set implements Store.
func (s *RedisStore) Set(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	// No expiration
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write key %q to redis: %w", key, err)
	}
	return nil
}

// Remove implements Store.
func (s *RedisStore) Remove(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to remove key %q from redis: %w", key, err)
	}
	return nil
}

// Atomically implements AtomicStore with WATCH/MULTI. Writes made by fn are
// buffered and applied in one transaction; when another client changes a
// watched key first, fn is run again on fresh values.
func (s *RedisStore) Atomically(keys []string, fn func(Store) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	watched := make([]string, len(keys))
	for i, k := range keys {
		watched[i] = s.key(k)
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			view := &redisTx{store: s, ctx: ctx, tx: tx, writes: make(map[string][]byte)}
			if err := fn(view); err != nil {
				return err
			}
			if len(view.order) == 0 {
				return nil
			}
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, k := range view.order {
					if v := view.writes[k]; v == nil {
						pipe.Del(ctx, s.key(k))
					} else {
						pipe.Set(ctx, s.key(k), v, 0)
					}
				}
				return nil
			})
			return err
		}, watched...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis transaction on %v kept conflicting after %d attempts", keys, maxTxAttempts)
}

// redisTx buffers the writes of one Atomically attempt. A nil value in
// writes marks a removal.
type redisTx struct {
	store  *RedisStore
	ctx    context.Context
	tx     *redis.Tx
	writes map[string][]byte
	order  []string
}

func (t *redisTx) Get(key string) ([]byte, error) {
	if v, ok := t.writes[key]; ok {
		if v == nil {
			return nil, ErrNotFound
		}
		return v, nil
	}
	val, err := t.tx.Get(t.ctx, t.store.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read key %q from redis: %w", key, err)
	}
	return val, nil
}

func (t *redisTx) Set(key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	t.record(key, value)
	return nil
}

func (t *redisTx) Remove(key string) error {
	t.record(key, nil)
	return nil
}

func (t *redisTx) record(key string, value []byte) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = value
}
