package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	logx "kvmdash/pkg/logx"
)

const redisUpdateRetries = 100

// redisStore keeps each document as a plain string key. Update uses
// WATCH/MULTI so a concurrent writer makes the transaction retry instead of
// being silently overwritten.
type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (KV, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.Redis.KeyPrefix
	if prefix == "" {
		prefix = "kvmdash:"
	}
	return &redisStore{client: client, prefix: prefix, log: log}, nil
}

func (s *redisStore) key(k string) string { return s.prefix + k }

func (s *redisStore) Close() error { return s.client.Close() }

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *redisStore) Put(ctx context.Context, key string, val []byte) error {
	return s.client.Set(ctx, s.key(key), val, 0).Err()
}

func (s *redisStore) Update(ctx context.Context, key string, fn func(cur []byte, ok bool) ([]byte, error)) error {
	k := s.key(key)
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, k).Bytes()
		ok := true
		if errors.Is(err, redis.Nil) {
			ok, err = false, nil
		}
		if err != nil {
			return err
		}
		next, err := fn(cur, ok)
		if errors.Is(err, ErrSkipWrite) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, k, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < redisUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.log.Debug("document update conflict; retrying", logx.String("key", key), logx.Int("attempt", i+1))
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: too many conflicts", key)
}
