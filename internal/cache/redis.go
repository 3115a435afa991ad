package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appLog "ptrun/internal/log"
)

// DefaultRedisPrefix namespaces ptrun keys in a shared Redis database.
const DefaultRedisPrefix = "ptrun:cache:"

const (
	redisConnectTimeout = 5 * time.Second
	redisScanCount      = 500
)

// NewRedisClient connects to addr and verifies the connection with PING.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisStore keeps the same JSON envelopes as DiskStore as Redis strings.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			appLog.Warn("cache read failed", "key", key, "err", err)
		}
		return Entry{}, false
	}

	e, err := decodeEntry(key, data)
	if err != nil {
		appLog.Warn("cache entry corrupted, removing", "key", key, "err", err)
		if delErr := s.client.Del(ctx, s.prefix+key).Err(); delErr != nil {
			appLog.Error("cache remove failed", delErr, "key", key)
		}
		return Entry{}, false
	}
	return e, true
}

func (s *RedisStore) Put(ctx context.Context, key string, body []byte) error {
	if _, _, err := SplitKey(key); err != nil {
		return err
	}
	data, err := json.Marshal(newEntry(key, body, s.now()))
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, data, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *RedisStore) scan(ctx context.Context, namespace string, fn func(redisKey string) error) error {
	pattern := s.prefix + "*"
	if namespace != "" {
		pattern = s.prefix + namespace + "/*"
	}
	iter := s.client.Scan(ctx, 0, pattern, redisScanCount).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *RedisStore) Stats(ctx context.Context, namespace string) (Stats, error) {
	st := Stats{Namespace: namespace}
	err := s.scan(ctx, namespace, func(k string) error {
		n, err := s.client.StrLen(ctx, k).Result()
		if err != nil {
			return err
		}
		st.Entries++
		st.Bytes += n
		return nil
	})
	return st, err
}

func (s *RedisStore) Clear(ctx context.Context, namespace string) (int, error) {
	n := 0
	err := s.scan(ctx, namespace, func(k string) error {
		if err := s.client.Del(ctx, k).Err(); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

func (s *RedisStore) Keys(ctx context.Context, namespace string) ([]string, error) {
	var keys []string
	err := s.scan(ctx, namespace, func(k string) error {
		keys = append(keys, k[len(s.prefix):])
		return nil
	})
	return keys, err
}
