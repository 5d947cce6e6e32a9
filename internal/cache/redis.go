package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix   = "cache:"
	redisNamesKey = "cache:names"
)

// RedisStorage keeps each entry as a JSON value under cache:<name>:<key>, with
// a member set per partition so partitions can be listed and dropped.
type RedisStorage struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStorage(client *redis.Client, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, ttl: ttl}
}

func (s *RedisStorage) Open(name string) Cache {
	return &redisCache{s: s, name: name}
}

func (s *RedisStorage) Names(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, redisNamesKey).Result()
}

func (s *RedisStorage) Delete(ctx context.Context, name string) error {
	c := &redisCache{s: s, name: name}
	keys, err := s.client.SMembers(ctx, c.setKey()).Result()
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, c.entryKey(k))
	}
	pipe.Del(ctx, c.setKey())
	pipe.SRem(ctx, redisNamesKey, name)
	_, err = pipe.Exec(ctx)
	return err
}

type redisCache struct {
	s    *RedisStorage
	name string
}

func (c *redisCache) setKey() string { return redisPrefix + c.name + ":keys" }

func (c *redisCache) entryKey(key string) string {
	return redisPrefix + c.name + ":" + key
}

func (c *redisCache) Match(ctx context.Context, key string) (*Entry, error) {
	val, err := c.s.client.Get(ctx, c.entryKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired, drop it from the member set
		c.s.client.SRem(ctx, c.setKey(), key)
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}

	var e Entry
	if err := json.Unmarshal([]byte(val), &e); err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return &e, nil
}

func (c *redisCache) Put(ctx context.Context, key string, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	pipe := c.s.client.Pipeline()
	pipe.Set(ctx, c.entryKey(key), data, c.s.ttl)
	pipe.SAdd(ctx, c.setKey(), key)
	pipe.SAdd(ctx, redisNamesKey, c.name)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	pipe := c.s.client.Pipeline()
	pipe.Del(ctx, c.entryKey(key))
	pipe.SRem(ctx, c.setKey(), key)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *redisCache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.s.client.SMembers(ctx, c.setKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
