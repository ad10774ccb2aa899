package data

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisKeyPrefix namespaces every key written by RedisCache.
const RedisKeyPrefix = "frontier:prices:"

// RedisCache is a Cache shared between processes through Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisCacheFromClient(rdb, ttl), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func redisKey(key CacheKey) string { return RedisKeyPrefix + key.String() }

// Get retrieves a value from cache
func (r *RedisCache) Get(ctx context.Context, key CacheKey) ([]*PriceData, bool, error) {
	val, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var prices []*PriceData
	if err := json.Unmarshal(val, &prices); err != nil {
		return nil, false, fmt.Errorf("decode cached prices: %w", err)
	}
	return prices, true, nil
}

// Set stores a value in cache with TTL
func (r *RedisCache) Set(ctx context.Context, key CacheKey, prices []*PriceData) error {
	payload, err := json.Marshal(prices)
	if err != nil {
		return fmt.Errorf("encode prices: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(key), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate deletes every key whose ticker set contains ticker.
func (r *RedisCache) Invalidate(ctx context.Context, ticker string) (int, error) {
	keys, err := r.client.Keys(ctx, RedisKeyPrefix+"*").Result()
	if err != nil {
		return 0, fmt.Errorf("redis keys: %w", err)
	}

	ticker = strings.ToUpper(ticker)
	var doomed []string
	for _, k := range keys {
		set := strings.SplitN(strings.TrimPrefix(k, RedisKeyPrefix), "|", 2)[0]
		for _, t := range strings.Split(set, ",") {
			if t == ticker {
				doomed = append(doomed, k)
				break
			}
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	n, err := r.client.Del(ctx, doomed...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis delete: %w", err)
	}
	return int(n), nil
}

// Purge removes all keys under RedisKeyPrefix.
func (r *RedisCache) Purge(ctx context.Context) error {
	keys, err := r.client.Keys(ctx, RedisKeyPrefix+"*").Result()
	if err != nil {
		return fmt.Errorf("redis keys: %w", err)
	}
	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis clear: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *RedisCache) Close() error { return r.client.Close() }
