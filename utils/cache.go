package utils

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

const (
	defaultCacheTTL = time.Minute
	cacheOpTimeout  = 2 * time.Second
	// LeaderboardCachePrefix namespaces cached leaderboard responses.
	LeaderboardCachePrefix = "cache:leaderboard:"
)

// CacheGetBytes returns the cached value of key. A miss, an unreachable
// redis and an expired context all report false.
func CacheGetBytes(ctx context.Context, key string) ([]byte, bool) {
	rc := GetRedis()
	if rc == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	b, err := rc.Get(ctx, key).Bytes()
	if err != nil {
		L().Debug("cache miss", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return b, true
}

// CacheGetJSON decodes the cached value of key into v.
func CacheGetJSON(ctx context.Context, key string, v interface{}) bool {
	b, ok := CacheGetBytes(ctx, key)
	return ok && json.Unmarshal(b, v) == nil
}

// CacheSetBytes stores b under key. A non-positive ttl means defaultCacheTTL.
// Failures are logged and otherwise ignored.
func CacheSetBytes(ctx context.Context, key string, b []byte, ttl time.Duration) {
	rc := GetRedis()
	if rc == nil {
		return
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := rc.Set(ctx, key, b, ttl).Err(); err != nil {
		L().Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// CacheSetJSON stores the JSON encoding of v under key.
func CacheSetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		L().Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	CacheSetBytes(ctx, key, b, ttl)
}

// InvalidateByPrefix deletes every key under prefix. The scan is bounded so a
// huge keyspace cannot stall the caller.
func InvalidateByPrefix(ctx context.Context, prefix string) {
	rc := GetRedis()
	if rc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	iter := rc.Scan(ctx, 0, prefix+"*", 500).Iterator()
	batch := make([]string, 0, 64)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := rc.Unlink(ctx, batch...).Err(); err != nil {
			L().Warn("cache invalidate failed", zap.String("prefix", prefix), zap.Error(err))
		}
		batch = batch[:0]
	}
	for seen := 0; iter.Next(ctx) && seen < 10000; seen++ {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			flush()
		}
	}
	if err := iter.Err(); err != nil {
		L().Warn("cache scan failed", zap.String("prefix", prefix), zap.Error(err))
	}
	flush()
}
