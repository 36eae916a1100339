package utils

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const blacklistPrefix = "jwt:blacklist:"

// revoked is the process-local fallback used while redis is unavailable.
var revoked = struct {
	sync.Mutex
	until map[string]time.Time
}{until: map[string]time.Time{}}

// BlacklistToken revokes token until expiresAt, when it would stop being
// accepted anyway.
func BlacklistToken(ctx context.Context, token string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return
	}
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
		err := rc.Set(ctx, blacklistPrefix+token, 1, ttl).Err()
		cancel()
		if err == nil {
			return
		}
		L().Warn("token blacklist write failed, keeping it in memory", zap.Error(err))
	}
	revoked.Lock()
	revoked.until[token] = expiresAt
	revoked.Unlock()
}

// IsTokenBlacklisted reports whether token was revoked and has not expired yet.
func IsTokenBlacklisted(ctx context.Context, token string) bool {
	if rc := GetRedis(); rc != nil {
		ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
		n, err := rc.Exists(ctx, blacklistPrefix+token).Result()
		cancel()
		if err == nil && n > 0 {
			return true
		}
	}

	now := time.Now()
	revoked.Lock()
	defer revoked.Unlock()
	for t, until := range revoked.until {
		if now.After(until) {
			delete(revoked.until, t)
		}
	}
	_, ok := revoked.until[token]
	return ok
}
