package utils

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cppla/districtwars/config"
)

var (
	redisMu     sync.RWMutex
	redisClient *redis.Client
	redisOnce   sync.Once
)

// GetRedis returns the shared client, dialing the configured server on first use.
// Callers treat errors from it as a cache miss.
func GetRedis() *redis.Client {
	redisOnce.Do(func() {
		cfg := config.Get()
		addr := net.JoinHostPort(cfg.RedisHost, strconv.Itoa(cfg.RedisPort))
		c := redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  3 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.Ping(ctx).Err(); err != nil {
			L().Warn("redis unreachable, leaderboard cache disabled and revocations kept in memory",
				zap.String("addr", addr), zap.Error(err))
		}
		redisMu.Lock()
		redisClient = c
		redisMu.Unlock()
	})
	redisMu.RLock()
	defer redisMu.RUnlock()
	return redisClient
}

// UseRedis installs c as the shared client instead of dialing the configured one.
func UseRedis(c *redis.Client) {
	redisOnce.Do(func() {})
	redisMu.Lock()
	redisClient = c
	redisMu.Unlock()
}

// CloseRedis releases the shared client. It fits GracefulServer.OnShutdown.
func CloseRedis(context.Context) {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisClient == nil {
		return
	}
	if err := redisClient.Close(); err != nil {
		L().Warn("redis close failed", zap.Error(err))
	}
	redisClient = nil
}
