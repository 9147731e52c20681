package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"

	"github.com/smallbiznis/tably/internal/config"
)

const keyReceiptWriteUser = "receipt:write:user:%s"

// WriteLimiter caps how fast a single user may issue receipt mutations.
// Without a redis address it stays disabled and admits everything.
type WriteLimiter struct {
	enabled bool
	bucket  *TokenBucket
	limits  *config.LimitsHolder
}

func NewWriteLimiter(cfg config.Config, limits *config.LimitsHolder) *WriteLimiter {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return &WriteLimiter{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &WriteLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		limits:  limits,
	}
}

func (l *WriteLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *WriteLimiter) AllowUser(ctx context.Context, userID snowflake.ID) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	current := l.limits.Current()
	key := fmt.Sprintf(keyReceiptWriteUser, userID.String())
	return l.bucket.Allow(ctx, key, current.WriteRatePerSecond, current.WriteBurst)
}
