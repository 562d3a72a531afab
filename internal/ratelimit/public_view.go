package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/faktur/internal/config"
)

const keyPublicView = "public:invoice:view:%s"

const (
	publicViewRate  = 0.5
	publicViewBurst = 30
)

// PublicViewLimiter throttles the unauthenticated public invoice
// endpoints per client IP. Redis-backed when configured, in-process
// otherwise.
type PublicViewLimiter struct {
	bucket *TokenBucket
	memory *MemoryBucket
}

func NewPublicViewLimiter(cfg config.Config) *PublicViewLimiter {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return &PublicViewLimiter{memory: NewMemoryBucket()}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
	})
	return &PublicViewLimiter{bucket: NewTokenBucket(client)}
}

func (l *PublicViewLimiter) Allow(ctx context.Context, clientIP string) (bool, error) {
	clientIP = strings.TrimSpace(clientIP)
	if clientIP == "" {
		clientIP = "unknown"
	}

	if l.bucket != nil {
		return l.bucket.Allow(ctx, fmt.Sprintf(keyPublicView, clientIP), publicViewRate, publicViewBurst)
	}
	return l.memory.Allow(fmt.Sprintf(keyPublicView, clientIP), publicViewRate, publicViewBurst), nil
}
