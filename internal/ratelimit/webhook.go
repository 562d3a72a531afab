package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/faktur/internal/config"
)

const keyWebhook = "payment:webhook:%s:%s"

// Processors batch retries, so the webhook budget refills faster and
// bursts higher than the public view one.
const (
	webhookRate  = 5.0
	webhookBurst = 60
)

// WebhookLimiter throttles inbound processor callbacks per provider
// and source IP. Redis-backed when configured, in-process otherwise.
type WebhookLimiter struct {
	bucket *TokenBucket
	memory *MemoryBucket
}

func NewWebhookLimiter(cfg config.Config) *WebhookLimiter {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return &WebhookLimiter{memory: NewMemoryBucket()}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
	})
	return &WebhookLimiter{bucket: NewTokenBucket(client)}
}

func (l *WebhookLimiter) Allow(ctx context.Context, provider, clientIP string) (bool, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = "unknown"
	}
	clientIP = strings.TrimSpace(clientIP)
	if clientIP == "" {
		clientIP = "unknown"
	}

	key := fmt.Sprintf(keyWebhook, provider, clientIP)
	if l.bucket != nil {
		return l.bucket.Allow(ctx, key, webhookRate, webhookBurst)
	}
	return l.memory.Allow(key, webhookRate, webhookBurst), nil
}
