package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "github.com/spec-kit/license-service/pkg/util"
)

// Limiter implements a fixed-window counter over Redis. Keys are scoped per
// route and client IP; the window resets one minute after the first hit.
type Limiter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewLimiter constructs the limiter.
func NewLimiter(client *redis.Client, logger *zap.Logger) *Limiter {
	return &Limiter{client: client, logger: logger}
}

// Allow increments the window counter for key and reports whether the request
// stays under limit. Redis failures fail open so a cache outage does not take
// authentication down with it.
func (l *Limiter) Allow(ctx context.Context, key string, limit int) bool {
	if l == nil || l.client == nil || limit <= 0 {
		return true
	}

	redisKey := "ratelimit:" + key
	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		l.logger.Warn("rate limiter unavailable", zap.Error(err))
		return true
	}
	if count == 1 {
		l.client.Expire(ctx, redisKey, time.Minute)
	}
	return count <= int64(limit)
}

// Middleware rejects requests over limit per client IP for the given scope.
func (l *Limiter) Middleware(scope string, limit int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := fmt.Sprintf("%s:%s", scope, c.IP())
		if !l.Allow(c.UserContext(), key, limit) {
			return apperrors.NewRateLimited("too many requests, slow down")
		}
		return c.Next()
	}
}
