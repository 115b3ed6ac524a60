package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agri-auth/internal/autherr"
	"agri-auth/internal/config"
	"agri-auth/internal/model"
)

// RateLimiter enforces the fixed-window request budget per key. On store
// outage it fails closed unless RATE_LIMIT_FAIL_OPEN is set.
type RateLimiter struct {
	store  model.RateLimitStore
	config *config.Config
	logger *zap.Logger
}

func NewRateLimiter(store model.RateLimitStore, cfg *config.Config, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Allow counts one request against the key. Returns RATE_LIMIT_EXCEEDED once
// the window budget is spent; the error carries the retry-after hint so the
// transport layer can emit a Retry-After header.
func (l *RateLimiter) Allow(ctx context.Context, key string) error {
	count, retryAfter, err := l.store.IncrementWindow(ctx, key, l.config.RateLimit.Window)
	if err != nil {
		if l.config.RateLimit.FailOpen {
			l.logger.Warn("rate limit store unavailable, failing open",
				zap.String("key", key),
				zap.Error(err))
			return nil
		}
		return err
	}

	if count > int64(l.config.RateLimit.MaxRequests) {
		retry := retryAfter.Round(time.Second)
		if retry < time.Second {
			retry = time.Second
		}
		return autherr.New(autherr.CodeRateLimitExceeded,
			fmt.Sprintf("too many requests, retry after %ds", int(retry.Seconds()))).
			WithRetryAfter(retry)
	}

	return nil
}
