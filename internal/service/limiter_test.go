package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"agri-auth/internal/autherr"
)

func TestRateLimiterExactBudget(t *testing.T) {
	store := newMemRateLimitStore()
	cfg := testConfig()
	limiter := NewRateLimiter(store, cfg, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < cfg.RateLimit.MaxRequests; i++ {
		if err := limiter.Allow(ctx, "otp:9876543210"); err != nil {
			t.Fatalf("Allow #%d: %v", i+1, err)
		}
	}

	err := limiter.Allow(ctx, "otp:9876543210")
	wantCode(t, err, autherr.CodeRateLimitExceeded)
	if autherr.RetryAfterOf(err) <= 0 {
		t.Error("rejection carries no retry-after hint")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	store := newMemRateLimitStore()
	cfg := testConfig()
	limiter := NewRateLimiter(store, cfg, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < cfg.RateLimit.MaxRequests; i++ {
		if err := limiter.Allow(ctx, "otp:9876543210"); err != nil {
			t.Fatalf("Allow #%d: %v", i+1, err)
		}
	}
	wantCode(t, limiter.Allow(ctx, "otp:9876543210"), autherr.CodeRateLimitExceeded)

	// Once the window elapses the very next call is allowed again.
	store.advance(cfg.RateLimit.Window)
	if err := limiter.Allow(ctx, "otp:9876543210"); err != nil {
		t.Fatalf("Allow after window elapsed: %v", err)
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	store := newMemRateLimitStore()
	cfg := testConfig()
	limiter := NewRateLimiter(store, cfg, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < cfg.RateLimit.MaxRequests; i++ {
		if err := limiter.Allow(ctx, "otp:9876543210"); err != nil {
			t.Fatal(err)
		}
	}

	// A different phone still has its full budget.
	if err := limiter.Allow(ctx, "otp:9123456789"); err != nil {
		t.Errorf("independent key limited: %v", err)
	}
}

func TestRateLimiterFailsClosed(t *testing.T) {
	store := newMemRateLimitStore()
	store.err = errors.New("redis down")
	cfg := testConfig()
	limiter := NewRateLimiter(store, cfg, zap.NewNop())

	if err := limiter.Allow(context.Background(), "otp:9876543210"); err == nil {
		t.Fatal("Allow succeeded with store down and FailOpen=false")
	}
}

func TestRateLimiterFailsOpenWhenConfigured(t *testing.T) {
	store := newMemRateLimitStore()
	store.err = errors.New("redis down")
	cfg := testConfig()
	cfg.RateLimit.FailOpen = true
	limiter := NewRateLimiter(store, cfg, zap.NewNop())

	if err := limiter.Allow(context.Background(), "otp:9876543210"); err != nil {
		t.Fatalf("Allow with FailOpen=true: %v", err)
	}
}
