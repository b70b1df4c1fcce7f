package ratelimit

import (
	"context"
	"fmt"
	"time"

	"develevate/internal/common/cache"
	appErr "develevate/pkg/errors"
)

const defaultCacheTimeout = 200 * time.Millisecond

// FixedWindow enforces fixed-window limits using the cache.
type FixedWindow struct {
	cache        cache.BasicOps
	window       time.Duration
	cacheTimeout time.Duration
}

// NewFixedWindow creates a limiter. window is used when a call passes none.
func NewFixedWindow(cacheClient cache.BasicOps, window, cacheTimeout time.Duration) *FixedWindow {
	if window <= 0 {
		window = time.Minute
	}
	if cacheTimeout <= 0 {
		cacheTimeout = defaultCacheTimeout
	}
	return &FixedWindow{cache: cacheClient, window: window, cacheTimeout: cacheTimeout}
}

// Allow counts one hit on key and rejects it once more than max hits land in the window.
func (s *FixedWindow) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if s.cache == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 {
		return nil
	}
	if window <= 0 {
		window = s.window
	}

	ctxCache, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()

	acquired, err := s.cache.SetNX(ctxCache, key, 1, window)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	var count int64
	if acquired {
		count = 1
	} else {
		count, err = s.cache.Incr(ctxCache, key)
		if err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
		}
		ttl, ttlErr := s.cache.TTL(ctxCache, key)
		if ttlErr == nil && ttl <= 0 {
			_ = s.cache.Expire(ctxCache, key, window)
		}
	}
	if int(count) > max {
		return appErr.New(appErr.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}
