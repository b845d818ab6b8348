package rate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter tuning parameters. MaxAttempts of zero disables the
// limiter.
type Config struct {
	Prefix      string
	MaxAttempts int
	Window      time.Duration
	PerIP       bool
}

// Limiter counts failed sign-in attempts per email, and optionally per
// client IP, in fixed Redis windows.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Enabled reports whether attempts are counted at all.
func (l *Limiter) Enabled() bool {
	return l != nil && l.config.MaxAttempts > 0
}

// Check returns ErrRateLimited once the email or IP has used up its budget
// in the current window. It does not count the attempt.
func (l *Limiter) Check(ctx context.Context, email, ip string) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.checkCounter(ctx, l.emailKey(email)); err != nil {
		return err
	}
	if l.config.PerIP && ip != "" {
		if err := l.checkCounter(ctx, l.ipKey(ip)); err != nil {
			return err
		}
	}
	return nil
}

// RecordFailure counts one failed attempt for the email and IP.
func (l *Limiter) RecordFailure(ctx context.Context, email, ip string) error {
	if !l.Enabled() {
		return nil
	}
	if _, err := l.incrementWithTTL(ctx, l.emailKey(email)); err != nil {
		return err
	}
	if l.config.PerIP && ip != "" {
		if _, err := l.incrementWithTTL(ctx, l.ipKey(ip)); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the per-email counter after a successful sign-in. The IP
// counter is left alone so one good account cannot unlock a sprayed IP.
func (l *Limiter) Reset(ctx context.Context, email string) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.redis.Del(ctx, l.emailKey(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the failure count for email in the current window.
// Missing keys return zero.
func (l *Limiter) Attempts(ctx context.Context, email string) (int, error) {
	if !l.Enabled() {
		return 0, nil
	}
	count, err := l.redis.Get(ctx, l.emailKey(email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

// Emails are hashed so addresses never appear in key names.
func (l *Limiter) emailKey(email string) string {
	sum := sha256.Sum256([]byte(email))
	return l.config.Prefix + ":sf:" + hex.EncodeToString(sum[:16])
}

func (l *Limiter) ipKey(ip string) string {
	return l.config.Prefix + ":sfi:" + ip
}
