package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AttemptRepository tracks failed authentication and MFA attempts in Redis.
// Counters expire on their own, so a lockout clears itself once the window
// passes. A nil client degrades to no lockout rather than blocking logins.
type AttemptRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewAttemptRepository constructs an attempt repository.
func NewAttemptRepository(client *redis.Client, logger *zap.Logger) *AttemptRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttemptRepository{client: client, logger: logger}
}

func loginKey(email string) string {
	return "auth:attempts:login:" + email
}

func mfaKey(userID string) string {
	return "auth:attempts:mfa:" + userID
}

// RecordLoginFailure increments the failure counter for an email and returns
// the new count. The window TTL is set on the first failure only.
func (r *AttemptRepository) RecordLoginFailure(ctx context.Context, email string, window time.Duration) (int64, error) {
	return r.increment(ctx, loginKey(email), window)
}

// LoginFailures returns the current failure count for an email.
func (r *AttemptRepository) LoginFailures(ctx context.Context, email string) (int64, error) {
	return r.count(ctx, loginKey(email))
}

// ClearLoginFailures resets the counter after a successful login.
func (r *AttemptRepository) ClearLoginFailures(ctx context.Context, email string) error {
	return r.clear(ctx, loginKey(email))
}

// RecordMFAFailure increments the MFA code failure counter for a user.
func (r *AttemptRepository) RecordMFAFailure(ctx context.Context, userID string, window time.Duration) (int64, error) {
	return r.increment(ctx, mfaKey(userID), window)
}

// MFAFailures returns the current MFA failure count for a user.
func (r *AttemptRepository) MFAFailures(ctx context.Context, userID string) (int64, error) {
	return r.count(ctx, mfaKey(userID))
}

// ClearMFAFailures resets the counter after a successful verification.
func (r *AttemptRepository) ClearMFAFailures(ctx context.Context, userID string) error {
	return r.clear(ctx, mfaKey(userID))
}

func (r *AttemptRepository) increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	if r.client == nil {
		return 0, nil
	}

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (r *AttemptRepository) count(ctx context.Context, key string) (int64, error) {
	if r.client == nil {
		return 0, nil
	}

	n, err := r.client.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	return n, nil
}

func (r *AttemptRepository) clear(ctx context.Context, key string) error {
	if r.client == nil {
		return nil
	}

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *AttemptRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
