package redis

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"
)

const (
	defaultOTPPrefix = "castellan:otp"
	maxOTPAttempts   = 5

	fieldCode     = "code"
	fieldAttempts = "attempts"
)

// OTPStore persists short-lived password-reset OTP codes in Redis, keyed by
// user. Redis key TTL realizes the code expiry; a bounded attempt counter
// prevents online brute force of a live code.
type OTPStore struct {
	client *red.Client
	prefix string
}

// NewOTPStore constructs an OTPStore with the provided Redis client and key prefix.
func NewOTPStore(client *red.Client, keyPrefix string) *OTPStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultOTPPrefix
	}
	return &OTPStore{client: client, prefix: prefix}
}

// Put stores a code for the user with the supplied TTL, replacing any previous code.
func (s *OTPStore) Put(ctx context.Context, userID, code string, ttl time.Duration) error {
	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	switch {
	case userID == "":
		return errors.New("user id is required")
	case code == "":
		return errors.New("code is required")
	case ttl <= 0:
		return errors.New("ttl must be positive")
	}

	key := s.key(userID)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]any{
		fieldCode:     code,
		fieldAttempts: "0",
	})
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store otp: %w", err)
	}

	return nil
}

// Verify consumes one attempt against the stored code. It reports whether the
// code matched and whether any code was present. The code is deleted on match
// and once the attempt budget is exhausted.
func (s *OTPStore) Verify(ctx context.Context, userID, code string) (bool, bool, error) {
	key := s.key(strings.TrimSpace(userID))
	code = strings.TrimSpace(code)

	stored, err := s.client.HGet(ctx, key, fieldCode).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("redis fetch otp: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) == 1 {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return false, true, fmt.Errorf("redis consume otp: %w", err)
		}
		return true, true, nil
	}

	attempts, err := s.client.HIncrBy(ctx, key, fieldAttempts, 1).Result()
	if err != nil {
		return false, true, fmt.Errorf("redis bump otp attempts: %w", err)
	}
	if attempts >= maxOTPAttempts {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return false, true, fmt.Errorf("redis expire otp: %w", err)
		}
	}

	return false, true, nil
}

// Delete removes any stored code for the user.
func (s *OTPStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(strings.TrimSpace(userID))).Err(); err != nil {
		return fmt.Errorf("redis delete otp: %w", err)
	}
	return nil
}

func (s *OTPStore) key(userID string) string {
	return s.prefix + ":" + userID
}
