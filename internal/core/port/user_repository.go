package port

import (
	"context"
	"time"

	"github.com/castellan-io/castellan/internal/core/domain"
)

// UserRepository exposes persistence behavior for users and their password history.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdatePassword(ctx context.Context, id string, passwordHash string, changedAt time.Time) error
	UpdateMFA(ctx context.Context, id string, mfa domain.MFAConfig) error

	// IncrementFailedAttempts atomically bumps the failed-login counter and
	// returns the post-increment value, avoiding lost updates under concurrent
	// bad-password attempts.
	IncrementFailedAttempts(ctx context.Context, id string) (int, error)
	SetLockout(ctx context.Context, id string, until time.Time) error
	ResetLoginState(ctx context.Context, id string, lastLogin time.Time) error

	SetPendingToken(ctx context.Context, id string, purpose TokenPurpose, hash string, expiresAt time.Time) error
	ClearPendingTokens(ctx context.Context, id string) error
	MarkEmailVerified(ctx context.Context, id string) error

	AddPasswordHistory(ctx context.Context, entry domain.UserPasswordHistory) error
	ListPasswordHistory(ctx context.Context, userID string, limit int) ([]domain.UserPasswordHistory, error)
	TrimPasswordHistory(ctx context.Context, userID string, keep int) error
}

// TokenPurpose identifies which pending single-use token slot to address.
type TokenPurpose string

const (
	TokenPurposeEmailVerification TokenPurpose = "email_verification"
	TokenPurposePasswordReset     TokenPurpose = "password_reset"
	TokenPurposeRecovery          TokenPurpose = "account_recovery"
)
