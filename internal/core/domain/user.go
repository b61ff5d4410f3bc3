package domain

import "time"

// UserRole enumerates platform-level roles carried in token claims.
type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

// User mirrors the persisted representation in the users table.
type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	Role                UserRole
	IsActive            bool
	EmailVerified       bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	DefaultTenantID     *string
	MFA                 MFAConfig
	PendingTokens       PendingTokens
	CreatedAt           time.Time
	LastLogin           *time.Time
	LastPasswordChange  time.Time
}

// IsLocked reports whether the account is under a lockout window at the supplied moment.
func (u User) IsLocked(at time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(at)
}

// PendingTokens groups the single-use token hashes stored on the user row.
// Each token carries its own expiry and is cleared once redeemed.
type PendingTokens struct {
	EmailVerificationHash    *string
	EmailVerificationExpires *time.Time
	PasswordResetHash        *string
	PasswordResetExpires     *time.Time
	RecoveryHash             *string
	RecoveryExpires          *time.Time
}

// UserPasswordHistory tracks historical password hashes for reuse prevention.
type UserPasswordHistory struct {
	ID           string
	UserID       string
	PasswordHash string
	SetAt        time.Time
}

// UserSummary is the sanitized projection returned alongside issued tokens.
type UserSummary struct {
	ID              string
	Email           string
	Role            UserRole
	DefaultTenantID *string
	EmailVerified   bool
	MFAEnabled      bool
}

// Summary strips credential material from the user record.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:              u.ID,
		Email:           u.Email,
		Role:            u.Role,
		DefaultTenantID: u.DefaultTenantID,
		EmailVerified:   u.EmailVerified,
		MFAEnabled:      u.MFA.Enabled,
	}
}
