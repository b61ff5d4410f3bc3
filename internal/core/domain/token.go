package domain

import "time"

// RefreshToken represents a persisted, single-use refresh token (stored as a hash).
// Rotation links each token to its successor through ReplacedByToken, forming a
// chain that makes replay of an already-rotated token detectable.
type RefreshToken struct {
	ID              string
	UserID          string
	SessionID       string
	TokenHash       string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	Revoked         bool
	RevokedAt       *time.Time
	RevokedBy       *string
	RevokeReason    *string
	ReplacedByToken *string
}

// IsExpired reports whether the token has elapsed its validity window.
func (t RefreshToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// IsUsable reports whether the token can still be presented for rotation.
func (t RefreshToken) IsUsable(at time.Time) bool {
	return !t.Revoked && !t.IsExpired(at)
}

// Revoke marks the token terminal. Returns true when the state changed.
func (t *RefreshToken) Revoke(at time.Time, revokedBy, reason string) bool {
	if t.Revoked {
		return false
	}
	t.Revoked = true
	t.RevokedAt = &at
	if revokedBy != "" {
		by := revokedBy
		t.RevokedBy = &by
	}
	if reason != "" {
		r := reason
		t.RevokeReason = &r
	}
	return true
}

// TokenPair bundles the credentials returned by issuance and rotation.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
	User         UserSummary
}
