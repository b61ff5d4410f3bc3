package domain

import "time"

// LoginEvent represents the payload for castellan.auth.login messages.
type LoginEvent struct {
	EventID   string
	UserID    string
	Email     string
	Succeeded bool
	Reason    string
	Locked    bool
	IPAddress *string
	UserAgent *string
	At        time.Time
}

// TokenPairIssuedEvent represents the payload for castellan.token.issued messages.
type TokenPairIssuedEvent struct {
	EventID   string
	UserID    string
	SessionID string
	Source    string
	At        time.Time
}

// RefreshRotatedEvent represents the payload for castellan.token.rotated messages.
type RefreshRotatedEvent struct {
	EventID    string
	UserID     string
	SessionID  string
	OldTokenID string
	NewTokenID string
	At         time.Time
}

// RefreshReuseDetectedEvent represents the payload for castellan.token.reuse_detected
// messages, emitted when an already-rotated refresh token is replayed.
type RefreshReuseDetectedEvent struct {
	EventID        string
	UserID         string
	SessionID      string
	TokenID        string
	ChainRevoked   int
	SessionRevoked bool
	At             time.Time
}

// SessionRevokedEvent represents the payload for castellan.session.revoked messages.
type SessionRevokedEvent struct {
	EventID       string
	SessionID     string
	UserID        string
	RevokedBy     string
	Reason        string
	TokensRevoked int
	At            time.Time
}

// PasswordChangedEvent represents the payload for castellan.password.changed messages.
type PasswordChangedEvent struct {
	EventID         string
	UserID          string
	ChangedBy       string
	Method          string
	SessionsRevoked int
	TokensRevoked   int
	At              time.Time
}

// AccessDecisionEvent represents the payload for castellan.access.decision messages,
// one per tenant access guard evaluation.
type AccessDecisionEvent struct {
	EventID  string
	UserID   string
	TenantID string
	Allowed  bool
	Reason   string
	Roles    []string
	At       time.Time
}
