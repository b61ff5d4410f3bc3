package port

import (
	"context"
	"time"

	"github.com/castellan-io/castellan/internal/core/domain"
)

// TokenRepository manages persisted refresh token records.
type TokenRepository interface {
	Create(ctx context.Context, token domain.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	GetByID(ctx context.Context, id string) (*domain.RefreshToken, error)
	// Revoke transitions exactly one live token to revoked. When the token
	// exists but was already revoked by another writer it returns
	// repository.ErrAlreadyRevoked; rotation relies on that signal to tell
	// its own revoke apart from a concurrent one.
	Revoke(ctx context.Context, id string, revokedBy, reason string, at time.Time) error
	SetReplacedBy(ctx context.Context, id string, replacedByID string) error
	RevokeBySession(ctx context.Context, sessionID string, revokedBy, reason string, at time.Time) (int, error)
	RevokeAllForUser(ctx context.Context, userID string, reason string, at time.Time) (int, error)
}
