package port

import (
	"context"
	"time"

	"github.com/castellan-io/castellan/internal/core/domain"
)

// SessionRepository deals with session storage.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	GetForUser(ctx context.Context, userID, sessionID string) (*domain.Session, error)
	Touch(ctx context.Context, sessionID string, at time.Time) error
	Revoke(ctx context.Context, sessionID string, revokedBy string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, exceptSessionID string, revokedBy string, at time.Time) (int, error)
	ListActiveByUser(ctx context.Context, userID string) ([]domain.Session, error)
}
