package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/core/port"
	"github.com/castellan-io/castellan/internal/infra/config"
	"github.com/castellan-io/castellan/internal/repository"
)

// SessionService enforces session lifetime policy: a hard TTL fixed at
// creation and a sliding idle window measured from the last recorded
// activity.
type SessionService struct {
	cfg      *config.AppConfig
	sessions port.SessionRepository
	tokens   port.TokenRepository
	logger   *zap.Logger
	now      func() time.Time
}

func NewSessionService(
	cfg *config.AppConfig,
	sessions port.SessionRepository,
	tokens port.TokenRepository,
	logger *zap.Logger,
) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		cfg:      cfg,
		sessions: sessions,
		tokens:   tokens,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock for deterministic tests.
func (s *SessionService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// IsSessionValid reports whether the user's session may keep serving
// requests. A session that has gone idle past the configured window is
// revoked as a side effect, so a later check cannot resurrect it. Unknown
// sessions (including sessions owned by someone else) are simply invalid,
// not an error.
func (s *SessionService) IsSessionValid(ctx context.Context, userID, sessionID string) (bool, error) {
	session, err := s.sessions.GetForUser(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get session: %w", err)
	}

	now := s.now()
	if !session.IsLive(now) {
		return false, nil
	}

	if now.Sub(session.IdleSince()) > s.cfg.Session.IdleTimeout {
		if err := s.sessions.Revoke(ctx, sessionID, "", now); err != nil {
			s.logger.Warn("revoke idle session failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		if s.tokens != nil {
			if _, err := s.tokens.RevokeBySession(ctx, sessionID, "", "idle_timeout", now); err != nil {
				s.logger.Warn("revoke idle session tokens failed", zap.String("session_id", sessionID), zap.Error(err))
			}
		}
		return false, nil
	}

	return true, nil
}

// RemainingTime returns how long the session has left before the earlier of
// its hard expiry and its idle deadline. Zero for invalid or unknown
// sessions.
func (s *SessionService) RemainingTime(ctx context.Context, sessionID string) (time.Duration, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get session: %w", err)
	}

	now := s.now()
	if !session.IsLive(now) {
		return 0, nil
	}

	hardRemaining := session.ExpiresAt.Sub(now)
	idleRemaining := s.cfg.Session.IdleTimeout - now.Sub(session.IdleSince())

	remaining := hardRemaining
	if idleRemaining < remaining {
		remaining = idleRemaining
	}
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// TouchActivity slides the idle window by recording activity now. Only
// valid sessions are touched; a touch cannot revive an expired one.
func (s *SessionService) TouchActivity(ctx context.Context, userID, sessionID string) error {
	valid, err := s.IsSessionValid(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if !valid {
		return ErrSessionInvalid
	}

	if err := s.sessions.Touch(ctx, sessionID, s.now()); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// GetForUser fetches one of the user's sessions; callers use it to verify
// ownership before acting on a session id taken from a request.
func (s *SessionService) GetForUser(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	session, err := s.sessions.GetForUser(ctx, userID, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("get session for user: %w", err)
	}
	return session, nil
}

// ListActive returns the user's live sessions, most recently used first.
func (s *SessionService) ListActive(ctx context.Context, userID string) ([]domain.Session, error) {
	sessions, err := s.sessions.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	now := s.now()
	live := sessions[:0]
	for _, session := range sessions {
		if session.IsLive(now) && now.Sub(session.IdleSince()) <= s.cfg.Session.IdleTimeout {
			live = append(live, session)
		}
	}
	return live, nil
}

// RevokeAllForUser terminates every session for the user, optionally sparing
// the caller's own, and cascades to the refresh tokens of those sessions.
func (s *SessionService) RevokeAllForUser(ctx context.Context, userID, exceptSessionID, revokedBy, reason string) (int, error) {
	now := s.now()

	// Snapshot the targets before revoking so the token cascade can spare
	// the excepted session's tokens.
	var targets []string
	if exceptSessionID != "" && s.tokens != nil {
		active, err := s.sessions.ListActiveByUser(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("list sessions: %w", err)
		}
		for _, session := range active {
			if session.ID != exceptSessionID {
				targets = append(targets, session.ID)
			}
		}
	}

	count, err := s.sessions.RevokeAllForUser(ctx, userID, exceptSessionID, revokedBy, now)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions for user: %w", err)
	}

	if s.tokens != nil && count > 0 {
		if exceptSessionID == "" {
			if _, err := s.tokens.RevokeAllForUser(ctx, userID, reason, now); err != nil {
				s.logger.Warn("revoke tokens after bulk session revoke failed", zap.String("user_id", userID), zap.Error(err))
			}
		} else {
			for _, sessionID := range targets {
				if _, err := s.tokens.RevokeBySession(ctx, sessionID, revokedBy, reason, now); err != nil {
					s.logger.Warn("revoke session tokens failed", zap.String("session_id", sessionID), zap.Error(err))
				}
			}
		}
	}

	return count, nil
}
