package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/core/port"
	"github.com/castellan-io/castellan/internal/infra/config"
	"github.com/castellan-io/castellan/internal/infra/logger"
	"github.com/castellan-io/castellan/internal/infra/security"
	"github.com/castellan-io/castellan/internal/repository"
)

// AuthService orchestrates credential-based login, token refresh, and logout.
// Token minting and session policy live in TokenService and SessionService;
// this service owns the login state machine and its lockout bookkeeping.
type AuthService struct {
	cfg      *config.AppConfig
	users    port.UserRepository
	hasher   *security.PasswordHasher
	codec    *security.TokenCodec
	tokens   *TokenService
	sessions *SessionService
	audit    port.AuditPublisher
	logger   *zap.Logger
	now      func() time.Time
}

func NewAuthService(
	cfg *config.AppConfig,
	users port.UserRepository,
	hasher *security.PasswordHasher,
	codec *security.TokenCodec,
	tokens *TokenService,
	sessions *SessionService,
	audit port.AuditPublisher,
	log *zap.Logger,
) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		cfg:      cfg,
		users:    users,
		hasher:   hasher,
		codec:    codec,
		tokens:   tokens,
		sessions: sessions,
		audit:    audit,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock for deterministic tests.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
	if s.tokens != nil {
		s.tokens.WithClock(clock)
	}
	if s.sessions != nil {
		s.sessions.WithClock(clock)
	}
}

// Login runs the credential state machine:
//  1. unknown email fails with the same generic error as a wrong password,
//  2. a live lockout wins over password correctness,
//  3. a mismatch bumps the failed counter and arms the lockout at the
//     configured threshold,
//  4. success resets the counter, stamps last login, and issues a pair.
func (s *AuthService) Login(ctx context.Context, email, password string, device domain.DeviceInfo) (*domain.TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.publishLogin(ctx, "", email, false, "unknown_email", false, device)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	now := s.now()
	if user.IsLocked(now) {
		s.publishLogin(ctx, user.ID, email, false, "account_locked", true, device)
		return nil, ErrAccountLocked
	}

	match, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !match {
		locked := s.recordFailedAttempt(ctx, user.ID)
		s.publishLogin(ctx, user.ID, email, false, "password_mismatch", locked, device)
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		s.publishLogin(ctx, user.ID, email, false, "account_inactive", false, device)
		return nil, ErrAccountInactive
	}

	if err := s.users.ResetLoginState(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("reset login state: %w", err)
	}

	pair, err := s.tokens.IssueTokenPair(ctx, user.ID, device)
	if err != nil {
		return nil, err
	}

	s.publishLogin(ctx, user.ID, email, true, "", false, device)
	s.logger.Info("login succeeded",
		zap.String("user_id", user.ID),
		zap.String("email", logger.MaskEmail(email)),
		zap.String("session_id", pair.SessionID),
	)

	return pair, nil
}

// Refresh exchanges a valid refresh token for a fresh pair bound to the same
// session. The presented token is revoked no matter the outcome; session
// state is authoritative, so a dead session fails the refresh even when the
// token row itself still looks valid.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.codec.Parse(refreshToken, security.TokenTypeRefresh)
	if err != nil {
		if errors.Is(err, security.ErrExpiredToken) {
			return nil, ErrRefreshTokenExpired
		}
		return nil, ErrRefreshTokenInvalid
	}

	userID := claims.UserID()
	sessionID := claims.SessionID

	valid, err := s.sessions.IsSessionValid(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !valid {
		// The token must not survive its session.
		if revokeErr := s.tokens.RevokeRefreshToken(ctx, refreshToken, "", "session_invalid"); revokeErr != nil && !errors.Is(revokeErr, ErrRefreshTokenInvalid) {
			s.logger.Warn("revoke refresh token for dead session failed", zap.String("session_id", sessionID), zap.Error(revokeErr))
		}
		return nil, ErrSessionInvalid
	}

	newRefresh, err := s.tokens.RotateRefreshToken(ctx, refreshToken, userID, sessionID)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.tokens.IssueAccessToken(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.TouchActivity(ctx, userID, sessionID); err != nil {
		s.logger.Warn("touch session after refresh failed", zap.String("session_id", sessionID), zap.Error(err))
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
		SessionID:    sessionID,
		User:         user.Summary(),
	}, nil
}

// Logout terminates the session and every refresh token bound to it.
func (s *AuthService) Logout(ctx context.Context, userID, sessionID string) error {
	if _, err := s.sessions.GetForUser(ctx, userID, sessionID); err != nil {
		return err
	}

	if _, err := s.tokens.RevokeSession(ctx, sessionID, userID, "logout"); err != nil {
		return err
	}

	return nil
}

// LogoutOtherDevices revokes every session for the user except the caller's
// own, with the token cascade.
func (s *AuthService) LogoutOtherDevices(ctx context.Context, userID, keepSessionID string) (int, error) {
	return s.sessions.RevokeAllForUser(ctx, userID, keepSessionID, userID, "logout_other_devices")
}

// recordFailedAttempt bumps the counter atomically and arms the lockout when
// the configured threshold is crossed. Returns whether the account locked.
func (s *AuthService) recordFailedAttempt(ctx context.Context, userID string) bool {
	attempts, err := s.users.IncrementFailedAttempts(ctx, userID)
	if err != nil {
		s.logger.Warn("increment failed attempts failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}

	if attempts < s.cfg.Login.MaxFailedAttempts {
		return false
	}

	until := s.now().Add(s.cfg.Login.LockoutDuration)
	if err := s.users.SetLockout(ctx, userID, until); err != nil {
		s.logger.Warn("set lockout failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}

	s.logger.Warn("account locked after repeated failures",
		zap.String("user_id", userID),
		zap.Int("attempts", attempts),
		zap.Time("locked_until", until),
	)
	return true
}

func (s *AuthService) publishLogin(ctx context.Context, userID, email string, succeeded bool, reason string, locked bool, device domain.DeviceInfo) {
	if s.audit == nil {
		return
	}
	event := domain.LoginEvent{
		EventID:   uuid.NewString(),
		UserID:    userID,
		Email:     email,
		Succeeded: succeeded,
		Reason:    reason,
		Locked:    locked,
		IPAddress: device.IP,
		UserAgent: device.UserAgent,
		At:        s.now(),
	}
	if err := s.audit.PublishLogin(ctx, event); err != nil {
		s.logger.Warn("publish login event failed", zap.Error(err))
	}
}
