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
	"github.com/castellan-io/castellan/internal/infra/security"
	"github.com/castellan-io/castellan/internal/repository"
)

const (
	reasonRotated       = "rotated"
	reasonReuseDetected = "reuse_detected"
	reasonSessionRevoke = "session_revoked"
)

// TokenService issues, verifies, rotates, and revokes token pairs. Refresh
// tokens are single-use: every rotation revokes the presented token and links
// it to its successor so replay of a rotated token is detectable.
type TokenService struct {
	cfg      *config.AppConfig
	codec    *security.TokenCodec
	users    port.UserRepository
	sessions port.SessionRepository
	tokens   port.TokenRepository
	tenants  port.TenantRepository
	audit    port.AuditPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewTokenService constructs a TokenService. The configured token TTLs must be
// positive; issuance is refused otherwise (fail closed rather than minting
// credentials with undefined lifetimes).
func NewTokenService(
	cfg *config.AppConfig,
	codec *security.TokenCodec,
	users port.UserRepository,
	sessions port.SessionRepository,
	tokens port.TokenRepository,
	tenants port.TenantRepository,
	audit port.AuditPublisher,
	logger *zap.Logger,
) (*TokenService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.JWT.AccessTokenTTL <= 0 {
		return nil, fmt.Errorf("config: jwt.access_token_ttl must be positive, got %s", cfg.JWT.AccessTokenTTL)
	}
	if cfg.JWT.RefreshTokenTTL <= 0 {
		return nil, fmt.Errorf("config: jwt.refresh_token_ttl must be positive, got %s", cfg.JWT.RefreshTokenTTL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &TokenService{
		cfg:      cfg,
		codec:    codec,
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		tenants:  tenants,
		audit:    audit,
		logger:   logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service, nil
}

// WithClock overrides the service clock for deterministic tests.
func (s *TokenService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// IssueTokenPair creates a new session for the device and mints an
// access/refresh pair bound to it. Claims are computed fresh from the user's
// current role and tenant memberships, never cached.
func (s *TokenService) IssueTokenPair(ctx context.Context, userID string, device domain.DeviceInfo) (*domain.TokenPair, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	now := s.now()
	session := domain.Session{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.Session.HardTTL),
		LastUsedAt: now,
		IsActive:   true,
		Device:     device,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	pair, err := s.issuePairForSession(ctx, user, session.ID)
	if err != nil {
		return nil, err
	}

	s.publishIssued(ctx, user.ID, session.ID, "login")

	return pair, nil
}

// VerifyRefreshTokenValidity reports whether the supplied refresh token can
// still be presented: signature verifies, a non-revoked row exists, and that
// row has not expired. An expired-but-present row is proactively revoked.
func (s *TokenService) VerifyRefreshTokenValidity(ctx context.Context, token string) (bool, error) {
	if _, err := s.codec.Parse(token, security.TokenTypeRefresh); err != nil {
		return false, nil
	}

	record, err := s.tokens.GetByHash(ctx, security.HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup refresh token: %w", err)
	}

	if record.Revoked {
		return false, nil
	}

	if record.IsExpired(s.now()) {
		if err := s.tokens.Revoke(ctx, record.ID, "", "expired", s.now()); err != nil && !errors.Is(err, repository.ErrAlreadyRevoked) {
			s.logger.Warn("revoke expired refresh token failed", zap.String("token_id", record.ID), zap.Error(err))
		}
		return false, nil
	}

	return true, nil
}

// RotateRefreshToken revokes the presented token and issues a successor for
// the same session with freshly recomputed claims. Presenting an
// already-rotated token is treated as a theft signal: the entire rotation
// chain descending from it is revoked along with the session.
func (s *TokenService) RotateRefreshToken(ctx context.Context, oldToken, userID, sessionID string) (string, error) {
	record, err := s.tokens.GetByHash(ctx, security.HashToken(oldToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrRefreshTokenInvalid
		}
		return "", fmt.Errorf("lookup refresh token: %w", err)
	}

	if record.UserID != userID || record.SessionID != sessionID {
		return "", ErrRefreshTokenInvalid
	}

	now := s.now()

	if record.Revoked {
		// Two writers can both pass the not-yet-revoked check before either
		// commits; the loser lands here and so does an attacker replaying a
		// stolen, already-rotated token. Contain both the same way.
		s.handleReuse(ctx, record)
		return "", ErrRefreshTokenRevoked
	}
	if record.IsExpired(now) {
		if err := s.tokens.Revoke(ctx, record.ID, "", "expired", now); err != nil && !errors.Is(err, repository.ErrAlreadyRevoked) {
			s.logger.Warn("revoke expired refresh token failed", zap.String("token_id", record.ID), zap.Error(err))
		}
		return "", ErrRefreshTokenExpired
	}

	// Revoke first: the presented token must die regardless of what issuance does.
	if err := s.tokens.Revoke(ctx, record.ID, userID, reasonRotated, now); err != nil {
		if errors.Is(err, repository.ErrAlreadyRevoked) {
			// Our read of the row was stale: a concurrent rotation won the
			// guarded update between our GetByHash and this revoke. Re-read so
			// the chain walk sees the winner's successor link, then contain it
			// exactly like a replayed token.
			fresh, getErr := s.tokens.GetByID(ctx, record.ID)
			if getErr != nil {
				fresh = record
			}
			s.handleReuse(ctx, fresh)
			return "", ErrRefreshTokenRevoked
		}
		return "", fmt.Errorf("revoke rotated token: %w", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}

	_, newTokenID, refreshToken, err := s.issueRefreshToken(ctx, user, sessionID)
	if err != nil {
		return "", err
	}

	if err := s.tokens.SetReplacedBy(ctx, record.ID, newTokenID); err != nil {
		s.logger.Warn("link rotation chain failed", zap.String("token_id", record.ID), zap.Error(err))
	}

	if s.audit != nil {
		event := domain.RefreshRotatedEvent{
			EventID:    uuid.NewString(),
			UserID:     userID,
			SessionID:  sessionID,
			OldTokenID: record.ID,
			NewTokenID: newTokenID,
			At:         now,
		}
		if err := s.audit.PublishRefreshRotated(ctx, event); err != nil {
			s.logger.Warn("publish refresh rotated failed", zap.Error(err))
		}
	}

	return refreshToken, nil
}

// IssueAccessToken mints a fresh access token for an existing session,
// recomputing claims from current role and memberships.
func (s *TokenService) IssueAccessToken(ctx context.Context, userID, sessionID string) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}

	claims, err := s.buildClaims(ctx, user, sessionID, security.TokenTypeAccess)
	if err != nil {
		return "", err
	}

	signed, err := s.codec.Sign(*claims, s.cfg.JWT.AccessTokenTTL)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return signed, nil
}

// RevokeRefreshToken marks the presented refresh token terminal.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, token, revokedBy, reason string) error {
	record, err := s.tokens.GetByHash(ctx, security.HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRefreshTokenInvalid
		}
		return fmt.Errorf("lookup refresh token: %w", err)
	}

	if err := s.tokens.Revoke(ctx, record.ID, revokedBy, reason, s.now()); err != nil {
		// Revoking an already-dead token is the outcome the caller wanted.
		if errors.Is(err, repository.ErrAlreadyRevoked) {
			return nil
		}
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	return nil
}

// RevokeSession terminates the session and cascades to every refresh token
// bound to it. The cascade lives here, in one use-case function, rather than
// relying on call-site discipline.
func (s *TokenService) RevokeSession(ctx context.Context, sessionID, revokedBy, reason string) (int, error) {
	now := s.now()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrSessionInvalid
		}
		return 0, fmt.Errorf("get session: %w", err)
	}

	if err := s.sessions.Revoke(ctx, sessionID, revokedBy, now); err != nil {
		return 0, fmt.Errorf("revoke session: %w", err)
	}

	tokensRevoked, err := s.tokens.RevokeBySession(ctx, sessionID, revokedBy, reasonSessionRevoke, now)
	if err != nil {
		return 0, fmt.Errorf("revoke session tokens: %w", err)
	}

	if s.audit != nil {
		event := domain.SessionRevokedEvent{
			EventID:       uuid.NewString(),
			SessionID:     sessionID,
			UserID:        session.UserID,
			RevokedBy:     revokedBy,
			Reason:        reason,
			TokensRevoked: tokensRevoked,
			At:            now,
		}
		if err := s.audit.PublishSessionRevoked(ctx, event); err != nil {
			s.logger.Warn("publish session revoked failed", zap.Error(err))
		}
	}

	return tokensRevoked, nil
}

// RevokeAllUserTokens bulk-revokes every live refresh token for the user.
// Used when a password changes: force re-login everywhere.
func (s *TokenService) RevokeAllUserTokens(ctx context.Context, userID, reason string) (int, error) {
	count, err := s.tokens.RevokeAllForUser(ctx, userID, reason, s.now())
	if err != nil {
		return 0, fmt.Errorf("revoke tokens for user: %w", err)
	}
	return count, nil
}

func (s *TokenService) issuePairForSession(ctx context.Context, user *domain.User, sessionID string) (*domain.TokenPair, error) {
	accessClaims, err := s.buildClaims(ctx, user, sessionID, security.TokenTypeAccess)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.codec.Sign(*accessClaims, s.cfg.JWT.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	_, _, refreshToken, err := s.issueRefreshToken(ctx, user, sessionID)
	if err != nil {
		return nil, err
	}

	pair := &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		SessionID:    sessionID,
		User:         user.Summary(),
	}

	return pair, nil
}

func (s *TokenService) issueRefreshToken(ctx context.Context, user *domain.User, sessionID string) (*domain.RefreshToken, string, string, error) {
	claims, err := s.buildClaims(ctx, user, sessionID, security.TokenTypeRefresh)
	if err != nil {
		return nil, "", "", err
	}

	signed, err := s.codec.Sign(*claims, s.cfg.JWT.RefreshTokenTTL)
	if err != nil {
		return nil, "", "", fmt.Errorf("sign refresh token: %w", err)
	}

	now := s.now()
	record := domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		SessionID: sessionID,
		TokenHash: security.HashToken(signed),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.JWT.RefreshTokenTTL),
	}

	if err := s.tokens.Create(ctx, record); err != nil {
		return nil, "", "", fmt.Errorf("store refresh token: %w", err)
	}

	return &record, record.ID, signed, nil
}

func (s *TokenService) buildClaims(ctx context.Context, user *domain.User, sessionID string, tokenType security.TokenType) (*security.Claims, error) {
	memberships, err := s.tenants.ListMembershipsForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list tenant memberships: %w", err)
	}

	tenantAccess := make([]string, 0, len(memberships))
	for _, membership := range memberships {
		tenantAccess = append(tenantAccess, membership.TenantID)
	}

	claims := &security.Claims{
		Email:        user.Email,
		Role:         string(user.Role),
		TenantID:     user.DefaultTenantID,
		TenantAccess: tenantAccess,
		SessionID:    sessionID,
		TokenType:    tokenType,
	}
	claims.Subject = user.ID

	return claims, nil
}

// handleReuse contains a replayed, already-rotated token: walk the
// replaced_by_token chain revoking every descendant, then kill the session.
func (s *TokenService) handleReuse(ctx context.Context, record *domain.RefreshToken) {
	now := s.now()
	chainRevoked := 0

	seen := map[string]bool{record.ID: true}
	current := record
	for current.ReplacedByToken != nil {
		nextID := strings.TrimSpace(*current.ReplacedByToken)
		if nextID == "" || seen[nextID] {
			break
		}
		seen[nextID] = true

		next, err := s.tokens.GetByID(ctx, nextID)
		if err != nil {
			s.logger.Warn("walk rotation chain failed", zap.String("token_id", nextID), zap.Error(err))
			break
		}
		if !next.Revoked {
			switch err := s.tokens.Revoke(ctx, next.ID, "", reasonReuseDetected, now); {
			case err == nil:
				chainRevoked++
			case errors.Is(err, repository.ErrAlreadyRevoked):
				// Another containment path got there first.
			default:
				s.logger.Warn("revoke chain descendant failed", zap.String("token_id", next.ID), zap.Error(err))
			}
		}
		current = next
	}

	sessionRevoked := false
	if err := s.sessions.Revoke(ctx, record.SessionID, "", now); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("revoke session after reuse failed", zap.String("session_id", record.SessionID), zap.Error(err))
		}
	} else {
		sessionRevoked = true
		if _, err := s.tokens.RevokeBySession(ctx, record.SessionID, "", reasonReuseDetected, now); err != nil {
			s.logger.Warn("revoke session tokens after reuse failed", zap.String("session_id", record.SessionID), zap.Error(err))
		}
	}

	s.logger.Warn("refresh token reuse detected",
		zap.String("user_id", record.UserID),
		zap.String("session_id", record.SessionID),
		zap.String("token_id", record.ID),
		zap.Int("chain_revoked", chainRevoked),
	)

	if s.audit != nil {
		event := domain.RefreshReuseDetectedEvent{
			EventID:        uuid.NewString(),
			UserID:         record.UserID,
			SessionID:      record.SessionID,
			TokenID:        record.ID,
			ChainRevoked:   chainRevoked,
			SessionRevoked: sessionRevoked,
			At:             now,
		}
		if err := s.audit.PublishRefreshReuseDetected(ctx, event); err != nil {
			s.logger.Warn("publish reuse detected failed", zap.Error(err))
		}
	}
}

func (s *TokenService) publishIssued(ctx context.Context, userID, sessionID, source string) {
	if s.audit == nil {
		return
	}
	event := domain.TokenPairIssuedEvent{
		EventID:   uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Source:    source,
		At:        s.now(),
	}
	if err := s.audit.PublishTokenPairIssued(ctx, event); err != nil {
		s.logger.Warn("publish token pair issued failed", zap.Error(err))
	}
}
