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

const (
	resetTokenBytes    = 32
	recoveryTokenBytes = 32
	resetOTPDigits     = 6
)

// PasswordService owns every flow that ends in a new password hash:
// authenticated change, emailed reset (token plus optional OTP second
// factor), and account recovery (MFA-gated when enabled). All of them share
// the same pipeline: policy check, reuse check against the last N hashes,
// store, history append, revoke every session and token.
type PasswordService struct {
	cfg       *config.AppConfig
	users     port.UserRepository
	hasher    *security.PasswordHasher
	validator *security.PasswordValidator
	tokens    *TokenService
	sessions  *SessionService
	otp       port.OTPStore
	notifier  port.Notifier
	audit     port.AuditPublisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewPasswordService(
	cfg *config.AppConfig,
	users port.UserRepository,
	hasher *security.PasswordHasher,
	validator *security.PasswordValidator,
	tokens *TokenService,
	sessions *SessionService,
	otp port.OTPStore,
	notifier port.Notifier,
	audit port.AuditPublisher,
	log *zap.Logger,
) *PasswordService {
	if log == nil {
		log = zap.NewNop()
	}
	if validator == nil {
		validator = security.DefaultPasswordValidator()
	}
	return &PasswordService{
		cfg:       cfg,
		users:     users,
		hasher:    hasher,
		validator: validator,
		tokens:    tokens,
		sessions:  sessions,
		otp:       otp,
		notifier:  notifier,
		audit:     audit,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock for deterministic tests.
func (s *PasswordService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// ChangePassword is the authenticated flow: the current password must match
// before the shared pipeline runs.
func (s *PasswordService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	match, err := s.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !match {
		return ErrInvalidCredentials
	}

	return s.applyNewPassword(ctx, user, newPassword, "change", userID)
}

// RequestPasswordReset issues a reset token and a 6-digit OTP for the
// account. An unknown email succeeds silently so the endpoint cannot be used
// to probe which addresses exist.
func (s *PasswordService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email", zap.String("email", logger.MaskEmail(email)))
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	token, err := security.GenerateSecureToken(resetTokenBytes)
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}

	expires := s.now().Add(s.cfg.Password.ResetTokenTTL)
	if err := s.users.SetPendingToken(ctx, user.ID, port.TokenPurposePasswordReset, security.HashToken(token), expires); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	otp, err := security.GenerateNumericCode(resetOTPDigits)
	if err != nil {
		return fmt.Errorf("generate reset otp: %w", err)
	}
	if err := s.otp.Put(ctx, user.ID, otp, s.cfg.Password.ResetOTPTTL); err != nil {
		return fmt.Errorf("store reset otp: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.SendPasswordResetOTP(ctx, user.Email, token, otp); err != nil {
			s.logger.Warn("send password reset failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	return nil
}

// ResetPassword redeems a reset token, with the OTP as a second factor when
// one was issued and is still live.
func (s *PasswordService) ResetPassword(ctx context.Context, email, token, otpCode, newPassword string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	pending := user.PendingTokens
	if pending.PasswordResetHash == nil || pending.PasswordResetExpires == nil {
		return ErrInvalidOrExpiredToken
	}
	if pending.PasswordResetExpires.Before(s.now()) {
		return ErrInvalidOrExpiredToken
	}
	if security.HashToken(token) != *pending.PasswordResetHash {
		return ErrInvalidOrExpiredToken
	}

	matched, present, err := s.otp.Verify(ctx, user.ID, otpCode)
	if err != nil {
		return fmt.Errorf("verify reset otp: %w", err)
	}
	if present && !matched {
		return ErrInvalidOrExpiredToken
	}

	if err := s.applyNewPassword(ctx, user, newPassword, "reset", user.ID); err != nil {
		return err
	}

	if s.notifier != nil {
		if err := s.notifier.SendPasswordResetSuccess(ctx, user.Email); err != nil {
			s.logger.Warn("send reset success notification failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	return nil
}

// RequestRecovery issues an account recovery token. Unknown emails succeed
// silently, same as reset.
func (s *PasswordService) RequestRecovery(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Info("recovery requested for unknown email", zap.String("email", logger.MaskEmail(email)))
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	token, err := security.GenerateSecureToken(recoveryTokenBytes)
	if err != nil {
		return fmt.Errorf("generate recovery token: %w", err)
	}

	expires := s.now().Add(s.cfg.Recovery.TokenTTL)
	if err := s.users.SetPendingToken(ctx, user.ID, port.TokenPurposeRecovery, security.HashToken(token), expires); err != nil {
		return fmt.Errorf("store recovery token: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.SendRecoveryNotification(ctx, user.Email, token); err != nil {
			s.logger.Warn("send recovery notification failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	return nil
}

// RecoverAccount redeems a recovery token. When the account has MFA enabled
// and enforcement is active the caller must also present a valid MFA code;
// missing or wrong codes fail closed.
func (s *PasswordService) RecoverAccount(ctx context.Context, email, token, mfaCode, newPassword string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	pending := user.PendingTokens
	if pending.RecoveryHash == nil || pending.RecoveryExpires == nil {
		return ErrInvalidOrExpiredToken
	}
	if pending.RecoveryExpires.Before(s.now()) {
		return ErrInvalidOrExpiredToken
	}
	if security.HashToken(token) != *pending.RecoveryHash {
		return ErrInvalidOrExpiredToken
	}

	if user.MFA.Enabled && s.mfaEnforced() {
		if strings.TrimSpace(mfaCode) == "" {
			return ErrMFARequired
		}
		if !verifyMFACode(user.MFA, mfaCode, s.now()) {
			return ErrInvalidMFA
		}
	}

	if err := s.applyNewPassword(ctx, user, newPassword, "recovery", user.ID); err != nil {
		return err
	}

	if s.notifier != nil {
		if err := s.notifier.SendAccountRecoverySuccess(ctx, user.Email); err != nil {
			s.logger.Warn("send recovery success notification failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	return nil
}

// applyNewPassword is the shared tail of every flow: policy, reuse check,
// store, history, then revoke everything so every device re-authenticates.
func (s *PasswordService) applyNewPassword(ctx context.Context, user *domain.User, newPassword, method, changedBy string) error {
	if err := s.validator.Validate(newPassword); err != nil {
		return err
	}

	if err := s.checkReuse(ctx, user, newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	if err := s.users.UpdatePassword(ctx, user.ID, hash, now); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	if err := s.users.ClearPendingTokens(ctx, user.ID); err != nil {
		s.logger.Warn("clear pending tokens failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	if s.otp != nil {
		if err := s.otp.Delete(ctx, user.ID); err != nil {
			s.logger.Warn("clear reset otp failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	if err := s.users.AddPasswordHistory(ctx, domain.UserPasswordHistory{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		PasswordHash: hash,
		SetAt:        now,
	}); err != nil {
		s.logger.Warn("append password history failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	if depth := s.cfg.Password.HistoryDepth; depth > 0 {
		if err := s.users.TrimPasswordHistory(ctx, user.ID, depth); err != nil {
			s.logger.Warn("trim password history failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	sessionsRevoked, err := s.sessions.RevokeAllForUser(ctx, user.ID, "", changedBy, "password_"+method)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	tokensRevoked, err := s.tokens.RevokeAllUserTokens(ctx, user.ID, "password_"+method)
	if err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}

	s.logger.Info("password changed",
		zap.String("user_id", user.ID),
		zap.String("method", method),
		zap.Int("sessions_revoked", sessionsRevoked),
		zap.Int("tokens_revoked", tokensRevoked),
	)

	if s.audit != nil {
		event := domain.PasswordChangedEvent{
			EventID:         uuid.NewString(),
			UserID:          user.ID,
			ChangedBy:       changedBy,
			Method:          method,
			SessionsRevoked: sessionsRevoked,
			TokensRevoked:   tokensRevoked,
			At:              now,
		}
		if err := s.audit.PublishPasswordChanged(ctx, event); err != nil {
			s.logger.Warn("publish password changed failed", zap.Error(err))
		}
	}

	return nil
}

// checkReuse rejects a new password colliding with the current hash or any of
// the last N history entries.
func (s *PasswordService) checkReuse(ctx context.Context, user *domain.User, newPassword string) error {
	match, err := s.hasher.Verify(newPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify against current hash: %w", err)
	}
	if match {
		return ErrPasswordReuse
	}

	depth := s.cfg.Password.HistoryDepth
	if depth <= 0 {
		return nil
	}

	history, err := s.users.ListPasswordHistory(ctx, user.ID, depth)
	if err != nil {
		return fmt.Errorf("list password history: %w", err)
	}
	for _, entry := range history {
		match, err := s.hasher.Verify(newPassword, entry.PasswordHash)
		if err != nil {
			return fmt.Errorf("verify against history: %w", err)
		}
		if match {
			return ErrPasswordReuse
		}
	}

	return nil
}

func (s *PasswordService) mfaEnforced() bool {
	return s.cfg.App.IsProduction() || s.cfg.MFA.EnforceInDev
}
