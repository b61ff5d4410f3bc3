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

const verificationTokenBytes = 32

// RegistrationInput carries everything Register needs from the caller.
// OrganizationName is optional; when present a tenant is created and the new
// user becomes its admin.
type RegistrationInput struct {
	Email            string
	Password         string
	OrganizationName string
	Device           domain.DeviceInfo
}

// RegistrationService creates accounts: password policy, duplicate email
// rejection, optional tenant bootstrap, verification token issuance, and the
// initial token pair.
type RegistrationService struct {
	cfg       *config.AppConfig
	users     port.UserRepository
	hasher    *security.PasswordHasher
	validator *security.PasswordValidator
	tokens    *TokenService
	tenants   *TenantService
	notifier  port.Notifier
	logger    *zap.Logger
	now       func() time.Time
}

func NewRegistrationService(
	cfg *config.AppConfig,
	users port.UserRepository,
	hasher *security.PasswordHasher,
	validator *security.PasswordValidator,
	tokens *TokenService,
	tenants *TenantService,
	notifier port.Notifier,
	log *zap.Logger,
) *RegistrationService {
	if log == nil {
		log = zap.NewNop()
	}
	if validator == nil {
		validator = security.DefaultPasswordValidator()
	}
	return &RegistrationService{
		cfg:       cfg,
		users:     users,
		hasher:    hasher,
		validator: validator,
		tokens:    tokens,
		tenants:   tenants,
		notifier:  notifier,
		logger:    log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock for deterministic tests.
func (s *RegistrationService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Register creates the user, seeds password history with the initial hash,
// optionally creates an organization tenant, stores an email verification
// token, and issues the first token pair. The verification email is
// fire-and-forget.
func (s *RegistrationService) Register(ctx context.Context, input RegistrationInput) (*domain.TokenPair, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	if err := s.validator.Validate(input.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	user := domain.User{
		ID:                 uuid.NewString(),
		Email:              email,
		PasswordHash:       hash,
		Role:               domain.UserRoleUser,
		IsActive:           true,
		CreatedAt:          now,
		LastPasswordChange: now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.users.AddPasswordHistory(ctx, domain.UserPasswordHistory{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		PasswordHash: hash,
		SetAt:        now,
	}); err != nil {
		s.logger.Warn("seed password history failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	if org := strings.TrimSpace(input.OrganizationName); org != "" && s.tenants != nil {
		// Tenant bootstrap is part of the registration contract when an
		// organization name is supplied; a failure here fails the whole call.
		if _, err := s.tenants.CreateTenant(ctx, org, user.ID); err != nil {
			s.logger.Warn("create organization tenant failed",
				zap.String("user_id", user.ID),
				zap.String("organization", org),
				zap.Error(err),
			)
			return nil, fmt.Errorf("create organization tenant: %w", err)
		}
	}

	s.issueVerificationToken(ctx, user.ID, email)

	pair, err := s.tokens.IssueTokenPair(ctx, user.ID, input.Device)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("email", logger.MaskEmail(email)),
	)

	return pair, nil
}

// VerifyEmail redeems a pending email verification token.
func (s *RegistrationService) VerifyEmail(ctx context.Context, userID, token string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	pending := user.PendingTokens
	if pending.EmailVerificationHash == nil || pending.EmailVerificationExpires == nil {
		return ErrInvalidOrExpiredToken
	}
	if pending.EmailVerificationExpires.Before(s.now()) {
		return ErrInvalidOrExpiredToken
	}
	if security.HashToken(token) != *pending.EmailVerificationHash {
		return ErrInvalidOrExpiredToken
	}

	if err := s.users.MarkEmailVerified(ctx, userID); err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	if err := s.users.SetPendingToken(ctx, userID, port.TokenPurposeEmailVerification, "", time.Time{}); err != nil {
		return fmt.Errorf("clear verification token: %w", err)
	}

	return nil
}

func (s *RegistrationService) issueVerificationToken(ctx context.Context, userID, email string) {
	token, err := security.GenerateSecureToken(verificationTokenBytes)
	if err != nil {
		s.logger.Warn("generate verification token failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	expires := s.now().Add(24 * time.Hour)
	if err := s.users.SetPendingToken(ctx, userID, port.TokenPurposeEmailVerification, security.HashToken(token), expires); err != nil {
		s.logger.Warn("store verification token failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	if s.notifier != nil {
		if err := s.notifier.SendEmailVerification(ctx, email, token); err != nil {
			s.logger.Warn("send verification email failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}
