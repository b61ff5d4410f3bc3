package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/core/port"
	"github.com/castellan-io/castellan/internal/infra/config"
	"github.com/castellan-io/castellan/internal/infra/security"
	"github.com/castellan-io/castellan/internal/repository"
)

// MFAEnrollment is returned by TOTP enrollment: the shared secret plus the
// otpauth:// URI an authenticator app consumes.
type MFAEnrollment struct {
	Secret     string
	OTPAuthURL string
}

// MFAService manages multi-factor enrollment and verification. Enrollment
// stores the secret disabled; only a successful code verification flips the
// enabled flag.
type MFAService struct {
	cfg    *config.AppConfig
	users  port.UserRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewMFAService(cfg *config.AppConfig, users port.UserRepository, log *zap.Logger) *MFAService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MFAService{
		cfg:    cfg,
		users:  users,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock for deterministic tests.
func (s *MFAService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// EnrollTOTP generates a shared secret for the user and stores it without
// enabling MFA. The caller must verify a code before the factor counts.
func (s *MFAService) EnrollTOTP(ctx context.Context, userID string) (*MFAEnrollment, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	secret, url, err := security.GenerateTOTPSecret(s.cfg.JWT.Issuer, user.Email)
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	mfa := domain.MFAConfig{
		Enabled: false,
		Type:    domain.MFATypeTOTP,
		Secret:  secret,
	}
	if err := s.users.UpdateMFA(ctx, userID, mfa); err != nil {
		return nil, fmt.Errorf("store mfa config: %w", err)
	}

	return &MFAEnrollment{Secret: secret, OTPAuthURL: url}, nil
}

// EnrollSMS stores a delivered literal code as the user's SMS factor,
// disabled until verified.
func (s *MFAService) EnrollSMS(ctx context.Context, userID, code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("sms code is required")
	}

	mfa := domain.MFAConfig{
		Enabled: false,
		Type:    domain.MFATypeSMS,
		Secret:  code,
	}
	if err := s.users.UpdateMFA(ctx, userID, mfa); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("store mfa config: %w", err)
	}
	return nil
}

// VerifyEnrollment checks a code against the stored pending factor and, only
// on success, enables MFA.
func (s *MFAService) VerifyEnrollment(ctx context.Context, userID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	if user.MFA.Secret == "" || user.MFA.Type == "" {
		return ErrInvalidMFA
	}
	if !verifyMFACode(user.MFA, code, s.now()) {
		return ErrInvalidMFA
	}

	enabled := user.MFA
	enabled.Enabled = true
	if err := s.users.UpdateMFA(ctx, userID, enabled); err != nil {
		return fmt.Errorf("enable mfa: %w", err)
	}

	s.logger.Info("mfa enabled", zap.String("user_id", userID), zap.String("type", string(enabled.Type)))
	return nil
}

// VerifyCode checks a code against the user's enabled factor.
func (s *MFAService) VerifyCode(ctx context.Context, userID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	if !user.MFA.Enabled {
		return ErrInvalidMFA
	}
	if !verifyMFACode(user.MFA, code, s.now()) {
		return ErrInvalidMFA
	}
	return nil
}

// Disable turns MFA off after a final code verification.
func (s *MFAService) Disable(ctx context.Context, userID, code string) error {
	if err := s.VerifyCode(ctx, userID, code); err != nil {
		return err
	}

	if err := s.users.UpdateMFA(ctx, userID, domain.MFAConfig{}); err != nil {
		return fmt.Errorf("disable mfa: %w", err)
	}

	s.logger.Info("mfa disabled", zap.String("user_id", userID))
	return nil
}

// verifyMFACode dispatches on the factor type: totp runs the time-based
// algorithm with a one-step window, sms compares the delivered literal code.
func verifyMFACode(mfa domain.MFAConfig, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if code == "" || mfa.Secret == "" {
		return false
	}

	switch mfa.Type {
	case domain.MFATypeTOTP:
		return security.VerifyTOTP(code, mfa.Secret, at)
	case domain.MFATypeSMS:
		return subtle.ConstantTimeCompare([]byte(code), []byte(mfa.Secret)) == 1
	default:
		return false
	}
}
