package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/infra/config"
	"github.com/castellan-io/castellan/internal/infra/security"
)

type passwordTestHarness struct {
	cfg       *config.AppConfig
	users     *fakeUserRepository
	sessions  *fakeSessionRepository
	tokens    *fakeTokenRepository
	otp       *fakeOTPStore
	notifier  *fakeNotifier
	audit     *fakeAuditPublisher
	passwords *PasswordService
}

func newPasswordTestHarness(t *testing.T, at time.Time, users ...domain.User) *passwordTestHarness {
	t.Helper()

	cfg := newTestConfig()
	userRepo := newFakeUserRepository(users...)
	sessionRepo := newFakeSessionRepository()
	tokenRepo := newFakeTokenRepository()
	otp := newFakeOTPStore()
	notifier := newFakeNotifier()
	audit := &fakeAuditPublisher{}

	tokenSvc, err := NewTokenService(cfg, newTestCodec(), userRepo, sessionRepo, tokenRepo, newFakeTenantRepository(), audit, nil)
	if err != nil {
		t.Fatalf("NewTokenService returned error: %v", err)
	}
	sessionSvc := NewSessionService(cfg, sessionRepo, tokenRepo, nil)
	passwords := NewPasswordService(cfg, userRepo, testHasher(), nil, tokenSvc, sessionSvc, otp, notifier, audit, nil)
	passwords.WithClock(func() time.Time { return at })
	tokenSvc.WithClock(func() time.Time { return at })
	sessionSvc.WithClock(func() time.Time { return at })

	return &passwordTestHarness{
		cfg:       cfg,
		users:     userRepo,
		sessions:  sessionRepo,
		tokens:    tokenRepo,
		otp:       otp,
		notifier:  notifier,
		audit:     audit,
		passwords: passwords,
	}
}

const strongPassword = "Tr0ub4dour&Relay!"
const anotherStrongPassword = "Vault-Kestrel-91$x"

func TestPasswordService_ChangePassword(t *testing.T) {
	base := time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)
	h := newPasswordTestHarness(t, base, domain.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: mustHash(t, "old password 123!A"),
		IsActive:     true,
	})
	h.sessions.sessions["sess-1"] = &domain.Session{
		ID: "sess-1", UserID: "user-1", CreatedAt: base, ExpiresAt: base.Add(24 * time.Hour), LastUsedAt: base, IsActive: true,
	}
	_ = h.tokens.Create(context.Background(), domain.RefreshToken{
		ID: "tok-1", UserID: "user-1", SessionID: "sess-1", TokenHash: security.HashToken("r"), ExpiresAt: base.Add(time.Hour),
	})

	ctx := context.Background()

	if err := h.passwords.ChangePassword(ctx, "user-1", "wrong", strongPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong current password, got %v", err)
	}

	if err := h.passwords.ChangePassword(ctx, "user-1", "old password 123!A", strongPassword); err != nil {
		t.Fatalf("ChangePassword returned error: %v", err)
	}

	user, _ := h.users.GetByID(ctx, "user-1")
	match, err := testHasher().Verify(strongPassword, user.PasswordHash)
	if err != nil || !match {
		t.Fatalf("stored hash does not verify the new password: match=%v err=%v", match, err)
	}
	if !user.LastPasswordChange.Equal(base) {
		t.Fatalf("expected password change stamped at %v, got %v", base, user.LastPasswordChange)
	}

	// Every credential dies with the old password.
	session, _ := h.sessions.Get(ctx, "sess-1")
	if !session.Revoked {
		t.Fatalf("sessions must be revoked after a password change")
	}
	record, _ := h.tokens.GetByID(ctx, "tok-1")
	if !record.Revoked {
		t.Fatalf("refresh tokens must be revoked after a password change")
	}

	if len(h.audit.passwordChanges) != 1 || h.audit.passwordChanges[0].Method != "change" {
		t.Fatalf("expected one password changed event with method change, got %+v", h.audit.passwordChanges)
	}
}

func TestPasswordService_ReusePrevention(t *testing.T) {
	base := time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)
	initialHash := mustHash(t, strongPassword)
	h := newPasswordTestHarness(t, base, domain.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: initialHash,
		IsActive:     true,
	})

	ctx := context.Background()

	// Registration seeds the first hash into history.
	if err := h.users.AddPasswordHistory(ctx, domain.UserPasswordHistory{
		ID: "hist-0", UserID: "user-1", PasswordHash: initialHash, SetAt: base.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	// Same as current: rejected.
	if err := h.passwords.ChangePassword(ctx, "user-1", strongPassword, strongPassword); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse for current password, got %v", err)
	}

	// Rotate away, then try to come back.
	if err := h.passwords.ChangePassword(ctx, "user-1", strongPassword, anotherStrongPassword); err != nil {
		t.Fatalf("rotate password: %v", err)
	}
	if err := h.passwords.ChangePassword(ctx, "user-1", anotherStrongPassword, strongPassword); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse for recent historical password, got %v", err)
	}
}

func TestPasswordService_ReuseHistoryDepthIsBounded(t *testing.T) {
	base := time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)
	initialHash := mustHash(t, strongPassword)
	h := newPasswordTestHarness(t, base, domain.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: initialHash,
		IsActive:     true,
	})
	h.cfg.Password.HistoryDepth = 2

	ctx := context.Background()
	if err := h.users.AddPasswordHistory(ctx, domain.UserPasswordHistory{
		ID: "hist-0", UserID: "user-1", PasswordHash: initialHash, SetAt: base.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("seed history: %v", err)
	}
	current := strongPassword
	rotations := []string{
		"Granite-Falcon-3^a",
		"Harbor-Lantern-7%b",
		"Meadow-Compass-5#c",
	}

	// Each change pushes history; advancing the clock keeps ordering stable.
	for i, next := range rotations {
		h.passwords.WithClock(func() time.Time { return base.Add(time.Duration(i+1) * time.Minute) })
		if err := h.passwords.ChangePassword(ctx, "user-1", current, next); err != nil {
			t.Fatalf("rotation %d: %v", i, err)
		}
		current = next
	}

	// The original password has aged out of the 2-deep window.
	h.passwords.WithClock(func() time.Time { return base.Add(time.Hour) })
	if err := h.passwords.ChangePassword(ctx, "user-1", current, strongPassword); err != nil {
		t.Fatalf("expected aged-out password accepted, got %v", err)
	}
}

func TestPasswordService_ResetFlow(t *testing.T) {
	base := time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)
	h := newPasswordTestHarness(t, base, domain.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: mustHash(t, "old password 123!A"),
		IsActive:     true,
	})

	ctx := context.Background()

	// Unknown email succeeds silently and sends nothing.
	if err := h.passwords.RequestPasswordReset(ctx, "ghost@example.com"); err != nil {
		t.Fatalf("unknown email must not error, got %v", err)
	}
	if len(h.notifier.resetOTPs) != 0 {
		t.Fatalf("unknown email must not trigger a notification")
	}

	if err := h.passwords.RequestPasswordReset(ctx, "Alice@Example.com"); err != nil {
		t.Fatalf("RequestPasswordReset returned error: %v", err)
	}

	sent, ok := h.notifier.resetOTPs["alice@example.com"]
	if !ok {
		t.Fatalf("expected reset notification for the account")
	}
	token, otp := sent[0], sent[1]
	if len(token) != 64 {
		t.Fatalf("expected 32-byte hex reset token, got %d chars", len(token))
	}
	if len(otp) != 6 {
		t.Fatalf("expected 6-digit otp, got %q", otp)
	}

	// Only the hash is stored.
	user, _ := h.users.GetByID(ctx, "user-1")
	if user.PendingTokens.PasswordResetHash == nil || *user.PendingTokens.PasswordResetHash != security.HashToken(token) {
		t.Fatalf("stored reset hash does not match the issued token")
	}

	// Wrong OTP fails closed while the code is live.
	if err := h.passwords.ResetPassword(ctx, "alice@example.com", token, "000000", strongPassword); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken for wrong otp, got %v", err)
	}

	// Wrong token fails regardless of OTP.
	if err := h.passwords.ResetPassword(ctx, "alice@example.com", "deadbeef", otp, strongPassword); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken for wrong token, got %v", err)
	}

	if err := h.passwords.ResetPassword(ctx, "alice@example.com", token, otp, strongPassword); err != nil {
		t.Fatalf("ResetPassword returned error: %v", err)
	}

	user, _ = h.users.GetByID(ctx, "user-1")
	if match, _ := testHasher().Verify(strongPassword, user.PasswordHash); !match {
		t.Fatalf("new password not applied")
	}
	if user.PendingTokens.PasswordResetHash != nil {
		t.Fatalf("redeemed reset token must be cleared")
	}
	if len(h.notifier.resetSuccess) != 1 {
		t.Fatalf("expected reset success notification")
	}

	// The token is single-use.
	if err := h.passwords.ResetPassword(ctx, "alice@example.com", token, otp, anotherStrongPassword); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken on token replay, got %v", err)
	}
}

func TestPasswordService_ResetRevokesEverySessionAndToken(t *testing.T) {
	base := time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)
	h := newPasswordTestHarness(t, base, domain.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: mustHash(t, "old password 123!A"),
		IsActive:     true,
	})

	// Two live sessions on different devices, each with its own refresh token.
	h.sessions.sessions["sess-1"] = &domain.Session{
		ID: "sess-1", UserID: "user-1", CreatedAt: base, ExpiresAt: base.Add(24 * time.Hour), LastUsedAt: base, IsActive: true,
	}
	h.sessions.sessions["sess-2"] = &domain.Session{
		ID: "sess-2", UserID: "user-1", CreatedAt: base.Add(-time.Hour), ExpiresAt: base.Add(23 * time.Hour), LastUsedAt: base, IsActive: true,
	}
	_ = h.tokens.Create(context.Background(), domain.RefreshToken{
		ID: "tok-1", UserID: "user-1", SessionID: "sess-1", TokenHash: security.HashToken("r1"), ExpiresAt: base.Add(time.Hour),
	})
	_ = h.tokens.Create(context.Background(), domain.RefreshToken{
		ID: "tok-2", UserID: "user-1", SessionID: "sess-2", TokenHash: security.HashToken("r2"), ExpiresAt: base.Add(time.Hour),
	})

	ctx := context.Background()

	if err := h.passwords.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset returned error: %v", err)
	}
	sent := h.notifier.resetOTPs["alice@example.com"]
	if err := h.passwords.ResetPassword(ctx, "alice@example.com", sent[0], sent[1], strongPassword); err != nil {
		t.Fatalf("ResetPassword returned error: %v", err)
	}

	// A reset run from a stolen inbox must not leave any device logged in.
	for _, sessionID := range []string{"sess-1", "sess-2"} {
		session, err := h.sessions.Get(ctx, sessionID)
		if err != nil {
			t.Fatalf("session %s lookup: %v", sessionID, err)
		}
		if !session.Revoked {
			t.Fatalf("session %s must be revoked after a password reset", sessionID)
		}
	}
	for _, tokenID := range []string{"tok-1", "tok-2"} {
		record, err := h.tokens.GetByID(ctx, tokenID)
		if err != nil {
			t.Fatalf("token %s lookup: %v", tokenID, err)
		}
		if !record.Revoked {
			t.Fatalf("refresh token %s must be revoked after a password reset", tokenID)
		}
	}
}

func TestPasswordService_ResetTokenExpiry(t *testing.T) {
	base := time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)
	h := newPasswordTestHarness(t, base, domain.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: mustHash(t, "old password 123!A"),
		IsActive:     true,
	})

	ctx := context.Background()
	if err := h.passwords.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	sent := h.notifier.resetOTPs["alice@example.com"]

	// Past the 1h token TTL.
	h.passwords.WithClock(func() time.Time { return base.Add(61 * time.Minute) })
	if err := h.passwords.ResetPassword(ctx, "alice@example.com", sent[0], sent[1], strongPassword); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken after expiry, got %v", err)
	}
}

func TestPasswordService_RecoveryMFAFailsClosed(t *testing.T) {
	base := time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)
	h := newPasswordTestHarness(t, base, domain.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: mustHash(t, "old password 123!A"),
		IsActive:     true,
		MFA:          domain.MFAConfig{Enabled: true, Type: domain.MFATypeSMS, Secret: "482913"},
	})
	h.cfg.MFA.EnforceInDev = true

	ctx := context.Background()
	if err := h.passwords.RequestRecovery(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestRecovery: %v", err)
	}
	token, ok := h.notifier.recoveries["alice@example.com"]
	if !ok {
		t.Fatalf("expected recovery notification")
	}

	// Missing code: fail closed.
	if err := h.passwords.RecoverAccount(ctx, "alice@example.com", token, "", strongPassword); !errors.Is(err, ErrMFARequired) {
		t.Fatalf("expected ErrMFARequired, got %v", err)
	}
	// Wrong code: fail closed.
	if err := h.passwords.RecoverAccount(ctx, "alice@example.com", token, "111111", strongPassword); !errors.Is(err, ErrInvalidMFA) {
		t.Fatalf("expected ErrInvalidMFA, got %v", err)
	}
	// Right code: recovery applies the new password.
	if err := h.passwords.RecoverAccount(ctx, "alice@example.com", token, "482913", strongPassword); err != nil {
		t.Fatalf("RecoverAccount returned error: %v", err)
	}

	user, _ := h.users.GetByID(ctx, "user-1")
	if match, _ := testHasher().Verify(strongPassword, user.PasswordHash); !match {
		t.Fatalf("recovered password not applied")
	}
	if len(h.notifier.recovered) != 1 {
		t.Fatalf("expected recovery success notification")
	}
}

func TestPasswordService_RecoveryWithoutEnforcementSkipsMFA(t *testing.T) {
	base := time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)
	h := newPasswordTestHarness(t, base, domain.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: mustHash(t, "old password 123!A"),
		IsActive:     true,
		MFA:          domain.MFAConfig{Enabled: true, Type: domain.MFATypeSMS, Secret: "482913"},
	})

	ctx := context.Background()
	if err := h.passwords.RequestRecovery(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestRecovery: %v", err)
	}
	token := h.notifier.recoveries["alice@example.com"]

	// Non-production with enforcement off: recovery proceeds without a code.
	if err := h.passwords.RecoverAccount(ctx, "alice@example.com", token, "", strongPassword); err != nil {
		t.Fatalf("expected recovery without MFA in dev, got %v", err)
	}
}

func TestPasswordService_WeakPasswordRejected(t *testing.T) {
	base := time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)
	h := newPasswordTestHarness(t, base, domain.User{
		ID:           "user-1",
		Email:        "alice@example.com",
		PasswordHash: mustHash(t, "old password 123!A"),
		IsActive:     true,
	})

	err := h.passwords.ChangePassword(context.Background(), "user-1", "old password 123!A", "short")
	var policyErr *security.PasswordValidationError
	if !errors.As(err, &policyErr) {
		t.Fatalf("expected PasswordValidationError, got %v", err)
	}

	user, _ := h.users.GetByID(context.Background(), "user-1")
	if match, _ := testHasher().Verify("old password 123!A", user.PasswordHash); !match {
		t.Fatalf("rejected change must leave the old password in place")
	}
}
