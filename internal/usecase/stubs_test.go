package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/core/port"
	"github.com/castellan-io/castellan/internal/infra/config"
	"github.com/castellan-io/castellan/internal/infra/security"
	"github.com/castellan-io/castellan/internal/repository"
)

func newTestConfig() *config.AppConfig {
	return &config.AppConfig{
		App: config.AppSettings{Name: "castellan", Env: "test"},
		JWT: config.JWTSettings{
			SigningSecret:   "test-secret-test-secret-test-secret",
			Issuer:          "castellan-test",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 7 * 24 * time.Hour,
		},
		Login: config.LoginSettings{
			MaxFailedAttempts: 3,
			LockoutDuration:   15 * time.Minute,
		},
		Session: config.SessionSettings{
			IdleTimeout: 30 * time.Minute,
			HardTTL:     24 * time.Hour,
		},
		Password: config.PasswordSettings{
			HistoryDepth:  5,
			ResetTokenTTL: time.Hour,
			ResetOTPTTL:   10 * time.Minute,
		},
		Recovery: config.RecoverySettings{TokenTTL: 30 * time.Minute},
	}
}

func newTestCodec() *security.TokenCodec {
	codec, err := security.NewTokenCodec("test-secret-test-secret-test-secret", "castellan-test")
	if err != nil {
		panic(err)
	}
	return codec
}

// fakeUserRepository keeps users in memory, keyed by ID with an email index.
type fakeUserRepository struct {
	users   map[string]*domain.User
	history map[string][]domain.UserPasswordHistory

	createErr error
	updateErr error
}

func newFakeUserRepository(users ...domain.User) *fakeUserRepository {
	repo := &fakeUserRepository{
		users:   make(map[string]*domain.User),
		history: make(map[string][]domain.UserPasswordHistory),
	}
	for i := range users {
		userCopy := users[i]
		repo.users[userCopy.ID] = &userCopy
	}
	return repo
}

func (f *fakeUserRepository) Create(ctx context.Context, user domain.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	userCopy := user
	f.users[user.ID] = &userCopy
	return nil
}

func (f *fakeUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	userCopy := *user
	return &userCopy, nil
}

func (f *fakeUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			userCopy := *user
			return &userCopy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepository) UpdatePassword(ctx context.Context, id string, passwordHash string, changedAt time.Time) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.LastPasswordChange = changedAt
	return nil
}

func (f *fakeUserRepository) UpdateMFA(ctx context.Context, id string, mfa domain.MFAConfig) error {
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.MFA = mfa
	return nil
}

func (f *fakeUserRepository) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	user, ok := f.users[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	user.FailedLoginAttempts++
	return user.FailedLoginAttempts, nil
}

func (f *fakeUserRepository) SetLockout(ctx context.Context, id string, until time.Time) error {
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	lockedUntil := until
	user.LockedUntil = &lockedUntil
	return nil
}

func (f *fakeUserRepository) ResetLoginState(ctx context.Context, id string, lastLogin time.Time) error {
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	login := lastLogin
	user.LastLogin = &login
	return nil
}

func (f *fakeUserRepository) SetPendingToken(ctx context.Context, id string, purpose port.TokenPurpose, hash string, expiresAt time.Time) error {
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	var hashPtr *string
	var expiresPtr *time.Time
	if hash != "" {
		h := hash
		e := expiresAt
		hashPtr, expiresPtr = &h, &e
	}
	switch purpose {
	case port.TokenPurposeEmailVerification:
		user.PendingTokens.EmailVerificationHash = hashPtr
		user.PendingTokens.EmailVerificationExpires = expiresPtr
	case port.TokenPurposePasswordReset:
		user.PendingTokens.PasswordResetHash = hashPtr
		user.PendingTokens.PasswordResetExpires = expiresPtr
	case port.TokenPurposeRecovery:
		user.PendingTokens.RecoveryHash = hashPtr
		user.PendingTokens.RecoveryExpires = expiresPtr
	default:
		return fmt.Errorf("unknown token purpose %q", purpose)
	}
	return nil
}

func (f *fakeUserRepository) ClearPendingTokens(ctx context.Context, id string) error {
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.PendingTokens = domain.PendingTokens{}
	return nil
}

func (f *fakeUserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	user, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.EmailVerified = true
	return nil
}

func (f *fakeUserRepository) AddPasswordHistory(ctx context.Context, entry domain.UserPasswordHistory) error {
	f.history[entry.UserID] = append(f.history[entry.UserID], entry)
	return nil
}

func (f *fakeUserRepository) ListPasswordHistory(ctx context.Context, userID string, limit int) ([]domain.UserPasswordHistory, error) {
	entries := append([]domain.UserPasswordHistory(nil), f.history[userID]...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].SetAt.After(entries[j].SetAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (f *fakeUserRepository) TrimPasswordHistory(ctx context.Context, userID string, keep int) error {
	entries := f.history[userID]
	sort.Slice(entries, func(i, j int) bool { return entries[i].SetAt.After(entries[j].SetAt) })
	if keep >= 0 && len(entries) > keep {
		entries = entries[:keep]
	}
	f.history[userID] = entries
	return nil
}

// fakeSessionRepository keeps sessions in memory.
type fakeSessionRepository struct {
	sessions map[string]*domain.Session

	revokeCalls []string
}

func newFakeSessionRepository(sessions ...domain.Session) *fakeSessionRepository {
	repo := &fakeSessionRepository{sessions: make(map[string]*domain.Session)}
	for i := range sessions {
		sessionCopy := sessions[i]
		repo.sessions[sessionCopy.ID] = &sessionCopy
	}
	return repo
}

func (f *fakeSessionRepository) Create(ctx context.Context, session domain.Session) error {
	sessionCopy := session
	f.sessions[session.ID] = &sessionCopy
	return nil
}

func (f *fakeSessionRepository) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	sessionCopy := *session
	return &sessionCopy, nil
}

func (f *fakeSessionRepository) GetForUser(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	session, ok := f.sessions[sessionID]
	if !ok || session.UserID != userID {
		return nil, repository.ErrNotFound
	}
	sessionCopy := *session
	return &sessionCopy, nil
}

func (f *fakeSessionRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	session, ok := f.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	session.LastUsedAt = at
	return nil
}

func (f *fakeSessionRepository) Revoke(ctx context.Context, sessionID string, revokedBy string, at time.Time) error {
	session, ok := f.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	session.Revoke(at, revokedBy)
	f.revokeCalls = append(f.revokeCalls, sessionID)
	return nil
}

func (f *fakeSessionRepository) RevokeAllForUser(ctx context.Context, userID string, exceptSessionID string, revokedBy string, at time.Time) (int, error) {
	count := 0
	for _, session := range f.sessions {
		if session.UserID != userID || session.ID == exceptSessionID || session.Revoked {
			continue
		}
		session.Revoke(at, revokedBy)
		count++
	}
	return count, nil
}

func (f *fakeSessionRepository) ListActiveByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	result := make([]domain.Session, 0)
	for _, session := range f.sessions {
		if session.UserID != userID || session.Revoked || !session.IsActive {
			continue
		}
		result = append(result, *session)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// fakeTokenRepository keeps refresh-token records in memory, keyed by ID with
// a hash index.
type fakeTokenRepository struct {
	tokens map[string]*domain.RefreshToken
	byHash map[string]string
}

func newFakeTokenRepository(tokens ...domain.RefreshToken) *fakeTokenRepository {
	repo := &fakeTokenRepository{
		tokens: make(map[string]*domain.RefreshToken),
		byHash: make(map[string]string),
	}
	for i := range tokens {
		tokenCopy := tokens[i]
		repo.tokens[tokenCopy.ID] = &tokenCopy
		repo.byHash[tokenCopy.TokenHash] = tokenCopy.ID
	}
	return repo
}

func (f *fakeTokenRepository) Create(ctx context.Context, token domain.RefreshToken) error {
	if _, exists := f.byHash[token.TokenHash]; exists {
		return repository.ErrDuplicate
	}
	tokenCopy := token
	f.tokens[token.ID] = &tokenCopy
	f.byHash[token.TokenHash] = token.ID
	return nil
}

func (f *fakeTokenRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	id, ok := f.byHash[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return f.GetByID(ctx, id)
}

func (f *fakeTokenRepository) GetByID(ctx context.Context, id string) (*domain.RefreshToken, error) {
	token, ok := f.tokens[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	tokenCopy := *token
	return &tokenCopy, nil
}

func (f *fakeTokenRepository) Revoke(ctx context.Context, id string, revokedBy, reason string, at time.Time) error {
	token, ok := f.tokens[id]
	if !ok {
		return repository.ErrNotFound
	}
	if token.Revoked {
		return repository.ErrAlreadyRevoked
	}
	token.Revoke(at, revokedBy, reason)
	return nil
}

func (f *fakeTokenRepository) SetReplacedBy(ctx context.Context, id string, replacedByID string) error {
	token, ok := f.tokens[id]
	if !ok {
		return repository.ErrNotFound
	}
	replaced := replacedByID
	token.ReplacedByToken = &replaced
	return nil
}

func (f *fakeTokenRepository) RevokeBySession(ctx context.Context, sessionID string, revokedBy, reason string, at time.Time) (int, error) {
	count := 0
	for _, token := range f.tokens {
		if token.SessionID != sessionID || token.Revoked {
			continue
		}
		token.Revoke(at, revokedBy, reason)
		count++
	}
	return count, nil
}

func (f *fakeTokenRepository) RevokeAllForUser(ctx context.Context, userID string, reason string, at time.Time) (int, error) {
	count := 0
	for _, token := range f.tokens {
		if token.UserID != userID || token.Revoked {
			continue
		}
		token.Revoke(at, "system", reason)
		count++
	}
	return count, nil
}

// fakeTenantRepository keeps tenants and memberships in memory.
type fakeTenantRepository struct {
	tenants       map[string]*domain.Tenant
	memberships   map[string]*domain.TenantMembership
	membershipErr error
}

func newFakeTenantRepository() *fakeTenantRepository {
	return &fakeTenantRepository{
		tenants:     make(map[string]*domain.Tenant),
		memberships: make(map[string]*domain.TenantMembership),
	}
}

func (f *fakeTenantRepository) CreateTenant(ctx context.Context, tenant domain.Tenant) error {
	for _, existing := range f.tenants {
		if existing.Slug == tenant.Slug {
			return repository.ErrDuplicate
		}
	}
	tenantCopy := tenant
	f.tenants[tenant.ID] = &tenantCopy
	return nil
}

func (f *fakeTenantRepository) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	tenant, ok := f.tenants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	tenantCopy := *tenant
	return &tenantCopy, nil
}

func (f *fakeTenantRepository) GetTenantBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	for _, tenant := range f.tenants {
		if tenant.Slug == slug {
			tenantCopy := *tenant
			return &tenantCopy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTenantRepository) DeleteTenant(ctx context.Context, id string) error {
	if _, ok := f.tenants[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.tenants, id)
	return nil
}

func (f *fakeTenantRepository) CreateMembership(ctx context.Context, membership domain.TenantMembership) error {
	if f.membershipErr != nil {
		return f.membershipErr
	}
	key := membership.UserID + "/" + membership.TenantID
	if _, exists := f.memberships[key]; exists {
		return repository.ErrDuplicate
	}
	membershipCopy := membership
	f.memberships[key] = &membershipCopy
	return nil
}

func (f *fakeTenantRepository) GetMembership(ctx context.Context, userID, tenantID string) (*domain.TenantMembership, error) {
	membership, ok := f.memberships[userID+"/"+tenantID]
	if !ok || membership.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	membershipCopy := *membership
	return &membershipCopy, nil
}

func (f *fakeTenantRepository) ListMembershipsForUser(ctx context.Context, userID string) ([]domain.TenantMembership, error) {
	result := make([]domain.TenantMembership, 0)
	for _, membership := range f.memberships {
		if membership.UserID != userID || membership.DeletedAt != nil {
			continue
		}
		result = append(result, *membership)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TenantID < result[j].TenantID })
	return result, nil
}

// fakeAuditPublisher records every published event.
type fakeAuditPublisher struct {
	logins          []domain.LoginEvent
	pairsIssued     []domain.TokenPairIssuedEvent
	rotations       []domain.RefreshRotatedEvent
	reuseDetected   []domain.RefreshReuseDetectedEvent
	sessionsRevoked []domain.SessionRevokedEvent
	passwordChanges []domain.PasswordChangedEvent
	accessDecisions []domain.AccessDecisionEvent
}

func (f *fakeAuditPublisher) PublishLogin(ctx context.Context, event domain.LoginEvent) error {
	f.logins = append(f.logins, event)
	return nil
}

func (f *fakeAuditPublisher) PublishTokenPairIssued(ctx context.Context, event domain.TokenPairIssuedEvent) error {
	f.pairsIssued = append(f.pairsIssued, event)
	return nil
}

func (f *fakeAuditPublisher) PublishRefreshRotated(ctx context.Context, event domain.RefreshRotatedEvent) error {
	f.rotations = append(f.rotations, event)
	return nil
}

func (f *fakeAuditPublisher) PublishRefreshReuseDetected(ctx context.Context, event domain.RefreshReuseDetectedEvent) error {
	f.reuseDetected = append(f.reuseDetected, event)
	return nil
}

func (f *fakeAuditPublisher) PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error {
	f.sessionsRevoked = append(f.sessionsRevoked, event)
	return nil
}

func (f *fakeAuditPublisher) PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error {
	f.passwordChanges = append(f.passwordChanges, event)
	return nil
}

func (f *fakeAuditPublisher) PublishAccessDecision(ctx context.Context, event domain.AccessDecisionEvent) error {
	f.accessDecisions = append(f.accessDecisions, event)
	return nil
}

// fakeNotifier records notification calls per recipient.
type fakeNotifier struct {
	verifications map[string]string
	resetOTPs     map[string][2]string
	recoveries    map[string]string
	resetSuccess  []string
	recovered     []string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		verifications: make(map[string]string),
		resetOTPs:     make(map[string][2]string),
		recoveries:    make(map[string]string),
	}
}

func (f *fakeNotifier) SendEmailVerification(ctx context.Context, email, token string) error {
	f.verifications[email] = token
	return nil
}

func (f *fakeNotifier) SendPasswordResetOTP(ctx context.Context, email, token, otp string) error {
	f.resetOTPs[email] = [2]string{token, otp}
	return nil
}

func (f *fakeNotifier) SendRecoveryNotification(ctx context.Context, email, token string) error {
	f.recoveries[email] = token
	return nil
}

func (f *fakeNotifier) SendPasswordResetSuccess(ctx context.Context, email string) error {
	f.resetSuccess = append(f.resetSuccess, email)
	return nil
}

func (f *fakeNotifier) SendAccountRecoverySuccess(ctx context.Context, email string) error {
	f.recovered = append(f.recovered, email)
	return nil
}

// fakeOTPStore keeps one code per user with a bounded attempt counter.
type fakeOTPStore struct {
	codes    map[string]string
	attempts map[string]int
	deletes  []string
}

func newFakeOTPStore() *fakeOTPStore {
	return &fakeOTPStore{
		codes:    make(map[string]string),
		attempts: make(map[string]int),
	}
}

func (f *fakeOTPStore) Put(ctx context.Context, userID, code string, ttl time.Duration) error {
	f.codes[userID] = code
	f.attempts[userID] = 0
	return nil
}

func (f *fakeOTPStore) Verify(ctx context.Context, userID, code string) (bool, bool, error) {
	stored, ok := f.codes[userID]
	if !ok {
		return false, false, nil
	}
	if stored == code {
		delete(f.codes, userID)
		return true, true, nil
	}
	f.attempts[userID]++
	if f.attempts[userID] >= 5 {
		delete(f.codes, userID)
	}
	return false, true, nil
}

func (f *fakeOTPStore) Delete(ctx context.Context, userID string) error {
	delete(f.codes, userID)
	f.deletes = append(f.deletes, userID)
	return nil
}

var (
	_ port.UserRepository    = (*fakeUserRepository)(nil)
	_ port.SessionRepository = (*fakeSessionRepository)(nil)
	_ port.TokenRepository   = (*fakeTokenRepository)(nil)
	_ port.TenantRepository  = (*fakeTenantRepository)(nil)
	_ port.AuditPublisher    = (*fakeAuditPublisher)(nil)
	_ port.Notifier          = (*fakeNotifier)(nil)
	_ port.OTPStore          = (*fakeOTPStore)(nil)
)
