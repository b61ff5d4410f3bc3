package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/core/port"
	"github.com/castellan-io/castellan/internal/repository"
)

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var userColumns = []string{
	"id",
	"email",
	"password_hash",
	"role",
	"is_active",
	"email_verified",
	"failed_login_attempts",
	"locked_until",
	"default_tenant_id",
	"mfa_enabled",
	"mfa_type",
	"mfa_secret",
	"email_verification_hash",
	"email_verification_expires",
	"password_reset_hash",
	"password_reset_expires",
	"recovery_hash",
	"recovery_expires",
	"created_at",
	"last_login",
	"last_password_change",
}

// Create inserts a new user row.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	var mfaType any
	if user.MFA.Type != "" {
		mfaType = string(user.MFA.Type)
	}

	stmt, args, err := r.builder.Insert("castellan.users").
		Columns(userColumns...).
		Values(
			user.ID,
			user.Email,
			user.PasswordHash,
			user.Role,
			user.IsActive,
			user.EmailVerified,
			user.FailedLoginAttempts,
			user.LockedUntil,
			user.DefaultTenantID,
			user.MFA.Enabled,
			mfaType,
			nullIfEmpty(user.MFA.Secret),
			user.PendingTokens.EmailVerificationHash,
			user.PendingTokens.EmailVerificationExpires,
			user.PendingTokens.PasswordResetHash,
			user.PendingTokens.PasswordResetExpires,
			user.PendingTokens.RecoveryHash,
			user.PendingTokens.RecoveryExpires,
			user.CreatedAt,
			user.LastLogin,
			user.LastPasswordChange,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID fetches a user by primary key.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByEmail fetches a user by unique email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Expr("lower(email) = lower(?)", email))
}

func (r *UserRepository) getOne(ctx context.Context, pred any) (*domain.User, error) {
	stmt, args, err := r.builder.Select(userColumns...).
		From("castellan.users").
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)

	var (
		user            domain.User
		lockedUntil     sql.NullTime
		defaultTenantID sql.NullString
		mfaType         sql.NullString
		mfaSecret       sql.NullString
		evHash          sql.NullString
		evExpires       sql.NullTime
		prHash          sql.NullString
		prExpires       sql.NullTime
		recHash         sql.NullString
		recExpires      sql.NullTime
		lastLogin       sql.NullTime
	)

	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.IsActive,
		&user.EmailVerified,
		&user.FailedLoginAttempts,
		&lockedUntil,
		&defaultTenantID,
		&user.MFA.Enabled,
		&mfaType,
		&mfaSecret,
		&evHash,
		&evExpires,
		&prHash,
		&prExpires,
		&recHash,
		&recExpires,
		&user.CreatedAt,
		&lastLogin,
		&user.LastPasswordChange,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	if lockedUntil.Valid {
		t := lockedUntil.Time
		user.LockedUntil = &t
	}
	if defaultTenantID.Valid {
		v := defaultTenantID.String
		user.DefaultTenantID = &v
	}
	if mfaType.Valid {
		user.MFA.Type = domain.MFAType(mfaType.String)
	}
	if mfaSecret.Valid {
		user.MFA.Secret = mfaSecret.String
	}
	user.PendingTokens = scanPendingTokens(evHash, evExpires, prHash, prExpires, recHash, recExpires)
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLogin = &t
	}

	return &user, nil
}

// UpdatePassword replaces the credential hash and stamps the change time.
func (r *UserRepository) UpdatePassword(ctx context.Context, id string, passwordHash string, changedAt time.Time) error {
	stmt, args, err := r.builder.Update("castellan.users").
		Set("password_hash", passwordHash).
		Set("last_password_change", changedAt).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update password sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdateMFA replaces the user's MFA configuration.
func (r *UserRepository) UpdateMFA(ctx context.Context, id string, mfa domain.MFAConfig) error {
	var mfaType any
	if mfa.Type != "" {
		mfaType = string(mfa.Type)
	}

	stmt, args, err := r.builder.Update("castellan.users").
		Set("mfa_enabled", mfa.Enabled).
		Set("mfa_type", mfaType).
		Set("mfa_secret", nullIfEmpty(mfa.Secret)).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update mfa sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update mfa: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// IncrementFailedAttempts bumps the failed-login counter in a single statement
// and returns the post-increment value, so concurrent bad-password attempts
// never undercount.
func (r *UserRepository) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.exec.QueryRow(ctx,
		"UPDATE castellan.users SET failed_login_attempts = failed_login_attempts + 1 WHERE id = $1 RETURNING failed_login_attempts",
		id,
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("increment failed attempts: %w", err)
	}
	return attempts, nil
}

// SetLockout stamps the lock-until timestamp.
func (r *UserRepository) SetLockout(ctx context.Context, id string, until time.Time) error {
	stmt, args, err := r.builder.Update("castellan.users").
		Set("locked_until", until).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set lockout sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("set lockout: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ResetLoginState clears the failed-attempt counter and lockout and stamps last login.
func (r *UserRepository) ResetLoginState(ctx context.Context, id string, lastLogin time.Time) error {
	stmt, args, err := r.builder.Update("castellan.users").
		Set("failed_login_attempts", 0).
		Set("locked_until", nil).
		Set("last_login", lastLogin).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build reset login state sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("reset login state: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// SetPendingToken stores a single-use token hash and expiry in the slot for its purpose.
func (r *UserRepository) SetPendingToken(ctx context.Context, id string, purpose port.TokenPurpose, hash string, expiresAt time.Time) error {
	var hashColumn, expiresColumn string
	switch purpose {
	case port.TokenPurposeEmailVerification:
		hashColumn, expiresColumn = "email_verification_hash", "email_verification_expires"
	case port.TokenPurposePasswordReset:
		hashColumn, expiresColumn = "password_reset_hash", "password_reset_expires"
	case port.TokenPurposeRecovery:
		hashColumn, expiresColumn = "recovery_hash", "recovery_expires"
	default:
		return fmt.Errorf("unknown token purpose %q", purpose)
	}

	// An empty hash clears the slot.
	var hashValue, expiresValue interface{}
	if hash != "" {
		hashValue = hash
		expiresValue = expiresAt
	}

	stmt, args, err := r.builder.Update("castellan.users").
		Set(hashColumn, hashValue).
		Set(expiresColumn, expiresValue).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set pending token sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("set pending token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ClearPendingTokens wipes every single-use token slot on the user row.
func (r *UserRepository) ClearPendingTokens(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Update("castellan.users").
		Set("email_verification_hash", nil).
		Set("email_verification_expires", nil).
		Set("password_reset_hash", nil).
		Set("password_reset_expires", nil).
		Set("recovery_hash", nil).
		Set("recovery_expires", nil).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build clear pending tokens sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("clear pending tokens: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// MarkEmailVerified flips the verified flag.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Update("castellan.users").
		Set("email_verified", true).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark email verified sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// AddPasswordHistory appends a password history entry.
func (r *UserRepository) AddPasswordHistory(ctx context.Context, entry domain.UserPasswordHistory) error {
	stmt, args, err := r.builder.Insert("castellan.user_password_history").
		Columns("id", "user_id", "password_hash", "set_at").
		Values(entry.ID, entry.UserID, entry.PasswordHash, entry.SetAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert password history sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert password history: %w", err)
	}

	return nil
}

// ListPasswordHistory returns the most recent entries for the user, newest first.
func (r *UserRepository) ListPasswordHistory(ctx context.Context, userID string, limit int) ([]domain.UserPasswordHistory, error) {
	builder := r.builder.Select("id", "user_id", "password_hash", "set_at").
		From("castellan.user_password_history").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("set_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	stmt, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select password history sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select password history: %w", err)
	}
	defer rows.Close()

	var entries []domain.UserPasswordHistory
	for rows.Next() {
		var entry domain.UserPasswordHistory
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.PasswordHash, &entry.SetAt); err != nil {
			return nil, fmt.Errorf("scan password history: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate password history: %w", err)
	}

	return entries, nil
}

// TrimPasswordHistory prunes entries beyond the keep newest rows.
func (r *UserRepository) TrimPasswordHistory(ctx context.Context, userID string, keep int) error {
	if keep < 0 {
		keep = 0
	}

	_, err := r.exec.Exec(ctx,
		`DELETE FROM castellan.user_password_history
		 WHERE user_id = $1
		   AND id NOT IN (
		     SELECT id FROM castellan.user_password_history
		     WHERE user_id = $1
		     ORDER BY set_at DESC
		     LIMIT $2
		   )`,
		userID, keep,
	)
	if err != nil {
		return fmt.Errorf("trim password history: %w", err)
	}

	return nil
}

func scanPendingTokens(evHash sql.NullString, evExpires sql.NullTime, prHash sql.NullString, prExpires sql.NullTime, recHash sql.NullString, recExpires sql.NullTime) domain.PendingTokens {
	var tokens domain.PendingTokens
	if evHash.Valid {
		v := evHash.String
		tokens.EmailVerificationHash = &v
	}
	if evExpires.Valid {
		t := evExpires.Time
		tokens.EmailVerificationExpires = &t
	}
	if prHash.Valid {
		v := prHash.String
		tokens.PasswordResetHash = &v
	}
	if prExpires.Valid {
		t := prExpires.Time
		tokens.PasswordResetExpires = &t
	}
	if recHash.Valid {
		v := recHash.String
		tokens.RecoveryHash = &v
	}
	if recExpires.Valid {
		t := recExpires.Time
		tokens.RecoveryExpires = &t
	}
	return tokens
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
