package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/repository"
)

// TokenRepository implements port.TokenRepository using PostgreSQL.
type TokenRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewTokenRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewTokenRepository(exec pgExecutor) *TokenRepository {
	return &TokenRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var refreshTokenColumns = []string{
	"id",
	"user_id",
	"session_id",
	"token_hash",
	"created_at",
	"expires_at",
	"revoked",
	"revoked_at",
	"revoked_by",
	"revoke_reason",
	"replaced_by_token",
}

// Create inserts a refresh token record.
func (r *TokenRepository) Create(ctx context.Context, token domain.RefreshToken) error {
	stmt, args, err := r.builder.Insert("castellan.refresh_tokens").
		Columns(refreshTokenColumns...).
		Values(
			token.ID,
			token.UserID,
			token.SessionID,
			token.TokenHash,
			token.CreatedAt,
			token.ExpiresAt,
			token.Revoked,
			token.RevokedAt,
			token.RevokedBy,
			token.RevokeReason,
			token.ReplacedByToken,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert refresh token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

// GetByHash retrieves a refresh token by its hashed value.
func (r *TokenRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	return r.getOne(ctx, squirrel.Eq{"token_hash": hash})
}

// GetByID retrieves a refresh token by primary key.
func (r *TokenRepository) GetByID(ctx context.Context, id string) (*domain.RefreshToken, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

func (r *TokenRepository) getOne(ctx context.Context, pred any) (*domain.RefreshToken, error) {
	stmt, args, err := r.builder.Select(refreshTokenColumns...).
		From("castellan.refresh_tokens").
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select refresh token sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)
	token, err := scanRefreshToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}

	return token, nil
}

// Revoke marks a refresh token terminal. The update is guarded on
// revoked=false; losing that race is reported as ErrAlreadyRevoked so the
// caller can tell a completed revoke from one that happened concurrently.
func (r *TokenRepository) Revoke(ctx context.Context, id string, revokedBy, reason string, at time.Time) error {
	stmt, args, err := r.builder.Update("castellan.refresh_tokens").
		Set("revoked", true).
		Set("revoked_at", at).
		Set("revoked_by", nullIfEmpty(revokedBy)).
		Set("revoke_reason", nullIfEmpty(reason)).
		Where(squirrel.Eq{"id": id, "revoked": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke refresh token sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return repository.ErrAlreadyRevoked
	}

	return nil
}

// SetReplacedBy records the rotation successor on the old token row.
func (r *TokenRepository) SetReplacedBy(ctx context.Context, id string, replacedByID string) error {
	stmt, args, err := r.builder.Update("castellan.refresh_tokens").
		Set("replaced_by_token", replacedByID).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set replaced by sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("set replaced by: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// RevokeBySession revokes every non-revoked refresh token bound to the session.
func (r *TokenRepository) RevokeBySession(ctx context.Context, sessionID string, revokedBy, reason string, at time.Time) (int, error) {
	stmt, args, err := r.builder.Update("castellan.refresh_tokens").
		Set("revoked", true).
		Set("revoked_at", at).
		Set("revoked_by", nullIfEmpty(revokedBy)).
		Set("revoke_reason", nullIfEmpty(reason)).
		Where(squirrel.Eq{"session_id": sessionID, "revoked": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke tokens by session sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke tokens by session: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

// RevokeAllForUser bulk-revokes every non-revoked refresh token for a user.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID string, reason string, at time.Time) (int, error) {
	stmt, args, err := r.builder.Update("castellan.refresh_tokens").
		Set("revoked", true).
		Set("revoked_at", at).
		Set("revoke_reason", nullIfEmpty(reason)).
		Where(squirrel.Eq{"user_id": userID, "revoked": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke tokens for user sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke tokens for user: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

func scanRefreshToken(row pgx.Row) (*domain.RefreshToken, error) {
	var (
		token        domain.RefreshToken
		revokedAt    sql.NullTime
		revokedBy    sql.NullString
		revokeReason sql.NullString
		replacedBy   sql.NullString
	)

	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.SessionID,
		&token.TokenHash,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.Revoked,
		&revokedAt,
		&revokedBy,
		&revokeReason,
		&replacedBy,
	); err != nil {
		return nil, err
	}

	if revokedAt.Valid {
		t := revokedAt.Time
		token.RevokedAt = &t
	}
	if revokedBy.Valid {
		v := revokedBy.String
		token.RevokedBy = &v
	}
	if revokeReason.Valid {
		v := revokeReason.String
		token.RevokeReason = &v
	}
	if replacedBy.Valid {
		v := replacedBy.String
		token.ReplacedByToken = &v
	}

	return &token, nil
}
