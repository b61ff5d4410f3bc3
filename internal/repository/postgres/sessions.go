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

// SessionRepository implements port.SessionRepository backed by PostgreSQL.
type SessionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	return &SessionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var sessionColumns = []string{
	"id",
	"user_id",
	"created_at",
	"expires_at",
	"last_used_at",
	"is_active",
	"revoked",
	"revoked_at",
	"revoked_by",
	"ip",
	"user_agent",
	"device_label",
}

// Create inserts a session record.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	stmt, args, err := r.builder.Insert("castellan.sessions").
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.UserID,
			session.CreatedAt,
			session.ExpiresAt,
			session.LastUsedAt,
			session.IsActive,
			session.Revoked,
			session.RevokedAt,
			session.RevokedBy,
			session.Device.IP,
			session.Device.UserAgent,
			session.Device.Label,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// Get fetches a session by id.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	return r.getOne(ctx, squirrel.Eq{"id": sessionID})
}

// GetForUser fetches a session by id, scoped to its owner.
func (r *SessionRepository) GetForUser(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	return r.getOne(ctx, squirrel.Eq{"id": sessionID, "user_id": userID})
}

func (r *SessionRepository) getOne(ctx context.Context, pred any) (*domain.Session, error) {
	stmt, args, err := r.builder.Select(sessionColumns...).
		From("castellan.sessions").
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	row := r.exec.QueryRow(ctx, stmt, args...)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	return session, nil
}

// Touch bumps the activity timestamp.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	stmt, args, err := r.builder.Update("castellan.sessions").
		Set("last_used_at", at).
		Where(squirrel.Eq{"id": sessionID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch session sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Revoke marks a session terminal. Already-revoked rows keep their original
// revocation metadata.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string, revokedBy string, at time.Time) error {
	stmt, args, err := r.builder.Update("castellan.sessions").
		Set("revoked", true).
		Set("is_active", false).
		Set("revoked_at", at).
		Set("revoked_by", nullIfEmpty(revokedBy)).
		Where(squirrel.Eq{"id": sessionID, "revoked": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke session sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// Distinguish missing from already revoked.
		if _, getErr := r.Get(ctx, sessionID); getErr != nil {
			return getErr
		}
		return nil
	}

	return nil
}

// RevokeAllForUser revokes every active session for the user, optionally
// sparing one session (logout-other-devices).
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string, exceptSessionID string, revokedBy string, at time.Time) (int, error) {
	builder := r.builder.Update("castellan.sessions").
		Set("revoked", true).
		Set("is_active", false).
		Set("revoked_at", at).
		Set("revoked_by", nullIfEmpty(revokedBy)).
		Where(squirrel.Eq{"user_id": userID, "revoked": false})
	if exceptSessionID != "" {
		builder = builder.Where(squirrel.NotEq{"id": exceptSessionID})
	}

	stmt, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke sessions sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions for user: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

// ListActiveByUser returns non-revoked sessions ordered by most recent use.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	stmt, args, err := r.builder.Select(sessionColumns...).
		From("castellan.sessions").
		Where(squirrel.Eq{"user_id": userID, "revoked": false, "is_active": true}).
		OrderBy("last_used_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		session     domain.Session
		revokedAt   sql.NullTime
		revokedBy   sql.NullString
		ip          sql.NullString
		userAgent   sql.NullString
		deviceLabel sql.NullString
	)

	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.LastUsedAt,
		&session.IsActive,
		&session.Revoked,
		&revokedAt,
		&revokedBy,
		&ip,
		&userAgent,
		&deviceLabel,
	); err != nil {
		return nil, err
	}

	if revokedAt.Valid {
		t := revokedAt.Time
		session.RevokedAt = &t
	}
	if revokedBy.Valid {
		v := revokedBy.String
		session.RevokedBy = &v
	}
	if ip.Valid {
		v := ip.String
		session.Device.IP = &v
	}
	if userAgent.Valid {
		v := userAgent.String
		session.Device.UserAgent = &v
	}
	if deviceLabel.Valid {
		v := deviceLabel.String
		session.Device.Label = &v
	}

	return &session, nil
}
