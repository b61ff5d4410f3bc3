package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/repository"
)

// TenantRepository implements port.TenantRepository using PostgreSQL.
// Soft-deleted memberships are filtered out of every read.
type TenantRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewTenantRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewTenantRepository(exec pgExecutor) *TenantRepository {
	return &TenantRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// CreateTenant inserts a tenant row.
func (r *TenantRepository) CreateTenant(ctx context.Context, tenant domain.Tenant) error {
	stmt, args, err := r.builder.Insert("castellan.tenants").
		Columns("id", "name", "slug", "is_active", "created_at", "deleted_at").
		Values(tenant.ID, tenant.Name, tenant.Slug, tenant.IsActive, tenant.CreatedAt, tenant.DeletedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert tenant sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert tenant: %w", err)
	}

	return nil
}

// DeleteTenant removes a tenant row. Used to unwind tenant creation when
// the admin membership write fails; a tenant with members is never deleted
// through this path.
func (r *TenantRepository) DeleteTenant(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Delete("castellan.tenants").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete tenant sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// GetTenant fetches a tenant by primary key.
func (r *TenantRepository) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	return r.getTenant(ctx, squirrel.Eq{"id": id})
}

// GetTenantBySlug fetches a tenant by its URL slug.
func (r *TenantRepository) GetTenantBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	return r.getTenant(ctx, squirrel.Eq{"slug": slug})
}

func (r *TenantRepository) getTenant(ctx context.Context, pred any) (*domain.Tenant, error) {
	stmt, args, err := r.builder.Select("id", "name", "slug", "is_active", "created_at", "deleted_at").
		From("castellan.tenants").
		Where(pred).
		Where(squirrel.Eq{"deleted_at": nil}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select tenant sql: %w", err)
	}

	var (
		tenant    domain.Tenant
		deletedAt sql.NullTime
	)
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.Slug,
		&tenant.IsActive,
		&tenant.CreatedAt,
		&deletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}

	if deletedAt.Valid {
		t := deletedAt.Time
		tenant.DeletedAt = &t
	}

	return &tenant, nil
}

// CreateMembership inserts a membership row.
func (r *TenantRepository) CreateMembership(ctx context.Context, membership domain.TenantMembership) error {
	stmt, args, err := r.builder.Insert("castellan.tenant_memberships").
		Columns("id", "user_id", "tenant_id", "role", "created_at", "deleted_at").
		Values(membership.ID, membership.UserID, membership.TenantID, membership.Role, membership.CreatedAt, membership.DeletedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert membership sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert membership: %w", err)
	}

	return nil
}

// GetMembership fetches the live membership linking a user and a tenant.
func (r *TenantRepository) GetMembership(ctx context.Context, userID, tenantID string) (*domain.TenantMembership, error) {
	stmt, args, err := r.builder.Select("id", "user_id", "tenant_id", "role", "created_at", "deleted_at").
		From("castellan.tenant_memberships").
		Where(squirrel.Eq{"user_id": userID, "tenant_id": tenantID, "deleted_at": nil}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select membership sql: %w", err)
	}

	membership, err := scanMembership(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan membership: %w", err)
	}

	return membership, nil
}

// ListMembershipsForUser returns every live membership for the user.
func (r *TenantRepository) ListMembershipsForUser(ctx context.Context, userID string) ([]domain.TenantMembership, error) {
	stmt, args, err := r.builder.Select("id", "user_id", "tenant_id", "role", "created_at", "deleted_at").
		From("castellan.tenant_memberships").
		Where(squirrel.Eq{"user_id": userID, "deleted_at": nil}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list memberships sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []domain.TenantMembership
	for rows.Next() {
		membership, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		memberships = append(memberships, *membership)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}

	return memberships, nil
}

func scanMembership(row pgx.Row) (*domain.TenantMembership, error) {
	var (
		membership domain.TenantMembership
		deletedAt  sql.NullTime
	)

	if err := row.Scan(
		&membership.ID,
		&membership.UserID,
		&membership.TenantID,
		&membership.Role,
		&membership.CreatedAt,
		&deletedAt,
	); err != nil {
		return nil, err
	}

	if deletedAt.Valid {
		t := deletedAt.Time
		membership.DeletedAt = &t
	}

	return &membership, nil
}
