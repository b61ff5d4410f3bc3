package port

import (
	"context"

	"github.com/castellan-io/castellan/internal/core/domain"
)

// TenantRepository exposes tenant and membership persistence.
// Soft-deleted memberships are invisible to every read operation.
type TenantRepository interface {
	CreateTenant(ctx context.Context, tenant domain.Tenant) error
	// DeleteTenant removes a tenant row outright. Only the tenant-creation
	// cascade uses it, to take back a tenant whose admin membership could
	// not be written.
	DeleteTenant(ctx context.Context, id string) error
	GetTenant(ctx context.Context, id string) (*domain.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*domain.Tenant, error)
	CreateMembership(ctx context.Context, membership domain.TenantMembership) error
	GetMembership(ctx context.Context, userID, tenantID string) (*domain.TenantMembership, error)
	ListMembershipsForUser(ctx context.Context, userID string) ([]domain.TenantMembership, error)
}
