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
	"github.com/castellan-io/castellan/internal/repository"
)

// TenantService manages tenants and the user-to-tenant memberships that feed
// token claims and access decisions.
type TenantService struct {
	tenants port.TenantRepository
	logger  *zap.Logger
	now     func() time.Time
}

func NewTenantService(tenants port.TenantRepository, logger *zap.Logger) *TenantService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantService{
		tenants: tenants,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock for deterministic tests.
func (s *TenantService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// CreateTenant creates a tenant and makes the creator its admin.
func (s *TenantService) CreateTenant(ctx context.Context, name, creatorUserID string) (*domain.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("tenant name is required")
	}

	slug := domain.Slugify(name)
	if slug == "" {
		return nil, fmt.Errorf("tenant name %q yields an empty slug", name)
	}

	now := s.now()
	tenant := domain.Tenant{
		ID:        uuid.NewString(),
		Name:      name,
		Slug:      slug,
		IsActive:  true,
		CreatedAt: now,
	}

	if err := s.tenants.CreateTenant(ctx, tenant); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("slug %q: %w", slug, ErrTenantSlugTaken)
		}
		return nil, fmt.Errorf("create tenant: %w", err)
	}

	membership := domain.TenantMembership{
		ID:        uuid.NewString(),
		UserID:    creatorUserID,
		TenantID:  tenant.ID,
		Role:      domain.TenantRoleAdmin,
		CreatedAt: now,
	}
	if err := s.tenants.CreateMembership(ctx, membership); err != nil {
		// A tenant nobody administers is unreachable; take it back out rather
		// than leaving the half-finished cascade behind.
		if delErr := s.tenants.DeleteTenant(ctx, tenant.ID); delErr != nil {
			s.logger.Error("orphaned tenant cleanup failed",
				zap.String("tenant_id", tenant.ID),
				zap.Error(delErr),
			)
		}
		return nil, fmt.Errorf("create admin membership: %w", err)
	}

	s.logger.Info("tenant created",
		zap.String("tenant_id", tenant.ID),
		zap.String("slug", tenant.Slug),
		zap.String("creator_user_id", creatorUserID),
	)

	return &tenant, nil
}

// AddMember grants a user membership in a tenant with the supplied role.
func (s *TenantService) AddMember(ctx context.Context, tenantID, userID string, role domain.TenantRole) (*domain.TenantMembership, error) {
	if _, err := s.tenants.GetTenant(ctx, tenantID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("tenant %s not found", tenantID)
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}

	membership := domain.TenantMembership{
		ID:        uuid.NewString(),
		UserID:    userID,
		TenantID:  tenantID,
		Role:      role,
		CreatedAt: s.now(),
	}
	if err := s.tenants.CreateMembership(ctx, membership); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("user already a member: %w", err)
		}
		return nil, fmt.Errorf("create membership: %w", err)
	}

	return &membership, nil
}

// ResolveMembership returns the user's live membership in a tenant, or
// ErrNotAMember. Soft-deleted memberships never resolve.
func (s *TenantService) ResolveMembership(ctx context.Context, userID, tenantID string) (*domain.TenantMembership, error) {
	membership, err := s.tenants.GetMembership(ctx, userID, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotAMember
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return membership, nil
}

// ListMemberships returns every live membership for the user.
func (s *TenantService) ListMemberships(ctx context.Context, userID string) ([]domain.TenantMembership, error) {
	memberships, err := s.tenants.ListMembershipsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return memberships, nil
}
