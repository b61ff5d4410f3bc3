package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/core/port"
	"github.com/castellan-io/castellan/internal/infra/security"
)

// AccessRequest carries what the guard needs for one decision: the verified
// claims and the tenant id candidates the transport layer extracted, in
// priority order (route parameter, body, header, request context). The
// token's default tenant claim is the final fallback.
type AccessRequest struct {
	Claims           *security.Claims
	TenantCandidates []string
}

// AccessGuard authorizes tenant-scoped operations. The token's tenantAccess
// claim is the first line of defense; role-level decisions always hit the
// membership store because roles can change after token issuance.
type AccessGuard struct {
	tenants  *TenantService
	audit    port.AuditPublisher
	logger   *zap.Logger
	now      func() time.Time
	observer func(allowed bool)
}

func NewAccessGuard(tenants *TenantService, audit port.AuditPublisher, log *zap.Logger) *AccessGuard {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccessGuard{
		tenants: tenants,
		audit:   audit,
		logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the guard clock for deterministic tests.
func (g *AccessGuard) WithClock(clock func() time.Time) {
	if clock != nil {
		g.now = clock
	}
}

// WithDecisionObserver registers a callback invoked once per decision,
// typically a metrics counter.
func (g *AccessGuard) WithDecisionObserver(observe func(allowed bool)) {
	g.observer = observe
}

// Authorize runs the decision procedure for an operation requiring one of
// requiredRoles (empty means authentication alone suffices). On success it
// returns the resolved tenant id. Every decision emits an audit event; the
// emission is a side effect, never a gate.
func (g *AccessGuard) Authorize(ctx context.Context, req AccessRequest, requiredRoles []domain.TenantRole) (string, error) {
	if req.Claims == nil {
		g.publishDecision(ctx, "", "", false, "missing_claims", requiredRoles)
		return "", ErrUserContextRequired
	}
	userID := req.Claims.UserID()

	if len(requiredRoles) == 0 {
		g.publishDecision(ctx, userID, "", true, "no_roles_required", requiredRoles)
		return "", nil
	}

	tenantID := g.resolveTenantID(req)
	if tenantID == "" {
		g.publishDecision(ctx, userID, "", false, "tenant_context_required", requiredRoles)
		return "", ErrTenantContextRequired
	}

	if req.Claims.TenantAccess == nil {
		g.publishDecision(ctx, userID, tenantID, false, "user_context_required", requiredRoles)
		return "", ErrUserContextRequired
	}

	if !containsString(req.Claims.TenantAccess, tenantID) {
		g.publishDecision(ctx, userID, tenantID, false, "tenant_access_denied", requiredRoles)
		return "", ErrTenantAccessDenied
	}

	// Claims are stale by construction; the role decision needs a live row.
	membership, err := g.tenants.ResolveMembership(ctx, userID, tenantID)
	if err != nil {
		if err == ErrNotAMember {
			g.publishDecision(ctx, userID, tenantID, false, "not_a_member", requiredRoles)
			return "", ErrNotAMember
		}
		return "", err
	}

	if !containsRole(requiredRoles, membership.Role) {
		g.publishDecision(ctx, userID, tenantID, false, "insufficient_role", requiredRoles)
		return "", ErrInsufficientRole
	}

	g.publishDecision(ctx, userID, tenantID, true, "", requiredRoles)
	return tenantID, nil
}

func (g *AccessGuard) resolveTenantID(req AccessRequest) string {
	for _, candidate := range req.TenantCandidates {
		if id := strings.TrimSpace(candidate); id != "" {
			return id
		}
	}
	if req.Claims.TenantID != nil {
		return strings.TrimSpace(*req.Claims.TenantID)
	}
	return ""
}

func (g *AccessGuard) publishDecision(ctx context.Context, userID, tenantID string, allowed bool, reason string, roles []domain.TenantRole) {
	if g.observer != nil {
		g.observer(allowed)
	}

	if !allowed {
		g.logger.Debug("tenant access denied",
			zap.String("user_id", userID),
			zap.String("tenant_id", tenantID),
			zap.String("reason", reason),
		)
	}

	if g.audit == nil {
		return
	}

	roleNames := make([]string, 0, len(roles))
	for _, role := range roles {
		roleNames = append(roleNames, string(role))
	}

	event := domain.AccessDecisionEvent{
		EventID:  uuid.NewString(),
		UserID:   userID,
		TenantID: tenantID,
		Allowed:  allowed,
		Reason:   reason,
		Roles:    roleNames,
		At:       g.now(),
	}
	if err := g.audit.PublishAccessDecision(ctx, event); err != nil {
		g.logger.Warn("publish access decision failed", zap.Error(err))
	}
}

func containsString(values []string, needle string) bool {
	for _, v := range values {
		if v == needle {
			return true
		}
	}
	return false
}

func containsRole(roles []domain.TenantRole, needle domain.TenantRole) bool {
	for _, role := range roles {
		if role == needle {
			return true
		}
	}
	return false
}
