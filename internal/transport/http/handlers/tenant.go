package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/transport/http/middleware"
	"github.com/castellan-io/castellan/internal/usecase"
)

// TenantHandler exposes tenant creation and membership management.
type TenantHandler struct {
	tenants *usecase.TenantService
	guard   *usecase.AccessGuard
}

// NewTenantHandler constructs TenantHandler.
func NewTenantHandler(tenants *usecase.TenantService, guard *usecase.AccessGuard) *TenantHandler {
	return &TenantHandler{tenants: tenants, guard: guard}
}

// RegisterRoutes binds tenant routes. The group must carry auth middleware;
// member management additionally requires tenant admin through the guard.
func (h *TenantHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("", h.create)
	r.GET("/memberships", h.listMemberships)

	adminOnly := middleware.RequireTenantRole(h.guard, domain.TenantRoleAdmin)
	r.POST("/:tenantId/members", adminOnly, h.addMember)
}

func (h *TenantHandler) create(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "name is required"))
		return
	}

	tenant, err := h.tenants.CreateTenant(c.Request.Context(), req.Name, userID)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "failed to create tenant"))
		return
	}

	c.JSON(http.StatusCreated, TenantResponse{
		ID:        tenant.ID,
		Name:      tenant.Name,
		Slug:      tenant.Slug,
		CreatedAt: tenant.CreatedAt,
	})
}

func (h *TenantHandler) listMemberships(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	memberships, err := h.tenants.ListMemberships(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list memberships"))
		return
	}

	out := make([]MembershipResponse, 0, len(memberships))
	for _, membership := range memberships {
		out = append(out, MembershipResponse{
			ID:       membership.ID,
			UserID:   membership.UserID,
			TenantID: membership.TenantID,
			Role:     string(membership.Role),
		})
	}

	c.JSON(http.StatusOK, gin.H{"memberships": out})
}

func (h *TenantHandler) addMember(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	if tenantID == "" {
		tenantID = strings.TrimSpace(c.Param(middleware.TenantIDParam))
	}
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "tenant context required"))
		return
	}

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid member payload"))
		return
	}

	role := domain.TenantRole(strings.ToLower(strings.TrimSpace(req.Role)))
	switch role {
	case domain.TenantRoleAdmin, domain.TenantRoleMember, domain.TenantRoleViewer:
	default:
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "unknown role"))
		return
	}

	membership, err := h.tenants.AddMember(c.Request.Context(), tenantID, req.UserID, role)
	if err != nil {
		c.JSON(http.StatusConflict, NewErrorResponse(c, "failed to add member"))
		return
	}

	c.JSON(http.StatusCreated, MembershipResponse{
		ID:       membership.ID,
		UserID:   membership.UserID,
		TenantID: membership.TenantID,
		Role:     string(membership.Role),
	})
}
