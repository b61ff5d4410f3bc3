package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/usecase"
)

// TenantIDParam is the route parameter carrying the target tenant id.
const TenantIDParam = "tenantId"

// TenantIDHeader is the header fallback for the target tenant id.
const TenantIDHeader = "X-Tenant-ID"

// RequireTenantRole authorizes a tenant-scoped route through the access
// guard. Tenant id candidates are collected in priority order: route
// parameter, request body, header, previously resolved request context; the
// guard falls back to the token's default tenant claim. The resolved tenant
// id is stored in the context for the handler.
func RequireTenantRole(guard *usecase.AccessGuard, roles ...domain.TenantRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "authentication required"))
			return
		}

		candidates := []string{
			c.Param(TenantIDParam),
			tenantIDFromBody(c),
			c.GetHeader(TenantIDHeader),
			tenantIDFromContext(c),
		}

		tenantID, err := guard.Authorize(c.Request.Context(), usecase.AccessRequest{
			Claims:           claims,
			TenantCandidates: candidates,
		}, roles)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrTenantContextRequired):
				c.AbortWithStatusJSON(http.StatusBadRequest,
					newErrorResponse(c, "tenant context required"))
			case errors.Is(err, usecase.ErrUserContextRequired):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "user context required"))
			case errors.Is(err, usecase.ErrTenantAccessDenied):
				c.AbortWithStatusJSON(http.StatusForbidden,
					newErrorResponse(c, "tenant access denied"))
			case errors.Is(err, usecase.ErrNotAMember):
				c.AbortWithStatusJSON(http.StatusForbidden,
					newErrorResponse(c, "not a member of this tenant"))
			case errors.Is(err, usecase.ErrInsufficientRole):
				c.AbortWithStatusJSON(http.StatusForbidden,
					newErrorResponse(c, "insufficient role"))
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					newErrorResponse(c, "authorization failed"))
			}
			return
		}

		if tenantID != "" {
			c.Set(TenantIDKey, tenantID)
			if reqCtx := GetRequestContext(c); reqCtx != nil {
				reqCtx.TenantID = tenantID
			}
		}

		c.Next()
	}
}

// GetTenantID retrieves the guard-resolved tenant id from context.
func GetTenantID(c *gin.Context) string {
	if raw, exists := c.Get(TenantIDKey); exists {
		if id, ok := raw.(string); ok {
			return id
		}
	}
	return ""
}

// tenantIDFromBody peeks at a JSON body for a tenantId field, restoring the
// body for downstream handlers.
func tenantIDFromBody(c *gin.Context) string {
	if c.Request.Body == nil || c.Request.Method == http.MethodGet {
		return ""
	}
	if !strings.Contains(c.GetHeader("Content-Type"), "application/json") {
		return ""
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

	var probe struct {
		TenantID string `json:"tenantId"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return strings.TrimSpace(probe.TenantID)
}

func tenantIDFromContext(c *gin.Context) string {
	if id := GetTenantID(c); id != "" {
		return id
	}
	if reqCtx := GetRequestContext(c); reqCtx != nil {
		return reqCtx.TenantID
	}
	return ""
}
