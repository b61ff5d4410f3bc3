package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/infra/config"
	"github.com/castellan-io/castellan/internal/infra/telemetry"
	"github.com/castellan-io/castellan/internal/transport/http/middleware"
	"github.com/castellan-io/castellan/internal/usecase"
)

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	cfg     *config.AppConfig
	auth    *usecase.AuthService
	metrics *telemetry.Provider
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(cfg *config.AppConfig, auth *usecase.AuthService, metrics *telemetry.Provider) *AuthHandler {
	return &AuthHandler{cfg: cfg, auth: auth, metrics: metrics}
}

// RegisterRoutes binds authentication routes; authMiddleware guards logout.
// Extra login middlewares (throttling) run before the login handler only.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, authMiddleware gin.HandlerFunc, loginMiddlewares ...gin.HandlerFunc) {
	login := append([]gin.HandlerFunc{}, loginMiddlewares...)
	login = append(login, h.login)
	r.POST("/login", login...)
	r.POST("/refresh", h.refresh)
	r.POST("/logout", authMiddleware, h.logout)
	r.POST("/logout-others", authMiddleware, h.logoutOthers)
}

func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	device := deviceInfoFromRequest(c, req.DeviceLabel)

	pair, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, device)
	if err != nil {
		h.metrics.RecordLogin(loginOutcome(err))
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
			{Err: usecase.ErrAccountLocked, Status: http.StatusForbidden, Message: "account locked"},
			{Err: usecase.ErrAccountInactive, Status: http.StatusForbidden, Message: "account inactive"},
		}, http.StatusInternalServerError, "authentication failed")
		return
	}

	h.metrics.RecordLogin("success")
	setAuthCookies(c, h.cfg, pair)

	c.JSON(http.StatusOK, AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		SessionID:    pair.SessionID,
		User:         newUserSummary(pair.User),
	})
}

func (h *AuthHandler) refresh(c *gin.Context) {
	var req TokenRefreshRequest
	// A missing body is fine; the cookie may carry the token.
	_ = c.ShouldBindJSON(&req)

	token := refreshTokenFromRequest(c, req)
	if token == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), token)
	if err != nil {
		h.metrics.RecordRefresh(refreshOutcome(err))
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrRefreshTokenInvalid, Status: http.StatusUnauthorized, Message: "invalid refresh token"},
			{Err: usecase.ErrRefreshTokenExpired, Status: http.StatusUnauthorized, Message: "refresh token expired"},
			{Err: usecase.ErrRefreshTokenRevoked, Status: http.StatusUnauthorized, Message: "refresh token revoked"},
			{Err: usecase.ErrSessionInvalid, Status: http.StatusUnauthorized, Message: "session expired or revoked"},
		}, http.StatusInternalServerError, "failed to refresh token")
		return
	}

	h.metrics.RecordRefresh("success")
	setAuthCookies(c, h.cfg, pair)

	c.JSON(http.StatusOK, AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		SessionID:    pair.SessionID,
		User:         newUserSummary(pair.User),
	})
}

func (h *AuthHandler) logout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessionID := strings.TrimSpace(claims.SessionID)
	if sessionID != "" {
		err := h.auth.Logout(c.Request.Context(), claims.UserID(), sessionID)
		// An already-dead session is a successful logout.
		if err != nil && !errors.Is(err, usecase.ErrSessionInvalid) {
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to revoke session"))
			return
		}
	}

	clearAuthCookies(c, h.cfg)
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) logoutOthers(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	revoked, err := h.auth.LogoutOtherDevices(c.Request.Context(), claims.UserID(), claims.SessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to revoke other sessions"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions_revoked": revoked})
}

func deviceInfoFromRequest(c *gin.Context, label string) domain.DeviceInfo {
	device := domain.DeviceInfo{}

	if ip := strings.TrimSpace(c.ClientIP()); ip != "" {
		device.IP = &ip
	}
	if ua := strings.TrimSpace(c.Request.UserAgent()); ua != "" {
		device.UserAgent = &ua
	}
	if label = strings.TrimSpace(label); label != "" {
		device.Label = &label
	}

	return device
}

func loginOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, usecase.ErrAccountLocked):
		return "locked"
	case errors.Is(err, usecase.ErrAccountInactive):
		return "inactive"
	case errors.Is(err, usecase.ErrInvalidCredentials):
		return "invalid_credentials"
	default:
		return "error"
	}
}

func refreshOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, usecase.ErrRefreshTokenRevoked):
		return "revoked"
	case errors.Is(err, usecase.ErrRefreshTokenExpired):
		return "expired"
	case errors.Is(err, usecase.ErrSessionInvalid):
		return "session_invalid"
	case errors.Is(err, usecase.ErrRefreshTokenInvalid):
		return "invalid"
	default:
		return "error"
	}
}
