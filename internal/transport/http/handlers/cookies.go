package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/infra/config"
)

const (
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"
	sessionCookieName = "session_id"

	// The refresh credential is scoped to the refresh/logout endpoints only.
	refreshCookiePath = "/api/v1/auth"
)

// setAuthCookies mirrors the token pair into cookies so browser clients can
// authenticate without handling tokens in script. Each cookie is independently
// clearable on logout.
func setAuthCookies(c *gin.Context, cfg *config.AppConfig, pair *domain.TokenPair) {
	secure := cfg.App.IsProduction()

	c.SetCookie(accessCookieName, pair.AccessToken, int(cfg.JWT.AccessTokenTTL.Seconds()), "/", "", secure, true)
	c.SetCookie(refreshCookieName, pair.RefreshToken, int(cfg.JWT.RefreshTokenTTL.Seconds()), refreshCookiePath, "", secure, true)
	c.SetCookie(sessionCookieName, pair.SessionID, int(cfg.Session.HardTTL.Seconds()), "/", "", secure, true)
}

// clearAuthCookies expires all three credentials.
func clearAuthCookies(c *gin.Context, cfg *config.AppConfig) {
	secure := cfg.App.IsProduction()

	c.SetCookie(accessCookieName, "", -1, "/", "", secure, true)
	c.SetCookie(refreshCookieName, "", -1, refreshCookiePath, "", secure, true)
	c.SetCookie(sessionCookieName, "", -1, "/", "", secure, true)
}

// refreshTokenFromRequest prefers the JSON body, falling back to the cookie.
func refreshTokenFromRequest(c *gin.Context, body TokenRefreshRequest) string {
	if body.RefreshToken != "" {
		return body.RefreshToken
	}
	if cookie, err := c.Cookie(refreshCookieName); err == nil {
		return cookie
	}
	return ""
}
