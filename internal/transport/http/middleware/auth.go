package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/castellan-io/castellan/internal/infra/security"
	"github.com/castellan-io/castellan/internal/usecase"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// newErrorResponse creates an error response with trace ID
func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireAuth validates the Authorization header, verifies the access token,
// and re-validates the bound session. Each authenticated request slides the
// session's idle window.
func RequireAuth(codec *security.TokenCodec, sessions *usecase.SessionService, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid authorization format: expected 'Bearer <token>'"))
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing access token"))
			return
		}

		claims, err := codec.Parse(token, security.TokenTypeAccess)
		if err != nil {
			switch {
			case errors.Is(err, security.ErrExpiredToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "access token expired"))
			default:
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "invalid access token"))
			}
			return
		}

		// Session state is authoritative: a revoked or idle session kills
		// every access token bound to it before the exp claim does.
		if sessionID := strings.TrimSpace(claims.SessionID); sessionID != "" && sessions != nil {
			valid, err := sessions.IsSessionValid(c.Request.Context(), claims.UserID(), sessionID)
			if err != nil {
				log.Error("session validation failed", zap.String("session_id", sessionID), zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					newErrorResponse(c, "authentication failed"))
				return
			}
			if !valid {
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "session expired or revoked"))
				return
			}

			if err := sessions.TouchActivity(c.Request.Context(), claims.UserID(), sessionID); err != nil {
				log.Warn("session activity update failed", zap.String("session_id", sessionID), zap.Error(err))
			}
		}

		c.Set(UserIDKey, claims.UserID())
		c.Set(ClaimsKey, claims)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = claims.UserID()
		}

		c.Next()
	}
}

// GetAuthenticatedUserID retrieves the user ID from context (helper for handlers)
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}

	if id, ok := userID.(string); ok {
		return id, true
	}

	return "", false
}

// GetClaims retrieves the verified access token claims from context.
func GetClaims(c *gin.Context) *security.Claims {
	raw, exists := c.Get(ClaimsKey)
	if !exists {
		return nil
	}
	claims, ok := raw.(*security.Claims)
	if !ok {
		return nil
	}
	return claims
}
