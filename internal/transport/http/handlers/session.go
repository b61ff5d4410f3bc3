package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/castellan-io/castellan/internal/transport/http/middleware"
	"github.com/castellan-io/castellan/internal/usecase"
)

// SessionHandler exposes device-management endpoints over the user's sessions.
type SessionHandler struct {
	sessions *usecase.SessionService
	tokens   *usecase.TokenService
}

// NewSessionHandler constructs SessionHandler.
func NewSessionHandler(sessions *usecase.SessionService, tokens *usecase.TokenService) *SessionHandler {
	return &SessionHandler{sessions: sessions, tokens: tokens}
}

// RegisterRoutes binds session routes. The group must carry auth middleware.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.list)
	r.GET("/current", h.current)
	r.DELETE("/:sessionId", h.revoke)
}

func (h *SessionHandler) list(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessions, err := h.sessions.ListActive(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list sessions"))
		return
	}

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, newSessionSummary(session))
	}

	c.JSON(http.StatusOK, SessionListResponse{Sessions: summaries})
}

func (h *SessionHandler) current(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessionID := strings.TrimSpace(claims.SessionID)
	if sessionID == "" {
		c.JSON(http.StatusOK, SessionValidityResponse{Valid: false})
		return
	}

	valid, err := h.sessions.IsSessionValid(c.Request.Context(), claims.UserID(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to validate session"))
		return
	}

	remaining, err := h.sessions.RemainingTime(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to validate session"))
		return
	}

	c.JSON(http.StatusOK, SessionValidityResponse{
		Valid:            valid,
		RemainingSeconds: int(remaining.Seconds()),
	})
}

func (h *SessionHandler) revoke(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	sessionID := strings.TrimSpace(c.Param("sessionId"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "session id is required"))
		return
	}

	// Ownership check before the state change.
	if _, err := h.sessions.GetForUser(c.Request.Context(), userID, sessionID); err != nil {
		if errors.Is(err, usecase.ErrSessionInvalid) {
			c.JSON(http.StatusNotFound, NewErrorResponse(c, "session not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to revoke session"))
		return
	}

	if _, err := h.tokens.RevokeSession(c.Request.Context(), sessionID, userID, "user_revoked"); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to revoke session"))
		return
	}

	c.Status(http.StatusNoContent)
}
