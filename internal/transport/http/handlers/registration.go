package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/castellan-io/castellan/internal/infra/config"
	"github.com/castellan-io/castellan/internal/infra/security"
	"github.com/castellan-io/castellan/internal/transport/http/middleware"
	"github.com/castellan-io/castellan/internal/usecase"
)

// RegistrationHandler exposes account creation and email verification.
type RegistrationHandler struct {
	cfg          *config.AppConfig
	registration *usecase.RegistrationService
}

// NewRegistrationHandler constructs RegistrationHandler.
func NewRegistrationHandler(cfg *config.AppConfig, registration *usecase.RegistrationService) *RegistrationHandler {
	return &RegistrationHandler{cfg: cfg, registration: registration}
}

// RegisterRoutes binds registration routes; authMiddleware guards email
// verification. Extra register middlewares (throttling) run before signup.
func (h *RegistrationHandler) RegisterRoutes(r *gin.RouterGroup, authMiddleware gin.HandlerFunc, registerMiddlewares ...gin.HandlerFunc) {
	register := append([]gin.HandlerFunc{}, registerMiddlewares...)
	register = append(register, h.register)
	r.POST("/register", register...)
	r.POST("/verify-email", authMiddleware, h.verifyEmail)
}

func (h *RegistrationHandler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	pair, err := h.registration.Register(c.Request.Context(), usecase.RegistrationInput{
		Email:            req.Email,
		Password:         req.Password,
		OrganizationName: req.OrganizationName,
		Device:           deviceInfoFromRequest(c, ""),
	})
	if err != nil {
		if errors.Is(err, usecase.ErrDuplicateEmail) {
			c.JSON(http.StatusConflict, NewErrorResponse(c, "email already registered"))
			return
		}
		if errors.Is(err, usecase.ErrTenantSlugTaken) {
			c.JSON(http.StatusConflict, NewErrorResponse(c, "organization name already in use"))
			return
		}
		var policyErr *security.PasswordValidationError
		if errors.As(err, &policyErr) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, policyErr.Message))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to register user"))
		return
	}

	setAuthCookies(c, h.cfg, pair)

	c.JSON(http.StatusCreated, AuthResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		SessionID:    pair.SessionID,
		User:         newUserSummary(pair.User),
	})
}

func (h *RegistrationHandler) verifyEmail(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "token is required"))
		return
	}

	if err := h.registration.VerifyEmail(c.Request.Context(), userID, req.Token); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidOrExpiredToken, Status: http.StatusBadRequest, Message: "invalid or expired token"},
		}, http.StatusInternalServerError, "failed to verify email")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "email verified"})
}
