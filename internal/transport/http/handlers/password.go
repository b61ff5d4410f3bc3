package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/castellan-io/castellan/internal/infra/security"
	"github.com/castellan-io/castellan/internal/transport/http/middleware"
	"github.com/castellan-io/castellan/internal/usecase"
)

// PasswordHandler exposes password change, reset, and account recovery.
type PasswordHandler struct {
	passwords *usecase.PasswordService
}

// NewPasswordHandler constructs PasswordHandler.
func NewPasswordHandler(passwords *usecase.PasswordService) *PasswordHandler {
	return &PasswordHandler{passwords: passwords}
}

// RegisterRoutes binds password routes; authMiddleware guards the change
// endpoint. Extra reset middlewares (throttling) run before the unauthenticated
// reset and recovery endpoints.
func (h *PasswordHandler) RegisterRoutes(r *gin.RouterGroup, authMiddleware gin.HandlerFunc, resetMiddlewares ...gin.HandlerFunc) {
	r.POST("/change", authMiddleware, h.change)

	with := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		chain := append([]gin.HandlerFunc{}, resetMiddlewares...)
		return append(chain, handler)
	}
	r.POST("/reset/request", with(h.requestReset)...)
	r.POST("/reset/confirm", with(h.confirmReset)...)
	r.POST("/recovery/request", with(h.requestRecovery)...)
	r.POST("/recovery/confirm", with(h.confirmRecovery)...)
}

func (h *PasswordHandler) change(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password change payload"))
		return
	}

	if err := h.passwords.ChangePassword(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		h.respondPasswordError(c, err, "failed to change password")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password changed; all sessions revoked"})
}

func (h *PasswordHandler) requestReset(c *gin.Context) {
	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email is required"))
		return
	}

	if err := h.passwords.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to request password reset"))
		return
	}

	// Same response for known and unknown emails.
	c.JSON(http.StatusAccepted, MessageResponse{Message: "if the account exists, reset instructions were sent"})
}

func (h *PasswordHandler) confirmReset(c *gin.Context) {
	var req PasswordResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid reset payload"))
		return
	}

	if err := h.passwords.ResetPassword(c.Request.Context(), req.Email, req.Token, req.OTP, req.NewPassword); err != nil {
		h.respondPasswordError(c, err, "failed to reset password")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password reset; all sessions revoked"})
}

func (h *PasswordHandler) requestRecovery(c *gin.Context) {
	var req RecoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email is required"))
		return
	}

	if err := h.passwords.RequestRecovery(c.Request.Context(), req.Email); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to request account recovery"))
		return
	}

	c.JSON(http.StatusAccepted, MessageResponse{Message: "if the account exists, recovery instructions were sent"})
}

func (h *PasswordHandler) confirmRecovery(c *gin.Context) {
	var req RecoveryConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid recovery payload"))
		return
	}

	if err := h.passwords.RecoverAccount(c.Request.Context(), req.Email, req.Token, req.MFACode, req.NewPassword); err != nil {
		h.respondPasswordError(c, err, "failed to recover account")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "account recovered; all sessions revoked"})
}

func (h *PasswordHandler) respondPasswordError(c *gin.Context, err error, fallback string) {
	var policyErr *security.PasswordValidationError
	if errors.As(err, &policyErr) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, policyErr.Message))
		return
	}

	RespondWithMappedError(c, err, []ErrorCase{
		{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
		{Err: usecase.ErrPasswordReuse, Status: http.StatusConflict, Message: "password was used recently"},
		{Err: usecase.ErrInvalidOrExpiredToken, Status: http.StatusBadRequest, Message: "invalid or expired token"},
		{Err: usecase.ErrMFARequired, Status: http.StatusForbidden, Message: "mfa code required"},
		{Err: usecase.ErrInvalidMFA, Status: http.StatusForbidden, Message: "invalid mfa code"},
		{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
	}, http.StatusInternalServerError, fallback)
}
