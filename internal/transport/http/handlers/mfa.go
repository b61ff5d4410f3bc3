package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/castellan-io/castellan/internal/transport/http/middleware"
	"github.com/castellan-io/castellan/internal/usecase"
)

// MFAHandler exposes multi-factor enrollment and verification.
type MFAHandler struct {
	mfa *usecase.MFAService
}

// NewMFAHandler constructs MFAHandler.
func NewMFAHandler(mfa *usecase.MFAService) *MFAHandler {
	return &MFAHandler{mfa: mfa}
}

// RegisterRoutes binds MFA routes. All of them require authentication.
func (h *MFAHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/totp/enroll", h.enrollTOTP)
	r.POST("/verify", h.verify)
	r.POST("/disable", h.disable)
}

func (h *MFAHandler) enrollTOTP(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	enrollment, err := h.mfa.EnrollTOTP(c.Request.Context(), userID)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
		}, http.StatusInternalServerError, "failed to enroll mfa")
		return
	}

	c.JSON(http.StatusOK, MFAEnrollResponse{
		Secret:     enrollment.Secret,
		OTPAuthURL: enrollment.OTPAuthURL,
	})
}

func (h *MFAHandler) verify(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req MFACodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "code is required"))
		return
	}

	if err := h.mfa.VerifyEnrollment(c.Request.Context(), userID, req.Code); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidMFA, Status: http.StatusForbidden, Message: "invalid mfa code"},
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
		}, http.StatusInternalServerError, "failed to verify mfa")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "mfa enabled"})
}

func (h *MFAHandler) disable(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req MFACodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "code is required"))
		return
	}

	if err := h.mfa.Disable(c.Request.Context(), userID, req.Code); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidMFA, Status: http.StatusForbidden, Message: "invalid mfa code"},
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
		}, http.StatusInternalServerError, "failed to disable mfa")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "mfa disabled"})
}
