package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/castellan-io/castellan/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// UserSummary describes a minimal view of a user returned by the API.
type UserSummary struct {
	ID              string  `json:"id"`
	Email           string  `json:"email"`
	Role            string  `json:"role"`
	DefaultTenantID *string `json:"default_tenant_id,omitempty"`
	EmailVerified   bool    `json:"email_verified"`
	MFAEnabled      bool    `json:"mfa_enabled"`
}

func newUserSummary(user domain.UserSummary) UserSummary {
	return UserSummary{
		ID:              user.ID,
		Email:           user.Email,
		Role:            string(user.Role),
		DefaultTenantID: user.DefaultTenantID,
		EmailVerified:   user.EmailVerified,
		MFAEnabled:      user.MFAEnabled,
	}
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DeviceLabel string `json:"device_label"`
}

// RegisterRequest defines the payload for account registration.
type RegisterRequest struct {
	Email            string `json:"email" binding:"required"`
	Password         string `json:"password" binding:"required"`
	OrganizationName string `json:"organization_name"`
}

// TokenRefreshRequest defines the payload for the refresh endpoint. The
// refresh token may instead arrive via cookie.
type TokenRefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// AuthResponse carries an issued token pair.
type AuthResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	SessionID    string      `json:"session_id"`
	User         UserSummary `json:"user"`
}

// SessionSummary provides a compact view of a session for device management.
type SessionSummary struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
	IP          *string   `json:"ip,omitempty"`
	UserAgent   *string   `json:"user_agent,omitempty"`
	DeviceLabel *string   `json:"device_label,omitempty"`
}

func newSessionSummary(session domain.Session) SessionSummary {
	return SessionSummary{
		ID:          session.ID,
		CreatedAt:   session.CreatedAt,
		ExpiresAt:   session.ExpiresAt,
		LastUsedAt:  session.LastUsedAt,
		IP:          session.Device.IP,
		UserAgent:   session.Device.UserAgent,
		DeviceLabel: session.Device.Label,
	}
}

// SessionListResponse wraps the active session listing.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// SessionValidityResponse reports liveness and remaining time for a session.
type SessionValidityResponse struct {
	Valid            bool `json:"valid"`
	RemainingSeconds int  `json:"remaining_seconds"`
}

// ChangePasswordRequest defines the authenticated password change payload.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// PasswordResetRequest starts a reset flow.
type PasswordResetRequest struct {
	Email string `json:"email" binding:"required"`
}

// PasswordResetConfirmRequest completes a reset flow.
type PasswordResetConfirmRequest struct {
	Email       string `json:"email" binding:"required"`
	Token       string `json:"token" binding:"required"`
	OTP         string `json:"otp"`
	NewPassword string `json:"new_password" binding:"required"`
}

// RecoveryRequest starts an account recovery flow.
type RecoveryRequest struct {
	Email string `json:"email" binding:"required"`
}

// RecoveryConfirmRequest completes an account recovery flow.
type RecoveryConfirmRequest struct {
	Email       string `json:"email" binding:"required"`
	Token       string `json:"token" binding:"required"`
	MFACode     string `json:"mfa_code"`
	NewPassword string `json:"new_password" binding:"required"`
}

// VerifyEmailRequest redeems an email verification token.
type VerifyEmailRequest struct {
	Token string `json:"token" binding:"required"`
}

// MFAEnrollResponse returns enrollment material for an authenticator app.
type MFAEnrollResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
}

// MFACodeRequest carries a verification code.
type MFACodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// CreateTenantRequest defines the tenant creation payload.
type CreateTenantRequest struct {
	Name string `json:"name" binding:"required"`
}

// TenantResponse describes a tenant.
type TenantResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

// AddMemberRequest grants a user membership in a tenant.
type AddMemberRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

// MembershipResponse describes a tenant membership.
type MembershipResponse struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// HealthResponse describes service status.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}
