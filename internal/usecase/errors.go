package usecase

import "errors"

var (
	// ErrInvalidCredentials indicates the provided email or password are incorrect.
	// Lookup misses and password mismatches are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates the account is under a lockout window.
	ErrAccountLocked = errors.New("account is locked")
	// ErrAccountInactive indicates the account is disabled.
	ErrAccountInactive = errors.New("account is not active")
	// ErrDuplicateEmail indicates the email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrSessionInvalid indicates no usable session exists for the request.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrSessionExpired indicates the session elapsed its hard or idle lifetime.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionRevoked indicates the session was terminated.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrRefreshTokenInvalid indicates the refresh token does not exist or fails verification.
	ErrRefreshTokenInvalid = errors.New("invalid refresh token")
	// ErrRefreshTokenRevoked indicates the refresh token was revoked or already rotated.
	ErrRefreshTokenRevoked = errors.New("refresh token revoked")
	// ErrRefreshTokenExpired indicates the refresh token elapsed its validity window.
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// ErrPasswordReuse indicates the new password collides with recent history.
	ErrPasswordReuse = errors.New("password was used recently")
	// ErrInvalidOrExpiredToken covers reset, verification, and recovery tokens.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

	// ErrMFARequired indicates a verification code is required but was not supplied.
	ErrMFARequired = errors.New("mfa code required")
	// ErrInvalidMFA indicates the supplied verification code did not match.
	ErrInvalidMFA = errors.New("invalid mfa code")

	// ErrTenantContextRequired indicates no tenant id could be resolved for the request.
	ErrTenantContextRequired = errors.New("tenant context required")
	// ErrUserContextRequired indicates the token carries no usable tenant access claim.
	ErrUserContextRequired = errors.New("user context required")
	// ErrTenantAccessDenied indicates the tenant is absent from the token's access claim.
	ErrTenantAccessDenied = errors.New("tenant access denied")
	// ErrNotAMember indicates no live membership row links the user and the tenant.
	ErrNotAMember = errors.New("not a member of tenant")
	// ErrInsufficientRole indicates the membership role does not satisfy the operation.
	ErrInsufficientRole = errors.New("insufficient tenant role")
	// ErrTenantSlugTaken indicates the tenant name slugifies to a slug already in use.
	ErrTenantSlugTaken = errors.New("tenant slug already in use")

	// ErrUserNotFound indicates the user record does not exist.
	ErrUserNotFound = errors.New("user not found")
)
