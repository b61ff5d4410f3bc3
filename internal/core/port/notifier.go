package port

import "context"

// Notifier delivers user-facing notifications. Calls are fire-and-forget:
// the auth flows do not depend on delivery success.
type Notifier interface {
	SendEmailVerification(ctx context.Context, email, token string) error
	SendPasswordResetOTP(ctx context.Context, email, token, otp string) error
	SendRecoveryNotification(ctx context.Context, email, token string) error
	SendPasswordResetSuccess(ctx context.Context, email string) error
	SendAccountRecoverySuccess(ctx context.Context, email string) error
}
