package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/castellan-io/castellan/internal/core/port"
	"github.com/castellan-io/castellan/internal/infra/logger"
)

// ConsoleNotifier logs notifications instead of delivering them. Default in
// development so flows work without AWS credentials.
type ConsoleNotifier struct {
	logger *zap.Logger
}

func NewConsoleNotifier(log *zap.Logger) *ConsoleNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConsoleNotifier{logger: log}
}

func (n *ConsoleNotifier) log(kind, email string, fields ...zap.Field) {
	fields = append([]zap.Field{
		zap.String("kind", kind),
		zap.String("email", logger.MaskEmail(email)),
	}, fields...)
	n.logger.Info("notification", fields...)
}

// SendEmailVerification logs the verification token.
func (n *ConsoleNotifier) SendEmailVerification(_ context.Context, email, token string) error {
	n.log("email_verification", email, zap.String("token", token))
	return nil
}

// SendPasswordResetOTP logs the reset token and one-time code.
func (n *ConsoleNotifier) SendPasswordResetOTP(_ context.Context, email, token, otp string) error {
	n.log("password_reset_otp", email, zap.String("token", token), zap.String("otp", otp))
	return nil
}

// SendRecoveryNotification logs the recovery token.
func (n *ConsoleNotifier) SendRecoveryNotification(_ context.Context, email, token string) error {
	n.log("account_recovery", email, zap.String("token", token))
	return nil
}

// SendPasswordResetSuccess logs the confirmation.
func (n *ConsoleNotifier) SendPasswordResetSuccess(_ context.Context, email string) error {
	n.log("password_reset_success", email)
	return nil
}

// SendAccountRecoverySuccess logs the confirmation.
func (n *ConsoleNotifier) SendAccountRecoverySuccess(_ context.Context, email string) error {
	n.log("account_recovery_success", email)
	return nil
}

var _ port.Notifier = (*ConsoleNotifier)(nil)
