package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/castellan-io/castellan/internal/core/port"
	"github.com/castellan-io/castellan/internal/infra/config"
)

// SESNotifier delivers auth notifications through AWS SES.
type SESNotifier struct {
	client      *ses.Client
	fromAddress string
	baseURL     string
}

// NewSESNotifier constructs an SES-backed notifier using the default AWS
// credential chain for the configured region.
func NewSESNotifier(ctx context.Context, cfg config.NotifySettings) (*SESNotifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SESRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SESNotifier{
		client:      ses.NewFromConfig(awsCfg),
		fromAddress: cfg.FromAddress,
		baseURL:     cfg.BaseURL,
	}, nil
}

func (n *SESNotifier) send(ctx context.Context, to, subject, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(textBody),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}

// SendEmailVerification delivers the email verification link.
func (n *SESNotifier) SendEmailVerification(ctx context.Context, email, token string) error {
	body := fmt.Sprintf("Verify your email address:\n\n%s/verify-email?token=%s\n\nThe link expires in 24 hours.", n.baseURL, token)
	return n.send(ctx, email, "Verify your email address", body)
}

// SendPasswordResetOTP delivers the reset link plus the one-time code second factor.
func (n *SESNotifier) SendPasswordResetOTP(ctx context.Context, email, token, otp string) error {
	body := fmt.Sprintf("Reset your password:\n\n%s/reset-password?token=%s\n\nYour one-time code: %s\n\nThe code expires in a few minutes. If you did not request this, ignore this email.", n.baseURL, token, otp)
	return n.send(ctx, email, "Password reset requested", body)
}

// SendRecoveryNotification delivers the account recovery link.
func (n *SESNotifier) SendRecoveryNotification(ctx context.Context, email, token string) error {
	body := fmt.Sprintf("Recover your account:\n\n%s/recover-account?token=%s\n\nIf you did not request this, contact support immediately.", n.baseURL, token)
	return n.send(ctx, email, "Account recovery requested", body)
}

// SendPasswordResetSuccess confirms a completed password reset.
func (n *SESNotifier) SendPasswordResetSuccess(ctx context.Context, email string) error {
	body := "Your password was reset. All devices have been signed out.\n\nIf this was not you, contact support immediately."
	return n.send(ctx, email, "Your password was reset", body)
}

// SendAccountRecoverySuccess confirms a completed account recovery.
func (n *SESNotifier) SendAccountRecoverySuccess(ctx context.Context, email string) error {
	body := "Your account was recovered and its password changed. All devices have been signed out.\n\nIf this was not you, contact support immediately."
	return n.send(ctx, email, "Your account was recovered", body)
}

var _ port.Notifier = (*SESNotifier)(nil)
