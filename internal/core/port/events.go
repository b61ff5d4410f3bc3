package port

import (
	"context"

	"github.com/castellan-io/castellan/internal/core/domain"
)

// AuditPublisher publishes authentication and access-control events to the message bus.
// Publication is fire-and-forget: callers log failures but never gate the flow on them.
type AuditPublisher interface {
	PublishLogin(ctx context.Context, event domain.LoginEvent) error
	PublishTokenPairIssued(ctx context.Context, event domain.TokenPairIssuedEvent) error
	PublishRefreshRotated(ctx context.Context, event domain.RefreshRotatedEvent) error
	PublishRefreshReuseDetected(ctx context.Context, event domain.RefreshReuseDetectedEvent) error
	PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error
	PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error
	PublishAccessDecision(ctx context.Context, event domain.AccessDecisionEvent) error
}
