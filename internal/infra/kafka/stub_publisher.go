package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for
// development environments where no broker is running.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly audit publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishLogin logs auth.login events.
func (p *StubPublisher) PublishLogin(_ context.Context, event domain.LoginEvent) error {
	payload := map[string]any{
		"email":      event.Email,
		"succeeded":  event.Succeeded,
		"reason":     event.Reason,
		"locked":     event.Locked,
		"ip_address": event.IPAddress,
		"user_agent": event.UserAgent,
	}
	p.logEvent("auth.login", event.UserID, event.At, payload)
	return nil
}

// PublishTokenPairIssued logs token.issued events.
func (p *StubPublisher) PublishTokenPairIssued(_ context.Context, event domain.TokenPairIssuedEvent) error {
	payload := map[string]any{
		"session_id": event.SessionID,
		"source":     event.Source,
	}
	p.logEvent("token.issued", event.UserID, event.At, payload)
	return nil
}

// PublishRefreshRotated logs token.rotated events.
func (p *StubPublisher) PublishRefreshRotated(_ context.Context, event domain.RefreshRotatedEvent) error {
	payload := map[string]any{
		"session_id":   event.SessionID,
		"old_token_id": event.OldTokenID,
		"new_token_id": event.NewTokenID,
	}
	p.logEvent("token.rotated", event.UserID, event.At, payload)
	return nil
}

// PublishRefreshReuseDetected logs token.reuse_detected events.
func (p *StubPublisher) PublishRefreshReuseDetected(_ context.Context, event domain.RefreshReuseDetectedEvent) error {
	payload := map[string]any{
		"session_id":      event.SessionID,
		"token_id":        event.TokenID,
		"chain_revoked":   event.ChainRevoked,
		"session_revoked": event.SessionRevoked,
	}
	p.logEvent("token.reuse_detected", event.UserID, event.At, payload)
	return nil
}

// PublishSessionRevoked logs session.revoked events.
func (p *StubPublisher) PublishSessionRevoked(_ context.Context, event domain.SessionRevokedEvent) error {
	payload := map[string]any{
		"session_id":     event.SessionID,
		"revoked_by":     event.RevokedBy,
		"reason":         event.Reason,
		"tokens_revoked": event.TokensRevoked,
	}
	p.logEvent("session.revoked", event.UserID, event.At, payload)
	return nil
}

// PublishPasswordChanged logs password.changed events.
func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	payload := map[string]any{
		"changed_by":       event.ChangedBy,
		"method":           event.Method,
		"sessions_revoked": event.SessionsRevoked,
		"tokens_revoked":   event.TokensRevoked,
	}
	p.logEvent("password.changed", event.UserID, event.At, payload)
	return nil
}

// PublishAccessDecision logs access.decision events.
func (p *StubPublisher) PublishAccessDecision(_ context.Context, event domain.AccessDecisionEvent) error {
	payload := map[string]any{
		"tenant_id": event.TenantID,
		"allowed":   event.Allowed,
		"reason":    event.Reason,
		"roles":     event.Roles,
	}
	p.logEvent("access.decision", event.UserID, event.At, payload)
	return nil
}

var _ port.AuditPublisher = (*StubPublisher)(nil)
