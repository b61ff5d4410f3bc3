package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/core/port"
	"github.com/castellan-io/castellan/internal/infra/config"
)

const schemaVersion = "1.0"

// AuditPublisher implements port.AuditPublisher over Kafka. Delivery is
// asynchronous; the auth flows never block on broker round-trips.
type AuditPublisher struct {
	producer *Producer
	appCfg   config.AppSettings
}

// NewAuditPublisher constructs a Kafka-backed audit publisher.
func NewAuditPublisher(producer *Producer, appCfg config.AppSettings) *AuditPublisher {
	return &AuditPublisher{producer: producer, appCfg: appCfg}
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (p *AuditPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata: map[string]string{
			"service":     p.appCfg.Name,
			"environment": p.appCfg.Env,
		},
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishLogin publishes auth.login events.
func (p *AuditPublisher) PublishLogin(ctx context.Context, event domain.LoginEvent) error {
	payload := struct {
		UserID    string    `json:"user_id,omitempty"`
		Email     string    `json:"email"`
		Succeeded bool      `json:"succeeded"`
		Reason    string    `json:"reason,omitempty"`
		Locked    bool      `json:"locked"`
		IPAddress *string   `json:"ip_address,omitempty"`
		UserAgent *string   `json:"user_agent,omitempty"`
		At        time.Time `json:"at"`
	}{
		UserID:    event.UserID,
		Email:     event.Email,
		Succeeded: event.Succeeded,
		Reason:    event.Reason,
		Locked:    event.Locked,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		At:        event.At.UTC(),
	}

	return p.publish(ctx, event.EventID, "auth.login", event.UserID, event.At, payload)
}

// PublishTokenPairIssued publishes token.issued events.
func (p *AuditPublisher) PublishTokenPairIssued(ctx context.Context, event domain.TokenPairIssuedEvent) error {
	payload := struct {
		UserID    string    `json:"user_id"`
		SessionID string    `json:"session_id"`
		Source    string    `json:"source"`
		At        time.Time `json:"at"`
	}{
		UserID:    event.UserID,
		SessionID: event.SessionID,
		Source:    event.Source,
		At:        event.At.UTC(),
	}

	return p.publish(ctx, event.EventID, "token.issued", event.UserID, event.At, payload)
}

// PublishRefreshRotated publishes token.rotated events.
func (p *AuditPublisher) PublishRefreshRotated(ctx context.Context, event domain.RefreshRotatedEvent) error {
	payload := struct {
		UserID     string    `json:"user_id"`
		SessionID  string    `json:"session_id"`
		OldTokenID string    `json:"old_token_id"`
		NewTokenID string    `json:"new_token_id"`
		At         time.Time `json:"at"`
	}{
		UserID:     event.UserID,
		SessionID:  event.SessionID,
		OldTokenID: event.OldTokenID,
		NewTokenID: event.NewTokenID,
		At:         event.At.UTC(),
	}

	return p.publish(ctx, event.EventID, "token.rotated", event.UserID, event.At, payload)
}

// PublishRefreshReuseDetected publishes token.reuse_detected events.
func (p *AuditPublisher) PublishRefreshReuseDetected(ctx context.Context, event domain.RefreshReuseDetectedEvent) error {
	payload := struct {
		UserID         string    `json:"user_id"`
		SessionID      string    `json:"session_id"`
		TokenID        string    `json:"token_id"`
		ChainRevoked   int       `json:"chain_revoked"`
		SessionRevoked bool      `json:"session_revoked"`
		At             time.Time `json:"at"`
	}{
		UserID:         event.UserID,
		SessionID:      event.SessionID,
		TokenID:        event.TokenID,
		ChainRevoked:   event.ChainRevoked,
		SessionRevoked: event.SessionRevoked,
		At:             event.At.UTC(),
	}

	return p.publish(ctx, event.EventID, "token.reuse_detected", event.UserID, event.At, payload)
}

// PublishSessionRevoked publishes session.revoked events.
func (p *AuditPublisher) PublishSessionRevoked(ctx context.Context, event domain.SessionRevokedEvent) error {
	payload := struct {
		SessionID     string    `json:"session_id"`
		UserID        string    `json:"user_id"`
		RevokedBy     string    `json:"revoked_by,omitempty"`
		Reason        string    `json:"reason"`
		TokensRevoked int       `json:"tokens_revoked"`
		At            time.Time `json:"at"`
	}{
		SessionID:     event.SessionID,
		UserID:        event.UserID,
		RevokedBy:     event.RevokedBy,
		Reason:        event.Reason,
		TokensRevoked: event.TokensRevoked,
		At:            event.At.UTC(),
	}

	return p.publish(ctx, event.EventID, "session.revoked", event.UserID, event.At, payload)
}

// PublishPasswordChanged publishes password.changed events.
func (p *AuditPublisher) PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error {
	payload := struct {
		UserID          string    `json:"user_id"`
		ChangedBy       string    `json:"changed_by"`
		Method          string    `json:"method"`
		SessionsRevoked int       `json:"sessions_revoked"`
		TokensRevoked   int       `json:"tokens_revoked"`
		At              time.Time `json:"at"`
	}{
		UserID:          event.UserID,
		ChangedBy:       event.ChangedBy,
		Method:          event.Method,
		SessionsRevoked: event.SessionsRevoked,
		TokensRevoked:   event.TokensRevoked,
		At:              event.At.UTC(),
	}

	return p.publish(ctx, event.EventID, "password.changed", event.UserID, event.At, payload)
}

// PublishAccessDecision publishes access.decision events, one per guard evaluation.
func (p *AuditPublisher) PublishAccessDecision(ctx context.Context, event domain.AccessDecisionEvent) error {
	payload := struct {
		UserID   string    `json:"user_id"`
		TenantID string    `json:"tenant_id,omitempty"`
		Allowed  bool      `json:"allowed"`
		Reason   string    `json:"reason,omitempty"`
		Roles    []string  `json:"roles,omitempty"`
		At       time.Time `json:"at"`
	}{
		UserID:   event.UserID,
		TenantID: event.TenantID,
		Allowed:  event.Allowed,
		Reason:   event.Reason,
		Roles:    event.Roles,
		At:       event.At.UTC(),
	}

	return p.publish(ctx, event.EventID, "access.decision", event.UserID, event.At, payload)
}

var _ port.AuditPublisher = (*AuditPublisher)(nil)
