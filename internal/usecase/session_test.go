package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/infra/security"
)

func newSessionServiceForTest(sessions *fakeSessionRepository, tokens *fakeTokenRepository, at time.Time) *SessionService {
	svc := NewSessionService(newTestConfig(), sessions, tokens, nil)
	svc.WithClock(func() time.Time { return at })
	return svc
}

func TestSessionService_IsSessionValid(t *testing.T) {
	base := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	sessions := newFakeSessionRepository(domain.Session{
		ID:         "sess-1",
		UserID:     "user-1",
		CreatedAt:  base.Add(-time.Hour),
		ExpiresAt:  base.Add(23 * time.Hour),
		LastUsedAt: base.Add(-10 * time.Minute),
		IsActive:   true,
	})
	svc := newSessionServiceForTest(sessions, newFakeTokenRepository(), base)

	ctx := context.Background()

	valid, err := svc.IsSessionValid(ctx, "user-1", "sess-1")
	if err != nil || !valid {
		t.Fatalf("expected live session to be valid, got valid=%v err=%v", valid, err)
	}

	// Unknown session and foreign ownership are invalid, not errors.
	if valid, err := svc.IsSessionValid(ctx, "user-1", "sess-404"); err != nil || valid {
		t.Fatalf("unknown session: expected valid=false err=nil, got valid=%v err=%v", valid, err)
	}
	if valid, err := svc.IsSessionValid(ctx, "user-2", "sess-1"); err != nil || valid {
		t.Fatalf("foreign session: expected valid=false err=nil, got valid=%v err=%v", valid, err)
	}
}

func TestSessionService_IdleTimeoutRevokesAsSideEffect(t *testing.T) {
	base := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	sessions := newFakeSessionRepository(domain.Session{
		ID:         "sess-idle",
		UserID:     "user-1",
		CreatedAt:  base.Add(-2 * time.Hour),
		ExpiresAt:  base.Add(22 * time.Hour),
		LastUsedAt: base.Add(-31 * time.Minute),
		IsActive:   true,
	})
	tokens := newFakeTokenRepository(domain.RefreshToken{
		ID:        "tok-1",
		UserID:    "user-1",
		SessionID: "sess-idle",
		TokenHash: security.HashToken("r"),
		ExpiresAt: base.Add(time.Hour),
	})
	svc := newSessionServiceForTest(sessions, tokens, base)

	ctx := context.Background()

	valid, err := svc.IsSessionValid(ctx, "user-1", "sess-idle")
	if err != nil || valid {
		t.Fatalf("expected idle session invalid, got valid=%v err=%v", valid, err)
	}

	session, _ := sessions.Get(ctx, "sess-idle")
	if !session.Revoked {
		t.Fatalf("idle session must be revoked as a side effect")
	}
	record, _ := tokens.GetByID(ctx, "tok-1")
	if !record.Revoked {
		t.Fatalf("idle session's tokens must be revoked")
	}

	// A second check is idempotent: still invalid, no error.
	if valid, err := svc.IsSessionValid(ctx, "user-1", "sess-idle"); err != nil || valid {
		t.Fatalf("repeat check: expected valid=false err=nil, got valid=%v err=%v", valid, err)
	}
}

func TestSessionService_SlidingWindow(t *testing.T) {
	base := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	sessions := newFakeSessionRepository(domain.Session{
		ID:         "sess-1",
		UserID:     "user-1",
		CreatedAt:  base,
		ExpiresAt:  base.Add(24 * time.Hour),
		LastUsedAt: base,
		IsActive:   true,
	})
	svc := newSessionServiceForTest(sessions, newFakeTokenRepository(), base)
	ctx := context.Background()

	// Activity at minute 25 slides the idle deadline past minute 30.
	svc.WithClock(func() time.Time { return base.Add(25 * time.Minute) })
	if err := svc.TouchActivity(ctx, "user-1", "sess-1"); err != nil {
		t.Fatalf("TouchActivity returned error: %v", err)
	}

	svc.WithClock(func() time.Time { return base.Add(50 * time.Minute) })
	valid, err := svc.IsSessionValid(ctx, "user-1", "sess-1")
	if err != nil || !valid {
		t.Fatalf("expected session kept alive by activity, got valid=%v err=%v", valid, err)
	}

	// Without further activity the window closes at minute 25+30.
	svc.WithClock(func() time.Time { return base.Add(56 * time.Minute) })
	if valid, _ := svc.IsSessionValid(ctx, "user-1", "sess-1"); valid {
		t.Fatalf("expected session idle-expired at minute 56")
	}

	// Touching a dead session cannot revive it.
	if err := svc.TouchActivity(ctx, "user-1", "sess-1"); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}
}

func TestSessionService_RemainingTime(t *testing.T) {
	base := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	sessions := newFakeSessionRepository(
		domain.Session{
			ID:         "sess-idle-bound",
			UserID:     "user-1",
			CreatedAt:  base.Add(-time.Hour),
			ExpiresAt:  base.Add(10 * time.Hour),
			LastUsedAt: base.Add(-10 * time.Minute),
			IsActive:   true,
		},
		domain.Session{
			ID:         "sess-hard-bound",
			UserID:     "user-1",
			CreatedAt:  base.Add(-23 * time.Hour),
			ExpiresAt:  base.Add(5 * time.Minute),
			LastUsedAt: base,
			IsActive:   true,
		},
	)
	svc := newSessionServiceForTest(sessions, newFakeTokenRepository(), base)
	ctx := context.Background()

	// Idle deadline (20m left) beats hard expiry (10h left).
	remaining, err := svc.RemainingTime(ctx, "sess-idle-bound")
	if err != nil {
		t.Fatalf("RemainingTime returned error: %v", err)
	}
	if remaining != 20*time.Minute {
		t.Fatalf("expected 20m remaining, got %v", remaining)
	}

	// Hard expiry (5m left) beats the freshly slid idle window (30m left).
	remaining, err = svc.RemainingTime(ctx, "sess-hard-bound")
	if err != nil {
		t.Fatalf("RemainingTime returned error: %v", err)
	}
	if remaining != 5*time.Minute {
		t.Fatalf("expected 5m remaining, got %v", remaining)
	}

	// Unknown sessions report zero without error.
	remaining, err = svc.RemainingTime(ctx, "sess-404")
	if err != nil || remaining != 0 {
		t.Fatalf("expected 0 remaining for unknown session, got %v err=%v", remaining, err)
	}
}

func TestSessionService_ListActiveFiltersDeadSessions(t *testing.T) {
	base := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	sessions := newFakeSessionRepository(
		domain.Session{
			ID: "sess-live", UserID: "user-1", CreatedAt: base.Add(-time.Hour),
			ExpiresAt: base.Add(23 * time.Hour), LastUsedAt: base.Add(-5 * time.Minute), IsActive: true,
		},
		domain.Session{
			ID: "sess-idle", UserID: "user-1", CreatedAt: base.Add(-2 * time.Hour),
			ExpiresAt: base.Add(22 * time.Hour), LastUsedAt: base.Add(-2 * time.Hour), IsActive: true,
		},
		domain.Session{
			ID: "sess-expired", UserID: "user-1", CreatedAt: base.Add(-25 * time.Hour),
			ExpiresAt: base.Add(-time.Hour), LastUsedAt: base.Add(-time.Minute), IsActive: true,
		},
	)
	svc := newSessionServiceForTest(sessions, newFakeTokenRepository(), base)

	active, err := svc.ListActive(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListActive returned error: %v", err)
	}
	if len(active) != 1 || active[0].ID != "sess-live" {
		t.Fatalf("expected only sess-live, got %+v", active)
	}
}

func TestSessionService_RevokeAllForUserSparesException(t *testing.T) {
	base := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	sessions := newFakeSessionRepository(
		domain.Session{ID: "sess-keep", UserID: "user-1", CreatedAt: base, ExpiresAt: base.Add(24 * time.Hour), LastUsedAt: base, IsActive: true},
		domain.Session{ID: "sess-a", UserID: "user-1", CreatedAt: base, ExpiresAt: base.Add(24 * time.Hour), LastUsedAt: base, IsActive: true},
		domain.Session{ID: "sess-b", UserID: "user-1", CreatedAt: base, ExpiresAt: base.Add(24 * time.Hour), LastUsedAt: base, IsActive: true},
	)
	tokens := newFakeTokenRepository(
		domain.RefreshToken{ID: "tok-keep", UserID: "user-1", SessionID: "sess-keep", TokenHash: security.HashToken("k"), ExpiresAt: base.Add(time.Hour)},
		domain.RefreshToken{ID: "tok-a", UserID: "user-1", SessionID: "sess-a", TokenHash: security.HashToken("a"), ExpiresAt: base.Add(time.Hour)},
		domain.RefreshToken{ID: "tok-b", UserID: "user-1", SessionID: "sess-b", TokenHash: security.HashToken("b"), ExpiresAt: base.Add(time.Hour)},
	)
	svc := newSessionServiceForTest(sessions, tokens, base)

	ctx := context.Background()
	count, err := svc.RevokeAllForUser(ctx, "user-1", "sess-keep", "user-1", "logout_other_devices")
	if err != nil {
		t.Fatalf("RevokeAllForUser returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 sessions revoked, got %d", count)
	}

	kept, _ := sessions.Get(ctx, "sess-keep")
	if kept.Revoked {
		t.Fatalf("excepted session must survive")
	}
	keptToken, _ := tokens.GetByID(ctx, "tok-keep")
	if keptToken.Revoked {
		t.Fatalf("excepted session's token must survive")
	}
	for _, id := range []string{"tok-a", "tok-b"} {
		record, _ := tokens.GetByID(ctx, id)
		if !record.Revoked {
			t.Fatalf("token %s must be revoked", id)
		}
	}
}

func TestSessionService_RevokeAllForUserWithoutException(t *testing.T) {
	base := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	sessions := newFakeSessionRepository(
		domain.Session{ID: "sess-a", UserID: "user-1", CreatedAt: base, ExpiresAt: base.Add(24 * time.Hour), LastUsedAt: base, IsActive: true},
		domain.Session{ID: "sess-b", UserID: "user-1", CreatedAt: base, ExpiresAt: base.Add(24 * time.Hour), LastUsedAt: base, IsActive: true},
	)
	tokens := newFakeTokenRepository(
		domain.RefreshToken{ID: "tok-a", UserID: "user-1", SessionID: "sess-a", TokenHash: security.HashToken("a"), ExpiresAt: base.Add(time.Hour)},
		domain.RefreshToken{ID: "tok-b", UserID: "user-1", SessionID: "sess-b", TokenHash: security.HashToken("b"), ExpiresAt: base.Add(time.Hour)},
	)
	svc := newSessionServiceForTest(sessions, tokens, base)

	count, err := svc.RevokeAllForUser(context.Background(), "user-1", "", "admin", "password_reset")
	if err != nil {
		t.Fatalf("RevokeAllForUser returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 sessions revoked, got %d", count)
	}
	for _, id := range []string{"tok-a", "tok-b"} {
		record, _ := tokens.GetByID(context.Background(), id)
		if !record.Revoked {
			t.Fatalf("token %s must be revoked", id)
		}
	}
}
