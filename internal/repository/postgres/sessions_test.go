package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/castellan-io/castellan/internal/core/domain"
	"github.com/castellan-io/castellan/internal/repository"
)

func TestSessionRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewSessionRepository(mock)

	createdAt := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	ip := "198.51.100.10"
	session := domain.Session{
		ID:         "sess-1",
		UserID:     "user-1",
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.Add(24 * time.Hour),
		LastUsedAt: createdAt,
		IsActive:   true,
		Device:     domain.DeviceInfo{IP: &ip},
	}

	mock.ExpectExec(`INSERT INTO castellan\.sessions`).
		WithArgs(
			session.ID,
			session.UserID,
			session.CreatedAt,
			session.ExpiresAt,
			session.LastUsedAt,
			true,
			false,
			(*time.Time)(nil),
			(*string)(nil),
			&ip,
			(*string)(nil),
			(*string)(nil),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Create(context.Background(), session); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionRepository_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewSessionRepository(mock)

	createdAt := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	expiresAt := createdAt.Add(24 * time.Hour)

	rows := pgxmock.NewRows([]string{
		"id", "user_id", "created_at", "expires_at", "last_used_at", "is_active", "revoked", "revoked_at", "revoked_by", "ip", "user_agent", "device_label",
	}).AddRow(
		"sess-1", "user-1", createdAt, expiresAt, createdAt, true, false, nil, nil, "198.51.100.10", "UA", nil,
	)

	mock.ExpectQuery(`SELECT .*FROM castellan\.sessions`).WithArgs("sess-1").WillReturnRows(rows)

	session, err := repo.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if session.ID != "sess-1" || session.UserID != "user-1" {
		t.Fatalf("unexpected session %+v", session)
	}
	if !session.IsActive || session.Revoked {
		t.Fatalf("expected a live session, got %+v", session)
	}
	if session.Device.IP == nil || *session.Device.IP != "198.51.100.10" {
		t.Fatalf("expected ip metadata populated")
	}
	if session.Device.Label != nil {
		t.Fatalf("expected nil device label")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionRepository_GetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewSessionRepository(mock)

	mock.ExpectQuery(`SELECT .*FROM castellan\.sessions`).WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionRepository_TouchMissingSession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewSessionRepository(mock)

	at := time.Date(2026, 3, 12, 9, 30, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE castellan\.sessions`).
		WithArgs(at, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.Touch(context.Background(), "missing", at); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionRepository_RevokeAllForUserSparesException(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewSessionRepository(mock)

	at := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE castellan\.sessions`).
		WithArgs(true, false, at, "user-1", false, "user-1", "sess-keep").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	count, err := repo.RevokeAllForUser(context.Background(), "user-1", "sess-keep", "user-1", at)
	if err != nil {
		t.Fatalf("RevokeAllForUser returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 sessions revoked, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
