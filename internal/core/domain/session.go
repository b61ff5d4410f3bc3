package domain

import "time"

// Session represents one authenticated device/browser login.
// Rows are never deleted; revocation is a terminal soft state kept for audit.
type Session struct {
	ID         string
	UserID     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time
	IsActive   bool
	Revoked    bool
	RevokedAt  *time.Time
	RevokedBy  *string
	Device     DeviceInfo
}

// DeviceInfo carries request metadata captured at login time.
type DeviceInfo struct {
	IP        *string
	UserAgent *string
	Label     *string
}

// IsLive reports whether the session is usable at the supplied moment,
// ignoring idle timeout (which is a service-level policy).
func (s Session) IsLive(at time.Time) bool {
	if s.Revoked || !s.IsActive {
		return false
	}
	return s.ExpiresAt.After(at)
}

// IdleSince returns the reference point for idle-timeout computation:
// the later of creation and last recorded activity.
func (s Session) IdleSince() time.Time {
	if s.LastUsedAt.After(s.CreatedAt) {
		return s.LastUsedAt
	}
	return s.CreatedAt
}

// Revoke marks the session terminal. Returns true when the state changed.
func (s *Session) Revoke(at time.Time, revokedBy string) bool {
	if s.Revoked {
		return false
	}
	s.Revoked = true
	s.IsActive = false
	s.RevokedAt = &at
	if revokedBy != "" {
		by := revokedBy
		s.RevokedBy = &by
	}
	return true
}
