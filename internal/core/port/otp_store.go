package port

import (
	"context"
	"time"
)

// OTPStore keeps short-lived one-time codes keyed by user, with a bounded
// number of verification attempts per code.
type OTPStore interface {
	Put(ctx context.Context, userID, code string, ttl time.Duration) error
	// Verify consumes one attempt. It returns whether the code matched and
	// whether a code was present at all.
	Verify(ctx context.Context, userID, code string) (matched bool, present bool, err error)
	Delete(ctx context.Context, userID string) error
}
