package idempotency

import (
	"context"
	"errors"
	"time"
)

// ErrKeyInFlight reports a reservation that exists but has no saved response
// yet; the caller should treat the request as a concurrent duplicate.
var ErrKeyInFlight = errors.New("idempotency: key reserved by in-flight request")

// Reservation is the result of reserving an idempotency key.
type Reservation struct {
	// Fresh is true when the key was unused and the caller owns the request.
	Fresh bool
	// ReplayStatus and ReplayBody carry the stored response for replays.
	ReplayStatus int
	ReplayBody   []byte
}

// Store persists idempotency keys and their first responses so webhook
// retries replay the original outcome instead of re-executing side effects.
type Store interface {
	// Reserve claims the key. A fresh reservation returns Fresh=true; a key
	// with a stored response returns the replay payload; a key reserved by a
	// still-running request fails with ErrKeyInFlight.
	Reserve(ctx context.Context, key string, now time.Time) (Reservation, error)
	// SaveResponse records the response for future replays.
	SaveResponse(ctx context.Context, key string, status int, body []byte, now time.Time) error
	// Release frees the key after a failure so the sender may retry.
	Release(ctx context.Context, key string) error
	// CleanupExpired removes keys older than the TTL, returning the count.
	CleanupExpired(ctx context.Context, cutoff time.Time, limit int) (int, error)
}
