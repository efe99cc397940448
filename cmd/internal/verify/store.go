package verify

import "time"

// Session is the per-user link state. Codes are recomputed from Nonce.
type Session struct {
	UserID        string
	Nonce         string
	CreatedAt     time.Time
	CooldownUntil time.Time
	Attempts      int
	// Granting is set while a matched Verify is waiting on the platform grant.
	Granting bool
}

// Expired reports whether the session outlived ttl at now.
func (s Session) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}

// Remaining returns the time left before expiry, floored at zero.
func (s Session) Remaining(now time.Time, ttl time.Duration) time.Duration {
	left := ttl - now.Sub(s.CreatedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Store owns the user -> Session mapping and its invariants:
// one session per user, cooldown, attempt cap, expiry.
//
// Every method must be atomic with respect to other calls for the same user.
// Calls for different users must not block each other.
type Store interface {
	// Get returns the session without side effects.
	Get(userID string) (Session, bool)

	// BeginOrResume returns ThrottleError when the user's cooldown is still
	// running. Otherwise it refreshes the cooldown of a live session, or
	// creates a new one with a fresh nonce (isNew=true).
	BeginOrResume(userID string, now time.Time) (sess Session, isNew bool, err error)

	// Inspect returns the session if it can still be verified. Expired and
	// exhausted sessions are removed and reported as ErrSessionExpired and
	// ErrAttemptsExhausted; a missing session is ErrNoSession. A session
	// with a grant in flight is ErrGrantInProgress.
	Inspect(userID string, now time.Time) (Session, error)

	// Claim marks the session holding nonce as granting. Only one claim can
	// be held at a time; later claims get ErrGrantInProgress until Release.
	Claim(userID, nonce string, now time.Time) (Session, error)

	// Release drops the claim on the session holding nonce.
	Release(userID, nonce string)

	// RemoveIf deletes the user's session only if it still holds nonce.
	RemoveIf(userID, nonce string) bool

	// RecordFailure increments the attempts of the session holding nonce and
	// removes it once the cap is reached. Returns the new attempt count.
	RecordFailure(userID, nonce string) (attempts int, err error)

	// Remove deletes the user's session unconditionally.
	Remove(userID string)

	// Sweep removes every session expired at now and returns how many.
	Sweep(now time.Time) int

	// Len returns the number of stored sessions, including expired ones not yet swept.
	Len() int
}
