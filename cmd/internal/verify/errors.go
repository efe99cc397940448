package verify

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// ErrAlreadyAuthorized is returned by Link when the user already holds the capability.
	ErrAlreadyAuthorized = errors.New("already authorized")

	// ErrThrottled is returned by Link while the per-user cooldown is running.
	ErrThrottled = errors.New("link throttled")

	// ErrNoSession is returned by Verify when the user has no session.
	ErrNoSession = errors.New("no active session")

	// ErrSessionExpired is returned by Verify when the session outlived its TTL.
	ErrSessionExpired = errors.New("session expired")

	// ErrAttemptsExhausted is returned by Verify when the attempt budget is spent.
	ErrAttemptsExhausted = errors.New("too many attempts")

	// ErrGrantInProgress is returned by Verify while another Verify for the
	// same session is waiting on the platform grant.
	ErrGrantInProgress = errors.New("verification already in progress")

	// ErrInvalidFormat means the submitted text did not contain exactly 6 digits.
	ErrInvalidFormat = errors.New("invalid code format")

	// ErrWrongCode means the submitted code did not match.
	ErrWrongCode = errors.New("wrong code")

	// ErrMisconfigured is returned by Capabilities implementations when a
	// referenced chat/role cannot be resolved. It never costs an attempt.
	ErrMisconfigured = errors.New("platform misconfigured")

	// ErrGrantFailed is returned when the platform failed to grant the capability.
	// The session is preserved and the user may retry without penalty.
	ErrGrantFailed = errors.New("capability grant failed")
)

// ThrottleError carries retry metadata for Link throttling.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e ThrottleError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrThrottled.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrThrottled.Error(), e.RetryAfter)
}

func (e ThrottleError) Unwrap() error { return ErrThrottled }

// Seconds returns RetryAfter rounded up to whole seconds.
func (e ThrottleError) Seconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// AttemptError is a failed Verify attempt that was counted against the budget.
// Err is ErrInvalidFormat or ErrWrongCode.
type AttemptError struct {
	Err       error
	Remaining int
}

func (e AttemptError) Error() string {
	return fmt.Sprintf("%s: %d attempts left", e.Err.Error(), e.Remaining)
}

func (e AttemptError) Unwrap() error { return e.Err }

// GrantError wraps a platform failure during the final grant step.
type GrantError struct {
	Err error
}

func (e GrantError) Error() string {
	return fmt.Sprintf("%s: %v", ErrGrantFailed.Error(), e.Err)
}

func (e GrantError) Unwrap() []error { return []error{ErrGrantFailed, e.Err} }
