package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountInactive = errors.New("account is inactive")
	ErrLocked          = errors.New("temporarily locked")

	// Two-factor errors
	ErrTwoFactorRequired      = errors.New("two-factor verification required")
	ErrTwoFactorInvalidCode   = errors.New("invalid two-factor code")
	ErrTwoFactorNotEnrolled   = errors.New("two-factor authentication not enrolled")
	ErrTwoFactorAlreadyActive = errors.New("a two-factor method is already active")

	// Password policy errors
	ErrPasswordPolicy  = errors.New("password does not meet policy requirements")
	ErrPasswordReused  = errors.New("password was used recently")
	ErrPasswordExpired = errors.New("password has expired")

	// Session errors
	ErrSessionExpired    = errors.New("session expired")
	ErrSessionTerminated = errors.New("session terminated")

	// Email dispatch failure is surfaced for EMAIL 2FA: without the code the
	// user cannot complete login.
	ErrChallengeDispatch = errors.New("failed to dispatch challenge code")
)

// Lock scopes
const (
	LockScopeAccount = "account"
	LockScopeIP      = "ip"
)

// LockedError carries the scope and retry horizon of an active lockout.
// It matches ErrLocked under errors.Is so handlers can map it to 423.
type LockedError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s temporarily locked, retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// PolicyViolationError lists the rules a candidate password broke. Matches
// ErrPasswordPolicy under errors.Is; handlers surface the full list.
type PolicyViolationError struct {
	Violations []string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("password does not meet policy requirements: %d violation(s)", len(e.Violations))
}

func (e *PolicyViolationError) Is(target error) bool {
	return target == ErrPasswordPolicy
}

// RetryAfterSeconds rounds up so a caller that waits the advertised time is
// guaranteed to be past the lock expiry.
func (e *LockedError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
