package models

import "time"

// AccountLockout tracks consecutive failed logins for one account.
// Invariant: LockedUntil non-nil and in the future means the account is
// locked; a successful login resets FailedAttempts to 0 and clears the lock.
type AccountLockout struct {
	AccountID      string
	FailedAttempts int
	LastFailedAt   *time.Time
	LastFailedIP   *string
	LockedUntil    *time.Time
	UnlockedAt     *time.Time
	UnlockedBy     *string
}

// IsLocked reports whether the lock is active at the given instant.
func (l *AccountLockout) IsLocked(now time.Time) bool {
	return l.LockedUntil != nil && l.LockedUntil.After(now)
}

// IPLockout tracks failed logins per source IP. An IP is only locked after a
// configurable number of distinct accounts are simultaneously locked from it,
// so one user mistyping a password never locks a shared NAT address.
type IPLockout struct {
	IP             string
	FailedAttempts int
	LastFailedAt   *time.Time
	LockedUntil    *time.Time
	UnlockedAt     *time.Time
	UnlockedBy     *string
}

// IsLocked reports whether the lock is active at the given instant.
func (l *IPLockout) IsLocked(now time.Time) bool {
	return l.LockedUntil != nil && l.LockedUntil.After(now)
}

// LockStatus is the result of a lockout pre-check.
type LockStatus struct {
	Locked     bool
	RetryAfter time.Duration
}
