// Package lockout holds the pure transition functions of the failed-login
// state machine. Persistence and atomicity live with the caller: every
// transition computed here must be applied through a per-record
// compare-and-swap so concurrent attempts never lose counter updates.
package lockout

import "time"

// State mirrors the security fields of a user record. A nil LockedUntil
// means the account is unlocked.
type State struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// Clear is the state of a record with no strikes against it.
func Clear() State { return State{} }

// Active reports whether a lock is set and still in the future.
func Active(s State, now time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}

// Expired reports whether a lock is set but has already elapsed. Expiry is
// lazy: nothing sweeps locks in the background, the next attempt clears them.
func Expired(s State, now time.Time) bool {
	return s.LockedUntil != nil && !s.LockedUntil.After(now)
}

// RetryAfter returns how long until an active lock clears, zero otherwise.
func RetryAfter(s State, now time.Time) time.Duration {
	if !Active(s, now) {
		return 0
	}
	return s.LockedUntil.Sub(now)
}

// OnFailure advances the state after a failed password check. The account
// locks on the attempt that reaches maxAttempts, so maxAttempts=5 locks on
// the 5th consecutive failure. The counter resets as part of the locking
// transition; the cycle after the lock clears starts from zero. remaining is
// only meaningful when locked is false.
func OnFailure(s State, now time.Time, maxAttempts int, lockFor time.Duration) (next State, locked bool, remaining int) {
	n := s.FailedAttempts + 1
	if n >= maxAttempts {
		until := now.Add(lockFor)
		return State{LockedUntil: &until}, true, 0
	}
	return State{FailedAttempts: n}, false, maxAttempts - n
}
