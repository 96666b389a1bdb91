package authcore

import (
	"context"
	"time"
)

// UserRecord is the stored account record for one principal. ID is the token
// subject and never changes. Email is the normalized login handle and is
// unique across active records. CredentialDigest is the only persisted form
// of the password and must never be logged or returned to callers.
type UserRecord struct {
	ID               string
	Email            string
	CredentialDigest string
	IsActive         bool
	FailedAttempts   int
	LockedUntil      *time.Time
	LastAttemptAt    *time.Time
}

// Security returns the lockout-relevant slice of the record, suitable as the
// expected value in [UserStore.CompareAndSwapSecurity].
func (u UserRecord) Security() SecurityState {
	return SecurityState{
		FailedAttempts: u.FailedAttempts,
		LockedUntil:    u.LockedUntil,
	}
}

// SecurityState is the pair of fields the lockout state machine operates on.
// A nil LockedUntil means the account is not locked.
type SecurityState struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// TokenPair is returned by a successful login.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// UserStore is the persistence contract callers must implement to integrate
// the engine with their user database. Lookup methods return
// [ErrUserNotFound] when no record matches; Insert returns [ErrEmailTaken]
// when the email is already bound. Infrastructure failures pass through
// unwrapped.
//
// CompareAndSwapSecurity replaces FailedAttempts and LockedUntil only when
// the stored values still equal expected, and stamps LastAttemptAt on every
// successful swap. It reports whether the swap applied. The swap must be
// atomic per record: two concurrent failed logins must never both observe
// the same counter value and both win.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (UserRecord, error)
	FindByID(ctx context.Context, id string) (UserRecord, error)
	Insert(ctx context.Context, user UserRecord) error
	CompareAndSwapSecurity(ctx context.Context, id string, expected, next SecurityState) (bool, error)
}
