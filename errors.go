package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrWeakPassword is returned by Register when the password fails the
	// credential policy. The wrapped policy error names the first failing rule.
	ErrWeakPassword = errors.New("weak password")
	// ErrEmailInvalid is returned by Register for malformed email addresses.
	ErrEmailInvalid = errors.New("invalid email")
	// ErrEmailTaken is returned by Register when the normalized email is
	// already bound to an account.
	ErrEmailTaken = errors.New("account already exists")
	// ErrInvalidCredentials covers wrong password and unknown email alike so
	// login responses never reveal whether an account exists.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountInactive is returned for deactivated accounts.
	ErrAccountInactive = errors.New("account inactive")
	// ErrUserNotFound is returned by stores and by Refresh/Authenticate when
	// no record matches the lookup key.
	ErrUserNotFound = errors.New("user not found")
	// ErrTokenInvalid is the single external verdict for every token
	// rejection: malformed, bad signature, expired, wrong algorithm, wrong
	// kind. The precise reason is reported through audit metadata only.
	ErrTokenInvalid = errors.New("invalid or expired token")
	// ErrLoginRateLimited is returned when the optional login throttle trips.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrSecurityConflict is returned when the lockout compare-and-swap loop
	// exhausts its retry budget under contention.
	ErrSecurityConflict = errors.New("security record contention")
)

// CredentialsError reports a failed password check together with the number
// of attempts left before the account locks. It unwraps to
// [ErrInvalidCredentials].
type CredentialsError struct {
	Remaining int
}

func (e *CredentialsError) Error() string {
	return fmt.Sprintf("invalid credentials, %d attempts remaining", e.Remaining)
}

func (e *CredentialsError) Unwrap() error { return ErrInvalidCredentials }

// LockedError reports an active lockout and how long until it clears. It
// unwraps to [ErrAccountLocked]. It never reveals whether the rejected
// attempt carried the correct password.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, try again in %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }
