package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/solvein/authcore/internal/lockout"
	"github.com/solvein/authcore/internal/rate"
	"github.com/solvein/authcore/password"
	"github.com/solvein/authcore/policy"
	"github.com/solvein/authcore/token"
)

// Engine orchestrates registration, login, token refresh, and bearer
// authentication over a [UserStore]. Construct it with [Builder.Build]; all
// methods are then safe for concurrent use.
type Engine struct {
	config  Config
	store   UserStore
	policy  policy.Policy
	hasher  *password.Hasher
	codec   *token.Codec
	limiter *rate.Limiter
	audit   *auditDispatcher
	metrics *Metrics
	now     func() time.Time
}

// Register creates a new active account and returns its ID. Checks run in a
// fixed order: password policy, then email shape, then uniqueness. A request
// that is invalid on both counts reports the weak password.
func (e *Engine) Register(ctx context.Context, email, pass string) (string, error) {
	if err := e.policy.Validate(pass); err != nil {
		e.metrics.Inc(MetricRegisterRejected)
		e.emit(ctx, "register", "", ErrWeakPassword, nil)
		return "", fmt.Errorf("%w: %w", ErrWeakPassword, err)
	}

	normalized, err := policy.NormalizeEmail(email)
	if err != nil {
		e.metrics.Inc(MetricRegisterRejected)
		e.emit(ctx, "register", "", ErrEmailInvalid, nil)
		return "", fmt.Errorf("%w: %w", ErrEmailInvalid, err)
	}

	if _, err := e.store.FindByEmail(ctx, normalized); err == nil {
		e.metrics.Inc(MetricRegisterRejected)
		e.emit(ctx, "register", "", ErrEmailTaken, nil)
		return "", ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return "", err
	}

	digest, err := e.hasher.Hash(pass)
	if err != nil {
		return "", err
	}

	user := UserRecord{
		ID:               uuid.NewString(),
		Email:            normalized,
		CredentialDigest: digest,
		IsActive:         true,
	}

	// Insert races between the uniqueness check and here collapse to the
	// same taken error through the store's own duplicate detection.
	if err := e.store.Insert(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			e.metrics.Inc(MetricRegisterRejected)
			e.emit(ctx, "register", "", ErrEmailTaken, nil)
		}
		return "", err
	}

	e.metrics.Inc(MetricRegisterSuccess)
	e.emit(ctx, "register", user.ID, nil, nil)

	return user.ID, nil
}

// Login evaluates credentials against the lockout state machine and returns
// an access+refresh token pair on success. Unknown emails report
// [ErrInvalidCredentials] without detail so responses never reveal account
// existence. Every counter transition is applied via compare-and-swap; when
// a swap loses a race the whole evaluation reloads and reruns, bounded by
// Security.CASRetryLimit.
func (e *Engine) Login(ctx context.Context, email, pass string) (TokenPair, error) {
	normalized, err := policy.NormalizeEmail(email)
	if err != nil {
		e.metrics.Inc(MetricLoginFailure)
		e.emit(ctx, "login", "", ErrInvalidCredentials, map[string]string{"reason": "malformed email"})
		return TokenPair{}, ErrInvalidCredentials
	}

	ip := clientIPFromContext(ctx)
	if e.limiter != nil {
		if err := e.limiter.CheckLogin(ctx, normalized, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metrics.Inc(MetricLoginThrottled)
				e.emit(ctx, "login", "", ErrLoginRateLimited, nil)
				return TokenPair{}, ErrLoginRateLimited
			}
			return TokenPair{}, err
		}
	}

	for attempt := 0; attempt < e.config.Security.CASRetryLimit; attempt++ {
		user, err := e.store.FindByEmail(ctx, normalized)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				e.recordThrottleFailure(ctx, normalized, ip)
				e.metrics.Inc(MetricLoginFailure)
				e.emit(ctx, "login", "", ErrInvalidCredentials, map[string]string{"reason": "unknown email"})
				return TokenPair{}, ErrInvalidCredentials
			}
			return TokenPair{}, err
		}

		now := e.now()
		state := lockout.State{FailedAttempts: user.FailedAttempts, LockedUntil: user.LockedUntil}

		// An active lock rejects before the password is ever checked, so a
		// locked response carries no signal about credential correctness.
		if lockout.Active(state, now) {
			retryAfter := lockout.RetryAfter(state, now)
			e.metrics.Inc(MetricLoginLocked)
			e.emit(ctx, "login", user.ID, ErrAccountLocked, nil)
			return TokenPair{}, &LockedError{RetryAfter: retryAfter}
		}

		if lockout.Expired(state, now) {
			swapped, err := e.swapSecurity(ctx, user.ID, state, lockout.Clear())
			if err != nil {
				return TokenPair{}, err
			}
			if !swapped {
				continue
			}
			state = lockout.Clear()
		}

		if !e.hasher.Verify(pass, user.CredentialDigest) {
			next, locked, remaining := lockout.OnFailure(
				state, now,
				e.config.Security.MaxLoginAttempts,
				e.config.Security.LockoutDuration,
			)
			swapped, err := e.swapSecurity(ctx, user.ID, state, next)
			if err != nil {
				return TokenPair{}, err
			}
			if !swapped {
				continue
			}

			e.recordThrottleFailure(ctx, normalized, ip)
			e.metrics.Inc(MetricLoginFailure)

			if locked {
				e.metrics.Inc(MetricAccountLocked)
				e.emit(ctx, "login", user.ID, ErrAccountLocked, map[string]string{"reason": "lockout threshold reached"})
				return TokenPair{}, &LockedError{RetryAfter: e.config.Security.LockoutDuration}
			}

			e.emit(ctx, "login", user.ID, ErrInvalidCredentials, nil)
			return TokenPair{}, &CredentialsError{Remaining: remaining}
		}

		// Correct password: write the clean state even when the record is
		// already clean so the store stamps this attempt.
		swapped, err := e.swapSecurity(ctx, user.ID, state, lockout.Clear())
		if err != nil {
			return TokenPair{}, err
		}
		if !swapped {
			continue
		}

		if !user.IsActive {
			e.emit(ctx, "login", user.ID, ErrAccountInactive, nil)
			return TokenPair{}, ErrAccountInactive
		}

		access, err := e.codec.IssueAccess(user.ID)
		if err != nil {
			return TokenPair{}, err
		}
		refresh, err := e.codec.IssueRefresh(user.ID)
		if err != nil {
			return TokenPair{}, err
		}

		if e.limiter != nil {
			_ = e.limiter.ResetLogin(ctx, normalized, ip)
		}
		e.metrics.Inc(MetricLoginSuccess)
		e.emit(ctx, "login", user.ID, nil, nil)

		return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
	}

	e.metrics.Inc(MetricSecurityConflict)
	return TokenPair{}, ErrSecurityConflict
}

// Refresh exchanges a valid refresh token for a new access token. The
// refresh token itself is never rotated or re-issued; it keeps its original
// expiry. Presenting an access token here is rejected.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (string, error) {
	subject, kind, err := e.codec.Verify(refreshToken)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		e.emit(ctx, "refresh", "", ErrTokenInvalid, map[string]string{"reason": err.Error()})
		return "", ErrTokenInvalid
	}
	if kind != token.KindRefresh {
		e.metrics.Inc(MetricRefreshFailure)
		e.emit(ctx, "refresh", subject, ErrTokenInvalid, map[string]string{"reason": "wrong token kind"})
		return "", ErrTokenInvalid
	}

	user, err := e.store.FindByID(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metrics.Inc(MetricRefreshFailure)
			e.emit(ctx, "refresh", subject, ErrUserNotFound, nil)
		}
		return "", err
	}
	if !user.IsActive {
		e.metrics.Inc(MetricRefreshFailure)
		e.emit(ctx, "refresh", user.ID, ErrAccountInactive, nil)
		return "", ErrAccountInactive
	}

	access, err := e.codec.IssueAccess(user.ID)
	if err != nil {
		return "", err
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emit(ctx, "refresh", user.ID, nil, nil)

	return access, nil
}

// Authenticate resolves a bearer token into the active user record it names.
// Only access tokens are accepted. It is the single choke point ahead of
// every protected operation and performs no mutation.
func (e *Engine) Authenticate(ctx context.Context, bearer string) (UserRecord, error) {
	subject, kind, err := e.codec.Verify(bearer)
	if err != nil {
		e.metrics.Inc(MetricAuthenticateFailure)
		e.emit(ctx, "authenticate", "", ErrTokenInvalid, map[string]string{"reason": err.Error()})
		return UserRecord{}, ErrTokenInvalid
	}
	if kind != token.KindAccess {
		e.metrics.Inc(MetricAuthenticateFailure)
		e.emit(ctx, "authenticate", subject, ErrTokenInvalid, map[string]string{"reason": "wrong token kind"})
		return UserRecord{}, ErrTokenInvalid
	}

	user, err := e.store.FindByID(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metrics.Inc(MetricAuthenticateFailure)
			e.emit(ctx, "authenticate", subject, ErrUserNotFound, nil)
		}
		return UserRecord{}, err
	}
	if !user.IsActive {
		e.metrics.Inc(MetricAuthenticateFailure)
		e.emit(ctx, "authenticate", user.ID, ErrAccountInactive, nil)
		return UserRecord{}, ErrAccountInactive
	}

	e.metrics.Inc(MetricAuthenticateSuccess)

	return user, nil
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// Close stops the audit dispatcher after draining buffered events.
func (e *Engine) Close() {
	e.audit.Close()
}

func (e *Engine) swapSecurity(ctx context.Context, id string, from, to lockout.State) (bool, error) {
	return e.store.CompareAndSwapSecurity(ctx, id,
		SecurityState{FailedAttempts: from.FailedAttempts, LockedUntil: from.LockedUntil},
		SecurityState{FailedAttempts: to.FailedAttempts, LockedUntil: to.LockedUntil},
	)
}

func (e *Engine) recordThrottleFailure(ctx context.Context, identifier, ip string) {
	if e.limiter == nil {
		return
	}
	// Best effort: throttle bookkeeping must not mask the login verdict.
	_ = e.limiter.IncrementLogin(ctx, identifier, ip)
}

func (e *Engine) emit(ctx context.Context, eventType, userID string, failure error, metadata map[string]string) {
	if e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: e.now(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		Success:   failure == nil,
		Metadata:  metadata,
	}
	if failure != nil {
		event.Error = failure.Error()
	}

	e.audit.Emit(ctx, event)
}
