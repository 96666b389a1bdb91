// Package authcore implements the credential and session-security core of an
// authentication service: password policy and hashing, signed access/refresh
// token issuance and verification, and the per-account failed-login lockout
// state machine.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the [UserStore] contract, and value types. Pure helpers (lockout
// transitions, throttle counters) live under internal/ and are never exported.
// Transport framing, request schemas, and persistence formats belong to the
// caller: the engine talks to user records only through [UserStore].
//
// # Security posture
//
// Tokens are stateless and carry no revocation hook; a leaked token stays
// valid until its natural expiry, which is why the access TTL defaults short.
// All lockout counter updates go through [UserStore.CompareAndSwapSecurity]
// so concurrent failed attempts against one account are never lost. Plaintext
// passwords are never retained past the call stack and never appear in audit
// events.
package authcore
