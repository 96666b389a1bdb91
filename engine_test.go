package authcore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/solvein/authcore"
	"github.com/solvein/authcore/password"
	"github.com/solvein/authcore/store"
)

const (
	testEmail    = "user@example.com"
	testPassword = "MySecureP@ss123"
)

func testConfig() authcore.Config {
	return authcore.Config{
		Token: authcore.TokenConfig{
			AccessTTL:     time.Minute,
			RefreshTTL:    time.Hour,
			SigningMethod: "hs256",
			Secret:        []byte("0123456789abcdef0123456789abcdef"),
		},
		Password: authcore.PasswordConfig{
			// minimum legal cost so tests stay fast
			Memory:      8 * 1024,
			Time:        1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   16,
		},
		Policy: authcore.PolicyConfig{
			MinLength: 8,
			MaxLength: 128,
		},
		Security: authcore.SecurityConfig{
			MaxLoginAttempts: 5,
			LockoutDuration:  15 * time.Minute,
			CASRetryLimit:    5,
		},
	}
}

func newTestEngine(t *testing.T, mutate func(*authcore.Config)) (*authcore.Engine, *store.Memory) {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mem := store.NewMemory()
	engine, err := authcore.New().
		WithConfig(cfg).
		WithStore(mem).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, mem
}

func registerTestUser(t *testing.T, engine *authcore.Engine) string {
	t.Helper()

	userID, err := engine.Register(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return userID
}

func TestRegister(t *testing.T) {
	engine, mem := newTestEngine(t, nil)
	ctx := context.Background()

	userID := registerTestUser(t, engine)
	if userID == "" {
		t.Fatal("Register returned an empty user ID")
	}

	user, err := mem.FindByID(ctx, userID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if !user.IsActive {
		t.Error("new account not active")
	}
	if user.FailedAttempts != 0 || user.LockedUntil != nil {
		t.Errorf("new account security state = (%d, %v), want clean", user.FailedAttempts, user.LockedUntil)
	}
	if user.CredentialDigest == testPassword || user.CredentialDigest == "" {
		t.Error("credential digest missing or holds the plaintext")
	}
}

func TestRegisterCheckOrdering(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	// weak password and malformed email together report the weak password
	if _, err := engine.Register(ctx, "not-an-email", "weak"); !errors.Is(err, authcore.ErrWeakPassword) {
		t.Fatalf("Register(dual invalid) = %v, want %v", err, authcore.ErrWeakPassword)
	}

	if _, err := engine.Register(ctx, "not-an-email", testPassword); !errors.Is(err, authcore.ErrEmailInvalid) {
		t.Fatalf("Register(bad email) = %v, want %v", err, authcore.ErrEmailInvalid)
	}

	registerTestUser(t, engine)
	if _, err := engine.Register(ctx, testEmail, testPassword); !errors.Is(err, authcore.ErrEmailTaken) {
		t.Fatalf("Register(duplicate) = %v, want %v", err, authcore.ErrEmailTaken)
	}

	// uniqueness is keyed on the normalized form
	if _, err := engine.Register(ctx, "User@Example.COM", testPassword); !errors.Is(err, authcore.ErrEmailTaken) {
		t.Fatalf("Register(case variant) = %v, want %v", err, authcore.ErrEmailTaken)
	}
}

func TestLoginSuccess(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()
	userID := registerTestUser(t, engine)

	pair, err := engine.Login(ctx, "User@Example.COM", testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("Login returned an incomplete token pair")
	}

	user, err := engine.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.ID != userID {
		t.Fatalf("Authenticate resolved %q, want %q", user.ID, userID)
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	// unknown email and malformed email both collapse to invalid credentials
	if _, err := engine.Login(context.Background(), "ghost@example.com", testPassword); !errors.Is(err, authcore.ErrInvalidCredentials) {
		t.Fatalf("Login(unknown) = %v, want %v", err, authcore.ErrInvalidCredentials)
	}
	if _, err := engine.Login(context.Background(), "not-an-email", testPassword); !errors.Is(err, authcore.ErrInvalidCredentials) {
		t.Fatalf("Login(malformed) = %v, want %v", err, authcore.ErrInvalidCredentials)
	}
}

func TestLoginLockoutCycle(t *testing.T) {
	engine, mem := newTestEngine(t, func(cfg *authcore.Config) {
		cfg.Security.LockoutDuration = 50 * time.Millisecond
	})
	ctx := context.Background()
	userID := registerTestUser(t, engine)

	// four wrong attempts count down 4,3,2,1
	for _, wantRemaining := range []int{4, 3, 2, 1} {
		_, err := engine.Login(ctx, testEmail, "Wr0ng!pass")
		var credErr *authcore.CredentialsError
		if !errors.As(err, &credErr) {
			t.Fatalf("Login(wrong) = %v, want CredentialsError", err)
		}
		if credErr.Remaining != wantRemaining {
			t.Fatalf("remaining = %d, want %d", credErr.Remaining, wantRemaining)
		}
	}

	// the 5th failure locks
	_, err := engine.Login(ctx, testEmail, "Wr0ng!pass")
	var lockedErr *authcore.LockedError
	if !errors.As(err, &lockedErr) {
		t.Fatalf("Login(5th wrong) = %v, want LockedError", err)
	}
	if lockedErr.RetryAfter <= 0 {
		t.Fatalf("LockedError.RetryAfter = %v, want > 0", lockedErr.RetryAfter)
	}

	user, _ := mem.FindByID(ctx, userID)
	if user.LockedUntil == nil {
		t.Fatal("record not locked after threshold failure")
	}
	if user.FailedAttempts != 0 {
		t.Fatalf("locking must reset the counter, got %d", user.FailedAttempts)
	}

	// the correct password is still rejected while locked
	if _, err := engine.Login(ctx, testEmail, testPassword); !errors.As(err, &lockedErr) {
		t.Fatalf("Login(correct, locked) = %v, want LockedError", err)
	}

	time.Sleep(60 * time.Millisecond)

	// lock elapsed: correct password succeeds and the record is clean
	pair, err := engine.Login(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login after lockout: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("incomplete token pair after lockout")
	}

	user, _ = mem.FindByID(ctx, userID)
	if user.FailedAttempts != 0 || user.LockedUntil != nil {
		t.Fatalf("security state after recovery = (%d, %v), want clean", user.FailedAttempts, user.LockedUntil)
	}
	if user.LastAttemptAt == nil {
		t.Fatal("LastAttemptAt not stamped")
	}
}

func TestLoginSuccessResetsCounter(t *testing.T) {
	engine, mem := newTestEngine(t, nil)
	ctx := context.Background()
	userID := registerTestUser(t, engine)

	for i := 0; i < 3; i++ {
		_, _ = engine.Login(ctx, testEmail, "Wr0ng!pass")
	}
	user, _ := mem.FindByID(ctx, userID)
	if user.FailedAttempts != 3 {
		t.Fatalf("FailedAttempts = %d, want 3", user.FailedAttempts)
	}

	if _, err := engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}

	user, _ = mem.FindByID(ctx, userID)
	if user.FailedAttempts != 0 {
		t.Fatalf("FailedAttempts after success = %d, want 0", user.FailedAttempts)
	}
}

func TestLoginConcurrentFailuresCountBoth(t *testing.T) {
	engine, mem := newTestEngine(t, nil)
	ctx := context.Background()
	userID := registerTestUser(t, engine)

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_, _ = engine.Login(ctx, testEmail, "Wr0ng!pass")
		}()
	}
	wg.Wait()

	user, _ := mem.FindByID(ctx, userID)
	if user.FailedAttempts != 2 {
		t.Fatalf("FailedAttempts after two concurrent failures = %d, want 2", user.FailedAttempts)
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	engine, mem := newTestEngine(t, nil)
	ctx := context.Background()

	hasher, err := password.NewHasher(password.Config{
		Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16,
	})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	digest, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := mem.Insert(ctx, authcore.UserRecord{
		ID:               "inactive-1",
		Email:            testEmail,
		CredentialDigest: digest,
		IsActive:         false,
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// inactive is distinct from credential and lockout errors, and a correct
	// password still resets the security state first
	if _, err := engine.Login(ctx, testEmail, testPassword); !errors.Is(err, authcore.ErrAccountInactive) {
		t.Fatalf("Login(inactive) = %v, want %v", err, authcore.ErrAccountInactive)
	}

	user, _ := mem.FindByID(ctx, "inactive-1")
	if user.LastAttemptAt == nil {
		t.Fatal("attempt against inactive account not stamped")
	}
}

func TestRefresh(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()
	userID := registerTestUser(t, engine)

	pair, err := engine.Login(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	access, err := engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	user, err := engine.Authenticate(ctx, access)
	if err != nil {
		t.Fatalf("Authenticate(refreshed access): %v", err)
	}
	if user.ID != userID {
		t.Fatalf("refreshed access resolves %q, want %q", user.ID, userID)
	}

	// the refresh token is exchange-only and never rotated: it keeps working
	if _, err := engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()
	registerTestUser(t, engine)

	pair, err := engine.Login(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := engine.Refresh(ctx, pair.AccessToken); !errors.Is(err, authcore.ErrTokenInvalid) {
		t.Fatalf("Refresh(access token) = %v, want %v", err, authcore.ErrTokenInvalid)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	engine, _ := newTestEngine(t, func(cfg *authcore.Config) {
		cfg.Token.AccessTTL = time.Millisecond
		cfg.Token.RefreshTTL = time.Millisecond
	})
	ctx := context.Background()
	registerTestUser(t, engine)

	pair, err := engine.Login(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, authcore.ErrTokenInvalid) {
		t.Fatalf("Refresh(expired) = %v, want %v", err, authcore.ErrTokenInvalid)
	}
}

func TestAuthenticateIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()
	userID := registerTestUser(t, engine)

	pair, err := engine.Login(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	for i := 0; i < 3; i++ {
		user, err := engine.Authenticate(ctx, pair.AccessToken)
		if err != nil {
			t.Fatalf("Authenticate #%d: %v", i+1, err)
		}
		if user.ID != userID {
			t.Fatalf("Authenticate #%d resolved %q, want %q", i+1, user.ID, userID)
		}
	}
}

func TestAuthenticateRejectsRefreshToken(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()
	registerTestUser(t, engine)

	pair, err := engine.Login(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := engine.Authenticate(ctx, pair.RefreshToken); !errors.Is(err, authcore.ErrTokenInvalid) {
		t.Fatalf("Authenticate(refresh token) = %v, want %v", err, authcore.ErrTokenInvalid)
	}
	if _, err := engine.Authenticate(ctx, "garbage"); !errors.Is(err, authcore.ErrTokenInvalid) {
		t.Fatalf("Authenticate(garbage) = %v, want %v", err, authcore.ErrTokenInvalid)
	}
}

func TestAuthenticateUnknownSubject(t *testing.T) {
	// two engines share the signing secret but not the store, so a token
	// minted by the first names a subject the second has never seen
	issuer, _ := newTestEngine(t, nil)
	verifier, _ := newTestEngine(t, nil)
	ctx := context.Background()
	registerTestUser(t, issuer)

	pair, err := issuer.Login(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := verifier.Authenticate(ctx, pair.AccessToken); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("Authenticate(unknown subject) = %v, want %v", err, authcore.ErrUserNotFound)
	}
}

func TestLoginThrottle(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	cfg.Throttle = authcore.ThrottleConfig{
		Enabled:     true,
		MaxAttempts: 2,
		Window:      time.Minute,
	}

	mem := store.NewMemory()
	engine, err := authcore.New().
		WithConfig(cfg).
		WithStore(mem).
		WithRedis(client).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx := context.Background()
	if _, err := engine.Register(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < 3; i++ {
		_, _ = engine.Login(ctx, testEmail, "Wr0ng!pass")
	}

	// over the window budget: rejected before the lockout machinery runs
	if _, err := engine.Login(ctx, testEmail, testPassword); !errors.Is(err, authcore.ErrLoginRateLimited) {
		t.Fatalf("Login(throttled) = %v, want %v", err, authcore.ErrLoginRateLimited)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login after window: %v", err)
	}
}

func TestAuditEvents(t *testing.T) {
	sink := authcore.NewChannelSink(16)

	cfg := testConfig()
	cfg.Audit = authcore.AuditConfig{Enabled: true, BufferSize: 16, DropIfFull: true}

	mem := store.NewMemory()
	engine, err := authcore.New().
		WithConfig(cfg).
		WithStore(mem).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := authcore.WithClientIP(context.Background(), "10.0.0.1")
	userID, err := engine.Register(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := engine.Login(ctx, testEmail, "Wr0ng!pass"); err == nil {
		t.Fatal("Login(wrong) succeeded")
	}

	engine.Close()

	var events []authcore.AuditEvent
	for len(sink.Events()) > 0 {
		events = append(events, <-sink.Events())
	}
	if len(events) != 2 {
		t.Fatalf("got %d audit events, want 2", len(events))
	}

	register, login := events[0], events[1]
	if register.EventType != "register" || !register.Success || register.UserID != userID {
		t.Errorf("register event = %+v", register)
	}
	if login.EventType != "login" || login.Success || login.IP != "10.0.0.1" {
		t.Errorf("login event = %+v", login)
	}
	if register.Error != "" || login.Error == "" {
		t.Errorf("event errors = (%q, %q)", register.Error, login.Error)
	}
}

func TestMetricsCounters(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true

	mem := store.NewMemory()
	engine, err := authcore.New().
		WithConfig(cfg).
		WithStore(mem).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx := context.Background()
	if _, err := engine.Register(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	_, _ = engine.Login(ctx, testEmail, "Wr0ng!pass")

	snap := engine.MetricsSnapshot()
	if snap.Counters[authcore.MetricRegisterSuccess] != 1 {
		t.Errorf("register success counter = %d, want 1", snap.Counters[authcore.MetricRegisterSuccess])
	}
	if snap.Counters[authcore.MetricLoginSuccess] != 1 {
		t.Errorf("login success counter = %d, want 1", snap.Counters[authcore.MetricLoginSuccess])
	}
	if snap.Counters[authcore.MetricLoginFailure] != 1 {
		t.Errorf("login failure counter = %d, want 1", snap.Counters[authcore.MetricLoginFailure])
	}
}

func TestBuilderValidation(t *testing.T) {
	if _, err := authcore.New().WithConfig(testConfig()).Build(); err == nil {
		t.Error("Build without a store succeeded")
	}

	cfg := testConfig()
	cfg.Token.Secret = []byte("short")
	if _, err := authcore.New().WithConfig(cfg).WithStore(store.NewMemory()).Build(); err == nil {
		t.Error("Build with a short secret succeeded")
	}

	cfg = testConfig()
	cfg.Throttle.Enabled = true
	if _, err := authcore.New().WithConfig(cfg).WithStore(store.NewMemory()).Build(); err == nil {
		t.Error("Build with throttle but no redis succeeded")
	}

	b := authcore.New().WithConfig(testConfig()).WithStore(store.NewMemory())
	if _, err := b.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Error("second Build on the same builder succeeded")
	}
}
