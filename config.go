package authcore

import (
	"errors"
	"time"
)

// Config carries every tunable of the engine. It is resolved once at
// startup, validated in [Builder.Build], and treated as read-only afterwards.
type Config struct {
	Token    TokenConfig
	Password PasswordConfig
	Policy   PolicyConfig
	Security SecurityConfig
	Throttle ThrottleConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures the HMAC token codec.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default), "hs384", "hs512"
	Secret        []byte
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the argon2id cost parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
POLICY CONFIG
====================================
*/

// PolicyConfig bounds accepted password lengths. Character-class rules are
// fixed: at least one uppercase letter, lowercase letter, digit, and symbol.
type PolicyConfig struct {
	MinLength int
	MaxLength int
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig tunes the failed-login lockout state machine. The account
// locks on the attempt that reaches MaxLoginAttempts. CASRetryLimit bounds
// how often a single login reloads and retries after losing a
// compare-and-swap race.
type SecurityConfig struct {
	MaxLoginAttempts int
	LockoutDuration  time.Duration
	CASRetryLimit    int
}

// ThrottleConfig enables the optional Redis fixed-window login throttle.
// It sits in front of the per-account lockout and caps attempt volume per
// identifier, and per client IP when EnableIPThrottle is set.
type ThrottleConfig struct {
	Enabled          bool
	EnableIPThrottle bool
	MaxAttempts      int
	Window           time.Duration
}

// AuditConfig controls the async audit dispatcher. With DropIfFull set,
// events beyond the buffer are counted and discarded instead of blocking
// the login path.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     60 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			SigningMethod: "hs256",
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: PolicyConfig{
			MinLength: 8,
			MaxLength: 128,
		},
		Security: SecurityConfig{
			MaxLoginAttempts: 5,
			LockoutDuration:  15 * time.Minute,
			CASRetryLimit:    5,
		},
		Throttle: ThrottleConfig{
			Enabled:          false,
			EnableIPThrottle: true,
			MaxAttempts:      20,
			Window:           1 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Secret = cloneBytes(cfg.Token.Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks cross-field consistency. It is called by [Builder.Build];
// callers only need it when constructing configs dynamically.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RefreshTTL < c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be >= AccessTTL")
	}
	switch c.Token.SigningMethod {
	case "hs256", "hs384", "hs512":
		// valid
	default:
		return errors.New("unsupported token signing method")
	}
	if len(c.Token.Secret) < 32 {
		return errors.New("Token Secret must be >= 32 bytes")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Policy
	if c.Policy.MinLength < 1 {
		return errors.New("Policy MinLength must be >= 1")
	}
	if c.Policy.MaxLength < c.Policy.MinLength {
		return errors.New("Policy MaxLength must be >= MinLength")
	}

	// Security
	if c.Security.MaxLoginAttempts <= 0 {
		return errors.New("Security MaxLoginAttempts must be > 0")
	}
	if c.Security.LockoutDuration <= 0 {
		return errors.New("Security LockoutDuration must be > 0")
	}
	if c.Security.CASRetryLimit <= 0 {
		return errors.New("Security CASRetryLimit must be > 0")
	}

	// Throttle
	if c.Throttle.Enabled {
		if c.Throttle.MaxAttempts <= 0 {
			return errors.New("Throttle MaxAttempts must be > 0 when throttle is enabled")
		}
		if c.Throttle.Window <= 0 {
			return errors.New("Throttle Window must be > 0 when throttle is enabled")
		}
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
	}

	return nil
}
