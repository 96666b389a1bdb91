package authcore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solvein/authcore/internal/rate"
	"github.com/solvein/authcore/password"
	"github.com/solvein/authcore/policy"
	"github.com/solvein/authcore/token"
)

// Builder assembles an [Engine]. A zero builder is not usable; start from
// [New], chain the With* setters, then call [Builder.Build] once.
type Builder struct {
	config    Config
	store     UserStore
	redis     redis.UniversalClient
	auditSink AuditSink

	built bool
}

// New returns a Builder pre-loaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The config is cloned; later
// mutation of cfg does not reach the engine.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSecret sets the token signing secret without replacing the rest of the
// configuration.
func (b *Builder) WithSecret(secret []byte) *Builder {
	b.config.Token.Secret = cloneBytes(secret)
	return b
}

// WithStore sets the user record store. Required.
func (b *Builder) WithStore(store UserStore) *Builder {
	b.store = store
	return b
}

// WithRedis sets the Redis client backing the optional login throttle.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAuditSink sets the sink receiving audit events. Without a sink,
// enabled auditing falls back to [NoOpSink].
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLoginThrottle toggles the Redis fixed-window login throttle. Building
// with the throttle enabled requires [Builder.WithRedis].
func (b *Builder) WithLoginThrottle(enabled bool) *Builder {
	b.config.Throttle.Enabled = enabled
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine. A builder can
// build only once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, errors.New("user store required")
	}
	if cfg.Throttle.Enabled && b.redis == nil {
		return nil, errors.New("login throttle requires redis client")
	}

	engine := &Engine{
		config: cfg,
		store:  b.store,
		policy: policy.New(cfg.Policy.MinLength, cfg.Policy.MaxLength),
		now:    time.Now,
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	codec, err := token.NewCodec(token.Config{
		Secret:        cloneBytes(cfg.Token.Secret),
		SigningMethod: cfg.Token.SigningMethod,
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
	})
	if err != nil {
		return nil, err
	}
	engine.codec = codec

	if cfg.Throttle.Enabled {
		engine.limiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle: cfg.Throttle.EnableIPThrottle,
			MaxAttempts:      cfg.Throttle.MaxAttempts,
			Window:           cfg.Throttle.Window,
		})
	}

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
