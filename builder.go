package authkit

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/expressthat/authkit/jwt"
	"github.com/expressthat/authkit/password"
	"github.com/expressthat/authkit/session"
)

// Builder assembles an Engine. Collect dependencies with the With
// methods, then call Build once.
type Builder struct {
	cfg     Config
	rdb     redis.UniversalClient
	store   CredentialStore
	mailer  Mailer
	captcha CaptchaVerifier
	sink    AuditSink
	custom  []AuthMethod
}

// New starts a builder with DefaultConfig.
func New() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

// WithConfig replaces the whole config.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithRedis sets the Redis client backing sessions, challenges and
// limiters.
func (b *Builder) WithRedis(rdb redis.UniversalClient) *Builder {
	b.rdb = rdb
	return b
}

// WithCredentialStore sets the host application's principal store.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithMailer sets the outbound mail transport.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithCaptchaVerifier sets the captcha provider. Required when
// Config.Captcha.Enabled.
func (b *Builder) WithCaptchaVerifier(v CaptchaVerifier) *Builder {
	b.captcha = v
	return b
}

// WithAuditSink sets the audit destination. Defaults to NoOpSink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithAuthMethod registers an additional first-factor method alongside
// the built-in password method.
func (b *Builder) WithAuthMethod(m AuthMethod) *Builder {
	b.custom = append(b.custom, m)
	return b
}

// Build validates the configuration, wires every component and returns
// a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	cfg := b.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.rdb == nil {
		return nil, fmt.Errorf("%w: a Redis client is required", ErrConfigInvalid)
	}
	if b.store == nil {
		return nil, fmt.Errorf("%w: a CredentialStore is required", ErrConfigInvalid)
	}
	if b.mailer == nil {
		return nil, fmt.Errorf("%w: a Mailer is required", ErrConfigInvalid)
	}
	if cfg.Captcha.Enabled && b.captcha == nil {
		return nil, fmt.Errorf("%w: captcha is enabled but no verifier is set", ErrConfigInvalid)
	}

	tokens, err := jwt.NewManager(cfg.JWT)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		store:   b.store,
		mailer:  b.mailer,
		captcha: b.captcha,
		hasher:  password.NewHasher(cfg.Password.Argon2),
		tokens:  tokens,
		sessions: session.NewStore(b.rdb, session.Config{
			KeyPrefix:     cfg.Session.KeyPrefix,
			TTL:           cfg.Session.TTL,
			Sliding:       cfg.Session.Sliding,
			SlidingJitter: cfg.Session.SlidingJitter,
		}),
		totp:          newTOTPManager(cfg.SecondFactor.issuer(cfg.AppName), cfg.SecondFactor),
		challenges:    newChallengeStore(b.rdb, cfg.SecondFactor.MaxAttempts),
		pending:       newPendingSignInStore(b.rdb, cfg.SecondFactor.MaxAttempts),
		devices:       newTrustedDeviceStore(b.rdb, cfg.TrustedDevice.TTL),
		signinLimiter: newAttemptLimiter(b.rdb, "akl", cfg.SignIn.MaxAttempts, cfg.SignIn.Cooldown),
		codeLimiter:   newAttemptLimiter(b.rdb, "aka", cfg.SecondFactor.MaxAttempts, cfg.SecondFactor.PendingTTL),
		requests:      newRequestLimiter(b.rdb, requestWindow),
		lock:          newTwoFactorLock(b.rdb),
		methods:       newMethodRegistry(),
		metrics:       newMetrics(cfg.Metrics.Enabled, cfg.Metrics.LatencyHistograms),
	}

	if cfg.Audit.Enabled {
		sink := b.sink
		if sink == nil {
			sink = NoOpSink{}
		}
		e.audit = newAuditDispatcher(sink, cfg.Audit.BufferSize, cfg.Audit.DropIfFull)
	}

	if err := e.methods.register(passwordMethod{e: e}); err != nil {
		return nil, err
	}
	for _, m := range b.custom {
		if err := e.methods.register(m); err != nil {
			return nil, err
		}
	}
	e.methods.freeze()

	return e, nil
}
