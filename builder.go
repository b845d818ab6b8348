package goIdentity

import (
	"errors"
	"log/slog"

	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/stores"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/session"
	"github.com/redis/go-redis/v9"
)

// Builder collects the Engine's configuration and collaborators. A Builder
// produces at most one Engine.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     UserStore
	mailer    Mailer
	scorer    StrengthScorer
	clock     Clock
	ids       IDGenerator
	logger    *slog.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client backing the session and temporary code stores.
// Both *redis.Client and *redis.ClusterClient are accepted.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore describes the withuserstore operation and its observable behavior.
//
// WithUserStore may return an error when input validation, dependency calls, or security checks fail.
// WithUserStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithMailer describes the withmailer operation and its observable behavior.
//
// WithMailer may return an error when input validation, dependency calls, or security checks fail.
// WithMailer does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMailer(mailer Mailer) *Builder {
	b.mailer = mailer
	return b
}

// WithStrengthScorer describes the withstrengthscorer operation and its observable behavior.
//
// WithStrengthScorer may return an error when input validation, dependency calls, or security checks fail.
// WithStrengthScorer does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithStrengthScorer(scorer StrengthScorer) *Builder {
	b.scorer = scorer
	return b
}

// WithClock replaces the UTC system clock.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithIDGenerator replaces the default random user ID generator.
func (b *Builder) WithIDGenerator(ids IDGenerator) *Builder {
	b.ids = ids
	return b
}

// WithLogger sets the structured logger used for dependency failures. The
// default discards everything.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms may return an error when input validation, dependency calls, or security checks fail.
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, checks that every required
// collaborator is present and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}
	if b.scorer == nil {
		return nil, errors.New("strength scorer required")
	}

	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxBytes,
	})
	if err != nil {
		return nil, err
	}

	mailBody, err := newMailTemplate()
	if err != nil {
		return nil, err
	}

	limiter := rate.New(b.redis, rate.Config{
		Prefix:      cfg.Session.RedisPrefix,
		MaxAttempts: cfg.SignIn.MaxFailedAttempts,
		Window:      cfg.SignIn.FailureWindow,
		PerIP:       cfg.SignIn.ThrottleByIP,
	})

	engine := &Engine{
		config:       cfg,
		users:        b.users,
		mailer:       b.mailer,
		scorer:       b.scorer,
		clock:        b.clock,
		ids:          b.ids,
		logger:       b.logger,
		sessionStore: session.NewStore(b.redis, cfg.Session.RedisPrefix),
		tempCodes:    stores.NewTempCodeStore(b.redis, cfg.TempCode.RedisPrefix),
		limiter:      limiter,
		passwordHash: ph,
		totp:         newTOTPManager(cfg.TOTP),
		metrics:      NewMetrics(cfg.Metrics),
		mailBody:     mailBody,
	}
	if engine.clock == nil {
		engine.clock = systemClock{}
	}
	if engine.ids == nil {
		engine.ids = newRandomIDGenerator(cfg.SignUp.IDLength)
	}
	if engine.logger == nil {
		engine.logger = discardLogger()
	}
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink, engine.logger)

	b.built = true

	return engine, nil
}
