package goSession

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/session"
)

// Builder assembles an [Engine]. A Builder is single use: Build fails on the
// second call.
type Builder struct {
	config  Config
	redis   redis.UniversalClient
	backend session.Backend

	auditSink AuditSink
	logger    *slog.Logger
	clock     session.Clock
	ids       session.IDGenerator

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the client for the redis backend. The engine never
// closes a client it did not create.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithBackend installs a custom backend and bypasses Store.Backend.
func (b *Builder) WithBackend(backend session.Backend) *Builder {
	b.backend = backend
	return b
}

// WithAuditSink sets the destination of audit events. Audit must also be
// enabled in the configuration.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger for the engine, its repository and its sweeper.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now, mainly for tests.
func (b *Builder) WithClock(clock session.Clock) *Builder {
	b.clock = clock
	return b
}

// WithIDGenerator overrides the session id generator.
func (b *Builder) WithIDGenerator(ids session.IDGenerator) *Builder {
	b.ids = ids
	return b
}

// WithMetricsEnabled toggles metric collection.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, selects the backend and returns a
// ready engine. It fails when the redis backend has neither a client nor
// addresses, or when the configured deployment does not answer a ping.
// The sweeper is already running when Sweeper.Enabled is set.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// -------- BACKEND --------
	backend := b.backend
	var ownedClient redis.UniversalClient
	if backend == nil {
		switch cfg.Store.Backend {
		case BackendMemory:
			backend = session.NewMemoryBackend(b.clock)
		case BackendRedis:
			client := b.redis
			if client == nil {
				if len(cfg.Redis.Addrs) == 0 {
					return nil, ErrRedisClientRequired
				}
				ctx, cancel := context.WithTimeout(context.Background(), dialBudget(cfg.Redis))
				var err error
				client, err = NewRedisClient(ctx, cfg.Redis)
				cancel()
				if err != nil {
					return nil, err
				}
				ownedClient = client
			}
			backend = session.NewRedisBackend(client)
		}
	}

	// -------- REPOSITORY --------
	repo := session.NewRepository(backend, session.RepositoryConfig{
		Namespace:                  cfg.Session.Namespace,
		DefaultMaxInactiveInterval: cfg.Session.DefaultMaxInactiveInterval,
		GraceWindow:                cfg.Session.GraceWindow,
		ExpirationGrace:            cfg.Session.ExpirationGrace,
		FindConcurrency:            cfg.Session.FindConcurrency,
		Clock:                      b.clock,
		IDGenerator:                b.ids,
		Logger:                     logger,
	})

	engine := &Engine{
		config:      cloneConfig(cfg),
		backend:     backend,
		repo:        repo,
		ownedClient: ownedClient,
		logger:      logger,
		now:         b.clock,
	}
	if engine.now == nil {
		engine.now = timeNow
	}
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink, logger)
	engine.metrics = NewMetrics(cfg.Metrics)

	if cfg.Sweeper.Enabled {
		engine.sweeper = NewSweeper(engine, cfg.Sweeper, logger)
		engine.sweeper.Start()
	}

	b.built = true

	return engine, nil
}

func dialBudget(cfg RedisConfig) time.Duration {
	if cfg.DialTimeout > 0 {
		return 2 * cfg.DialTimeout
	}
	return 10 * time.Second
}
