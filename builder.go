package sessioncore

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/modmesh/sessioncore/session"
)

// Builder assembles an [Engine]. Builders are single-use: Build succeeds at
// most once per Builder.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store    Store
	identity IdentityProvider
	sink     EventSink
	logger   Logger

	built bool
}

// New creates a Builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder's configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing the cache tier.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the durable session store.
func (b *Builder) WithStore(store Store) *Builder {
	b.store = store
	return b
}

// WithIdentityProvider sets the user/organization validator consulted at
// session creation. Without one, creation skips identity validation.
func (b *Builder) WithIdentityProvider(identity IdentityProvider) *Builder {
	b.identity = identity
	return b
}

// WithEventSink sets the lifecycle event sink.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.sink = sink
	return b
}

// WithLogger sets the engine logger. Without one, a JSON slog logger writing
// to stderr is used.
func (b *Builder) WithLogger(logger Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsEnabled toggles the counter registry.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLifecycleEnabled toggles the periodic scheduler. Tests that drive
// sweeps and aggregation manually disable it.
func (b *Builder) WithLifecycleEnabled(enabled bool) *Builder {
	b.config.Lifecycle.Enabled = enabled
	return b
}

// Build validates the configuration and wiring and returns a running Engine.
// When the lifecycle scheduler is enabled it starts immediately; the caller
// owns the Engine and must Close it.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.store == nil {
		return nil, errors.New("durable store is required")
	}
	if err := b.config.validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = NewJSONLogger(nil)
	}

	e := &Engine{
		config:    b.config,
		store:     b.store,
		cache:     session.NewCache(b.redis, b.config.Cache.Prefix),
		identity:  b.identity,
		events:    newEventDispatcher(b.config.Events, b.sink),
		metrics:   newMetrics(b.config.Metrics),
		logger:    logger,
		locks:     newKeyedLocks(),
		userLocks: newKeyedLocks(),
		closed:    make(chan struct{}),
	}

	if b.config.Lifecycle.Enabled {
		e.lifecycle = newLifecycleScheduler(e, b.config.Lifecycle)
	}

	b.built = true
	return e, nil
}
