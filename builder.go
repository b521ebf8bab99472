package goSession

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/MrEthical07/goSession/account"
	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/exchange"
	"github.com/MrEthical07/goSession/internal/logging"
	internalmetrics "github.com/MrEthical07/goSession/internal/metrics"
	"github.com/MrEthical07/goSession/internal/queue"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/password"
)

const tracerName = "github.com/MrEthical07/goSession"

// Builder assembles a [Manager].
//
// Builder instances are intended to be configured during initialization and then discarded after Build.
type Builder struct {
	config Config

	redis   redis.UniversalClient
	backend account.Backend

	httpClient     *http.Client
	now            func() time.Time
	ticks          <-chan time.Time
	logger         *slog.Logger
	auditSink      AuditSink
	tracerProvider trace.TracerProvider

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis stores owner records in Redis under Config.Session.RedisPrefix.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithBackend stores owner records in backend. It takes precedence over
// WithRedis and Config.Session.StorageDir.
func (b *Builder) WithBackend(backend account.Backend) *Builder {
	b.backend = backend
	return b
}

// WithHTTPClient sets the client used for provider calls. Redirects are never followed.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithClock replaces time.Now for expiry, backoff and queue timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithTicks drives [Manager.RunQueue] from ticks instead of a ticker.
func (b *Builder) WithTicks(ticks <-chan time.Time) *Builder {
	b.ticks = ticks
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit sink. Events are only dispatched when Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithTracerProvider enables spans around facade operations and provider calls.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the provider call latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready [Manager].
//
// Build may only be called once per Builder.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := logging.OrDefault(b.logger)

	// -------- STORAGE --------
	backend := b.backend
	switch {
	case backend != nil:
	case b.redis != nil:
		backend = account.NewRedisBackend(b.redis, cfg.Session.RedisPrefix)
	case cfg.Session.StorageDir != "":
		fb, err := account.NewFileBackend(cfg.Session.StorageDir)
		if err != nil {
			return nil, err
		}
		backend = fb
	default:
		return nil, errors.New("storage backend required: WithBackend, WithRedis or Session.StorageDir")
	}
	repo := account.NewRepository(backend, cfg.Session.MaxAccountsPerOwner)

	// -------- CREDENTIAL SEALING --------
	var sealer exchange.Sealer
	if cfg.Credentials.Retention == RetainPassword {
		s, err := password.NewSealer(cfg.Credentials.SealKey, cfg.Credentials.Seal)
		if err != nil {
			return nil, err
		}
		sealer = s
	}

	// -------- METRICS --------
	metrics := internalmetrics.New(internalmetrics.Config{
		Enabled:                 cfg.Metrics.Enabled,
		EnableLatencyHistograms: cfg.Metrics.EnableLatencyHistograms,
	})

	// -------- TRACING --------
	tp := b.tracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	tracer := tp.Tracer(tracerName)

	// -------- EXCHANGER --------
	limiter := rate.New(cfg.rateConfig(), now)
	client := b.httpClient
	if client == nil {
		client = &http.Client{}
	}
	exchanger, err := exchange.New(exchange.Deps{
		Config: exchange.Config{
			Endpoints: cfg.endpoints(),
			Retention: cfg.Credentials.Retention,
		},
		Client:  client,
		Limiter: limiter,
		Store:   repo,
		Sealer:  sealer,
		Tracer:  tracer,
		Logger:  logger,
		Now:     now,
		OnCall: func(_ string, d time.Duration, _ error) {
			metrics.Observe(MetricExchangeLatency, d)
		},
	})
	if err != nil {
		return nil, err
	}

	m := &Manager{
		config:    cfg,
		repo:      repo,
		limiter:   limiter,
		exchanger: exchanger,
		metrics:   metrics,
		logger:    logger,
		tracer:    tracer,
		now:       now,
		ticks:     b.ticks,
	}

	// -------- QUEUE --------
	m.queue = queue.New(queue.Options[*Result]{
		Now: now,
		Observe: func(out queue.Outcome[*Result]) {
			metrics.Inc(MetricQueueProcessed)
			if errors.Is(out.Err, queue.ErrTaskPanicked) {
				metrics.Inc(MetricQueuePanicked)
				logger.Error("queued auth operation panicked",
					logging.Operation(out.Op.String()),
					logging.CorrelationID(out.ID),
					logging.RequestID(out.RequestID),
					logging.Err(out.Err),
				)
			}
		},
	})

	// -------- AUDIT --------
	if cfg.Audit.Enabled {
		m.audit = internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    true,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink)
	}

	for _, w := range cfg.Lint() {
		logger.Warn("session config lint", slog.String("code", w.Code), slog.String("message", w.Message))
	}

	b.built = true
	return m, nil
}
