// Package bootstrap builds the fulfillment service and its backing stores
// from configuration. The binaries under cmd/ own the returned App.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/claims-fulfillment/internal/api/router"
	"github.com/wolfman30/claims-fulfillment/internal/archive"
	"github.com/wolfman30/claims-fulfillment/internal/casestore"
	"github.com/wolfman30/claims-fulfillment/internal/claims"
	appconfig "github.com/wolfman30/claims-fulfillment/internal/config"
	"github.com/wolfman30/claims-fulfillment/internal/dialog"
	"github.com/wolfman30/claims-fulfillment/internal/fulfillment"
	"github.com/wolfman30/claims-fulfillment/internal/http/handlers"
	"github.com/wolfman30/claims-fulfillment/internal/idempotency"
	"github.com/wolfman30/claims-fulfillment/internal/notify"
	"github.com/wolfman30/claims-fulfillment/internal/observability/metrics"
	"github.com/wolfman30/claims-fulfillment/internal/transcript"
	"github.com/wolfman30/claims-fulfillment/internal/turnlog"
	"github.com/wolfman30/claims-fulfillment/pkg/logging"
)

// AWSLoader resolves the shared AWS SDK configuration.
type AWSLoader func(ctx context.Context) (aws.Config, error)

// Options controls how New builds the App.
type Options struct {
	Config  *appconfig.Config
	Logger  *logging.Logger
	LoadAWS AWSLoader
	// Registry receives the fulfillment metrics; nil uses the default registerer.
	Registry *prometheus.Registry
}

// App is the wired fulfillment runtime.
type App struct {
	Config     *appconfig.Config
	Logger     *logging.Logger
	CRM        *casestore.CRM
	Turns      turnlog.Store
	Queue      turnlog.Queue
	Reconciler *transcript.Reconciler
	Archive    *archive.Store
	Replies    idempotency.Cache
	Metrics    *metrics.FulfillmentMetrics
	Service    *fulfillment.Service
	Handler    http.Handler

	closers []func()
	checks  []func(ctx context.Context) error
}

// New wires every component named by cfg.
func New(ctx context.Context, opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	b := &builder{cfg: opts.Config, logger: opts.Logger, loadAWS: opts.LoadAWS}
	if b.logger == nil {
		b.logger = logging.Default()
	}
	app, err := b.build(ctx, opts.Registry)
	if err != nil {
		b.close()
		return nil, err
	}
	return app, nil
}

// NewWorker returns a turn-log worker draining the App's queue, or nil when
// turns are written inline.
func (a *App) NewWorker(opts ...turnlog.WorkerOption) *turnlog.Worker {
	if a.Queue == nil {
		return nil
	}
	opts = append([]turnlog.WorkerOption{turnlog.WithWorkerCount(a.Config.WorkerCount)}, opts...)
	return turnlog.NewWorker(a.Queue, a.Turns, a.Logger, opts...)
}

// Ready pings the network stores the App depends on.
func (a *App) Ready(ctx context.Context) error {
	for _, check := range a.checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for background turn work, then releases store handles.
func (a *App) Close() {
	if a.Service != nil {
		a.Service.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// TurnLog is the store and queue pair the standalone worker drains.
type TurnLog struct {
	Store turnlog.Store
	Queue turnlog.Queue

	closers []func()
}

// NewTurnLog builds only the turn-log side of the runtime.
func NewTurnLog(ctx context.Context, opts Options) (*TurnLog, error) {
	if opts.Config == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	b := &builder{cfg: opts.Config, logger: opts.Logger, loadAWS: opts.LoadAWS}
	if b.logger == nil {
		b.logger = logging.Default()
	}
	store, err := b.turnStore(ctx)
	if err != nil {
		b.close()
		return nil, err
	}
	queue, err := b.turnQueue(ctx)
	if err != nil {
		b.close()
		return nil, err
	}
	if queue == nil {
		b.close()
		return nil, errors.New("bootstrap: TURN_LOG_QUEUE_URL or USE_MEMORY_QUEUE is required for the worker")
	}
	return &TurnLog{Store: store, Queue: queue, closers: b.closers}, nil
}

// Close releases store handles.
func (t *TurnLog) Close() {
	for i := len(t.closers) - 1; i >= 0; i-- {
		t.closers[i]()
	}
}

type builder struct {
	cfg     *appconfig.Config
	logger  *logging.Logger
	loadAWS AWSLoader

	awsCfg      *aws.Config
	redisClient *redis.Client
	redisTried  bool
	db          *sql.DB
	pool        *pgxpool.Pool

	closers []func()
	checks  []func(ctx context.Context) error
}

func (b *builder) build(ctx context.Context, registry *prometheus.Registry) (*App, error) {
	cfg := b.cfg
	loc := cfg.Location()
	catalog := dialog.DefaultCatalog()

	store, err := b.caseStore(ctx)
	if err != nil {
		return nil, err
	}
	crm := casestore.NewCRM(store, b.logger)

	turns, err := b.turnStore(ctx)
	if err != nil {
		return nil, err
	}
	queue, err := b.turnQueue(ctx)
	if err != nil {
		return nil, err
	}
	var recorder fulfillment.Recorder = turnlog.DirectRecorder{Store: turns}
	if queue != nil {
		recorder = turnlog.NewPublisher(queue, b.logger)
	}

	var m *metrics.FulfillmentMetrics
	metricsHandler := promhttp.Handler()
	if registry != nil {
		m = metrics.NewFulfillmentMetrics(registry)
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	} else {
		m = metrics.NewFulfillmentMetrics(prometheus.DefaultRegisterer)
	}

	engine := claims.NewEngine(crm, catalog, b.logger, claims.WithOrigin(cfg.CaseOrigin), claims.WithLocation(loc))
	reconciler := transcript.NewReconciler(crm, turns, b.logger, transcript.WithLocation(loc))

	serviceOpts := []fulfillment.Option{
		fulfillment.WithMetrics(m),
		fulfillment.WithLocation(loc),
		fulfillment.WithBackgroundTimeout(cfg.BackgroundTimeout),
	}
	notifier, err := b.notifier(ctx)
	if err != nil {
		return nil, err
	}
	if notifier != nil {
		serviceOpts = append(serviceOpts, fulfillment.WithNotifier(notifier))
	}
	arch, err := b.archive(ctx)
	if err != nil {
		return nil, err
	}
	if arch != nil {
		serviceOpts = append(serviceOpts, fulfillment.WithArchiver(arch))
	}
	svc := fulfillment.NewService(crm, engine, reconciler, recorder, catalog, b.logger, serviceOpts...)

	var replies idempotency.Cache = idempotency.NewMemoryCache(cfg.ResponseCacheTTL)
	if client := b.redis(ctx); client != nil {
		replies = idempotency.NewRedisCache(client, cfg.ResponseCacheTTL)
	}

	app := &App{
		Config:     cfg,
		Logger:     b.logger,
		CRM:        crm,
		Turns:      turns,
		Queue:      queue,
		Reconciler: reconciler,
		Replies:    replies,
		Metrics:    m,
		Service:    svc,
	}
	var archiveReader handlers.ArchiveReader
	if arch != nil {
		app.Archive = arch
		archiveReader = arch
	}
	app.Handler = router.New(&router.Config{
		Logger:             b.logger,
		Webhook:            handlers.NewWebhookHandler(svc, replies, m, b.logger),
		AdminTranscripts:   handlers.NewAdminTranscriptsHandler(reconciler, turns, archiveReader, b.logger),
		MetricsHandler:     metricsHandler,
		WebhookAuthSecret:  cfg.WebhookJWTSecret,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ReadinessCheck:     app.Ready,
	})
	app.closers = b.closers
	app.checks = b.checks
	return app, nil
}

func (b *builder) notifier(ctx context.Context) (*notify.Service, error) {
	var sender notify.Sender
	switch b.cfg.NotifyProvider {
	case "sendgrid":
		from := notify.Mailbox{Address: b.cfg.SendGridFromEmail, Name: b.cfg.SendGridFromName}
		if sg := notify.NewSendGridSender(b.cfg.SendGridAPIKey, from, b.logger); sg != nil {
			sender = sg
		}
	case "ses":
		awsCfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		from := notify.Mailbox{Address: b.cfg.SESFromEmail, Name: b.cfg.SESFromName}
		if ses := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), from, b.logger); ses != nil {
			sender = ses
		}
	case "stub":
		sender = notify.NewLogSender(b.logger)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown NOTIFY_PROVIDER %q", b.cfg.NotifyProvider)
	}
	if sender == nil {
		b.logger.Warn("claims desk notifications disabled; sender not configured", "provider", b.cfg.NotifyProvider)
		return nil, nil
	}
	return notify.NewService(sender, b.cfg.ClaimsDeskEmail, b.logger), nil
}

func (b *builder) archive(ctx context.Context) (*archive.Store, error) {
	if b.cfg.TranscriptArchiveBucket == "" {
		return nil, nil
	}
	awsCfg, err := b.aws(ctx)
	if err != nil {
		return nil, err
	}
	return archive.NewStore(s3.NewFromConfig(awsCfg), b.cfg.TranscriptArchiveBucket, b.logger,
		archive.WithScrubbing(b.cfg.ArchiveScrubPII)), nil
}

func (b *builder) aws(ctx context.Context) (aws.Config, error) {
	if b.awsCfg != nil {
		return *b.awsCfg, nil
	}
	if b.loadAWS == nil {
		return aws.Config{}, errors.New("bootstrap: AWS configuration is required but no loader was provided")
	}
	awsCfg, err := b.loadAWS(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("bootstrap: load aws config: %w", err)
	}
	b.awsCfg = &awsCfg
	return awsCfg, nil
}

func (b *builder) redis(ctx context.Context) *redis.Client {
	if b.redisTried {
		return b.redisClient
	}
	b.redisTried = true
	b.redisClient = BuildRedisClient(ctx, b.cfg, b.logger, true)
	if client := b.redisClient; client != nil {
		b.onClose(func() { _ = client.Close() })
		b.checks = append(b.checks, func(ctx context.Context) error { return client.Ping(ctx).Err() })
	}
	return b.redisClient
}

func (b *builder) sqlDB(ctx context.Context) (*sql.DB, error) {
	if b.db != nil {
		return b.db, nil
	}
	db, err := OpenSQL(ctx, b.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	b.db = db
	b.onClose(func() { _ = db.Close() })
	b.checks = append(b.checks, db.PingContext)
	return db, nil
}

func (b *builder) pgxPool(ctx context.Context) (*pgxpool.Pool, error) {
	if b.pool != nil {
		return b.pool, nil
	}
	pool, err := OpenPool(ctx, b.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	b.pool = pool
	b.onClose(pool.Close)
	b.checks = append(b.checks, pool.Ping)
	return pool, nil
}

func (b *builder) onClose(fn func()) {
	b.closers = append(b.closers, fn)
}

func (b *builder) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}
