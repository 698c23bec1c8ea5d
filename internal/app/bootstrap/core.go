package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/wolfman30/dental-booking-platform/internal/appointments"
	"github.com/wolfman30/dental-booking-platform/internal/calendar"
	appconfig "github.com/wolfman30/dental-booking-platform/internal/config"
	"github.com/wolfman30/dental-booking-platform/internal/conversation"
	"github.com/wolfman30/dental-booking-platform/internal/debounce"
	"github.com/wolfman30/dental-booking-platform/internal/http/handlers"
	"github.com/wolfman30/dental-booking-platform/internal/inbound"
	"github.com/wolfman30/dental-booking-platform/internal/messaging/telnyxclient"
	"github.com/wolfman30/dental-booking-platform/internal/notify"
	"github.com/wolfman30/dental-booking-platform/internal/scheduling"
	"github.com/wolfman30/dental-booking-platform/internal/sessions"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

// Core is the booking pipeline shared by the API server, the Lambda and the
// queue worker: stores, availability engine, processor and coordinator.
type Core struct {
	Config       *appconfig.Config
	Logger       *logging.Logger
	Metrics      *Metrics
	Pool         *pgxpool.Pool
	Redis        *redis.Client
	Telnyx       *telnyxclient.Client
	Engine       *scheduling.Engine
	Appointments *appointments.Repository
	BlockedDates *appointments.BlockedDates
	Debounce     *debounce.PostgresStore
	Processed    inbound.ProcessedStore
	Coordinator  *debounce.Coordinator
}

// BuildCore connects to Postgres (and Redis when configured) and wires the
// whole pipeline. Close releases the connections.
func BuildCore(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, m *Metrics, logger *logging.Logger) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if m == nil {
		m = NewMetrics()
	}

	policy, err := scheduling.LoadPolicy(cfg.SchedulePolicyFile)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	llm, err := BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	telnyx, err := BuildTelnyxClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	cal, err := buildCalendar(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	pool, err := ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	core := &Core{
		Config:       cfg,
		Logger:       logger,
		Metrics:      m,
		Pool:         pool,
		Redis:        BuildRedisClient(ctx, cfg, logger, true),
		Telnyx:       telnyx,
		Appointments: appointments.NewRepository(pool),
		BlockedDates: appointments.NewBlockedDates(pool),
		Debounce:     debounce.NewPostgresStore(pool),
		Processed:    inbound.NewPostgresProcessedStore(pool),
	}

	engineOpts := []scheduling.EngineOption{
		scheduling.WithAppointments(core.Appointments),
		scheduling.WithBlockedDates(core.BlockedDates),
		scheduling.WithEngineLogger(logger),
		scheduling.WithAvailabilityMetrics(m.Availability),
	}
	if cal != nil {
		engineOpts = append(engineOpts, scheduling.WithBusySource(cal))
	}
	core.Engine = scheduling.NewEngine(policy, engineOpts...)

	var sessionStore sessions.Store = sessions.NewPostgresStore(pool)
	if core.Redis != nil {
		sessionStore = sessions.NewCachedStore(sessionStore, core.Redis, cfg.SessionCacheTTL, logger)
	}

	sender, senderKind := BuildOutboundSender(cfg, telnyx, m.Messaging, logger)
	notifier := notify.NewBookingNotifier(buildEmailSender(cfg, awsCfg, logger), cfg.NotifyEmailTo, cfg.ClinicName, core.Engine.Location(), logger)

	processorOpts := []conversation.ProcessorOption{
		conversation.WithAppointments(core.Appointments),
		conversation.WithNotifier(notifier),
		conversation.WithClinicName(cfg.ClinicName),
		conversation.WithDefaultDuration(cfg.DefaultAppointmentMinutes),
		conversation.WithMetrics(m.Conversation),
		conversation.WithLogger(logger),
	}
	if cal != nil {
		processorOpts = append(processorOpts, conversation.WithCalendar(cal))
	}
	processor := conversation.NewProcessor(sessionStore, core.Engine, llm, sender, processorOpts...)

	core.Coordinator = debounce.NewCoordinator(core.Debounce, core.Debounce, processor,
		debounce.WithQuietWindow(cfg.DebounceQuietWindow),
		debounce.WithLockTTL(cfg.DebounceLockTTL),
		debounce.WithMetrics(m.Debounce),
		debounce.WithLogger(logger),
	)

	logger.Info("booking pipeline ready",
		"sender", senderKind,
		"calendar", cal != nil,
		"session_cache", core.Redis != nil,
		"quiet_window", cfg.DebounceQuietWindow.String(),
	)
	return core, nil
}

// Close releases pooled connections.
func (c *Core) Close() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// NewReaper builds the background stale-lock sweeper.
func (c *Core) NewReaper() *debounce.Reaper {
	return debounce.NewReaper(c.Debounce, c.Coordinator.LockTTL(), c.Config.LockReaperInterval, c.Metrics.Debounce, c.Logger)
}

// HealthChecks probes Postgres and, when enabled, Redis.
func (c *Core) HealthChecks() map[string]func(ctx context.Context) error {
	checks := map[string]func(ctx context.Context) error{
		"postgres": c.Pool.Ping,
	}
	if c.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() }
	}
	return checks
}

// WebhookHandler builds the Telnyx webhook handler for mode. Queue mode
// publishes to SQS at INBOUND_QUEUE_URL.
func (c *Core) WebhookHandler(mode string, awsCfg aws.Config) (*handlers.TelnyxWebhookHandler, error) {
	whCfg := handlers.TelnyxWebhookConfig{
		Processed: c.Processed,
		Submitter: c.Coordinator,
		Mode:      mode,
		Metrics:   c.Metrics.Messaging,
		Logger:    c.Logger,
	}
	if c.Telnyx != nil && strings.TrimSpace(c.Config.TelnyxWebhookSecret) != "" {
		whCfg.Verifier = c.Telnyx
	} else {
		c.Logger.Warn("telnyx webhook signature verification disabled")
	}
	switch mode {
	case handlers.ModeInline, handlers.ModeAsync:
	case handlers.ModeQueue:
		queue, err := BuildInboundQueue(c.Config, awsCfg)
		if err != nil {
			return nil, err
		}
		whCfg.Publisher = inbound.NewPublisher(queue)
	default:
		return nil, fmt.Errorf("bootstrap: unknown INBOUND_MODE %q", mode)
	}
	return handlers.NewTelnyxWebhookHandler(whCfg), nil
}

// BuildInboundQueue returns the SQS queue at INBOUND_QUEUE_URL.
func BuildInboundQueue(cfg *appconfig.Config, awsCfg aws.Config) (*inbound.SQSQueue, error) {
	if cfg == nil || strings.TrimSpace(cfg.InboundQueueURL) == "" {
		return nil, fmt.Errorf("bootstrap: INBOUND_QUEUE_URL is required")
	}
	return inbound.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.InboundQueueURL), nil
}

func buildCalendar(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*calendar.GoogleCalendar, error) {
	if strings.TrimSpace(cfg.GoogleCalendarID) == "" {
		logger.Warn("google calendar not configured; availability uses local appointments only")
		return nil, nil
	}
	var opts []option.ClientOption
	if creds := strings.TrimSpace(cfg.GoogleCredentialsJSON); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	cal, err := calendar.New(ctx, cfg.GoogleCalendarID, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return cal, nil
}

// buildEmailSender prefers SendGrid, then SES, then a stub that only logs.
func buildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.ClinicName,
	}, logger); sg != nil {
		return sg
	}
	if strings.TrimSpace(cfg.SESFromEmail) != "" {
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.ClinicName,
		}, logger)
	}
	return notify.NewStubEmailSender(logger)
}
