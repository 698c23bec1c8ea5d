package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/wolfman30/dental-booking-platform/cmd/mainconfig"
	"github.com/wolfman30/dental-booking-platform/internal/api/router"
	"github.com/wolfman30/dental-booking-platform/internal/app/bootstrap"
	"github.com/wolfman30/dental-booking-platform/internal/http/handlers"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, awsCfg, err := mainconfig.Load(ctx)
	if err != nil {
		logging.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting dental booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"inbound_mode", cfg.InboundMode,
	)

	core, err := bootstrap.BuildCore(ctx, cfg, awsCfg, bootstrap.NewMetrics(), logger)
	if err != nil {
		logger.Error("failed to build booking pipeline", "error", err)
		os.Exit(1)
	}
	if err := run(ctx, core, awsCfg); err != nil {
		logger.Error("server error", "error", err)
		core.Close()
		os.Exit(1)
	}
	core.Close()
	logger.Info("server stopped")
}

func run(ctx context.Context, core *bootstrap.Core, awsCfg aws.Config) error {
	cfg, logger := core.Config, core.Logger

	webhook, err := core.WebhookHandler(cfg.InboundMode, awsCfg)
	if err != nil {
		return err
	}

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go core.NewReaper().Run(reaperCtx)

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.New(&router.Config{
			Logger:           logger,
			TelnyxWebhooks:   webhook,
			AdminScheduling:  handlers.NewAdminSchedulingHandler(
				core.Engine, core.BlockedDates, cfg.DefaultAppointmentMinutes, logger,
				handlers.WithAppointmentCanceller(core.Appointments),
			),
			AdminAuthSecret:  cfg.AdminJWTSecret,
			MetricsHandler:   core.Metrics.Handler,
			WebhookRateLimit: cfg.WebhookRateLimit,
			WebhookRateBurst: cfg.WebhookRateBurst,
			HealthChecks:     healthChecks(core.HealthChecks()),
		}),
		ReadTimeout: 15 * time.Second,
		// Inline mode holds the request through the quiet window and the LLM call.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	waitWithTimeout(shutdownCtx, webhook.Wait, logger)
	return nil
}

// waitWithTimeout lets in-flight async submissions finish until ctx expires.
func waitWithTimeout(ctx context.Context, wait func(), logger *logging.Logger) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("shutdown timed out waiting for in-flight submissions", "error", ctx.Err())
	}
}

func healthChecks(in map[string]func(context.Context) error) map[string]router.HealthCheck {
	out := make(map[string]router.HealthCheck, len(in))
	for name, check := range in {
		out[name] = router.HealthCheck(check)
	}
	return out
}
