package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfman30/dental-booking-platform/cmd/mainconfig"
	"github.com/wolfman30/dental-booking-platform/internal/app/bootstrap"
	"github.com/wolfman30/dental-booking-platform/internal/inbound"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

// Consumes INBOUND_QUEUE_URL. Every queue message is an independent Submit;
// the conversation lock in Postgres serializes bursts across workers.
func main() {
	cfg, awsCfg, err := mainconfig.Load(context.Background())
	if err != nil {
		logging.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	core, err := bootstrap.BuildCore(context.Background(), cfg, awsCfg, nil, logger)
	if err != nil {
		logger.Error("failed to build booking pipeline", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	queue, err := bootstrap.BuildInboundQueue(cfg, awsCfg)
	if err != nil {
		logger.Error("failed to build inbound queue", "error", err)
		return
	}

	worker := inbound.NewWorker(
		queue,
		core.Coordinator,
		inbound.WithWorkerCount(cfg.WorkerCount),
		inbound.WithWorkerLogger(logger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Start(ctx)
	go core.NewReaper().Run(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
}
