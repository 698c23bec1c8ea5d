package inbound

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/dental-booking-platform/internal/debounce"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

// Submitter accepts one inbound fragment; *debounce.Coordinator implements it.
type Submitter interface {
	Submit(ctx context.Context, sender, text string) error
}

const (
	defaultWorkerCount  = 2
	defaultWaitSeconds  = 10
	defaultBatchSize    = 10
	defaultMaxInFlight  = 32
	maxWaitSeconds      = 20
	maxReceiveBatchSize = 10
	deleteTimeout       = 5 * time.Second
)

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	maxInFlight      int
	logger           *logging.Logger
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of polling goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait, capped at the SQS maximum.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		cfg.receiveWaitSecs = min(seconds, maxWaitSeconds)
	}
}

func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size > 0 {
			cfg.receiveBatchSize = min(size, maxReceiveBatchSize)
		}
	}
}

// WithMaxInFlight caps concurrent Submit calls across all pollers.
func WithMaxInFlight(n int) WorkerOption {
	return func(cfg *workerConfig) {
		if n > 0 {
			cfg.maxInFlight = n
		}
	}
}

func WithWorkerLogger(logger *logging.Logger) WorkerOption {
	return func(cfg *workerConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// Worker polls a Queue and submits every message as its own invocation, so
// fragments from one sender reach the coordinator while an earlier burst is
// still waiting out its quiet window.
type Worker struct {
	queue     Queue
	submitter Submitter
	cfg       workerConfig
	logger    *logging.Logger

	pollers  sync.WaitGroup
	inflight *errgroup.Group
}

func NewWorker(queue Queue, submitter Submitter, opts ...WorkerOption) *Worker {
	if queue == nil || submitter == nil {
		panic("inbound: queue and submitter are required")
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		maxInFlight:      defaultMaxInFlight,
		logger:           logging.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	g := new(errgroup.Group)
	g.SetLimit(cfg.maxInFlight)
	return &Worker{queue: queue, submitter: submitter, cfg: cfg, logger: cfg.logger, inflight: g}
}

// Start launches the pollers. They stop when ctx is done.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.pollers.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until the pollers exit and in-flight submissions finish.
func (w *Worker) Wait() {
	w.pollers.Wait()
	_ = w.inflight.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.pollers.Done()
	w.logger.Debug("inbound worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			w.logger.Debug("inbound worker stopping", "worker_id", workerID)
			return
		}
		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.logger.Error("failed to receive inbound messages", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 5*time.Second)
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.inflight.Go(func() error {
				w.handle(ctx, msg)
				return nil
			})
		}
	}
}

// handle submits one message and deletes it afterwards. A processor failure
// is not retried. Only a fragment that never reached the buffer is left on
// the queue for redelivery after the visibility timeout.
func (w *Worker) handle(ctx context.Context, qm QueueMessage) {
	msg, err := DecodeMessage(qm.Body)
	if err != nil {
		w.logger.Error("dropping undecodable inbound message", "error", err, "queue_message_id", qm.ID)
		w.delete(ctx, qm.ReceiptHandle)
		return
	}
	err = w.submitter.Submit(ctx, msg.Sender, msg.Text)
	if errors.Is(err, debounce.ErrBuffer) {
		w.logger.Error("inbound fragment not buffered; leaving message for redelivery",
			"error", err, "event_id", msg.EventID, "queue_message_id", qm.ID)
		return
	}
	if err != nil {
		w.logger.Error("inbound submission failed", "error", err, "event_id", msg.EventID)
	}
	w.delete(ctx, qm.ReceiptHandle)
}

func (w *Worker) delete(ctx context.Context, receiptHandle string) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
	defer cancel()
	if err := w.queue.Delete(delCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete inbound message", "error", err)
	}
}
