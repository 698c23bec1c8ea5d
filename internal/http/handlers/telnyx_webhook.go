package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/wolfman30/dental-booking-platform/internal/debounce"
	"github.com/wolfman30/dental-booking-platform/internal/inbound"
	"github.com/wolfman30/dental-booking-platform/internal/messaging"
	observemetrics "github.com/wolfman30/dental-booking-platform/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

const (
	ModeInline = "inline"
	ModeAsync  = "async"
	ModeQueue  = "queue"

	providerTelnyx      = "telnyx"
	maxWebhookBodyBytes = 1 << 20
	defaultAsyncTimeout = 2 * time.Minute
)

type signatureVerifier interface {
	VerifyWebhookSignature(timestamp, signature string, payload []byte) error
}

// stagedSubmitter splits Submit so async mode can buffer the fragment before
// answering; *debounce.Coordinator implements it.
type stagedSubmitter interface {
	Buffer(ctx context.Context, sender, text string) (string, error)
	Coordinate(ctx context.Context, sender string) error
}

type messagePublisher interface {
	Publish(ctx context.Context, msg inbound.Message) error
}

// TelnyxWebhookConfig wires the inbound messaging webhook.
type TelnyxWebhookConfig struct {
	// Verifier checks Telnyx-Signature; nil disables verification (local runs).
	Verifier  signatureVerifier
	Processed inbound.ProcessedStore
	Submitter inbound.Submitter
	Publisher messagePublisher
	Mode      string
	// AsyncTimeout bounds a detached Submit in async mode.
	AsyncTimeout time.Duration
	Metrics      *observemetrics.MessagingMetrics
	Logger       *logging.Logger
	Now          func() time.Time
}

// TelnyxWebhookHandler accepts inbound SMS webhooks and hands each text
// fragment to the debounce coordinator, directly or via the queue.
type TelnyxWebhookHandler struct {
	verifier     signatureVerifier
	processed    inbound.ProcessedStore
	submitter    inbound.Submitter
	publisher    messagePublisher
	mode         string
	asyncTimeout time.Duration
	metrics      *observemetrics.MessagingMetrics
	logger       *logging.Logger
	now          func() time.Time
	inflight     sync.WaitGroup
}

func NewTelnyxWebhookHandler(cfg TelnyxWebhookConfig) *TelnyxWebhookHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Processed == nil {
		cfg.Processed = inbound.NewMemoryProcessedStore()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AsyncTimeout <= 0 {
		cfg.AsyncTimeout = defaultAsyncTimeout
	}
	switch cfg.Mode {
	case ModeInline, ModeAsync:
		if cfg.Submitter == nil {
			panic("handlers: submitter required for " + cfg.Mode + " mode")
		}
	case ModeQueue:
		if cfg.Publisher == nil {
			panic("handlers: publisher required for queue mode")
		}
	default:
		panic("handlers: unknown inbound mode " + cfg.Mode)
	}
	return &TelnyxWebhookHandler{
		verifier:     cfg.Verifier,
		processed:    cfg.Processed,
		submitter:    cfg.Submitter,
		publisher:    cfg.Publisher,
		mode:         cfg.Mode,
		asyncTimeout: cfg.AsyncTimeout,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
}

// HandleMessages is the net/http entrypoint for POST /webhooks/telnyx/messages.
func (h *TelnyxWebhookHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	status := h.Handle(r.Context(), r.Header.Get("Telnyx-Timestamp"), r.Header.Get("Telnyx-Signature"), body)
	w.WriteHeader(status)
}

// Handle runs one webhook delivery and returns the HTTP status to answer with.
// It is shared by the HTTP server and the Lambda entrypoint.
func (h *TelnyxWebhookHandler) Handle(ctx context.Context, timestamp, signature string, body []byte) int {
	start := h.now()
	defer func() {
		h.metrics.ObserveWebhookLatency(h.mode, h.now().Sub(start).Seconds())
	}()

	if h.verifier != nil {
		if err := h.verifier.VerifyWebhookSignature(timestamp, signature, body); err != nil {
			h.logger.Warn("telnyx webhook signature rejected", "error", err)
			h.metrics.ObserveInbound("unknown", "unauthorized")
			return http.StatusUnauthorized
		}
	}

	msg, err := messaging.ParseTelnyxInbound(body)
	if err != nil {
		h.logger.Warn("telnyx webhook unparseable", "error", err)
		h.metrics.ObserveInbound("unknown", "invalid")
		return http.StatusBadRequest
	}
	if !msg.IsInboundText() {
		h.logger.Debug("telnyx event ignored", "event_type", msg.EventType, "event_id", msg.EventID)
		h.metrics.ObserveInbound(msg.EventType, "ignored")
		return http.StatusOK
	}

	job := inbound.Message{
		EventID:    msg.EventID,
		Sender:     msg.Sender(),
		Text:       msg.Text,
		ReceivedAt: start.UTC(),
	}
	logger := h.logger.WithSender(job.Sender).With("event_id", job.EventID, "mode", h.mode)

	// Queue mode claims the event only after the publish succeeded so that a
	// failed publish can be retried by Telnyx.
	if h.mode == ModeQueue {
		if err := h.publisher.Publish(ctx, job); err != nil {
			logger.Error("failed to enqueue inbound message", "error", err)
			h.metrics.ObserveInbound(msg.EventType, "error")
			return http.StatusInternalServerError
		}
		if _, err := h.claim(ctx, job.EventID); err != nil {
			logger.Warn("failed to record processed event", "error", err)
		}
		h.metrics.ObserveInbound(msg.EventType, "queued")
		return http.StatusOK
	}

	fresh, err := h.claim(ctx, job.EventID)
	if err != nil {
		logger.Error("failed to record processed event", "error", err)
		h.metrics.ObserveInbound(msg.EventType, "error")
		return http.StatusInternalServerError
	}
	if !fresh {
		logger.Info("duplicate telnyx event skipped")
		h.metrics.ObserveInbound(msg.EventType, "duplicate")
		return http.StatusOK
	}

	if h.mode == ModeAsync {
		return h.handleAsync(ctx, logger, msg.EventType, job)
	}

	if err := h.submit(ctx, logger, job); err != nil {
		h.unclaim(ctx, logger, job.EventID)
		h.metrics.ObserveInbound(msg.EventType, "error")
		return http.StatusInternalServerError
	}
	h.metrics.ObserveInbound(msg.EventType, "processed")
	return http.StatusOK
}

// handleAsync buffers the fragment before answering when the submitter
// supports it, so only the quiet window and drain run after the response.
func (h *TelnyxWebhookHandler) handleAsync(ctx context.Context, logger *logging.Logger, eventType string, job inbound.Message) int {
	staged, ok := h.submitter.(stagedSubmitter)
	if !ok {
		h.inflight.Add(1)
		go func() {
			defer h.inflight.Done()
			subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.asyncTimeout)
			defer cancel()
			if err := h.submit(subCtx, logger, job); err != nil {
				h.unclaim(subCtx, logger, job.EventID)
			}
		}()
		h.metrics.ObserveInbound(eventType, "accepted")
		return http.StatusOK
	}

	sender, err := staged.Buffer(ctx, job.Sender, job.Text)
	switch {
	case errors.Is(err, debounce.ErrInvalidSubmission):
		logger.Debug("empty inbound fragment dropped")
		h.metrics.ObserveInbound(eventType, "ignored")
		return http.StatusOK
	case err != nil:
		logger.Error("failed to buffer inbound fragment", "error", err)
		h.unclaim(ctx, logger, job.EventID)
		h.metrics.ObserveInbound(eventType, "error")
		return http.StatusInternalServerError
	}

	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.asyncTimeout)
		defer cancel()
		if err := staged.Coordinate(subCtx, sender); err != nil {
			logger.Error("inbound submission failed", "error", err)
		}
	}()
	h.metrics.ObserveInbound(eventType, "accepted")
	return http.StatusOK
}

// Wait blocks until every async submission has returned.
func (h *TelnyxWebhookHandler) Wait() {
	h.inflight.Wait()
}

func (h *TelnyxWebhookHandler) claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	return h.processed.MarkProcessed(ctx, providerTelnyx, eventID)
}

// submit logs Submit failures. It returns an error only when the fragment
// never reached the buffer; a failed burst after that is not redelivered.
func (h *TelnyxWebhookHandler) submit(ctx context.Context, logger *logging.Logger, job inbound.Message) error {
	err := h.submitter.Submit(ctx, job.Sender, job.Text)
	switch {
	case err == nil:
	case errors.Is(err, debounce.ErrInvalidSubmission):
		logger.Debug("empty inbound fragment dropped")
	case errors.Is(err, debounce.ErrBuffer):
		logger.Error("failed to buffer inbound fragment", "error", err)
		return err
	default:
		logger.Error("inbound submission failed", "error", err)
	}
	return nil
}

// unclaim releases the event id so the provider's retry is accepted.
func (h *TelnyxWebhookHandler) unclaim(ctx context.Context, logger *logging.Logger, eventID string) {
	if eventID == "" {
		return
	}
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.processed.Release(relCtx, providerTelnyx, eventID); err != nil {
		logger.Error("failed to release processed event", "error", err)
	}
}
