package debounce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-booking-platform/internal/messaging"
	"github.com/wolfman30/dental-booking-platform/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

const (
	// DefaultQuietWindow is how long the lock holder waits for more fragments.
	DefaultQuietWindow = 5 * time.Second
	// DefaultLockTTL is the age after which a lock is assumed abandoned.
	DefaultLockTTL = 30 * time.Second

	releaseTimeout = 5 * time.Second
)

// ErrInvalidSubmission is returned for an empty sender or blank text.
var ErrInvalidSubmission = errors.New("debounce: sender and text are required")

// ErrBuffer wraps a failure to store a fragment. Nothing was buffered, so the
// caller must keep the fragment for redelivery.
var ErrBuffer = errors.New("debounce: buffer fragment")

var debounceTracer = otel.Tracer("dental.internal.debounce")

// Coordinator buffers fragments and runs the conversation processor once per burst.
type Coordinator struct {
	buffer      BufferStore
	locks       LockStore
	processor   Processor
	quietWindow time.Duration
	lockTTL     time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	metrics     *metrics.DebounceMetrics
	logger      *logging.Logger
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithQuietWindow overrides the default 5s quiet window.
func WithQuietWindow(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.quietWindow = d
		}
	}
}

// WithLockTTL overrides the default 30s stale-lock age.
func WithLockTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.lockTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSleeper replaces the quiet-window wait, mainly for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

func WithMetrics(m *metrics.DebounceMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithLogger(logger *logging.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator wires a coordinator. All three collaborators are required.
func NewCoordinator(buffer BufferStore, locks LockStore, processor Processor, opts ...Option) *Coordinator {
	if buffer == nil || locks == nil {
		panic("debounce: buffer and lock stores required")
	}
	if processor == nil {
		panic("debounce: processor required")
	}
	c := &Coordinator{
		buffer:      buffer,
		locks:       locks,
		processor:   processor,
		quietWindow: DefaultQuietWindow,
		lockTTL:     DefaultLockTTL,
		now:         time.Now,
		sleep:       sleepContext,
		logger:      logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LockTTL returns the configured stale-lock age.
func (c *Coordinator) LockTTL() time.Duration {
	return c.lockTTL
}

// Submit buffers one inbound fragment. If this call wins the sender's lock it
// waits out the quiet window and then drains the buffer, invoking the
// processor once per pass, until no fragments remain. Losing the lock is not
// an error: the fragment is left for the current holder.
//
// An error wrapping ErrBuffer means the fragment was not stored and the caller
// still owns it.
func (c *Coordinator) Submit(ctx context.Context, sender, text string) error {
	normalized, err := c.Buffer(ctx, sender, text)
	if err != nil {
		return err
	}
	return c.Coordinate(ctx, normalized)
}

// Buffer stores one fragment without touching the lock and returns the
// normalized sender to pass to Coordinate.
func (c *Coordinator) Buffer(ctx context.Context, sender, text string) (string, error) {
	sender = messaging.NormalizeSender(sender)
	if sender == "" || strings.TrimSpace(text) == "" {
		return "", ErrInvalidSubmission
	}

	ctx, span := debounceTracer.Start(ctx, "debounce.buffer")
	defer span.End()
	span.SetAttributes(attribute.String("dental.sender", sender))

	if _, err := c.buffer.Append(ctx, sender, text); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("%w: %w", ErrBuffer, err)
	}
	c.metrics.ObserveFragment()
	return sender, nil
}

// Coordinate reaps stale locks and, if it wins the sender's lock, runs the
// quiet window and drain. Fragments must already be buffered.
func (c *Coordinator) Coordinate(ctx context.Context, sender string) (err error) {
	sender = messaging.NormalizeSender(sender)
	if sender == "" {
		return ErrInvalidSubmission
	}

	ctx, span := debounceTracer.Start(ctx, "debounce.coordinate")
	defer span.End()
	span.SetAttributes(attribute.String("dental.sender", sender))
	log := c.logger.WithSender(sender)

	c.reapStale(ctx, log)

	acquired, err := c.locks.TryAcquire(ctx, sender, c.now())
	if err != nil {
		c.metrics.ObserveLock("error")
		span.RecordError(err)
		return fmt.Errorf("debounce: acquire lock: %w", err)
	}
	if !acquired {
		c.metrics.ObserveLock("held")
		log.Debug("conversation lock held elsewhere; fragment buffered")
		return nil
	}
	c.metrics.ObserveLock("acquired")
	span.SetAttributes(attribute.Bool("dental.lock_owner", true))

	defer func() {
		if relErr := c.release(ctx, sender); relErr != nil {
			log.Error("failed to release conversation lock", "error", relErr)
			if err == nil {
				err = relErr
			}
		}
	}()

	if c.quietWindow > 0 {
		if err := c.sleep(ctx, c.quietWindow); err != nil {
			return fmt.Errorf("debounce: quiet window: %w", err)
		}
	}

	if err := c.drain(ctx, sender, log); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (c *Coordinator) drain(ctx context.Context, sender string, log *logging.Logger) error {
	ctx, span := debounceTracer.Start(ctx, "debounce.drain")
	defer span.End()

	passes := 0
	for {
		batch, err := c.buffer.Fetch(ctx, sender)
		if err != nil {
			return fmt.Errorf("debounce: fetch fragments: %w", err)
		}
		if len(batch) == 0 {
			span.SetAttributes(attribute.Int("dental.passes", passes))
			return nil
		}
		passes++

		ids := make([]int64, len(batch))
		parts := make([]string, len(batch))
		for i, m := range batch {
			ids[i] = m.ID
			parts[i] = m.Text
		}
		if err := c.buffer.Delete(ctx, ids); err != nil {
			return fmt.Errorf("debounce: delete fragments: %w", err)
		}

		joined := strings.Join(parts, "\n")
		log.Info("processing burst", "fragments", len(batch), "chars", len(joined), "pass", passes)
		if err := c.processor.Process(ctx, sender, joined); err != nil {
			c.metrics.ObserveBurst("failed", len(batch))
			log.Error("conversation processor failed; burst dropped", "fragments", len(batch), "error", err)
			return fmt.Errorf("debounce: process burst: %w", err)
		}
		c.metrics.ObserveBurst("ok", len(batch))
	}
}

// reapStale clears abandoned locks for every sender. Failures are logged and
// do not block the submission.
func (c *Coordinator) reapStale(ctx context.Context, log *logging.Logger) {
	reaped, err := c.locks.ReapStale(ctx, c.now().Add(-c.lockTTL))
	if err != nil {
		log.Warn("stale lock sweep failed", "error", err)
		return
	}
	if reaped > 0 {
		c.metrics.ObserveReaped(reaped)
		log.Warn("reaped stale conversation locks", "count", reaped)
	}
}

// release runs on a context detached from the caller so a cancelled request
// still frees the lock.
func (c *Coordinator) release(ctx context.Context, sender string) error {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	return c.locks.Release(relCtx, sender)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
