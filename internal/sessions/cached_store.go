package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

const defaultCacheTTL = 10 * time.Minute

// CachedStore is a Redis read-through cache in front of another Store.
// Redis failures are logged and fall through to the backing store.
type CachedStore struct {
	next   Store
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
	tracer trace.Tracer
}

func NewCachedStore(next Store, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedStore {
	if next == nil {
		panic("sessions: backing store required")
	}
	if client == nil {
		panic("sessions: redis client required")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedStore{
		next:   next,
		redis:  client,
		ttl:    ttl,
		logger: logger,
		tracer: otel.Tracer("dental.internal.sessions"),
	}
}

func cacheKey(sender string) string {
	return "session:" + sender
}

func (c *CachedStore) Get(ctx context.Context, sender string) (*Session, error) {
	ctx, span := c.tracer.Start(ctx, "sessions.cached_get")
	defer span.End()

	raw, err := c.redis.Get(ctx, cacheKey(sender)).Bytes()
	switch {
	case err == nil:
		var sess Session
		if jsonErr := json.Unmarshal(raw, &sess); jsonErr == nil {
			span.SetAttributes(attribute.Bool("sessions.cache_hit", true))
			return &sess, nil
		}
		c.logger.Warn("discarding unreadable cached session", "sender", sender)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("session cache read failed", "sender", sender, "error", err)
	}

	span.SetAttributes(attribute.Bool("sessions.cache_hit", false))
	sess, err := c.next.Get(ctx, sender)
	if err != nil {
		span.RecordError(err)
	}
	if err != nil || sess == nil {
		return sess, err
	}
	if payload, err := json.Marshal(sess); err == nil {
		if err := c.redis.Set(ctx, cacheKey(sender), payload, c.ttl).Err(); err != nil {
			c.logger.Warn("session cache write failed", "sender", sender, "error", err)
		}
	}
	return sess, nil
}

// Upsert writes through and then drops the cached copy; the merge happens in
// the backing store so the next Get reloads the merged row.
func (c *CachedStore) Upsert(ctx context.Context, sender string, update Update) error {
	ctx, span := c.tracer.Start(ctx, "sessions.cached_upsert")
	defer span.End()

	if err := c.next.Upsert(ctx, sender, update); err != nil {
		return err
	}
	if err := c.redis.Del(ctx, cacheKey(sender)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("session cache invalidation failed", "sender", sender, "error", err)
	}
	return nil
}
