package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/dental-booking-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/dental-booking-platform/internal/http/middleware"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes one dependency (database, redis).
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	TelnyxWebhooks  *handlers.TelnyxWebhookHandler
	AdminScheduling *handlers.AdminSchedulingHandler
	AdminAuthSecret string
	MetricsHandler  http.Handler

	// Per-client webhook rate limit; zero disables limiting.
	WebhookRateLimit float64
	WebhookRateBurst int

	HealthChecks map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.TelnyxWebhooks != nil {
			webhook := public.With()
			if cfg.WebhookRateLimit > 0 {
				webhook = public.With(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookRateBurst))
			}
			webhook.Post("/webhooks/telnyx/messages", cfg.TelnyxWebhooks.HandleMessages)
		}
	})

	if cfg.AdminScheduling != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/availability", cfg.AdminScheduling.GetAvailability)
			admin.Get("/resolve-date", cfg.AdminScheduling.ResolveDate)
			admin.Route("/blocked-dates", func(blocked chi.Router) {
				blocked.Get("/", cfg.AdminScheduling.ListBlockedDates)
				blocked.Put("/{date}", cfg.AdminScheduling.BlockDate)
				blocked.Delete("/{date}", cfg.AdminScheduling.UnblockDate)
			})
			admin.Route("/appointments", func(appts chi.Router) {
				appts.Post("/{id}/cancel", cfg.AdminScheduling.CancelAppointment)
			})
		})
	}

	return r
}

// healthHandler answers 200 {"status":"ok"} when every check passes and 503
// with the failing dependencies otherwise.
func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := map[string]string{"status": "ok"}
		status := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				resp[name] = err.Error()
				resp["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
