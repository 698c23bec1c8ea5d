package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/dental-booking-platform/internal/appointments"
	"github.com/wolfman30/dental-booking-platform/internal/scheduling"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

const (
	maxAppointmentMinutes = 8 * 60
	maxBlockedRangeDays   = 366
)

type slotLister interface {
	AvailableSlots(ctx context.Context, date scheduling.Date, durationMinutes int, now time.Time) ([]string, error)
	Location() *time.Location
}

type blockedDateStore interface {
	List(ctx context.Context, from, to scheduling.Date) ([]appointments.BlockedDate, error)
	Add(ctx context.Context, date scheduling.Date, reason string) error
	Remove(ctx context.Context, date scheduling.Date) (bool, error)
}

type appointmentCanceller interface {
	Cancel(ctx context.Context, id int64) error
}

// AdminSchedulingHandler serves staff-facing availability, blocked-date and
// appointment endpoints.
type AdminSchedulingHandler struct {
	slots           slotLister
	blocked         blockedDateStore
	canceller       appointmentCanceller
	defaultDuration int
	now             func() time.Time
	logger          *logging.Logger
}

// AdminOption customizes an AdminSchedulingHandler.
type AdminOption func(*AdminSchedulingHandler)

// WithAppointmentCanceller enables POST /admin/appointments/{id}/cancel.
func WithAppointmentCanceller(c appointmentCanceller) AdminOption {
	return func(h *AdminSchedulingHandler) { h.canceller = c }
}

func NewAdminSchedulingHandler(slots slotLister, blocked blockedDateStore, defaultDuration int, logger *logging.Logger, opts ...AdminOption) *AdminSchedulingHandler {
	if slots == nil || blocked == nil {
		panic("handlers: slot lister and blocked date store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if defaultDuration <= 0 {
		defaultDuration = 30
	}
	h := &AdminSchedulingHandler{
		slots:           slots,
		blocked:         blocked,
		defaultDuration: defaultDuration,
		now:             time.Now,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AvailabilityResponse lists bookable starts for one date.
type AvailabilityResponse struct {
	Date            scheduling.Date `json:"date"`
	DurationMinutes int             `json:"duration_minutes"`
	Slots           []string        `json:"slots"`
	// Degraded is set when a busy source failed and no slots could be trusted.
	Degraded bool `json:"degraded,omitempty"`
}

// GetAvailability handles GET /admin/availability?date=YYYY-MM-DD&duration=30.
func (h *AdminSchedulingHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	date, err := scheduling.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		jsonError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	duration := h.defaultDuration
	if raw := strings.TrimSpace(r.URL.Query().Get("duration")); raw != "" {
		duration, err = strconv.Atoi(raw)
		if err != nil || duration <= 0 || duration > maxAppointmentMinutes {
			jsonError(w, "duration must be a positive number of minutes", http.StatusBadRequest)
			return
		}
	}

	resp := AvailabilityResponse{Date: date, DurationMinutes: duration}
	slots, err := h.slots.AvailableSlots(r.Context(), date, duration, h.now())
	switch {
	case err == nil:
	case errors.Is(err, scheduling.ErrBusyLookup):
		h.logger.Warn("availability degraded", "date", date.String(), "error", err)
		resp.Degraded = true
	default:
		h.logger.Error("availability lookup failed", "date", date.String(), "error", err)
		jsonError(w, "failed to compute availability", http.StatusInternalServerError)
		return
	}
	resp.Slots = slots
	if resp.Slots == nil {
		resp.Slots = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResolveDate handles GET /admin/resolve-date?text=... and answers
// {"date": "YYYY-MM-DD"} or {"date": null}.
func (h *AdminSchedulingHandler) ResolveDate(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if strings.TrimSpace(text) == "" {
		jsonError(w, "text is required", http.StatusBadRequest)
		return
	}
	var resolved *scheduling.Date
	if date, ok := scheduling.ResolveDateIn(text, h.now(), h.slots.Location()); ok {
		resolved = &date
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": resolved})
}

// ListBlockedDates handles GET /admin/blocked-dates?from=...&to=...
// Without a range it lists the next 90 days.
func (h *AdminSchedulingHandler) ListBlockedDates(w http.ResponseWriter, r *http.Request) {
	today := scheduling.DateOf(h.now(), h.slots.Location())
	from, to := today, today.AddDays(90)
	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = scheduling.ParseDate(raw); err != nil {
			jsonError(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = scheduling.ParseDate(raw); err != nil {
			jsonError(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}
	if to.Before(from) || from.AddDays(maxBlockedRangeDays).Before(to) {
		jsonError(w, "invalid date range", http.StatusBadRequest)
		return
	}

	list, err := h.blocked.List(r.Context(), from, to)
	if err != nil {
		h.logger.Error("failed to list blocked dates", "error", err)
		jsonError(w, "failed to list blocked dates", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "blocked_dates": list})
}

type blockDateRequest struct {
	Reason string `json:"reason"`
}

// BlockDate handles PUT /admin/blocked-dates/{date}.
func (h *AdminSchedulingHandler) BlockDate(w http.ResponseWriter, r *http.Request) {
	date, err := scheduling.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		jsonError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	var req blockDateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if err := h.blocked.Add(r.Context(), date, reason); err != nil {
		h.logger.Error("failed to block date", "date", date.String(), "error", err)
		jsonError(w, "failed to block date", http.StatusInternalServerError)
		return
	}
	h.logger.Info("date blocked", "date", date.String(), "reason", reason)
	writeJSON(w, http.StatusOK, appointments.BlockedDate{Date: date, Reason: reason})
}

// UnblockDate handles DELETE /admin/blocked-dates/{date}.
func (h *AdminSchedulingHandler) UnblockDate(w http.ResponseWriter, r *http.Request) {
	date, err := scheduling.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		jsonError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	removed, err := h.blocked.Remove(r.Context(), date)
	if err != nil {
		h.logger.Error("failed to unblock date", "date", date.String(), "error", err)
		jsonError(w, "failed to unblock date", http.StatusInternalServerError)
		return
	}
	if !removed {
		jsonError(w, "date is not blocked", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelAppointment handles POST /admin/appointments/{id}/cancel. The freed
// interval becomes bookable again immediately.
func (h *AdminSchedulingHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	if h.canceller == nil {
		jsonError(w, "appointment store not configured", http.StatusNotImplemented)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		jsonError(w, "id must be a positive integer", http.StatusBadRequest)
		return
	}
	switch err := h.canceller.Cancel(r.Context(), id); {
	case err == nil:
	case errors.Is(err, appointments.ErrNotFound):
		jsonError(w, "appointment not found", http.StatusNotFound)
		return
	default:
		h.logger.Error("failed to cancel appointment", "appointment_id", id, "error", err)
		jsonError(w, "failed to cancel appointment", http.StatusInternalServerError)
		return
	}
	h.logger.Info("appointment cancelled", "appointment_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": appointments.StatusCancelled})
}
