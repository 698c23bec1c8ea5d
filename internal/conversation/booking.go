package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/dental-booking-platform/internal/appointments"
	"github.com/wolfman30/dental-booking-platform/internal/calendar"
	"github.com/wolfman30/dental-booking-platform/internal/scheduling"
	"github.com/wolfman30/dental-booking-platform/internal/sessions"
)

const (
	FlowBooked = "booked"

	replyMissingIdentity = "Para agendar tu cita necesito tu nombre completo y tu número de documento."
	replyMissingSlot     = "¿Qué día y a qué hora te gustaría tu cita?"
)

// book creates the appointment an action asked for and returns the reply to
// send. A slot that is no longer free produces an apology with fresh slots
// rather than an error.
func (p *Processor) book(ctx context.Context, sender string, sess *sessions.Session, update *sessions.Update, req BookRequest, contextDate scheduling.Date, now time.Time) (string, error) {
	if p.appts == nil {
		return "", errors.New("conversation: booking requested but no appointment store configured")
	}
	log := p.logger.WithSender(sender)

	name := pick(update.Name, sess, func(s *sessions.Session) string { return s.Name })
	doc := pick(update.DocumentID, sess, func(s *sessions.Session) string { return s.DocumentID })
	if name == "" || doc == "" {
		return replyMissingIdentity, nil
	}

	date := contextDate
	if req.Date != "" {
		parsed, err := scheduling.ParseDate(req.Date)
		if err != nil {
			log.Warn("llm booked an invalid date", "date", req.Date)
			return replyMissingSlot, nil
		}
		date = parsed
	}
	clock := req.Time
	if clock == "" {
		if t, _ := update.Metadata[sessions.MetaPendingTime].(string); t != "" {
			clock = t
		} else {
			clock = sess.PendingTime()
		}
	}
	if date.IsZero() || clock == "" {
		return replyMissingSlot, nil
	}
	duration := req.DurationMinutes
	if duration <= 0 {
		duration = p.duration
	}

	free, err := p.slots.IsAvailable(ctx, date, clock, duration, now)
	if err != nil {
		p.metrics.ObserveBooking("failed")
		return "", fmt.Errorf("conversation: check slot: %w", err)
	}
	if !free {
		return p.slotTakenReply(ctx, date, duration, now)
	}

	appt := appointments.Appointment{
		Date:            date,
		Time:            clock,
		DurationMinutes: duration,
		PatientName:     name,
		DocumentID:      doc,
		Phone:           sender,
		Reason:          strings.TrimSpace(req.Reason),
	}
	if err := appt.Schedule(p.slots.Location()); err != nil {
		return replyMissingSlot, nil
	}
	if err := p.appts.Create(ctx, &appt); err != nil {
		if errors.Is(err, appointments.ErrSlotTaken) {
			return p.slotTakenReply(ctx, date, duration, now)
		}
		p.metrics.ObserveBooking("failed")
		return "", fmt.Errorf("conversation: create appointment: %w", err)
	}
	p.metrics.ObserveBooking("booked")
	log.Info("appointment booked", "appointment_id", appt.ID, "date", date.String(), "time", clock)

	if p.calendar != nil {
		res, err := p.calendar.InsertEvent(ctx, calendar.Event{
			Summary:     fmt.Sprintf("Cita: %s", name),
			Description: fmt.Sprintf("Documento: %s\nTeléfono: %s\nMotivo: %s", doc, sender, appt.Reason),
			Start:       appt.StartsAt,
			End:         appt.EndsAt,
		})
		switch {
		case err != nil:
			log.Warn("calendar insert failed", "appointment_id", appt.ID, "error", err)
		case res.Success:
			appt.CalendarEventID = res.Reference
			if err := p.appts.SetCalendarEvent(ctx, appt.ID, res.Reference); err != nil {
				log.Warn("failed to record calendar event", "appointment_id", appt.ID, "error", err)
			}
		}
	}
	if p.notifier != nil {
		if err := p.notifier.AppointmentBooked(ctx, appt); err != nil {
			log.Warn("staff notification failed", "appointment_id", appt.ID, "error", err)
		}
	}

	update.Flow = sessions.String(FlowBooked)
	update.SetMeta(sessions.MetaPendingTime, "")
	firstName := strings.Fields(name)[0]
	return fmt.Sprintf("¡Listo, %s! Tu cita quedó agendada para el %s a las %s. Te esperamos.", firstName, FormatDateES(date), clock), nil
}

func (p *Processor) slotTakenReply(ctx context.Context, date scheduling.Date, duration int, now time.Time) (string, error) {
	p.metrics.ObserveBooking("slot_taken")
	fresh, err := p.slots.AvailableSlots(ctx, date, duration, now)
	if err != nil || len(fresh) == 0 {
		return fmt.Sprintf("Lo siento, ese horario ya no está disponible y no quedan horarios libres el %s. ¿Te sirve otro día?", FormatDateES(date)), nil
	}
	if len(fresh) > 6 {
		fresh = fresh[:6]
	}
	return fmt.Sprintf("Lo siento, ese horario acaba de ocuparse. Para el %s tengo: %s. ¿Cuál prefieres?", FormatDateES(date), strings.Join(fresh, ", ")), nil
}

func pick(updated *string, sess *sessions.Session, field func(*sessions.Session) string) string {
	if updated != nil && strings.TrimSpace(*updated) != "" {
		return strings.TrimSpace(*updated)
	}
	if sess == nil {
		return ""
	}
	return strings.TrimSpace(field(sess))
}
