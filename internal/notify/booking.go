package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/dental-booking-platform/internal/appointments"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

// BookingNotifier emails clinic staff when the assistant books a visit.
type BookingNotifier struct {
	email      EmailSender
	recipients []string
	clinicName string
	loc        *time.Location
	logger     *logging.Logger
}

// NewBookingNotifier builds a notifier for a comma-separated recipient list.
// With no recipients every notification is a no-op.
func NewBookingNotifier(email EmailSender, recipients, clinicName string, loc *time.Location, logger *logging.Logger) *BookingNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	var to []string
	for _, r := range strings.Split(recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	return &BookingNotifier{email: email, recipients: to, clinicName: clinicName, loc: loc, logger: logger}
}

// AppointmentBooked sends one email per recipient; every recipient is tried
// and the failures are joined.
func (n *BookingNotifier) AppointmentBooked(ctx context.Context, appt appointments.Appointment) error {
	if n.email == nil || len(n.recipients) == 0 {
		n.logger.Debug("notify: no staff recipients configured, skipping booking email")
		return nil
	}
	msg := bookingEmail(appt, n.clinicName, n.loc)

	var errs []error
	for _, to := range n.recipients {
		msg.To = to
		if err := n.email.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", to, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: booking email: %w", err)
	}
	return nil
}

func bookingEmail(appt appointments.Appointment, clinicName string, loc *time.Location) EmailMessage {
	start := appt.StartsAt.In(loc)
	subject := fmt.Sprintf("Nueva cita: %s %s", start.Format("2006-01-02 15:04"), appt.PatientName)
	if clinicName != "" {
		subject = fmt.Sprintf("[%s] %s", clinicName, subject)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Paciente: %s\n", appt.PatientName)
	fmt.Fprintf(&b, "Documento: %s\n", appt.DocumentID)
	fmt.Fprintf(&b, "Teléfono: %s\n", appt.Phone)
	fmt.Fprintf(&b, "Fecha: %s\n", start.Format("2006-01-02"))
	fmt.Fprintf(&b, "Hora: %s (%d min)\n", start.Format("15:04"), appt.DurationMinutes)
	if appt.Reason != "" {
		fmt.Fprintf(&b, "Motivo: %s\n", appt.Reason)
	}
	if appt.CalendarEventID != "" {
		fmt.Fprintf(&b, "Evento de calendario: %s\n", appt.CalendarEventID)
	} else {
		b.WriteString("El evento de calendario no se pudo crear; agréguelo manualmente.\n")
	}
	return EmailMessage{Subject: subject, Body: b.String()}
}
