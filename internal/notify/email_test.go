package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/dental-booking-platform/internal/appointments"
	"github.com/wolfman30/dental-booking-platform/internal/scheduling"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

func TestNewSendGridSender(t *testing.T) {
	if NewSendGridSender(SendGridConfig{FromEmail: "agenda@example.com"}, nil) != nil {
		t.Fatal("expected nil sender when API key is empty")
	}
	sender := NewSendGridSender(SendGridConfig{APIKey: "key", FromEmail: "agenda@example.com"}, nil)
	if sender == nil || sender.fromName != defaultFromName {
		t.Fatalf("expected default from name, got %+v", sender)
	}
}

type fakeSendGrid struct {
	sent   *mail.SGMailV3
	status int
	err    error
}

func (f *fakeSendGrid) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = email
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

func TestSendGridSenderSend(t *testing.T) {
	api := &fakeSendGrid{status: 202}
	sender := &SendGridSender{client: api, fromEmail: "agenda@example.com", fromName: "Agenda", logger: logging.Default()}

	if err := sender.Send(context.Background(), EmailMessage{To: "staff@example.com", Subject: "Hola", Body: "cuerpo"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if api.sent.Subject != "Hola" || api.sent.From.Address != "agenda@example.com" {
		t.Fatalf("unexpected message %+v", api.sent)
	}

	api.status = 401
	if err := sender.Send(context.Background(), EmailMessage{To: "staff@example.com"}); err == nil {
		t.Fatal("expected status error")
	}
	api.err = errors.New("dial tcp")
	if err := sender.Send(context.Background(), EmailMessage{To: "staff@example.com"}); err == nil {
		t.Fatal("expected transport error")
	}

	var missing *SendGridSender
	if err := missing.Send(context.Background(), EmailMessage{}); err == nil {
		t.Fatal("expected error for unconfigured sender")
	}
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESSender(t *testing.T) {
	if NewSESSender(nil, SESConfig{}, nil) != nil {
		t.Fatal("expected nil sender without client")
	}
	api := &fakeSES{}
	sender := NewSESSender(api, SESConfig{FromEmail: "agenda@example.com"}, nil)
	if err := sender.Send(context.Background(), EmailMessage{To: "staff@example.com", Subject: "Hola", Body: "texto"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := aws.ToString(api.input.FromEmailAddress); got != "Agenda Dental <agenda@example.com>" {
		t.Fatalf("unexpected from %q", got)
	}
	if api.input.Content.Simple.Body.Html != nil || aws.ToString(api.input.Content.Simple.Body.Text.Data) != "texto" {
		t.Fatal("expected text-only body")
	}
	api.err = errors.New("throttled")
	if err := sender.Send(context.Background(), EmailMessage{To: "staff@example.com"}); err == nil {
		t.Fatal("expected error")
	}
}

type recordingEmail struct {
	sent []EmailMessage
	fail map[string]bool
}

func (r *recordingEmail) Send(ctx context.Context, msg EmailMessage) error {
	if r.fail[msg.To] {
		return errors.New("rejected")
	}
	r.sent = append(r.sent, msg)
	return nil
}

func bookedAppointment() appointments.Appointment {
	appt := appointments.Appointment{
		ID:              7,
		Date:            scheduling.Date{Year: 2026, Month: time.February, Day: 16},
		Time:            "10:30",
		DurationMinutes: 30,
		PatientName:     "Ana Pérez",
		DocumentID:      "1020304050",
		Phone:           "15550001",
		Reason:          "limpieza",
	}
	_ = appt.Schedule(scheduling.FacilityLocation)
	return appt
}

func TestBookingNotifier(t *testing.T) {
	email := &recordingEmail{}
	n := NewBookingNotifier(email, "recepcion@example.com, doctora@example.com,", "Sonrisa", scheduling.FacilityLocation, nil)

	if err := n.AppointmentBooked(context.Background(), bookedAppointment()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(email.sent) != 2 || email.sent[1].To != "doctora@example.com" {
		t.Fatalf("unexpected sends %+v", email.sent)
	}
	msg := email.sent[0]
	if msg.Subject != "[Sonrisa] Nueva cita: 2026-02-16 10:30 Ana Pérez" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	for _, want := range []string{"Documento: 1020304050", "Hora: 10:30 (30 min)", "Motivo: limpieza", "agréguelo manualmente"} {
		if !strings.Contains(msg.Body, want) {
			t.Fatalf("body missing %q:\n%s", want, msg.Body)
		}
	}
}

func TestBookingNotifierFailures(t *testing.T) {
	email := &recordingEmail{fail: map[string]bool{"a@example.com": true}}
	n := NewBookingNotifier(email, "a@example.com,b@example.com", "", nil, nil)
	err := n.AppointmentBooked(context.Background(), bookedAppointment())
	if err == nil || !strings.Contains(err.Error(), "a@example.com") {
		t.Fatalf("expected joined error naming the failed recipient, got %v", err)
	}
	if len(email.sent) != 1 {
		t.Fatalf("remaining recipients should still be tried")
	}

	if err := NewBookingNotifier(email, " ", "", nil, nil).AppointmentBooked(context.Background(), bookedAppointment()); err != nil {
		t.Fatalf("no recipients should be a no-op, got %v", err)
	}
}
