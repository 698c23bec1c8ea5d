package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/dental-booking-platform/internal/appointments"
	"github.com/wolfman30/dental-booking-platform/internal/calendar"
	"github.com/wolfman30/dental-booking-platform/internal/messaging"
	"github.com/wolfman30/dental-booking-platform/internal/observability/metrics"
	"github.com/wolfman30/dental-booking-platform/internal/scheduling"
	"github.com/wolfman30/dental-booking-platform/internal/sessions"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

const (
	DefaultAppointmentMinutes = 30

	defaultMaxTokens   = 600
	defaultTemperature = 0.2
)

var conversationTracer = otel.Tracer("dental.internal.conversation")

// SlotFinder is the subset of the availability engine the processor uses.
type SlotFinder interface {
	AvailableSlots(ctx context.Context, date scheduling.Date, durationMinutes int, now time.Time) ([]string, error)
	IsAvailable(ctx context.Context, date scheduling.Date, hhmm string, durationMinutes int, now time.Time) (bool, error)
	Location() *time.Location
}

// AppointmentStore persists booked appointments.
type AppointmentStore interface {
	Create(ctx context.Context, appt *appointments.Appointment) error
	SetCalendarEvent(ctx context.Context, id int64, reference string) error
}

// EventInserter mirrors a booking into the clinic calendar.
type EventInserter interface {
	InsertEvent(ctx context.Context, ev calendar.Event) (calendar.InsertResult, error)
}

// BookingNotifier tells clinic staff about new bookings.
type BookingNotifier interface {
	AppointmentBooked(ctx context.Context, appt appointments.Appointment) error
}

// Processor turns one drained burst of patient text into a reply, updating the
// session and booking appointments along the way.
type Processor struct {
	sessions sessions.Store
	slots    SlotFinder
	llm      LLMClient
	sender   messaging.Sender
	appts    AppointmentStore
	calendar EventInserter
	notifier BookingNotifier
	clinic   string
	model    string
	duration int
	now      func() time.Time
	metrics  *metrics.ConversationMetrics
	logger   *logging.Logger
}

type ProcessorOption func(*Processor)

func WithAppointments(store AppointmentStore) ProcessorOption {
	return func(p *Processor) { p.appts = store }
}

func WithCalendar(cal EventInserter) ProcessorOption {
	return func(p *Processor) { p.calendar = cal }
}

func WithNotifier(n BookingNotifier) ProcessorOption {
	return func(p *Processor) { p.notifier = n }
}

func WithClinicName(name string) ProcessorOption {
	return func(p *Processor) { p.clinic = strings.TrimSpace(name) }
}

// WithModel overrides the provider's default model id.
func WithModel(model string) ProcessorOption {
	return func(p *Processor) { p.model = strings.TrimSpace(model) }
}

func WithDefaultDuration(minutes int) ProcessorOption {
	return func(p *Processor) {
		if minutes > 0 {
			p.duration = minutes
		}
	}
}

func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

func WithMetrics(m *metrics.ConversationMetrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

func WithLogger(logger *logging.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewProcessor(store sessions.Store, slots SlotFinder, llm LLMClient, sender messaging.Sender, opts ...ProcessorOption) *Processor {
	if store == nil || slots == nil || llm == nil || sender == nil {
		panic("conversation: session store, slot finder, llm client and sender are required")
	}
	p := &Processor{
		sessions: store,
		slots:    slots,
		llm:      llm,
		sender:   sender,
		duration: DefaultAppointmentMinutes,
		now:      time.Now,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one burst. Any failure is returned before a reply is sent.
func (p *Processor) Process(ctx context.Context, sender, text string) (err error) {
	ctx, span := conversationTracer.Start(ctx, "conversation.process")
	defer span.End()
	span.SetAttributes(attribute.Int("dental.text_length", len(text)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			p.metrics.ObserveTurn("failed")
		}
	}()

	log := p.logger.WithSender(sender)
	sess, err := p.sessions.Get(ctx, sender)
	if err != nil {
		return fmt.Errorf("conversation: load session: %w", err)
	}

	now := p.now()
	loc := p.slots.Location()
	var update sessions.Update
	date, hasDate := sessions.ApplyResolvedDate(&update, text, now)
	if !hasDate {
		date, hasDate = sess.PendingDate()
	}

	var slots []string
	if hasDate {
		slots, err = p.slots.AvailableSlots(ctx, date, p.duration, now)
		if err != nil {
			log.Warn("slot lookup failed, offering none", "date", date.String(), "error", err)
			slots = nil
		}
	}

	prompt := BuildSystemPrompt(PromptContext{
		ClinicName:      p.clinic,
		Now:             now,
		Location:        loc,
		Session:         sess,
		Date:            date,
		HasDate:         hasDate,
		Slots:           slots,
		DurationMinutes: p.duration,
	})
	messages := make([]ChatMessage, 0, 2)
	if sess != nil {
		if last, _ := sess.Metadata[sessions.MetaLastReply].(string); strings.TrimSpace(last) != "" {
			messages = append(messages, ChatMessage{Role: ChatRoleAssistant, Content: last})
		}
	}
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: text})

	started := time.Now()
	resp, err := p.llm.Complete(ctx, LLMRequest{
		Model:       p.model,
		System:      []string{prompt},
		Messages:    messages,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
		JSON:        true,
	})
	p.metrics.ObserveLLM(time.Since(started).Seconds())
	if err != nil {
		return fmt.Errorf("conversation: llm: %w", err)
	}

	action, err := ParseAction(resp.Text)
	if err != nil {
		if strings.TrimSpace(resp.Text) == "" {
			return errors.New("conversation: empty llm response")
		}
		log.Debug("llm returned plain text reply", "length", len(resp.Text))
		action = Action{Reply: strings.TrimSpace(resp.Text)}
	}
	applyAction(&update, action)

	reply := action.Reply
	outcome := "replied"
	if action.Book != nil {
		reply, err = p.book(ctx, sender, sess, &update, *action.Book, date, now)
		if err != nil {
			return err
		}
		outcome = "booking"
	}
	if strings.TrimSpace(reply) == "" {
		return errors.New("conversation: empty reply")
	}

	update.SetMeta(sessions.MetaLastReply, reply)
	if err := p.sessions.Upsert(ctx, sender, update); err != nil {
		return fmt.Errorf("conversation: save session: %w", err)
	}

	if _, err := p.sender.Send(ctx, sender, reply); err != nil {
		return fmt.Errorf("conversation: send reply: %w", err)
	}
	p.metrics.ObserveTurn(outcome)
	log.Info("conversation turn processed", "outcome", outcome, "has_date", hasDate, "slots", len(slots))
	return nil
}

func applyAction(update *sessions.Update, action Action) {
	if action.Name != "" {
		update.Name = sessions.String(action.Name)
	}
	if action.DocumentID != "" {
		update.DocumentID = sessions.String(action.DocumentID)
	}
	if action.Flow != "" {
		update.Flow = sessions.String(action.Flow)
	}
	if action.Time != "" {
		update.SetMeta(sessions.MetaPendingTime, action.Time)
	}
}
