package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/dental-booking-platform/internal/debounce"
	"github.com/wolfman30/dental-booking-platform/internal/inbound"
	"github.com/wolfman30/dental-booking-platform/internal/messaging/telnyxclient"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

const (
	testWebhookSecret = "whsec_test"
	inboundPayload    = `{"data":{"id":"evt_1","event_type":"message.received","payload":{"id":"msg_1","text":"quiero una cita mañana","from":{"phone_number":"+1 (555) 000-1111"},"to":[{"phone_number":"+15559998888"}]}}}`
	deliveryPayload   = `{"data":{"id":"evt_2","event_type":"message.finalized","payload":{"id":"msg_2","text":"hola","from":{"phone_number":"+15559998888"},"to":[{"phone_number":"+15550001111","status":"delivered"}]}}}`
)

var webhookNow = time.Date(2026, time.February, 12, 23, 0, 0, 0, time.UTC)

type submission struct {
	sender string
	text   string
}

type stubSubmitter struct {
	mu    sync.Mutex
	calls []submission
	err   error
}

func (s *stubSubmitter) Submit(_ context.Context, sender, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, submission{sender: sender, text: text})
	return s.err
}

func (s *stubSubmitter) submissions() []submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]submission(nil), s.calls...)
}

type failingPublisher struct {
	err error
}

func (p failingPublisher) Publish(context.Context, inbound.Message) error {
	return p.err
}

func newVerifier(t *testing.T) *telnyxclient.Client {
	t.Helper()
	client, err := telnyxclient.New(telnyxclient.Config{
		APIKey:        "key",
		WebhookSecret: testWebhookSecret,
		Now:           func() time.Time { return webhookNow },
	})
	if err != nil {
		t.Fatalf("telnyx client: %v", err)
	}
	return client
}

func signedRequest(body string) *http.Request {
	ts := strconv.FormatInt(webhookNow.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telnyx/messages", bytes.NewBufferString(body))
	req.Header.Set("Telnyx-Timestamp", ts)
	req.Header.Set("Telnyx-Signature", telnyxclient.Sign(testWebhookSecret, ts, []byte(body)))
	return req
}

func serve(h *TelnyxWebhookHandler, req *http.Request) int {
	rec := httptest.NewRecorder()
	h.HandleMessages(rec, req)
	return rec.Code
}

func TestTelnyxWebhookInlineSubmitsOnce(t *testing.T) {
	submitter := &stubSubmitter{}
	handler := NewTelnyxWebhookHandler(TelnyxWebhookConfig{
		Verifier:  newVerifier(t),
		Submitter: submitter,
		Mode:      ModeInline,
		Logger:    logging.Default(),
	})

	if code := serve(handler, signedRequest(inboundPayload)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	// Telnyx retries the same event id.
	if code := serve(handler, signedRequest(inboundPayload)); code != http.StatusOK {
		t.Fatalf("expected 200 on retry, got %d", code)
	}

	calls := submitter.submissions()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one submission, got %d", len(calls))
	}
	if calls[0].sender != "15550001111" || calls[0].text != "quiero una cita mañana" {
		t.Fatalf("unexpected submission %+v", calls[0])
	}
}

func TestTelnyxWebhookRejectsBadSignature(t *testing.T) {
	submitter := &stubSubmitter{}
	handler := NewTelnyxWebhookHandler(TelnyxWebhookConfig{
		Verifier:  newVerifier(t),
		Submitter: submitter,
		Mode:      ModeInline,
	})

	req := signedRequest(inboundPayload)
	req.Header.Set("Telnyx-Signature", "deadbeef")
	if code := serve(handler, req); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if len(submitter.submissions()) != 0 {
		t.Fatalf("unsigned webhook must not reach the coordinator")
	}
}

func TestTelnyxWebhookIgnoresNonInboundEvents(t *testing.T) {
	submitter := &stubSubmitter{}
	handler := NewTelnyxWebhookHandler(TelnyxWebhookConfig{Submitter: submitter, Mode: ModeInline})

	if code := serve(handler, signedRequest(deliveryPayload)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := serve(handler, signedRequest(`{"data":`)); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", code)
	}
	if len(submitter.submissions()) != 0 {
		t.Fatalf("expected no submissions")
	}
}

func TestTelnyxWebhookSubmitFailureStillAcknowledged(t *testing.T) {
	submitter := &stubSubmitter{err: errors.New("llm unavailable")}
	handler := NewTelnyxWebhookHandler(TelnyxWebhookConfig{Submitter: submitter, Mode: ModeInline})

	if code := serve(handler, signedRequest(inboundPayload)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestTelnyxWebhookInlineBufferFailureAllowsRetry(t *testing.T) {
	submitter := &stubSubmitter{err: fmt.Errorf("%w: too many connections", debounce.ErrBuffer)}
	handler := NewTelnyxWebhookHandler(TelnyxWebhookConfig{Submitter: submitter, Mode: ModeInline})

	if code := serve(handler, signedRequest(inboundPayload)); code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when the fragment was not buffered, got %d", code)
	}

	submitter.mu.Lock()
	submitter.err = nil
	submitter.mu.Unlock()
	if code := serve(handler, signedRequest(inboundPayload)); code != http.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d", code)
	}
	if got := len(submitter.submissions()); got != 2 {
		t.Fatalf("redelivery must be submitted again, got %d submissions", got)
	}
}

type stagedStub struct {
	mu          sync.Mutex
	bufferErr   error
	buffered    []string
	coordinated []string
}

func (s *stagedStub) Submit(ctx context.Context, sender, text string) error {
	if _, err := s.Buffer(ctx, sender, text); err != nil {
		return err
	}
	return s.Coordinate(ctx, sender)
}

func (s *stagedStub) Buffer(_ context.Context, sender, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bufferErr != nil {
		return "", s.bufferErr
	}
	s.buffered = append(s.buffered, text)
	return sender, nil
}

func (s *stagedStub) Coordinate(_ context.Context, sender string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coordinated = append(s.coordinated, sender)
	return nil
}

func TestTelnyxWebhookAsyncBuffersBeforeAnswering(t *testing.T) {
	submitter := &stagedStub{}
	handler := NewTelnyxWebhookHandler(TelnyxWebhookConfig{Submitter: submitter, Mode: ModeAsync})

	if code := serve(handler, signedRequest(inboundPayload)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	submitter.mu.Lock()
	buffered := len(submitter.buffered)
	submitter.mu.Unlock()
	if buffered != 1 {
		t.Fatalf("fragment must be buffered before the response, got %d", buffered)
	}
	handler.Wait()
	if len(submitter.coordinated) != 1 || submitter.coordinated[0] != "15550001111" {
		t.Fatalf("unexpected coordination %v", submitter.coordinated)
	}
}

func TestTelnyxWebhookAsyncBufferFailure(t *testing.T) {
	processed := inbound.NewMemoryProcessedStore()
	submitter := &stagedStub{bufferErr: fmt.Errorf("%w: disk full", debounce.ErrBuffer)}
	handler := NewTelnyxWebhookHandler(TelnyxWebhookConfig{Processed: processed, Submitter: submitter, Mode: ModeAsync})

	if code := serve(handler, signedRequest(inboundPayload)); code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", code)
	}
	handler.Wait()
	if len(submitter.coordinated) != 0 {
		t.Fatalf("nothing buffered, nothing to coordinate")
	}
	fresh, err := processed.MarkProcessed(context.Background(), providerTelnyx, "evt_1")
	if err != nil || !fresh {
		t.Fatalf("failed buffer must release the event, fresh=%v err=%v", fresh, err)
	}
}

func TestTelnyxWebhookAsyncMode(t *testing.T) {
	submitter := &stubSubmitter{}
	handler := NewTelnyxWebhookHandler(TelnyxWebhookConfig{Submitter: submitter, Mode: ModeAsync})

	ctx, cancel := context.WithCancel(context.Background())
	req := signedRequest(inboundPayload).WithContext(ctx)
	if code := serve(handler, req); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	// The submission outlives the request context.
	cancel()
	handler.Wait()

	if len(submitter.submissions()) != 1 {
		t.Fatalf("expected async submission to complete")
	}
}

func TestTelnyxWebhookQueueMode(t *testing.T) {
	queue := inbound.NewMemoryQueue(4)
	handler := NewTelnyxWebhookHandler(TelnyxWebhookConfig{
		Publisher: inbound.NewPublisher(queue),
		Mode:      ModeQueue,
	})

	if code := serve(handler, signedRequest(inboundPayload)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	msgs, err := queue.Receive(context.Background(), 10, 1)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected one queued message, got %d err=%v", len(msgs), err)
	}
	decoded, err := inbound.DecodeMessage(msgs[0].Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.EventID != "evt_1" || decoded.Sender != "15550001111" {
		t.Fatalf("unexpected queued message %+v", decoded)
	}
}

func TestTelnyxWebhookQueuePublishFailureAllowsRetry(t *testing.T) {
	processed := inbound.NewMemoryProcessedStore()
	handler := NewTelnyxWebhookHandler(TelnyxWebhookConfig{
		Processed: processed,
		Publisher: failingPublisher{err: errors.New("sqs down")},
		Mode:      ModeQueue,
	})

	if code := serve(handler, signedRequest(inboundPayload)); code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", code)
	}
	fresh, err := processed.MarkProcessed(context.Background(), providerTelnyx, "evt_1")
	if err != nil || !fresh {
		t.Fatalf("failed publish must not claim the event, fresh=%v err=%v", fresh, err)
	}
}
