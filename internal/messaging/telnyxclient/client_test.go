package telnyxclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

const sendResponse = `{"data":{"id":"msg_01","direction":"outbound","text":"Hola","parts":1,
"from":{"phone_number":"+15553334444"},"to":[{"phone_number":"+15552223333","status":"queued"}],
"created_at":"2026-02-12T23:00:00Z"}}`

func newTestClient(t *testing.T, server *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.APIKey = "key"
	cfg.BaseURL = server.URL
	cfg.HTTPClient = server.Client()
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Fatalf("missing auth header")
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["text"] != "Hola" || body["to"] != "+15552223333" || body["messaging_profile_id"] != "prof" {
			t.Fatalf("unexpected body %v", body)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(sendResponse))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	resp, err := client.SendMessage(context.Background(), SendMessageRequest{
		From:               "+15553334444",
		To:                 "+15552223333",
		Body:               "Hola",
		MessagingProfileID: "prof",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.ID != "msg_01" || resp.Status() != "queued" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSendMessageValidation(t *testing.T) {
	client, err := New(Config{APIKey: "key"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := client.SendMessage(context.Background(), SendMessageRequest{To: "+1555", Body: "x"}); err == nil {
		t.Fatalf("expected missing from/profile error")
	}
	if _, err := client.SendMessage(context.Background(), SendMessageRequest{From: "+1", To: "+1555", Body: " "}); err == nil {
		t.Fatalf("expected missing body error")
	}
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected api key error")
	}
}

func TestSendMessageRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(sendResponse))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{MaxRetries: 2})
	if _, err := client.SendMessage(context.Background(), SendMessageRequest{From: "+1", To: "+2", Body: "x"}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSendMessageDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"code":"40310","title":"Invalid 'to' address"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{MaxRetries: 3})
	_, err := client.SendMessage(context.Background(), SendMessageRequest{From: "+1", To: "+2", Body: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "40310" || apiErr.Retryable() {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestGetMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/messages/msg_01" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(sendResponse))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	resp, err := client.GetMessage(context.Background(), "msg_01")
	if err != nil || resp.ID != "msg_01" {
		t.Fatalf("unexpected get result %+v err=%v", resp, err)
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	now := time.Unix(1_770_000_000, 0)
	client, err := New(Config{APIKey: "key", WebhookSecret: "shh", Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	payload := []byte(`{"data":{"event_type":"message.received"}}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := Sign("shh", ts, payload)

	if err := client.VerifyWebhookSignature(ts, sig, payload); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := client.VerifyWebhookSignature(ts, sig, []byte(`{}`)); err == nil {
		t.Fatalf("expected mismatch for tampered payload")
	}
	old := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	if err := client.VerifyWebhookSignature(old, Sign("shh", old, payload), payload); err == nil {
		t.Fatalf("expected skew rejection")
	}
	if err := client.VerifyWebhookSignature("", sig, payload); err == nil {
		t.Fatalf("expected missing timestamp error")
	}
	if err := client.VerifyWebhookSignature(ts, "", payload); err == nil {
		t.Fatalf("expected missing signature error")
	}

	unsigned, _ := New(Config{APIKey: "key"})
	if err := unsigned.VerifyWebhookSignature(ts, sig, payload); err == nil {
		t.Fatalf("expected error without webhook secret")
	}
}
