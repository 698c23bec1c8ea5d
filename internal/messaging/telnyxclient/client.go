// Package telnyxclient is a small client for the Telnyx v2 messaging API.
package telnyxclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

const (
	defaultBaseURL   = "https://api.telnyx.com/v2"
	defaultUserAgent = "dental-booking/1.0"
)

// Config controls how the client talks to Telnyx.
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
	MaxRetries    int
	Backoff       time.Duration
	MaxSkew       time.Duration
	HTTPClient    *http.Client
	Logger        *logging.Logger
	Now           func() time.Time
}

// Client sends messages and verifies inbound webhooks.
type Client struct {
	apiKey        string
	baseURL       string
	webhookSecret string
	httpClient    *http.Client
	maxRetries    int
	backoff       time.Duration
	maxSkew       time.Duration
	logger        *logging.Logger
	now           func() time.Time
}

// New builds a Client. The API key is required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("telnyxclient: API key is required")
	}
	c := &Client{
		apiKey:        cfg.APIKey,
		baseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		webhookSecret: cfg.WebhookSecret,
		httpClient:    cfg.HTTPClient,
		maxRetries:    cfg.MaxRetries,
		backoff:       cfg.Backoff,
		maxSkew:       cfg.MaxSkew,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.backoff <= 0 {
		c.backoff = 250 * time.Millisecond
	}
	if c.maxSkew <= 0 {
		c.maxSkew = 5 * time.Minute
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// SendMessage queues an outbound SMS.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*MessageResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(sendBody{
		From:               req.From,
		To:                 req.To,
		Text:               req.Body,
		MessagingProfileID: req.MessagingProfileID,
		WebhookURL:         req.WebhookURL,
	})
	if err != nil {
		return nil, fmt.Errorf("telnyxclient: marshal send body: %w", err)
	}
	data, err := c.do(ctx, http.MethodPost, "/messages", nil, body)
	if err != nil {
		return nil, err
	}
	return decodeData[MessageResponse](data)
}

// GetMessage fetches a message's current delivery state.
func (c *Client) GetMessage(ctx context.Context, id string) (*MessageResponse, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("telnyxclient: message id required")
	}
	data, err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeData[MessageResponse](data)
}

// VerifyWebhookSignature checks the hex HMAC-SHA256 of "timestamp.payload"
// and rejects timestamps outside the allowed skew.
func (c *Client) VerifyWebhookSignature(timestamp, signature string, payload []byte) error {
	if c.webhookSecret == "" {
		return errors.New("telnyxclient: webhook secret not configured")
	}
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return errors.New("telnyxclient: missing signature timestamp")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("telnyxclient: invalid signature timestamp: %w", err)
	}
	skew := c.now().Sub(time.Unix(sec, 0))
	if skew > c.maxSkew || skew < -c.maxSkew {
		return fmt.Errorf("telnyxclient: signature timestamp skew %s exceeds limit", skew)
	}
	actual := strings.ToLower(strings.TrimSpace(signature))
	if actual == "" {
		return errors.New("telnyxclient: missing signature header")
	}
	if !hmac.Equal([]byte(Sign(c.webhookSecret, ts, payload)), []byte(actual)) {
		return errors.New("telnyxclient: signature mismatch")
	}
	return nil
}

// Sign computes the signature Telnyx attaches to a webhook.
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, fmt.Errorf("telnyxclient: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("User-Agent", defaultUserAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= c.maxRetries || !retryableTransport(err) {
				return nil, fmt.Errorf("telnyxclient: http error: %w", err)
			}
			c.logger.Warn("telnyx retry", "path", path, "attempt", attempt+1, "error", err)
			if err := c.wait(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("telnyxclient: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}

		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt >= c.maxRetries || !apiErr.Retryable() {
			return nil, apiErr
		}
		c.logger.Warn("telnyx retry", "path", path, "attempt", attempt+1, "status", resp.StatusCode)
		if err := c.wait(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// wait sleeps with exponential backoff.
func (c *Client) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.backoff << attempt)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryableTransport(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// APIError is a non-2xx Telnyx response.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code,omitempty"`
	Title      string `json:"title,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	switch {
	case e.Title != "":
		return fmt.Sprintf("telnyxclient: %s (status=%d)", e.Title, e.StatusCode)
	case e.Detail != "":
		return fmt.Sprintf("telnyxclient: %s (status=%d)", e.Detail, e.StatusCode)
	default:
		return fmt.Sprintf("telnyxclient: http status %d", e.StatusCode)
	}
}

// Retryable reports whether the status is worth retrying.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func decodeAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Errors []APIError `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Errors) > 0 {
		apiErr := envelope.Errors[0]
		apiErr.StatusCode = status
		return &apiErr
	}
	return &APIError{StatusCode: status, Detail: strings.TrimSpace(string(body))}
}

func decodeData[T any](body []byte) (*T, error) {
	var wrapper struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("telnyxclient: decode response: %w", err)
	}
	return &wrapper.Data, nil
}
