// Package webhook posts validated form records to the configured n8n
// workflow endpoint.
//
// One POST per submission, no automatic retry. Transport failures and
// non-200 statuses are reported in the outcome, never raised to the caller.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dignifi/formpipe/internal/models"
)

// Default configuration constants.
const (
	// DefaultEndpoint is the n8n form-fill webhook used when none is configured.
	DefaultEndpoint = "https://dignifi.app.n8n.cloud/webhook-test/fill_forms"
	// DefaultTimeout bounds the webhook POST.
	DefaultTimeout = 30 * time.Second
	// DefaultDelay is the courtesy pause before each POST, giving the
	// receiving workflow breathing room. Not a correctness requirement.
	DefaultDelay = 1 * time.Second
)

// Opts holds configuration for the webhook client.
type Opts struct {
	Endpoint string
	Timeout  time.Duration
	Delay    time.Duration
	// HTTPClient overrides the transport, primarily for tests.
	HTTPClient *http.Client
}

// Option configures the webhook client.
type Option func(*Opts)

// WithEndpoint sets the webhook URL, overriding $N8N_WEBHOOK_URL.
func WithEndpoint(url string) Option {
	return func(o *Opts) { o.Endpoint = url }
}

// WithTimeout sets the client-side request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithDelay sets the courtesy delay inserted before each request.
func WithDelay(d time.Duration) Option {
	return func(o *Opts) { o.Delay = d }
}

// WithHTTPClient injects a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client submits validated records to a single fixed endpoint. Safe for
// concurrent use; it is read-only after construction.
type Client struct {
	endpoint   string
	delay      time.Duration
	httpClient *http.Client
}

// NewClient creates a webhook client with the given options.
func NewClient(opts ...Option) *Client {
	cfg := Opts{
		Endpoint: DefaultEndpoint,
		Timeout:  DefaultTimeout,
		Delay:    DefaultDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	slog.Debug("Webhook client initialized", "endpoint", cfg.Endpoint, "timeout", cfg.Timeout, "delay", cfg.Delay)
	return &Client{endpoint: cfg.Endpoint, delay: cfg.Delay, httpClient: httpClient}
}

// Endpoint returns the configured webhook URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Submit posts the record as JSON and reports the outcome. Success is
// strictly HTTP 200; any other status or a transport failure yields a
// non-success outcome carrying the details. The exact payload sent is kept
// on the outcome for auditing.
func (c *Client) Submit(ctx context.Context, record models.FormRecord) models.WebhookOutcome {
	outcome := models.WebhookOutcome{SentData: record}

	payload, err := json.Marshal(record)
	if err != nil {
		// Only reachable with exotic values; FormRecord is flat strings/nulls.
		outcome.Error = err.Error()
		slog.Error("Webhook payload marshal failed", "error", err)
		return outcome
	}

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			outcome.Error = ctx.Err().Error()
			slog.Warn("Webhook submission canceled during courtesy delay", "error", ctx.Err())
			return outcome
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		outcome.Error = err.Error()
		slog.Error("Webhook request construction failed", "error", err, "endpoint", c.endpoint)
		return outcome
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome.Error = err.Error()
		slog.Warn("Webhook request failed", "error", err, "endpoint", c.endpoint)
		return outcome
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		slog.Warn("Webhook response body read failed", "error", readErr, "status", resp.StatusCode)
	}

	outcome.StatusCode = resp.StatusCode
	outcome.ResponseBody = string(body)
	outcome.Success = resp.StatusCode == http.StatusOK
	if outcome.Success {
		slog.Info("Webhook submission succeeded", "endpoint", c.endpoint)
	} else {
		slog.Warn("Webhook submission returned non-success status", "status", resp.StatusCode, "endpoint", c.endpoint)
	}
	return outcome
}

// TestPayload returns the canonical sample record used by the connectivity
// test surfaces.
func TestPayload() models.FormRecord {
	return models.FormRecord{
		"name_of_requestor": models.String("Test User"),
		"homeless":          models.String("n"),
		"request_on_behalf": models.String("n"),
		"name_of_child":     nil,
	}
}
