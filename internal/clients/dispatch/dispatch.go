// Package dispatch hands outbox alerts to the external delivery system.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

const DefaultTimeout = 10 * time.Second

// Webhook posts each alert as JSON to a configured endpoint. The receiving
// system owns the actual email/SMS/push transports.
type Webhook struct {
	url        string
	httpClient *http.Client
	logger     *common.Logger
}

// Option configures the webhook dispatcher
type Option func(*Webhook)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) Option {
	return func(w *Webhook) {
		w.logger = logger
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) Option {
	return func(w *Webhook) {
		w.httpClient.Timeout = timeout
	}
}

// WithHTTPClient swaps the HTTP client (tests)
func WithHTTPClient(client *http.Client) Option {
	return func(w *Webhook) {
		w.httpClient = client
	}
}

// NewWebhook creates a webhook dispatcher.
func NewWebhook(url string, opts ...Option) *Webhook {
	w := &Webhook{
		url: strings.TrimRight(url, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// webhookResponse is the endpoint's acknowledgement body.
type webhookResponse struct {
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Dispatch posts the alert. Transport failures and 5xx responses return an
// error so the job layer retries; 4xx responses return a rejected receipt
// because retrying a request the endpoint refused cannot succeed.
func (w *Webhook) Dispatch(ctx context.Context, alert *models.OutboxAlert) (*models.DispatchReceipt, error) {
	payload, err := json.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, common.WrapError(common.KindTransient, "webhook request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var ack webhookResponse
	if len(body) > 0 {
		json.Unmarshal(body, &ack)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		w.logger.Debug().
			Str("alert_id", alert.ID).
			Str("method", alert.Method).
			Msg("Alert dispatched")
		return &models.DispatchReceipt{
			Success:           true,
			ProviderMessageID: ack.MessageID,
		}, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, common.NewError(common.KindTransient,
			fmt.Sprintf("webhook returned status %d", resp.StatusCode))
	default:
		reason := ack.Error
		if reason == "" {
			reason = fmt.Sprintf("webhook returned status %d", resp.StatusCode)
		}
		return &models.DispatchReceipt{Success: false, Error: reason}, nil
	}
}

// LogDispatcher records alerts without delivering them. Used when no webhook
// endpoint is configured so fan-out and delivery stay exercisable.
type LogDispatcher struct {
	logger *common.Logger
}

// NewLogDispatcher creates a log-only dispatcher.
func NewLogDispatcher(logger *common.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, alert *models.OutboxAlert) (*models.DispatchReceipt, error) {
	d.logger.Info().
		Str("alert_id", alert.ID).
		Str("user_id", alert.UserID).
		Str("method", alert.Method).
		Str("title", alert.Title).
		Msg("Alert (log dispatch)")
	return &models.DispatchReceipt{Success: true}, nil
}

// Compile-time checks
var (
	_ interfaces.AlertDispatcher = (*Webhook)(nil)
	_ interfaces.AlertDispatcher = (*LogDispatcher)(nil)
)
