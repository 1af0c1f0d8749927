// File: internal/notification/webhook.go
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/machine-logger/pkg/utils"
)

// WebhookSender posts JSON payloads to a webhook endpoint
type WebhookSender struct {
	url        string
	retry      utils.RetryConfig
	logger     *logrus.Entry
	httpClient *http.Client
}

// WebhookPayload defines the webhook payload structure
type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
	Data      interface{} `json:"data"`
	Version   string      `json:"version"`
}

// NewWebhookSender creates a new webhook sender
func NewWebhookSender(url string, timeout time.Duration, retry utils.RetryConfig) *WebhookSender {
	if retry.Backoff == "" {
		retry.Backoff = "exponential"
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 30 * time.Second
	}

	return &WebhookSender{
		url:    url,
		retry:  retry,
		logger: utils.ComponentLogger("webhook_sender"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Send posts payload, retrying transport errors and non-2xx responses
func (ws *WebhookSender) Send(ctx context.Context, payload *WebhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal webhook payload", err.Error())
	}

	start := time.Now()
	err = utils.Retry(ctx, ws.retry, func(attempt int) error {
		return ws.sendOnce(ctx, data)
	}, func(attempt int, delay time.Duration, err error) {
		ws.logger.WithFields(logrus.Fields{
			"url":     ws.url,
			"attempt": attempt,
			"delay":   delay,
			"error":   err,
		}).Warn("Webhook attempt failed, retrying")
	})

	fields := logrus.Fields{
		"url":           ws.url,
		"event":         payload.Event,
		"response_time": time.Since(start),
	}
	if err != nil {
		ws.logger.WithFields(fields).WithError(err).Error("Webhook failed")
		return err
	}
	ws.logger.WithFields(fields).Debug("Webhook sent successfully")
	return nil
}

// sendOnce sends a single webhook request
func (ws *WebhookSender) sendOnce(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(data))
	if err != nil {
		return utils.Permanent(utils.NewAppError(utils.ErrCodeInternal, "Failed to create webhook request", err.Error()))
	}
	ws.setRequestHeaders(req)

	resp, err := ws.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeExternal, "Failed to send webhook", err.Error())
	}
	defer resp.Body.Close()

	// Read response body (limited to prevent memory issues)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.NewAppError(utils.ErrCodeExternal,
			"Webhook returned non-success status",
			fmt.Sprintf("status: %d, body: %s", resp.StatusCode, string(body)))
	}
	return nil
}

// setRequestHeaders sets HTTP request headers
func (ws *WebhookSender) setRequestHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Machine-Logger/1.0")
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	// Add request ID for tracing
	if requestID, err := utils.GenerateID(); err == nil {
		req.Header.Set("X-Request-ID", requestID)
	}
}
