// Package remote talks to the spreadsheet script endpoint that stores the logbook.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/machine-logger/internal/metrics"
	"github.com/smartdevs17/machine-logger/internal/models"
	"github.com/smartdevs17/machine-logger/pkg/utils"
)

// maxBodySize bounds how much of a response is read
const maxBodySize = 8 << 20

// Store is the remote system of record
type Store interface {
	List(ctx context.Context) ([]models.LogEntry, error)
	Append(ctx context.Context, entry models.LogEntry) (*Ack, error)
	Ping(ctx context.Context) error
}

// Ack describes how the remote acknowledged an append
type Ack struct {
	// Verified is true when the response decoded as a success envelope
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
}

// Config holds script client configuration
type Config struct {
	ScriptURL  string
	Timeout    time.Duration
	Retry      utils.RetryConfig
	RequireAck bool
}

// ScriptClient implements Store over HTTP
type ScriptClient struct {
	config     Config
	httpClient *http.Client
	metrics    *metrics.PrometheusMetrics
	logger     *logrus.Entry
	now        func() time.Time
}

// NewScriptClient creates a new script client. m may be nil.
func NewScriptClient(config Config, m *metrics.PrometheusMetrics) *ScriptClient {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.Retry.Backoff == "" {
		config.Retry.Backoff = "exponential"
	}

	return &ScriptClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		metrics: m,
		logger:  utils.ComponentLogger("remote"),
		now:     time.Now,
	}
}

// List fetches every entry from the script endpoint
func (c *ScriptClient) List(ctx context.Context) ([]models.LogEntry, error) {
	var entries []models.LogEntry

	err := c.do(ctx, "list", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.listURL(), nil)
	}, func(body []byte) error {
		decoded, err := decodeEntries(body)
		if err != nil {
			return utils.Permanent(err)
		}
		entries = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithField("count", len(entries)).Debug("Fetched logbook entries")
	return entries, nil
}

// Append submits entry to the script endpoint as a form post
func (c *ScriptClient) Append(ctx context.Context, entry models.LogEntry) (*Ack, error) {
	form := url.Values{}
	form.Set("waktuSistem", entry.SystemTimestamp)
	form.Set("nomorMesin", entry.MachineID)
	form.Set("namaOperator", entry.OperatorName)
	form.Set("tanggalCleaning", entry.CleaningDate)
	payload := form.Encode()

	var ack *Ack
	err := c.do(ctx, "append", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.ScriptURL, strings.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, func(body []byte) error {
		decoded, err := c.decodeAck(body)
		if err != nil {
			return utils.Permanent(err)
		}
		ack = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"machine":  entry.MachineID,
		"verified": ack.Verified,
	}).Info("Entry appended to remote logbook")
	return ack, nil
}

// Ping checks that the script endpoint answers
func (c *ScriptClient) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.listURL(), nil)
	}, func([]byte) error { return nil })
}

// listURL appends a cache-busting timestamp to the script URL
func (c *ScriptClient) listURL() string {
	sep := "?"
	if strings.Contains(c.config.ScriptURL, "?") {
		sep = "&"
	}
	return c.config.ScriptURL + sep + "t=" + strconv.FormatInt(c.now().UnixMilli(), 10)
}

// do sends the request built by build with retries and hands a 2xx body to handle.
// Transport errors, 5xx and 429 are retried; anything else fails at once.
func (c *ScriptClient) do(ctx context.Context, operation string, build func() (*http.Request, error), handle func(body []byte) error) error {
	if c.config.ScriptURL == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Remote script URL is not configured")
	}

	start := time.Now()
	err := utils.Retry(ctx, c.config.Retry, func(attempt int) error {
		req, err := build()
		if err != nil {
			return utils.Permanent(utils.NewAppError(utils.ErrCodeInternal, "Failed to create request", err.Error()))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeRemote, "Remote request failed", err.Error())
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return utils.NewAppError(utils.ErrCodeRemote, "Failed to read remote response", err.Error())
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := utils.NewAppError(utils.ErrCodeRemote,
				fmt.Sprintf("Remote returned HTTP %d", resp.StatusCode),
				snippet(body))
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return statusErr
			}
			return utils.Permanent(statusErr)
		}

		return handle(body)
	}, func(attempt int, delay time.Duration, err error) {
		c.logger.WithFields(logrus.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     delay,
			"error":     err,
		}).Warn("Remote request failed, retrying")
	})

	if c.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordRemoteRequest(operation, status, time.Since(start))
	}

	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"operation": operation,
			"error":     err,
		}).Error("Remote request failed")
		return err
	}
	return nil
}

// decodeAck interprets an append response body
func (c *ScriptClient) decodeAck(body []byte) (*Ack, error) {
	var resp models.ApiResponse
	err := json.Unmarshal(bytes.TrimSpace(body), &resp)

	switch {
	case err == nil && resp.Status == models.StatusSuccess:
		return &Ack{Verified: true, Message: resp.Message}, nil
	case err == nil && resp.Status == models.StatusError:
		return nil, utils.NewAppError(utils.ErrCodeRemote, "Remote rejected the entry", resp.Message)
	case c.config.RequireAck:
		return nil, utils.NewAppError(utils.ErrCodeRemote, "Remote did not acknowledge the entry", snippet(body))
	default:
		return &Ack{Verified: false}, nil
	}
}

// decodeEntries accepts either a bare entry array or an ApiResponse envelope
func decodeEntries(body []byte) ([]models.LogEntry, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeRemote, "Remote returned an empty body")
	}

	if body[0] == '[' {
		var entries []models.LogEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeRemote, "Failed to decode entries", err.Error())
		}
		return nonNil(entries), nil
	}

	var resp models.ApiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeRemote, "Failed to decode response", err.Error())
	}
	if resp.Status == models.StatusError {
		return nil, utils.NewAppError(utils.ErrCodeRemote, "Remote reported an error", resp.Message)
	}
	return nonNil(resp.Data), nil
}

func nonNil(entries []models.LogEntry) []models.LogEntry {
	if entries == nil {
		return []models.LogEntry{}
	}
	return entries
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
