// File: internal/notification/notification.go
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/machine-logger/internal/audit"
	"github.com/smartdevs17/machine-logger/internal/metrics"
	"github.com/smartdevs17/machine-logger/internal/models"
	"github.com/smartdevs17/machine-logger/pkg/utils"
)

// Notification channels
const (
	ChannelLog     = "log"
	ChannelWebhook = "webhook"
)

// EventMachinesOverdue is the webhook event name for overdue alerts
const EventMachinesOverdue = "machines_overdue"

// Notifier reports machines whose cleaning target has passed
type Notifier interface {
	NotifyOverdue(ctx context.Context, summaries []models.MachineSummary) error
	GetStats() *NotificationStats
}

// Config holds overdue notifier configuration
type Config struct {
	Enabled    bool
	WebhookURL string
	Timeout    time.Duration
	Retry      utils.RetryConfig
}

// NotificationStats provides notification statistics
type NotificationStats struct {
	TotalAlerts       uint64     `json:"total_alerts"`
	TotalWebhooksSent uint64     `json:"total_webhooks_sent"`
	TotalFailed       uint64     `json:"total_failed"`
	PendingMachines   int        `json:"pending_machines"`
	LastError         *string    `json:"last_error,omitempty"`
	LastErrorTime     *time.Time `json:"last_error_time,omitempty"`
}

// OverdueAlert is one machine reported in a webhook payload
type OverdueAlert struct {
	MachineID        string `json:"machineId"`
	LastCleaningDate string `json:"lastCleaningDate"`
	LastOperator     string `json:"lastOperator"`
	NextTargetDate   string `json:"nextTargetDate"`
	DaysOverdue      int    `json:"daysOverdue"`
}

// OverdueNotifier alerts once per machine and missed target
type OverdueNotifier struct {
	config  Config
	logger  *logrus.Entry
	webhook *WebhookSender
	metrics *metrics.PrometheusMetrics
	now     func() time.Time

	mu sync.Mutex
	// notified holds keys whose alert is fully delivered, logged holds keys
	// already written to the log while webhook delivery is still pending
	notified map[string]bool
	logged   map[string]bool
	stats    NotificationStats
}

// NewOverdueNotifier creates a notifier. m may be nil.
func NewOverdueNotifier(config Config, m *metrics.PrometheusMetrics) *OverdueNotifier {
	n := &OverdueNotifier{
		config:   config,
		logger:   utils.ComponentLogger("notification"),
		metrics:  m,
		now:      time.Now,
		notified: make(map[string]bool),
		logged:   make(map[string]bool),
	}
	if config.WebhookURL != "" {
		n.webhook = NewWebhookSender(config.WebhookURL, config.Timeout, config.Retry)
	}
	return n
}

// NotifyOverdue reports every overdue summary that has not been reported for
// its current target yet. Each alert is logged and counted once; alerts whose
// webhook delivery fails are sent again on the next call.
func (n *OverdueNotifier) NotifyOverdue(ctx context.Context, summaries []models.MachineSummary) error {
	if !n.config.Enabled {
		return nil
	}

	today := n.now()
	current := make(map[string]bool)
	var fresh []OverdueAlert
	var keys []string

	n.mu.Lock()
	for _, s := range audit.Overdue(summaries) {
		key := alertKey(s)
		current[key] = true
		if n.notified[key] {
			continue
		}

		alert := OverdueAlert{
			MachineID:        s.MachineID,
			LastCleaningDate: audit.FormatISODate(s.LastCleaningDate),
			LastOperator:     s.LastOperator,
			NextTargetDate:   audit.FormatISODate(s.NextTargetDate),
			DaysOverdue:      daysBetween(s.NextTargetDate, today),
		}
		fresh = append(fresh, alert)
		keys = append(keys, key)

		if n.logged[key] {
			continue
		}
		n.logged[key] = true
		n.logger.WithFields(logrus.Fields{
			"machine":       alert.MachineID,
			"last_cleaning": alert.LastCleaningDate,
			"last_operator": alert.LastOperator,
			"next_target":   alert.NextTargetDate,
			"days_overdue":  alert.DaysOverdue,
		}).Warn("Machine cleaning overdue")
		n.stats.TotalAlerts++
		n.recordSent(ChannelLog)
	}

	// forget machines that are no longer overdue for that target
	for key := range n.notified {
		if !current[key] {
			delete(n.notified, key)
		}
	}
	for key := range n.logged {
		if !current[key] {
			delete(n.logged, key)
		}
	}
	n.stats.PendingMachines = len(fresh)
	n.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	if n.webhook != nil {
		err := n.webhook.Send(ctx, &WebhookPayload{
			Event:     EventMachinesOverdue,
			Timestamp: today,
			Source:    "machine-logger",
			Data:      fresh,
			Version:   "1.0",
		})
		if err != nil {
			n.recordFailure(err)
			return err
		}
		n.mu.Lock()
		n.stats.TotalWebhooksSent++
		n.mu.Unlock()
		n.recordSent(ChannelWebhook)
	}

	n.mu.Lock()
	for _, key := range keys {
		n.notified[key] = true
	}
	n.stats.PendingMachines = 0
	n.mu.Unlock()

	return nil
}

// GetStats returns a snapshot of notification statistics
func (n *OverdueNotifier) GetStats() *NotificationStats {
	n.mu.Lock()
	defer n.mu.Unlock()

	stats := n.stats
	return &stats
}

func (n *OverdueNotifier) recordSent(channel string) {
	if n.metrics != nil {
		n.metrics.RecordNotificationSent(channel)
	}
}

func (n *OverdueNotifier) recordFailure(err error) {
	n.mu.Lock()
	msg := err.Error()
	at := n.now()
	n.stats.TotalFailed++
	n.stats.LastError = &msg
	n.stats.LastErrorTime = &at
	n.mu.Unlock()

	if n.metrics != nil {
		n.metrics.RecordNotificationFailure(ChannelWebhook)
	}
}

func alertKey(s models.MachineSummary) string {
	return audit.MachineKey(s.MachineID) + "|" + audit.FormatISODate(s.NextTargetDate)
}

// daysBetween counts whole calendar days from target to now
func daysBetween(target, now time.Time) int {
	loc := target.Location()
	from := audit.Midnight(target, loc)
	to := audit.Midnight(now, loc)
	days := 0
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		days++
	}
	return days
}
