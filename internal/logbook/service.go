// Package logbook holds the application state of the maintenance logbook:
// the current entry set, the last notice and the refresh and submit flows
// that change them.
package logbook

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/smartdevs17/machine-logger/internal/audit"
	"github.com/smartdevs17/machine-logger/internal/metrics"
	"github.com/smartdevs17/machine-logger/internal/models"
	"github.com/smartdevs17/machine-logger/internal/notification"
	"github.com/smartdevs17/machine-logger/internal/remote"
	"github.com/smartdevs17/machine-logger/internal/storage"
	"github.com/smartdevs17/machine-logger/pkg/utils"
)

// NoticeTTL is how long a notice stays visible
const NoticeTTL = 4 * time.Second

// Notice texts
const (
	MsgLoadFailed = "failed to load data, check the connection or the script deployment"
	MsgSendFailed = "an error occurred while sending the data"
)

// Options wires the service dependencies. Cache, Notifier and Metrics are optional.
type Options struct {
	Remote   remote.Store
	Cache    storage.Storage
	Deriver  *audit.Deriver
	Notifier notification.Notifier
	Metrics  *metrics.PrometheusMetrics
	Now      func() time.Time
}

// SubmitRequest is a cleaning event entered by an operator
type SubmitRequest struct {
	Machine  string `json:"machine"`
	Operator string `json:"operator"`
	// Date is YYYY-MM-DD; blank means today
	Date string `json:"date"`
}

// SubmitResult is the outcome of a successful submission
type SubmitResult struct {
	Entry  models.LogEntry `json:"entry"`
	Ack    *remote.Ack     `json:"ack"`
	Notice *models.Notice  `json:"notice"`
}

// RefreshResult is the outcome of a refresh
type RefreshResult struct {
	Entries   []models.LogEntry `json:"-"`
	Count     int               `json:"count"`
	FromCache bool              `json:"from_cache"`
	Notice    *models.Notice    `json:"notice,omitempty"`
}

// State is a snapshot of the service state
type State struct {
	Entries     int            `json:"entries"`
	Loaded      bool           `json:"loaded"`
	Loading     bool           `json:"loading"`
	FromCache   bool           `json:"from_cache"`
	LastRefresh *time.Time     `json:"last_refresh,omitempty"`
	Notice      *models.Notice `json:"notice,omitempty"`
}

// Service is the logbook application service
type Service struct {
	remote   remote.Store
	cache    storage.Storage
	deriver  *audit.Deriver
	notifier notification.Notifier
	metrics  *metrics.PrometheusMetrics
	logger   *logrus.Entry
	now      func() time.Time

	group singleflight.Group

	mu          sync.RWMutex
	entries     []models.LogEntry
	notice      *models.Notice
	lastRefresh time.Time
	loaded      bool
	loading     bool
	fromCache   bool
}

// NewService creates a logbook service
func NewService(opts Options) *Service {
	if opts.Deriver == nil {
		opts.Deriver = audit.NewDeriver(time.Local)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		remote:   opts.Remote,
		cache:    opts.Cache,
		deriver:  opts.Deriver,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   utils.ComponentLogger("logbook"),
		now:      opts.Now,
		entries:  []models.LogEntry{},
	}
}

// Refresh reloads the entry set from the remote store. Concurrent callers
// share one fetch. When the fetch fails the cached set is served with an
// error notice; the error is returned only if the cache is unusable too.
func (s *Service) Refresh(ctx context.Context) (*RefreshResult, error) {
	ch := s.group.DoChan("refresh", func() (interface{}, error) {
		return s.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RefreshResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) refresh(ctx context.Context) (*RefreshResult, error) {
	s.setLoading(true)
	defer s.setLoading(false)

	entries, err := s.remote.List(ctx)
	if err == nil {
		return s.applyRemote(ctx, entries), nil
	}

	s.logger.WithError(err).Error("Failed to fetch logbook, falling back to cache")
	notice := models.NewNotice(models.NoticeError, MsgLoadFailed)
	notice.CreatedAt = s.now()

	if s.cache == nil {
		s.setNotice(notice)
		return nil, fmt.Errorf("fetch logbook: %w", err)
	}

	cached, cerr := s.cache.GetEntries(ctx)
	if cerr != nil {
		s.logger.WithError(cerr).Error("Failed to read logbook cache")
		s.setNotice(notice)
		return nil, fmt.Errorf("fetch logbook: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordCacheFallback()
	}

	s.mu.Lock()
	if len(cached) > 0 || !s.loaded {
		s.entries = cached
	}
	s.loaded = true
	s.fromCache = true
	s.notice = notice
	current := s.entries
	s.mu.Unlock()

	s.updateMetrics(current)

	return &RefreshResult{
		Entries:   current,
		Count:     len(current),
		FromCache: true,
		Notice:    notice,
	}, nil
}

func (s *Service) applyRemote(ctx context.Context, entries []models.LogEntry) *RefreshResult {
	if s.cache != nil {
		if err := s.cache.ReplaceEntries(ctx, entries); err != nil {
			s.logger.WithError(err).Warn("Failed to update logbook cache")
		}
	}

	at := s.now()
	s.mu.Lock()
	s.entries = entries
	s.loaded = true
	s.fromCache = false
	s.lastRefresh = at
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordRefresh(at)
	}
	summaries := s.updateMetrics(entries)

	if s.notifier != nil {
		if err := s.notifier.NotifyOverdue(ctx, summaries); err != nil {
			s.logger.WithError(err).Warn("Failed to deliver overdue notifications")
		}
	}

	s.logger.WithField("count", len(entries)).Info("Logbook refreshed")
	return &RefreshResult{Entries: entries, Count: len(entries)}
}

// Submit validates req, appends it to the remote store and, once accepted,
// prepends it to the local entry set as a provisional entry.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	entry, err := s.buildEntry(req)
	if err != nil {
		s.failSubmission(err.Message)
		return nil, err
	}

	ack, aerr := s.remote.Append(ctx, entry)
	if aerr != nil {
		s.logger.WithError(aerr).WithField("machine", entry.MachineID).Error("Failed to submit entry")
		s.failSubmission(MsgSendFailed)
		return nil, fmt.Errorf("submit entry: %w", aerr)
	}

	notice := models.NewNotice(models.NoticeSuccess, fmt.Sprintf("data for machine %s sent", entry.MachineID))
	notice.CreatedAt = s.now()

	s.mu.Lock()
	entries := make([]models.LogEntry, 0, len(s.entries)+1)
	entries = append(entries, entry)
	entries = append(entries, s.entries...)
	s.entries = entries
	s.notice = notice
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.AppendEntry(ctx, entry, true); err != nil {
			s.logger.WithError(err).Warn("Failed to cache submitted entry")
		}
	}

	if s.metrics != nil {
		s.metrics.RecordSubmission("success")
	}
	s.updateMetrics(entries)

	s.logger.WithFields(logrus.Fields{
		"machine":  entry.MachineID,
		"operator": entry.OperatorName,
		"date":     entry.CleaningDate,
		"verified": ack.Verified,
	}).Info("Cleaning entry submitted")

	return &SubmitResult{Entry: entry, Ack: ack, Notice: notice}, nil
}

// buildEntry validates req and turns it into a LogEntry
func (s *Service) buildEntry(req SubmitRequest) (models.LogEntry, *utils.AppError) {
	machine := strings.ToUpper(strings.TrimSpace(req.Machine))
	operator := strings.TrimSpace(req.Operator)
	date := strings.TrimSpace(req.Date)

	if machine == "" {
		return models.LogEntry{}, utils.NewAppError(utils.ErrCodeValidation, "machine number is required")
	}
	if operator == "" {
		return models.LogEntry{}, utils.NewAppError(utils.ErrCodeValidation, "operator name is required")
	}

	now := s.now().In(s.deriver.Location())
	if date == "" {
		date = now.Format(audit.DateLayout)
	} else if _, err := time.ParseInLocation(audit.DateLayout, date, s.deriver.Location()); err != nil {
		return models.LogEntry{}, utils.NewAppError(utils.ErrCodeValidation,
			"cleaning date must be YYYY-MM-DD", date)
	}

	return models.LogEntry{
		SystemTimestamp: audit.FormatSystemTimestamp(now),
		MachineID:       machine,
		OperatorName:    operator,
		CleaningDate:    date,
	}, nil
}

func (s *Service) failSubmission(text string) {
	notice := models.NewNotice(models.NoticeError, text)
	notice.CreatedAt = s.now()
	s.setNotice(notice)

	if s.metrics != nil {
		s.metrics.RecordSubmission("error")
	}
}

// History derives the current entry set, most recent first, keeping
// machines whose id contains query.
func (s *Service) History(ctx context.Context, query string) ([]models.DerivedLogEntry, error) {
	entries, err := s.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	return audit.FilterByMachine(s.deriver.Derive(entries), query), nil
}

// Machines summarizes the latest cleaning of every machine
func (s *Service) Machines(ctx context.Context) ([]models.MachineSummary, error) {
	entries, err := s.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	return audit.Summarize(s.deriver.Derive(entries)), nil
}

// Entries returns the current entry set without deriving it
func (s *Service) Entries() []models.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries
}

// Notice returns the current notice, or nil once it has expired
func (s *Service) Notice() *models.Notice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visibleNotice()
}

// State returns a snapshot of the service state
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := State{
		Entries:   len(s.entries),
		Loaded:    s.loaded,
		Loading:   s.loading,
		FromCache: s.fromCache,
		Notice:    s.visibleNotice(),
	}
	if !s.lastRefresh.IsZero() {
		at := s.lastRefresh
		state.LastRefresh = &at
	}
	return state
}

// Deriver returns the deriver used for history
func (s *Service) Deriver() *audit.Deriver {
	return s.deriver
}

func (s *Service) ensureLoaded(ctx context.Context) ([]models.LogEntry, error) {
	s.mu.RLock()
	loaded := s.loaded
	entries := s.entries
	s.mu.RUnlock()

	if loaded {
		return entries, nil
	}

	res, err := s.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// visibleNotice must be called with mu held
func (s *Service) visibleNotice() *models.Notice {
	if s.notice == nil || s.now().Sub(s.notice.CreatedAt) > NoticeTTL {
		return nil
	}
	notice := *s.notice
	return &notice
}

func (s *Service) setNotice(notice *models.Notice) {
	s.mu.Lock()
	s.notice = notice
	s.mu.Unlock()
}

func (s *Service) setLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.mu.Unlock()
}

func (s *Service) updateMetrics(entries []models.LogEntry) []models.MachineSummary {
	derived := s.deriver.Derive(entries)
	summaries := audit.Summarize(derived)
	if s.metrics != nil {
		s.metrics.UpdateLogbook(len(entries), len(derived), len(audit.Overdue(summaries)))
	}
	return summaries
}
