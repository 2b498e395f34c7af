// Package alert materializes outbox alerts for watchers of affected
// companies and drains them through the external dispatcher. Rule
// evaluation covers quiet hours, frequency coalescing, and dedup.
package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

const (
	materialThreshold  = 0.7
	defaultMaxAttempts = 3
)

// Service implements the AlertService interface.
type Service struct {
	storage    interfaces.StorageManager
	jobs       interfaces.JobManager
	dispatcher interfaces.AlertDispatcher
	quotes     interfaces.QuoteService
	logger     *common.Logger
	now        func() time.Time
}

// Option configures the alert service.
type Option func(*Service)

// WithQuotes attaches the price adapter used by the price-refresh handler.
func WithQuotes(quotes interfaces.QuoteService) Option {
	return func(s *Service) {
		s.quotes = quotes
	}
}

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates the alert fan-out and delivery service.
func NewService(storage interfaces.StorageManager, jobs interfaces.JobManager, dispatcher interfaces.AlertDispatcher, opts ...Option) *Service {
	s := &Service{
		storage:    storage,
		jobs:       jobs,
		dispatcher: dispatcher,
		logger:     common.NewSilentLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FanOut expands one processed filing into outbox alerts for every active
// watcher with a matching enabled rule. Returns the number of alerts
// materialized; coalesced merges count zero.
func (s *Service) FanOut(ctx context.Context, filingID string) (int, error) {
	filing, err := s.storage.FilingStore().GetByID(ctx, filingID)
	if err != nil {
		return 0, err
	}
	if filing == nil {
		return 0, common.NewError(common.KindNotFound, "filing not found: "+filingID)
	}

	diffs, err := s.storage.DiffStore().ListByFiling(ctx, filingID, materialThreshold)
	if err != nil {
		return 0, err
	}
	if len(diffs) == 0 {
		return 0, nil
	}
	sort.SliceStable(diffs, func(i, j int) bool {
		return diffs[i].MaterialityScore > diffs[j].MaterialityScore
	})

	company, err := s.storage.CompanyStore().GetByID(ctx, filing.CompanyID)
	if err != nil {
		return 0, err
	}
	companyName := filing.CIK
	if company != nil && company.Name != "" {
		companyName = company.Name
	}

	watchlists, err := s.storage.WatchlistStore().ListByCompany(ctx, filing.CompanyID, true)
	if err != nil {
		return 0, err
	}

	title := fmt.Sprintf("Material changes in %s %s", companyName, filing.FormType)
	body := fanoutBody(filing, diffs)
	dedupRef := filingID

	created := 0
	for _, wl := range watchlists {
		if !wl.WatchesAlertType(models.AlertTypeMaterialChange) {
			continue
		}
		rules, err := s.storage.WatchlistStore().ListRules(ctx, wl.UserID, models.AlertTypeMaterialChange)
		if err != nil {
			s.logger.Warn().Str("user_id", wl.UserID).Err(err).Msg("Failed to load alert rules")
			continue
		}
		for _, rule := range rules {
			if !rule.IsEnabled {
				continue
			}
			n, err := s.applyRule(ctx, rule, title, body, dedupRef)
			if err != nil {
				s.logger.Warn().
					Str("user_id", rule.UserID).
					Str("method", rule.Method).
					Err(err).
					Msg("Failed to materialize alert")
				continue
			}
			created += n
		}
	}

	s.logger.Info().
		Str("filing_id", filingID).
		Int("watchlists", len(watchlists)).
		Int("alerts", created).
		Msg("Alert fan-out complete")
	return created, nil
}

// applyRule evaluates one rule for one notification: quiet hours shift the
// schedule, non-immediate frequencies coalesce into an existing pending
// alert, everything else appends a deduped outbox row plus a DELIVER job.
// Returns 1 when a new alert was created.
func (s *Service) applyRule(ctx context.Context, rule *models.AlertRule, title, body, dedupRef string) (int, error) {
	now := s.now()
	scheduledFor := now
	if exit, inside := quietExit(rule.QuietHours, now); inside {
		scheduledFor = exit
	}

	if rule.Frequency != "" && rule.Frequency != models.FrequencyImmediate {
		bucketStart, bucketEnd := frequencyBucket(rule, now)
		existing, err := s.storage.AlertStore().FindCoalescible(ctx, rule.UserID, rule.Method, rule.AlertType, bucketStart, bucketEnd)
		if err != nil && common.KindOf(err) != common.KindNotFound {
			return 0, err
		}
		if existing != nil {
			if err := s.storage.AlertStore().AppendBody(ctx, existing.ID, "\n\n"+body); err != nil {
				return 0, err
			}
			s.logger.Debug().
				Str("alert_id", existing.ID).
				Str("frequency", rule.Frequency).
				Msg("Coalesced into pending alert")
			return 0, nil
		}
	}

	alert := &models.OutboxAlert{
		ID:           uuid.New().String(),
		UserID:       rule.UserID,
		AlertType:    rule.AlertType,
		Method:       rule.Method,
		Recipient:    rule.Recipient,
		Title:        title,
		Body:         body,
		Priority:     models.PriorityNormal,
		DedupKey:     models.AlertDedupKey(rule.UserID, rule.Method, dedupRef),
		ScheduledFor: scheduledFor,
		MaxAttempts:  defaultMaxAttempts,
		Status:       models.AlertStatusPending,
		CreatedAt:    now,
	}

	stored, err := s.storage.AlertStore().Append(ctx, alert)
	if err != nil {
		return 0, err
	}
	if stored.ID != alert.ID {
		// Absorbed by dedup key; the original's DELIVER job covers it.
		return 0, nil
	}

	params, err := models.EncodeParams(models.DeliverParams{AlertID: stored.ID})
	if err != nil {
		return 0, err
	}
	if _, err := s.jobs.Submit(ctx, &models.Job{
		JobType:      models.JobTypeDeliver,
		Parameters:   params,
		DedupKey:     "deliver:" + stored.ID,
		ScheduledFor: scheduledFor,
	}); err != nil {
		return 0, err
	}
	return 1, nil
}

// EvaluatePriceChange materializes price-change alerts for watchers whose
// threshold the day's move crossed.
func (s *Service) EvaluatePriceChange(ctx context.Context, symbol string, changePercent float64) (int, error) {
	company, err := s.storage.CompanyStore().GetBySymbol(ctx, symbol)
	if err != nil && common.KindOf(err) != common.KindNotFound {
		return 0, err
	}
	if company == nil {
		return 0, nil
	}

	watchlists, err := s.storage.WatchlistStore().ListByCompany(ctx, company.ID, true)
	if err != nil {
		return 0, err
	}

	magnitude := changePercent
	if magnitude < 0 {
		magnitude = -magnitude
	}
	direction := "up"
	if changePercent < 0 {
		direction = "down"
	}
	title := fmt.Sprintf("%s moved %s %.2f%%", symbol, direction, magnitude)
	body := fmt.Sprintf("%s (%s) is %s %.2f%% today.", company.Name, symbol, direction, magnitude)
	// Price moves dedup per symbol per day so a threshold crossed at 10:00
	// does not re-alert at every refresh.
	dedupRef := fmt.Sprintf("price:%s:%s", symbol, s.now().UTC().Format("2006-01-02"))

	created := 0
	for _, wl := range watchlists {
		if !wl.WatchesAlertType(models.AlertTypePriceChange) {
			continue
		}
		if wl.PriceChangeThreshold <= 0 || magnitude < wl.PriceChangeThreshold {
			continue
		}
		rules, err := s.storage.WatchlistStore().ListRules(ctx, wl.UserID, models.AlertTypePriceChange)
		if err != nil {
			continue
		}
		for _, rule := range rules {
			if !rule.IsEnabled {
				continue
			}
			if rule.Threshold > 0 && magnitude < rule.Threshold {
				continue
			}
			n, err := s.applyRule(ctx, rule, title, body, dedupRef)
			if err != nil {
				s.logger.Warn().Str("user_id", rule.UserID).Err(err).Msg("Failed to materialize price alert")
				continue
			}
			created += n
		}
	}
	return created, nil
}

// fanoutBody renders the material diffs into the alert body.
func fanoutBody(filing *models.Filing, diffs []models.Diff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s filed %s with %d material change(s):\n", filing.CIK, filing.FormType, len(diffs))
	for _, d := range diffs {
		fmt.Fprintf(&b, "- %s %s (score %.2f): %s\n", d.Section, d.ChangeType, d.MaterialityScore, d.Summary)
	}
	if filing.Summary != "" {
		b.WriteString("\n")
		b.WriteString(filing.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

// quietExit reports whether now falls inside the rule's quiet window and,
// if so, when the window next exits. Windows may cross midnight.
func quietExit(qh *models.QuietHours, now time.Time) (time.Time, bool) {
	if qh == nil || !qh.Enabled {
		return time.Time{}, false
	}
	loc, err := time.LoadLocation(qh.Timezone)
	if err != nil {
		loc = time.UTC
	}
	start, ok := parseClock(qh.Start)
	if !ok {
		return time.Time{}, false
	}
	end, ok := parseClock(qh.End)
	if !ok {
		return time.Time{}, false
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	if start <= end {
		// Same-day window, e.g. 09:00-17:00.
		if minute >= start && minute < end {
			return midnight.Add(time.Duration(end) * time.Minute), true
		}
		return time.Time{}, false
	}

	// Crossing midnight, e.g. 22:00-07:00.
	if minute >= start {
		return midnight.Add(24 * time.Hour).Add(time.Duration(end) * time.Minute), true
	}
	if minute < end {
		return midnight.Add(time.Duration(end) * time.Minute), true
	}
	return time.Time{}, false
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// frequencyBucket returns the coalescing window for a non-immediate rule:
// the current hour, local day, or ISO week in the rule's timezone.
func frequencyBucket(rule *models.AlertRule, now time.Time) (time.Time, time.Time) {
	loc := time.UTC
	if rule.QuietHours != nil && rule.QuietHours.Timezone != "" {
		if l, err := time.LoadLocation(rule.QuietHours.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	switch rule.Frequency {
	case models.FrequencyHourly:
		start := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
		return start, start.Add(time.Hour)
	case models.FrequencyWeekly:
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		// ISO weeks start Monday.
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	default: // DAILY
		start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 1)
	}
}

// Ensure Service implements AlertService
var _ interfaces.AlertService = (*Service)(nil)
