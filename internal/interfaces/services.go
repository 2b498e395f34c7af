// Package interfaces defines service contracts for FilingWatch
package interfaces

import (
	"context"

	"github.com/bobmcallan/filingwatch/internal/models"
)

// IngestService processes one filing end-to-end: fetch, extract, compare,
// analyze, persist.
type IngestService interface {
	// IngestFiling runs the full pipeline for one accession number. Already
	// processed filings are skipped unless force is set. Returns the
	// persisted filing.
	IngestFiling(ctx context.Context, cik, accessionNo, formType string, force bool) (*models.Filing, error)

	// PollCompany checks EDGAR for filings newer than the company's last
	// poll and enqueues ingestion jobs for them. Returns the number queued.
	PollCompany(ctx context.Context, cik string) (int, error)
}

// ExtractService splits a filing body into tagged sections.
type ExtractService interface {
	// ExtractSections segments plain text into known sections for the form
	// type. Unmatched leading text on recognized forms is dropped; unknown
	// forms yield a single untyped section.
	ExtractSections(formType, text string) []models.Section
}

// AnalyzeService scores the materiality of a single section change.
type AnalyzeService interface {
	// ScoreChange computes a 0..1 materiality score with its reasoning.
	ScoreChange(sectionType, changeType, oldText, newText string) models.MaterialityResult
}

// DiffService compares two extracted filings section by section.
type DiffService interface {
	// CompareFilings aligns sections of current against previous and
	// produces scored per-section change records. Pure: no I/O, no clock.
	CompareFilings(current, previous *models.Filing, currentSections, previousSections []models.Section) *models.Comparison
}

// QuoteOptions configures a quote request.
type QuoteOptions struct {
	Period        string // sparkline period, default 1M
	ForceProvider string // bypass the chain, use only this provider
	SkipCache     bool
	AllowStale    bool // fall back to an expired cache entry when all providers fail
}

// QuoteService is the price adapter: provider chain, cache, stale fallback.
type QuoteService interface {
	GetQuote(ctx context.Context, symbol string, opts QuoteOptions) (*models.Quote, error)

	// RenderSparkline draws the quote's sparkline as a PNG.
	RenderSparkline(quote *models.Quote, width, height int) ([]byte, error)

	// Providers returns the configured chain order.
	Providers() []string
}

// AlertService materializes and delivers alerts.
type AlertService interface {
	// FanOut expands one processed filing into outbox alerts for every
	// matching watchlist/rule pair and enqueues delivery jobs. Returns the
	// number of alerts materialized (coalesced merges count zero).
	FanOut(ctx context.Context, filingID string) (int, error)

	// Deliver hands one outbox alert to the dispatcher. Failed deliveries
	// are retried by the job layer up to the alert's attempt budget.
	Deliver(ctx context.Context, alertID string) error

	// EvaluatePriceChange materializes price-change alerts for a symbol
	// whose daily move crossed watcher thresholds.
	EvaluatePriceChange(ctx context.Context, symbol string, changePercent float64) (int, error)
}

// WatchlistService manages user watchlists and alert rules.
type WatchlistService interface {
	AddToWatchlist(ctx context.Context, userID, symbol string, alertTypes []string, priceThreshold float64) (*models.Watchlist, error)
	RemoveFromWatchlist(ctx context.Context, userID, symbol string) error
	GetUserWatchlists(ctx context.Context, userID string) ([]*models.Watchlist, error)

	SaveAlertRule(ctx context.Context, rule *models.AlertRule) (*models.AlertRule, error)
	GetAlertRules(ctx context.Context, userID string) ([]*models.AlertRule, error)
	DeleteAlertRule(ctx context.Context, id string) error
}

// JobManager runs the durable job queue: workers, retries, the reaper, and
// the polling scheduler.
type JobManager interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Submit enqueues a job, applying type defaults for priority and
	// deadline. Returns the job id (existing id on dedup absorption).
	Submit(ctx context.Context, job *models.Job) (string, error)

	Stats(ctx context.Context) (*models.QueueStats, error)

	// Subscribe registers a listener for job lifecycle events.
	Subscribe(ch chan<- models.JobEvent) func()
}

// Scheduler triggers periodic work: company polling, outbox drains, queue
// cleanup.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop() error
}
