// Package interfaces defines service contracts for FilingWatch
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/filingwatch/internal/models"
)

// EdgarClient provides polite access to the SEC EDGAR endpoints.
type EdgarClient interface {
	// GetSubmissions retrieves the company header and its recent filings,
	// pivoted from EDGAR's parallel-array shape into records.
	GetSubmissions(ctx context.Context, cik string) (*models.CompanyInfo, []models.FilingMeta, error)

	// GetFilings retrieves filing metadata sorted by filed date descending.
	GetFilings(ctx context.Context, cik string, opts ...FilingOption) ([]models.FilingMeta, error)

	// GetFilingContent fetches a filing's index page and primary document body.
	GetFilingContent(ctx context.Context, cik, accessionNo string) (*models.FilingContent, error)

	// SearchCompanies queries the ticker catalogue by symbol or name fragment.
	SearchCompanies(ctx context.Context, query string) ([]models.CompanyMatch, error)
}

// FilingOption configures filing list requests
type FilingOption func(*FilingParams)

// FilingParams holds filing list query parameters
type FilingParams struct {
	Form   string
	After  time.Time
	Before time.Time
	Count  int
}

// WithForm filters by form type (e.g. "10-K")
func WithForm(form string) FilingOption {
	return func(p *FilingParams) {
		p.Form = form
	}
}

// WithAfter returns only filings filed after the given date
func WithAfter(after time.Time) FilingOption {
	return func(p *FilingParams) {
		p.After = after
	}
}

// WithBefore returns only filings filed before the given date
func WithBefore(before time.Time) FilingOption {
	return func(p *FilingParams) {
		p.Before = before
	}
}

// WithCount caps the number of filings returned
func WithCount(count int) FilingOption {
	return func(p *FilingParams) {
		p.Count = count
	}
}

// QuoteProvider is one upstream price source in the fallback chain.
type QuoteProvider interface {
	// Name returns the provider key used for bucket naming and audit.
	Name() string

	// GetQuote fetches and normalizes a quote. Implementations validate
	// before returning: a malformed response is an error, not a bad Quote.
	GetQuote(ctx context.Context, symbol, period string) (*models.Quote, error)
}

// SummaryClient generates filing summaries. Optional — ingestion proceeds
// without one and never fails on summarizer errors.
type SummaryClient interface {
	// SummarizeFiling produces a short summary and key highlight bullets
	// for a processed filing and its comparison.
	SummarizeFiling(ctx context.Context, filing *models.Filing, comparison *models.Comparison) (string, []string, error)
}

// AlertDispatcher hands outbox alerts to the external delivery system
// (email/SMS/push transports are out of scope). Not required to be
// idempotent; the core supplies dedup keys and retries failures.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, alert *models.OutboxAlert) (*models.DispatchReceipt, error)
}
