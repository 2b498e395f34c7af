// Package interfaces defines service contracts for FilingWatch
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/filingwatch/internal/models"
)

// StorageManager coordinates all storage backends
type StorageManager interface {
	CompanyStore() CompanyStore
	FilingStore() FilingStore
	DiffStore() DiffStore
	JobQueueStore() JobQueueStore
	WatchlistStore() WatchlistStore
	AlertStore() AlertStore

	// DataPath returns the base data directory (raw file output, charts).
	DataPath() string

	// WriteRaw writes arbitrary binary data under a subdirectory atomically.
	WriteRaw(subdir, key string, data []byte) error

	// Lifecycle
	Close() error
}

// CompanyStore manages tracked EDGAR filers.
type CompanyStore interface {
	// Upsert creates or updates a company keyed on CIK. Non-empty existing
	// symbol/name fields are never overwritten with empty values.
	Upsert(ctx context.Context, company *models.Company) (*models.Company, error)
	GetByID(ctx context.Context, id string) (*models.Company, error)
	GetByCIK(ctx context.Context, cik string) (*models.Company, error)
	GetBySymbol(ctx context.Context, symbol string) (*models.Company, error)
	ListActive(ctx context.Context) ([]*models.Company, error)
	SetLastPolled(ctx context.Context, cik string, ts time.Time) error
	Deactivate(ctx context.Context, cik string) error
}

// FilingListFilter narrows filing list queries for the read-path.
type FilingListFilter struct {
	CIK                 string
	CompanyID           string
	FormType            string
	DateFrom            time.Time
	DateTo              time.Time
	MaterialChangesOnly bool
	SortBy              string // "filed_date" (default), "material_changes"
	SortOrder           string // "desc" (default), "asc"
	Limit               int
}

// FilingStore manages filings, their sections, and the processed-write
// transaction.
type FilingStore interface {
	Save(ctx context.Context, filing *models.Filing) (*models.Filing, error)
	GetByID(ctx context.Context, id string) (*models.Filing, error)
	GetByAccession(ctx context.Context, cik, accessionNo string) (*models.Filing, error)
	List(ctx context.Context, filter FilingListFilter) ([]*models.Filing, error)

	// PreviousComparable returns the latest prior filing of the same company
	// matching one of the given form types, filed before the given date.
	PreviousComparable(ctx context.Context, companyID string, formTypes []string, before time.Time) (*models.Filing, error)

	// SaveProcessed atomically replaces the filing's sections and diffs,
	// updates its counters, and marks it processed. Readers observe either
	// the pre-ingest snapshot or the fully processed one.
	SaveProcessed(ctx context.Context, filing *models.Filing, sections []models.Section, diffs []models.Diff) error

	GetSections(ctx context.Context, filingID string) ([]models.Section, error)
}

// DiffStore reads persisted per-section change records.
type DiffStore interface {
	ListByFiling(ctx context.Context, filingID string, minScore float64) ([]models.Diff, error)
	CountByFiling(ctx context.Context, filingID string, minScore float64) (int, error)
}

// JobQueueStore manages the persistent job queue
type JobQueueStore interface {
	// Enqueue inserts a job, returning its id. When the job carries a
	// dedup key and a non-terminal job with that key exists, the existing
	// id is returned and no duplicate is created.
	Enqueue(ctx context.Context, job *models.Job) (string, error)

	// EnqueueMany enqueues a batch atomically.
	EnqueueMany(ctx context.Context, jobs []*models.Job) error

	// Dequeue atomically claims the highest-priority pending job whose
	// scheduled_for is due, marking it running. Returns nil when none.
	Dequeue(ctx context.Context, now time.Time) (*models.Job, error)

	Complete(ctx context.Context, id string, result map[string]any, durationMS int64) error

	// Retry returns a failed job to pending with its retry count bumped
	// and scheduled_for pushed forward.
	Retry(ctx context.Context, id string, retryCount int, errMsg string, scheduledFor time.Time) error

	Fail(ctx context.Context, id string, errMsg string, durationMS int64) error

	// Release returns a claimed job to pending without consuming a retry
	// (cooperative shutdown / cancellation).
	Release(ctx context.Context, id string, scheduledFor time.Time) error

	Heartbeat(ctx context.Context, id string, ts time.Time) error

	// ReapStuck returns running jobs whose heartbeat is older than the
	// cutoff to pending (worker death recovery).
	ReapStuck(ctx context.Context, cutoff time.Time) (int, error)

	Get(ctx context.Context, id string) (*models.Job, error)
	Stats(ctx context.Context) (*models.QueueStats, error)
	ListPending(ctx context.Context, limit int) ([]*models.Job, error)
	PurgeTerminal(ctx context.Context, olderThan time.Time) (int, error)
}

// WatchlistStore manages watchlists and alert rules.
type WatchlistStore interface {
	UpsertWatchlist(ctx context.Context, wl *models.Watchlist) (*models.Watchlist, error)
	GetWatchlist(ctx context.Context, userID, companyID string) (*models.Watchlist, error)
	ListByCompany(ctx context.Context, companyID string, activeOnly bool) ([]*models.Watchlist, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Watchlist, error)
	DeleteWatchlist(ctx context.Context, userID, companyID string) error

	SaveRule(ctx context.Context, rule *models.AlertRule) (*models.AlertRule, error)
	ListRules(ctx context.Context, userID, alertType string) ([]*models.AlertRule, error)
	DeleteRule(ctx context.Context, id string) error
}

// AlertStore manages the append-only alert outbox.
type AlertStore interface {
	// Append inserts an outbox alert. When an alert with the same dedup
	// key already exists, the existing alert is returned unchanged.
	Append(ctx context.Context, alert *models.OutboxAlert) (*models.OutboxAlert, error)

	Get(ctx context.Context, id string) (*models.OutboxAlert, error)

	// FindCoalescible returns a pending alert for the same
	// (user, method, alert type) scheduled inside the given bucket, if any.
	FindCoalescible(ctx context.Context, userID, method, alertType string, bucketStart, bucketEnd time.Time) (*models.OutboxAlert, error)

	// AppendBody appends text to a pending alert's body (frequency
	// coalescing).
	AppendBody(ctx context.Context, id, text string) error

	// MarkAttempt records a failed delivery attempt on a still-pending
	// alert: attempts and the last error update, status stays PENDING.
	MarkAttempt(ctx context.Context, id string, attempts int, errMsg string) error

	MarkSent(ctx context.Context, id string, attempts int) error

	// MarkFailed moves the alert to its terminal FAILED status. No later
	// transition leaves FAILED.
	MarkFailed(ctx context.Context, id string, attempts int, errMsg string) error
	ListPending(ctx context.Context, limit int) ([]*models.OutboxAlert, error)
}
