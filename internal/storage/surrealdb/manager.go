// Package surrealdb implements the storage layer on SurrealDB: companies,
// filings with their sections and diffs, the durable job queue, watchlists,
// and the alert outbox.
package surrealdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/surrealdb/surrealdb.go"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
)

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db       *surrealdb.DB
	logger   *common.Logger
	dataPath string

	companyStore  *CompanyStore
	filingStore   *FilingStore
	diffStore     *DiffStore
	jobQueueStore *JobQueueStore
	watchStore    *WatchStore
	alertStore    *AlertStore
}

// NewManager connects to SurrealDB and bootstraps the schema.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx := context.Background()

	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	// Define tables up front (SurrealDB v3 errors on querying non-existent tables)
	tables := []string{"company", "filing", "section", "diff", "job_queue", "watchlist", "alert_rule", "alert_outbox"}
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	// Raw file output (sparkline charts, fetched documents)
	dataPath := config.Storage.DataPath
	if dataPath == "" {
		dataPath = "data"
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data path: %w", err)
	}

	m := &Manager{
		db:       db,
		logger:   logger,
		dataPath: dataPath,
	}

	m.companyStore = NewCompanyStore(db, logger)
	m.filingStore = NewFilingStore(db, logger)
	m.diffStore = NewDiffStore(db, logger)
	m.jobQueueStore = NewJobQueueStore(db, logger)
	m.watchStore = NewWatchStore(db, logger)
	m.alertStore = NewAlertStore(db, logger)

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

func (m *Manager) CompanyStore() interfaces.CompanyStore {
	return m.companyStore
}

func (m *Manager) FilingStore() interfaces.FilingStore {
	return m.filingStore
}

func (m *Manager) DiffStore() interfaces.DiffStore {
	return m.diffStore
}

func (m *Manager) JobQueueStore() interfaces.JobQueueStore {
	return m.jobQueueStore
}

func (m *Manager) WatchlistStore() interfaces.WatchlistStore {
	return m.watchStore
}

func (m *Manager) AlertStore() interfaces.AlertStore {
	return m.alertStore
}

func (m *Manager) DataPath() string {
	return m.dataPath
}

// WriteRaw writes binary data under the data path atomically
// (temp file + rename).
func (m *Manager) WriteRaw(subdir, key string, data []byte) error {
	dir := filepath.Join(m.dataPath, subdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	target := filepath.Join(dir, key)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to rename to %s: %w", target, err)
	}
	return nil
}

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
