package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

// diffSelectFields aliases diff_id to id for struct mapping.
const diffSelectFields = "diff_id AS id, filing_id, previous_filing_id, section, change_type, summary, impact, materiality_score, before_text, after_text, line_number"

// DiffStore implements interfaces.DiffStore using SurrealDB. Diffs are
// written by FilingStore.SaveProcessed; this store is the read path.
type DiffStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewDiffStore creates a new DiffStore.
func NewDiffStore(db *surrealdb.DB, logger *common.Logger) *DiffStore {
	return &DiffStore{db: db, logger: logger}
}

// ListByFiling returns a filing's diffs at or above the score floor, highest
// scores first.
func (s *DiffStore) ListByFiling(ctx context.Context, filingID string, minScore float64) ([]models.Diff, error) {
	sql := "SELECT " + diffSelectFields + ` FROM diff
		WHERE filing_id = $filing_id AND materiality_score >= $min_score
		ORDER BY materiality_score DESC`
	vars := map[string]any{"filing_id": filingID, "min_score": minScore}

	results, err := surrealdb.Query[[]models.Diff](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list diffs: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

func (s *DiffStore) CountByFiling(ctx context.Context, filingID string, minScore float64) (int, error) {
	sql := "SELECT count() AS cnt FROM diff WHERE filing_id = $filing_id AND materiality_score >= $min_score GROUP ALL"
	vars := map[string]any{"filing_id": filingID, "min_score": minScore}

	type countResult struct {
		Cnt int `json:"cnt"`
	}

	results, err := surrealdb.Query[[]countResult](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to count diffs: %w", err)
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Cnt, nil
	}
	return 0, nil
}

// Compile-time check
var _ interfaces.DiffStore = (*DiffStore)(nil)
