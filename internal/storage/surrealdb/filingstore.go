package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

// filingSelectFields aliases filing_id to id for struct mapping.
const filingSelectFields = "filing_id AS id, company_id, cik, accession_no, form_type, filed_date, report_date, url, raw_content, summary, key_highlights, material_changes, risk_factor_changes, business_changes, is_processed, created_at, updated_at"

// sectionSelectFields aliases seq to the model's order field (ORDER is a
// reserved word in SurrealQL, so rows store seq).
const sectionSelectFields = "filing_id, type, name, seq AS `order`, line_start, line_end, content"

// FilingStore implements interfaces.FilingStore using SurrealDB.
type FilingStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewFilingStore creates a new FilingStore.
func NewFilingStore(db *surrealdb.DB, logger *common.Logger) *FilingStore {
	return &FilingStore{db: db, logger: logger}
}

// Save creates or updates the filing record, deduped on (cik, accession_no).
func (s *FilingStore) Save(ctx context.Context, filing *models.Filing) (*models.Filing, error) {
	existing, err := s.GetByAccession(ctx, filing.CIK, filing.AccessionNo)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if existing != nil {
		filing.ID = existing.ID
		filing.CreatedAt = existing.CreatedAt
	} else {
		if filing.ID == "" {
			filing.ID = uuid.New().String()
		}
		filing.CreatedAt = now
	}
	filing.UpdatedAt = now

	sql := `UPSERT $rid SET
		filing_id = $filing_id, company_id = $company_id, cik = $cik,
		accession_no = $accession_no, form_type = $form_type,
		filed_date = $filed_date, report_date = $report_date, url = $url,
		raw_content = $raw_content, summary = $summary, key_highlights = $key_highlights,
		material_changes = $material_changes, risk_factor_changes = $risk_factor_changes,
		business_changes = $business_changes, is_processed = $is_processed,
		created_at = $created_at, updated_at = $updated_at`
	vars := map[string]any{
		"rid":                 surrealmodels.NewRecordID("filing", filing.ID),
		"filing_id":           filing.ID,
		"company_id":          filing.CompanyID,
		"cik":                 filing.CIK,
		"accession_no":        filing.AccessionNo,
		"form_type":           filing.FormType,
		"filed_date":          filing.FiledDate,
		"report_date":         filing.ReportDate,
		"url":                 filing.URL,
		"raw_content":         filing.RawContent,
		"summary":             filing.Summary,
		"key_highlights":      filing.KeyHighlights,
		"material_changes":    filing.MaterialChanges,
		"risk_factor_changes": filing.RiskFactorChanges,
		"business_changes":    filing.BusinessChanges,
		"is_processed":        filing.IsProcessed,
		"created_at":          filing.CreatedAt,
		"updated_at":          filing.UpdatedAt,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return nil, fmt.Errorf("failed to save filing: %w", err)
	}
	return filing, nil
}

func (s *FilingStore) GetByID(ctx context.Context, id string) (*models.Filing, error) {
	sql := "SELECT " + filingSelectFields + " FROM filing WHERE filing_id = $id LIMIT 1"
	return s.queryOne(ctx, sql, map[string]any{"id": id})
}

func (s *FilingStore) GetByAccession(ctx context.Context, cik, accessionNo string) (*models.Filing, error) {
	sql := "SELECT " + filingSelectFields + " FROM filing WHERE cik = $cik AND accession_no = $acc LIMIT 1"
	return s.queryOne(ctx, sql, map[string]any{"cik": cik, "acc": accessionNo})
}

// List returns filings matching the filter, newest first by default.
func (s *FilingStore) List(ctx context.Context, filter interfaces.FilingListFilter) ([]*models.Filing, error) {
	sql := "SELECT " + filingSelectFields + " FROM filing"
	vars := map[string]any{}

	where := ""
	and := func(cond string) {
		if where == "" {
			where = " WHERE " + cond
		} else {
			where += " AND " + cond
		}
	}
	if filter.CIK != "" {
		and("cik = $cik")
		vars["cik"] = filter.CIK
	}
	if filter.CompanyID != "" {
		and("company_id = $company_id")
		vars["company_id"] = filter.CompanyID
	}
	if filter.FormType != "" {
		and("form_type = $form_type")
		vars["form_type"] = filter.FormType
	}
	if !filter.DateFrom.IsZero() {
		and("filed_date >= $date_from")
		vars["date_from"] = filter.DateFrom
	}
	if !filter.DateTo.IsZero() {
		and("filed_date <= $date_to")
		vars["date_to"] = filter.DateTo
	}
	if filter.MaterialChangesOnly {
		and("material_changes > 0")
	}
	sql += where

	sortBy := "filed_date"
	if filter.SortBy == "material_changes" {
		sortBy = "material_changes"
	}
	sortOrder := "DESC"
	if filter.SortOrder == "asc" {
		sortOrder = "ASC"
	}
	sql += fmt.Sprintf(" ORDER BY %s %s", sortBy, sortOrder)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	sql += " LIMIT $limit"
	vars["limit"] = limit

	results, err := surrealdb.Query[[]models.Filing](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list filings: %w", err)
	}

	var filings []*models.Filing
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			filings = append(filings, &(*results)[0].Result[i])
		}
	}
	return filings, nil
}

// PreviousComparable returns the latest prior processed filing of one of the
// given form types.
func (s *FilingStore) PreviousComparable(ctx context.Context, companyID string, formTypes []string, before time.Time) (*models.Filing, error) {
	sql := "SELECT " + filingSelectFields + ` FROM filing
		WHERE company_id = $company_id AND form_type IN $form_types
		AND filed_date < $before AND is_processed = true
		ORDER BY filed_date DESC LIMIT 1`
	vars := map[string]any{
		"company_id": companyID,
		"form_types": formTypes,
		"before":     before,
	}
	return s.queryOne(ctx, sql, vars)
}

// SaveProcessed atomically replaces the filing's sections and diffs, updates
// its counters, and marks it processed. One transaction: readers see either
// the pre-ingest snapshot or the fully processed one.
func (s *FilingStore) SaveProcessed(ctx context.Context, filing *models.Filing, sections []models.Section, diffs []models.Diff) error {
	now := time.Now()
	filing.IsProcessed = true
	filing.UpdatedAt = now

	sectionRows := make([]map[string]any, 0, len(sections))
	for _, sec := range sections {
		sectionRows = append(sectionRows, map[string]any{
			"filing_id":  filing.ID,
			"type":       sec.Type,
			"name":       sec.Name,
			"seq":        sec.Order,
			"line_start": sec.LineStart,
			"line_end":   sec.LineEnd,
			"content":    sec.Content,
		})
	}

	diffRows := make([]map[string]any, 0, len(diffs))
	for _, d := range diffs {
		id := d.ID
		if id == "" {
			id = uuid.New().String()
		}
		diffRows = append(diffRows, map[string]any{
			"diff_id":            id,
			"filing_id":          filing.ID,
			"previous_filing_id": d.PreviousFilingID,
			"section":            d.Section,
			"change_type":        d.ChangeType,
			"summary":            d.Summary,
			"impact":             d.Impact,
			"materiality_score":  d.MaterialityScore,
			"before_text":        d.BeforeText,
			"after_text":         d.AfterText,
			"line_number":        d.LineNumber,
		})
	}

	sql := `BEGIN TRANSACTION;
		UPDATE $rid SET
			summary = $summary, key_highlights = $key_highlights,
			material_changes = $material_changes, risk_factor_changes = $risk_factor_changes,
			business_changes = $business_changes, is_processed = true, updated_at = $now;
		DELETE FROM section WHERE filing_id = $filing_id;
		DELETE FROM diff WHERE filing_id = $filing_id;
		INSERT INTO section $sections;
		INSERT INTO diff $diffs;
		COMMIT TRANSACTION;`
	vars := map[string]any{
		"rid":                 surrealmodels.NewRecordID("filing", filing.ID),
		"filing_id":           filing.ID,
		"summary":             filing.Summary,
		"key_highlights":      filing.KeyHighlights,
		"material_changes":    filing.MaterialChanges,
		"risk_factor_changes": filing.RiskFactorChanges,
		"business_changes":    filing.BusinessChanges,
		"now":                 now,
		"sections":            sectionRows,
		"diffs":               diffRows,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save processed filing: %w", err)
	}
	return nil
}

func (s *FilingStore) GetSections(ctx context.Context, filingID string) ([]models.Section, error) {
	sql := "SELECT " + sectionSelectFields + " FROM section WHERE filing_id = $filing_id ORDER BY seq ASC"
	vars := map[string]any{"filing_id": filingID}

	results, err := surrealdb.Query[[]models.Section](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get sections: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

func (s *FilingStore) queryOne(ctx context.Context, sql string, vars map[string]any) (*models.Filing, error) {
	results, err := surrealdb.Query[[]models.Filing](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query filing: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// Compile-time check
var _ interfaces.FilingStore = (*FilingStore)(nil)
