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

// companySelectFields aliases company_id to id for struct mapping.
const companySelectFields = "company_id AS id, cik, symbol, name, sic, industry, is_active, last_polled_at, created_at, updated_at"

// CompanyStore implements interfaces.CompanyStore using SurrealDB.
type CompanyStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewCompanyStore creates a new CompanyStore.
func NewCompanyStore(db *surrealdb.DB, logger *common.Logger) *CompanyStore {
	return &CompanyStore{db: db, logger: logger}
}

// Upsert creates or updates a company keyed on CIK. Non-empty existing
// symbol/name are never overwritten with empty values.
func (s *CompanyStore) Upsert(ctx context.Context, company *models.Company) (*models.Company, error) {
	existing, err := s.GetByCIK(ctx, company.CIK)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if existing != nil {
		company.ID = existing.ID
		company.CreatedAt = existing.CreatedAt
		company.LastPolledAt = existing.LastPolledAt
		if company.Symbol == "" {
			company.Symbol = existing.Symbol
		}
		if company.Name == "" {
			company.Name = existing.Name
		}
	} else {
		company.ID = uuid.New().String()
		company.CreatedAt = now
	}
	company.UpdatedAt = now

	sql := `UPSERT $rid SET
		company_id = $company_id, cik = $cik, symbol = $symbol, name = $name,
		sic = $sic, industry = $industry, is_active = $is_active,
		last_polled_at = $last_polled_at, created_at = $created_at, updated_at = $updated_at`
	vars := map[string]any{
		"rid":            surrealmodels.NewRecordID("company", company.ID),
		"company_id":     company.ID,
		"cik":            company.CIK,
		"symbol":         company.Symbol,
		"name":           company.Name,
		"sic":            company.SIC,
		"industry":       company.Industry,
		"is_active":      company.IsActive,
		"last_polled_at": company.LastPolledAt,
		"created_at":     company.CreatedAt,
		"updated_at":     company.UpdatedAt,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return nil, fmt.Errorf("failed to upsert company: %w", err)
	}
	return company, nil
}

func (s *CompanyStore) GetByID(ctx context.Context, id string) (*models.Company, error) {
	sql := "SELECT " + companySelectFields + " FROM company WHERE company_id = $id LIMIT 1"
	return s.queryOne(ctx, sql, map[string]any{"id": id})
}

func (s *CompanyStore) GetByCIK(ctx context.Context, cik string) (*models.Company, error) {
	sql := "SELECT " + companySelectFields + " FROM company WHERE cik = $cik LIMIT 1"
	return s.queryOne(ctx, sql, map[string]any{"cik": cik})
}

func (s *CompanyStore) GetBySymbol(ctx context.Context, symbol string) (*models.Company, error) {
	sql := "SELECT " + companySelectFields + " FROM company WHERE symbol = $symbol LIMIT 1"
	return s.queryOne(ctx, sql, map[string]any{"symbol": symbol})
}

func (s *CompanyStore) ListActive(ctx context.Context) ([]*models.Company, error) {
	sql := "SELECT " + companySelectFields + " FROM company WHERE is_active = true ORDER BY cik ASC"

	results, err := surrealdb.Query[[]models.Company](ctx, s.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list active companies: %w", err)
	}

	var companies []*models.Company
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			companies = append(companies, &(*results)[0].Result[i])
		}
	}
	return companies, nil
}

func (s *CompanyStore) SetLastPolled(ctx context.Context, cik string, ts time.Time) error {
	sql := "UPDATE company SET last_polled_at = $ts, updated_at = $ts WHERE cik = $cik"
	vars := map[string]any{"cik": cik, "ts": ts}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to set last polled: %w", err)
	}
	return nil
}

// Deactivate removes a company from polling without destroying its history.
func (s *CompanyStore) Deactivate(ctx context.Context, cik string) error {
	sql := "UPDATE company SET is_active = false, updated_at = $now WHERE cik = $cik"
	vars := map[string]any{"cik": cik, "now": time.Now()}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to deactivate company: %w", err)
	}
	return nil
}

func (s *CompanyStore) queryOne(ctx context.Context, sql string, vars map[string]any) (*models.Company, error) {
	results, err := surrealdb.Query[[]models.Company](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query company: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// Compile-time check
var _ interfaces.CompanyStore = (*CompanyStore)(nil)
