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

// watchlistSelectFields aliases watchlist_id to id for struct mapping.
const watchlistSelectFields = "watchlist_id AS id, user_id, company_id, alert_types, price_change_threshold, is_active, created_at, updated_at"

// ruleSelectFields aliases rule_id to id for struct mapping.
const ruleSelectFields = "rule_id AS id, user_id, alert_type, method, recipient, is_enabled, threshold, frequency, quiet_hours"

// WatchStore implements interfaces.WatchlistStore using SurrealDB.
type WatchStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewWatchStore creates a new WatchStore.
func NewWatchStore(db *surrealdb.DB, logger *common.Logger) *WatchStore {
	return &WatchStore{db: db, logger: logger}
}

// UpsertWatchlist creates or replaces the (user, company) watchlist.
func (s *WatchStore) UpsertWatchlist(ctx context.Context, wl *models.Watchlist) (*models.Watchlist, error) {
	existing, err := s.GetWatchlist(ctx, wl.UserID, wl.CompanyID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if existing != nil {
		wl.ID = existing.ID
		wl.CreatedAt = existing.CreatedAt
	} else {
		if wl.ID == "" {
			wl.ID = uuid.New().String()
		}
		wl.CreatedAt = now
	}
	wl.UpdatedAt = now

	sql := `UPSERT $rid SET
		watchlist_id = $watchlist_id, user_id = $user_id, company_id = $company_id,
		alert_types = $alert_types, price_change_threshold = $price_change_threshold,
		is_active = $is_active, created_at = $created_at, updated_at = $updated_at`
	vars := map[string]any{
		"rid":                    surrealmodels.NewRecordID("watchlist", wl.ID),
		"watchlist_id":           wl.ID,
		"user_id":                wl.UserID,
		"company_id":             wl.CompanyID,
		"alert_types":            wl.AlertTypes,
		"price_change_threshold": wl.PriceChangeThreshold,
		"is_active":              wl.IsActive,
		"created_at":             wl.CreatedAt,
		"updated_at":             wl.UpdatedAt,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return nil, fmt.Errorf("failed to upsert watchlist: %w", err)
	}
	return wl, nil
}

func (s *WatchStore) GetWatchlist(ctx context.Context, userID, companyID string) (*models.Watchlist, error) {
	sql := "SELECT " + watchlistSelectFields + " FROM watchlist WHERE user_id = $user_id AND company_id = $company_id LIMIT 1"
	vars := map[string]any{"user_id": userID, "company_id": companyID}

	results, err := surrealdb.Query[[]models.Watchlist](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

func (s *WatchStore) ListByCompany(ctx context.Context, companyID string, activeOnly bool) ([]*models.Watchlist, error) {
	sql := "SELECT " + watchlistSelectFields + " FROM watchlist WHERE company_id = $company_id"
	if activeOnly {
		sql += " AND is_active = true"
	}
	return s.queryWatchlists(ctx, sql, map[string]any{"company_id": companyID})
}

func (s *WatchStore) ListByUser(ctx context.Context, userID string) ([]*models.Watchlist, error) {
	sql := "SELECT " + watchlistSelectFields + " FROM watchlist WHERE user_id = $user_id ORDER BY created_at ASC"
	return s.queryWatchlists(ctx, sql, map[string]any{"user_id": userID})
}

func (s *WatchStore) DeleteWatchlist(ctx context.Context, userID, companyID string) error {
	sql := "DELETE FROM watchlist WHERE user_id = $user_id AND company_id = $company_id"
	vars := map[string]any{"user_id": userID, "company_id": companyID}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to delete watchlist: %w", err)
	}
	return nil
}

// SaveRule creates or replaces an alert rule.
func (s *WatchStore) SaveRule(ctx context.Context, rule *models.AlertRule) (*models.AlertRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	sql := `UPSERT $rid SET
		rule_id = $rule_id, user_id = $user_id, alert_type = $alert_type,
		method = $method, recipient = $recipient, is_enabled = $is_enabled,
		threshold = $threshold, frequency = $frequency, quiet_hours = $quiet_hours`
	vars := map[string]any{
		"rid":         surrealmodels.NewRecordID("alert_rule", rule.ID),
		"rule_id":     rule.ID,
		"user_id":     rule.UserID,
		"alert_type":  rule.AlertType,
		"method":      rule.Method,
		"recipient":   rule.Recipient,
		"is_enabled":  rule.IsEnabled,
		"threshold":   rule.Threshold,
		"frequency":   rule.Frequency,
		"quiet_hours": rule.QuietHours,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return nil, fmt.Errorf("failed to save alert rule: %w", err)
	}
	return rule, nil
}

// ListRules returns a user's rules, optionally filtered by alert type.
func (s *WatchStore) ListRules(ctx context.Context, userID, alertType string) ([]*models.AlertRule, error) {
	sql := "SELECT " + ruleSelectFields + " FROM alert_rule WHERE user_id = $user_id"
	vars := map[string]any{"user_id": userID}
	if alertType != "" {
		sql += " AND alert_type = $alert_type"
		vars["alert_type"] = alertType
	}

	results, err := surrealdb.Query[[]models.AlertRule](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}

	var rules []*models.AlertRule
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			rules = append(rules, &(*results)[0].Result[i])
		}
	}
	return rules, nil
}

func (s *WatchStore) DeleteRule(ctx context.Context, id string) error {
	sql := "DELETE $rid"
	vars := map[string]any{"rid": surrealmodels.NewRecordID("alert_rule", id)}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}
	return nil
}

func (s *WatchStore) queryWatchlists(ctx context.Context, sql string, vars map[string]any) ([]*models.Watchlist, error) {
	results, err := surrealdb.Query[[]models.Watchlist](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlists: %w", err)
	}

	var watchlists []*models.Watchlist
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			watchlists = append(watchlists, &(*results)[0].Result[i])
		}
	}
	return watchlists, nil
}

// Compile-time check
var _ interfaces.WatchlistStore = (*WatchStore)(nil)
