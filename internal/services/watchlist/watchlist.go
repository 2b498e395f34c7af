// Package watchlist manages user watchlists and alert rules, resolving
// symbols to companies through the store or the EDGAR ticker catalogue.
package watchlist

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

// Service implements the WatchlistService interface.
type Service struct {
	storage interfaces.StorageManager
	edgar   interfaces.EdgarClient
	logger  *common.Logger
	now     func() time.Time
}

// NewService creates the watchlist service.
func NewService(storage interfaces.StorageManager, edgar interfaces.EdgarClient, logger *common.Logger) *Service {
	return &Service{
		storage: storage,
		edgar:   edgar,
		logger:  logger,
		now:     time.Now,
	}
}

// AddToWatchlist subscribes a user to a company by ticker symbol. Unknown
// symbols are resolved against the EDGAR catalogue and the company record
// is created on first sight.
func (s *Service) AddToWatchlist(ctx context.Context, userID, symbol string, alertTypes []string, priceThreshold float64) (*models.Watchlist, error) {
	if userID == "" {
		return nil, common.NewError(common.KindValidation, "user id required")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, common.NewError(common.KindValidation, "symbol required")
	}
	if priceThreshold < 0 || priceThreshold > 100 {
		return nil, common.NewError(common.KindValidation, "price threshold must be between 0 and 100 percent")
	}
	for _, at := range alertTypes {
		switch at {
		case models.AlertTypeMaterialChange, models.AlertTypePriceChange, models.AlertTypeNewFiling:
		default:
			return nil, common.NewError(common.KindValidation, "unknown alert type: "+at)
		}
	}

	company, err := s.resolveSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	wl := &models.Watchlist{
		ID:                   uuid.New().String(),
		UserID:               userID,
		CompanyID:            company.ID,
		AlertTypes:           alertTypes,
		PriceChangeThreshold: priceThreshold,
		IsActive:             true,
		CreatedAt:            s.now(),
		UpdatedAt:            s.now(),
	}
	stored, err := s.storage.WatchlistStore().UpsertWatchlist(ctx, wl)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("symbol", symbol).
		Str("cik", company.CIK).
		Msg("Added to watchlist")
	return stored, nil
}

// resolveSymbol finds the tracked company for a ticker, consulting EDGAR
// when the symbol has never been seen.
func (s *Service) resolveSymbol(ctx context.Context, symbol string) (*models.Company, error) {
	company, err := s.storage.CompanyStore().GetBySymbol(ctx, symbol)
	if err != nil && common.KindOf(err) != common.KindNotFound {
		return nil, err
	}
	if company != nil {
		return company, nil
	}

	matches, err := s.edgar.SearchCompanies(ctx, symbol)
	if err != nil {
		return nil, err
	}
	for _, match := range matches {
		if !strings.EqualFold(match.Ticker, symbol) {
			continue
		}
		return s.storage.CompanyStore().Upsert(ctx, &models.Company{
			CIK:      models.NormalizeCIK(match.CIK),
			Symbol:   symbol,
			Name:     match.Name,
			IsActive: true,
		})
	}
	return nil, common.NewError(common.KindNotFound, "unknown symbol: "+symbol)
}

// RemoveFromWatchlist unsubscribes a user from a company by symbol.
func (s *Service) RemoveFromWatchlist(ctx context.Context, userID, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	company, err := s.storage.CompanyStore().GetBySymbol(ctx, symbol)
	if err != nil && common.KindOf(err) != common.KindNotFound {
		return err
	}
	if company == nil {
		return common.NewError(common.KindNotFound, "unknown symbol: "+symbol)
	}
	return s.storage.WatchlistStore().DeleteWatchlist(ctx, userID, company.ID)
}

// GetUserWatchlists lists a user's watchlists.
func (s *Service) GetUserWatchlists(ctx context.Context, userID string) ([]*models.Watchlist, error) {
	return s.storage.WatchlistStore().ListByUser(ctx, userID)
}

// SaveAlertRule validates and persists an alert rule.
func (s *Service) SaveAlertRule(ctx context.Context, rule *models.AlertRule) (*models.AlertRule, error) {
	if rule.UserID == "" {
		return nil, common.NewError(common.KindValidation, "user id required")
	}
	switch rule.AlertType {
	case models.AlertTypeMaterialChange, models.AlertTypePriceChange, models.AlertTypeNewFiling:
	default:
		return nil, common.NewError(common.KindValidation, "unknown alert type: "+rule.AlertType)
	}
	switch rule.Method {
	case models.MethodEmail, models.MethodSMS, models.MethodPush:
	default:
		return nil, common.NewError(common.KindValidation, "unknown delivery method: "+rule.Method)
	}
	if rule.Frequency == "" {
		rule.Frequency = models.FrequencyImmediate
	}
	switch rule.Frequency {
	case models.FrequencyImmediate, models.FrequencyHourly, models.FrequencyDaily, models.FrequencyWeekly:
	default:
		return nil, common.NewError(common.KindValidation, "unknown frequency: "+rule.Frequency)
	}
	if qh := rule.QuietHours; qh != nil && qh.Enabled {
		if _, err := time.Parse("15:04", qh.Start); err != nil {
			return nil, common.NewError(common.KindValidation, "quiet hours start must be HH:MM")
		}
		if _, err := time.Parse("15:04", qh.End); err != nil {
			return nil, common.NewError(common.KindValidation, "quiet hours end must be HH:MM")
		}
		if _, err := time.LoadLocation(qh.Timezone); err != nil {
			return nil, common.NewError(common.KindValidation, "unknown timezone: "+qh.Timezone)
		}
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	return s.storage.WatchlistStore().SaveRule(ctx, rule)
}

// GetAlertRules lists a user's rules across all alert types.
func (s *Service) GetAlertRules(ctx context.Context, userID string) ([]*models.AlertRule, error) {
	return s.storage.WatchlistStore().ListRules(ctx, userID, "")
}

// DeleteAlertRule removes a rule.
func (s *Service) DeleteAlertRule(ctx context.Context, id string) error {
	return s.storage.WatchlistStore().DeleteRule(ctx, id)
}

// Ensure Service implements WatchlistService
var _ interfaces.WatchlistService = (*Service)(nil)
