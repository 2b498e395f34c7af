package alert

import (
	"context"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
	"github.com/bobmcallan/filingwatch/internal/services/jobmanager"
)

// RegisterHandlers binds the alert job types to the manager.
func (s *Service) RegisterHandlers(manager *jobmanager.Manager) {
	manager.RegisterHandler(models.JobTypeAlertFanout, s.HandleFanout)
	manager.RegisterHandler(models.JobTypeDeliver, s.HandleDeliver)
	if s.quotes != nil {
		manager.RegisterHandler(models.JobTypePriceRefresh, s.HandlePriceRefresh)
	}
}

// HandleFanout is the ALERT_FANOUT job handler.
func (s *Service) HandleFanout(ctx context.Context, job *models.Job) (map[string]any, error) {
	var params models.AlertFanoutParams
	if err := models.DecodeParams(job, &params); err != nil {
		return nil, common.WrapError(common.KindValidation, "bad fan-out parameters", err)
	}

	created, err := s.FanOut(ctx, params.FilingID)
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return map[string]any{"not_found": true}, nil
		}
		return nil, err
	}
	return map[string]any{"alerts": created}, nil
}

// HandleDeliver is the DELIVER job handler.
func (s *Service) HandleDeliver(ctx context.Context, job *models.Job) (map[string]any, error) {
	var params models.DeliverParams
	if err := models.DecodeParams(job, &params); err != nil {
		return nil, common.WrapError(common.KindValidation, "bad deliver parameters", err)
	}

	if err := s.Deliver(ctx, params.AlertID); err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return map[string]any{"not_found": true}, nil
		}
		return nil, err
	}
	return map[string]any{"alert_id": params.AlertID}, nil
}

// HandlePriceRefresh is the PRICE_REFRESH job handler: fetch the latest
// quote, persist nothing, and raise price-change alerts for crossed
// thresholds. A stale quote is better than none here.
func (s *Service) HandlePriceRefresh(ctx context.Context, job *models.Job) (map[string]any, error) {
	var params models.PriceRefreshParams
	if err := models.DecodeParams(job, &params); err != nil {
		return nil, common.WrapError(common.KindValidation, "bad price-refresh parameters", err)
	}

	quote, err := s.quotes.GetQuote(ctx, params.Symbol, interfaces.QuoteOptions{AllowStale: true})
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return map[string]any{"not_found": true}, nil
		}
		return nil, err
	}

	created, err := s.EvaluatePriceChange(ctx, params.Symbol, quote.ChangePercent)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"symbol":         params.Symbol,
		"change_percent": quote.ChangePercent,
		"alerts":         created,
	}, nil
}
