package ingest

import (
	"context"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/models"
	"github.com/bobmcallan/filingwatch/internal/services/jobmanager"
)

// RegisterHandlers binds the ingestion job types to the manager.
func (s *Service) RegisterHandlers(manager *jobmanager.Manager) {
	manager.RegisterHandler(models.JobTypeIngest, s.HandleIngest)
	manager.RegisterHandler(models.JobTypePoll, s.HandlePoll)
}

// HandleIngest is the INGEST job handler. A filing that disappeared from
// EDGAR is terminal success, not an error worth retrying.
func (s *Service) HandleIngest(ctx context.Context, job *models.Job) (map[string]any, error) {
	var params models.IngestParams
	if err := models.DecodeParams(job, &params); err != nil {
		return nil, common.WrapError(common.KindValidation, "bad ingest parameters", err)
	}

	// Alerts default on when the parameter is absent.
	generateAlerts := params.GenerateAlerts
	if _, ok := job.Parameters["generate_alerts"]; !ok {
		generateAlerts = true
	}

	filing, already, err := s.ingest(ctx, params.CIK, params.AccessionNo, params.FormType, params.ForceReprocess, generateAlerts)
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			s.logger.Warn().
				Str("cik", params.CIK).
				Str("accession_no", params.AccessionNo).
				Err(err).
				Msg("Filing not found on EDGAR, completing without ingest")
			return map[string]any{"not_found": true}, nil
		}
		return nil, err
	}

	return map[string]any{
		"already":          already,
		"filing_id":        filing.ID,
		"material_changes": filing.MaterialChanges,
	}, nil
}

// HandlePoll is the POLL job handler.
func (s *Service) HandlePoll(ctx context.Context, job *models.Job) (map[string]any, error) {
	var params models.PollParams
	if err := models.DecodeParams(job, &params); err != nil {
		return nil, common.WrapError(common.KindValidation, "bad poll parameters", err)
	}

	enqueued, err := s.PollCompany(ctx, params.CIK)
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			s.logger.Warn().
				Str("cik", params.CIK).
				Err(err).
				Msg("Company not found on EDGAR, completing poll")
			return map[string]any{"not_found": true}, nil
		}
		return nil, err
	}

	return map[string]any{"enqueued": enqueued}, nil
}
