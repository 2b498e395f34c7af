package alert

import (
	"context"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/models"
)

// Deliver hands one outbox alert to the external dispatcher. SENT and
// FAILED are terminal: such alerts are skipped so redelivery after a
// crash is harmless. A failed dispatch inside the attempt budget keeps
// the alert PENDING and returns a retryable error; the alert reaches
// FAILED only when the endpoint rejects it or the budget runs out.
func (s *Service) Deliver(ctx context.Context, alertID string) error {
	alert, err := s.storage.AlertStore().Get(ctx, alertID)
	if err != nil {
		return err
	}
	if alert == nil {
		return common.NewError(common.KindNotFound, "alert not found: "+alertID)
	}
	if alert.Status != models.AlertStatusPending {
		return nil
	}

	attempts := alert.Attempts + 1
	maxAttempts := alert.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	receipt, err := s.dispatcher.Dispatch(ctx, alert)

	// A rejected receipt means the endpoint refused the alert; retrying the
	// same request cannot succeed, so the alert fails terminally.
	if err == nil && receipt != nil && !receipt.Success {
		if markErr := s.storage.AlertStore().MarkFailed(ctx, alertID, attempts, receipt.Error); markErr != nil {
			s.logger.Warn().Str("alert_id", alertID).Err(markErr).Msg("Failed to record delivery rejection")
		}
		s.logger.Error().
			Str("alert_id", alertID).
			Str("reason", receipt.Error).
			Msg("Alert rejected by dispatcher")
		return nil
	}

	if err != nil {
		if attempts >= maxAttempts {
			if markErr := s.storage.AlertStore().MarkFailed(ctx, alertID, attempts, err.Error()); markErr != nil {
				s.logger.Warn().Str("alert_id", alertID).Err(markErr).Msg("Failed to record delivery failure")
			}
			s.logger.Error().
				Str("alert_id", alertID).
				Int("attempts", attempts).
				Err(err).
				Msg("Alert delivery abandoned after attempt budget")
			return nil
		}
		if markErr := s.storage.AlertStore().MarkAttempt(ctx, alertID, attempts, err.Error()); markErr != nil {
			s.logger.Warn().Str("alert_id", alertID).Err(markErr).Msg("Failed to record delivery attempt")
		}
		return err
	}

	if err := s.storage.AlertStore().MarkSent(ctx, alertID, attempts); err != nil {
		return err
	}
	s.logger.Debug().
		Str("alert_id", alertID).
		Str("method", alert.Method).
		Int("attempts", attempts).
		Msg("Alert delivered")
	return nil
}
