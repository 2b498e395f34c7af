package app

import (
	"context"
	"time"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
	"github.com/bobmcallan/filingwatch/internal/services/jobmanager"
	"github.com/bobmcallan/filingwatch/internal/services/quote"
)

// registerCleanup binds the CLEANUP job: purge terminal jobs past the
// retention window and sweep expired quote cache entries.
func registerCleanup(manager *jobmanager.Manager, storage interfaces.StorageManager, quotes *quote.Service, cfg common.JobManagerConfig, logger *common.Logger) {
	purgeAfter := cfg.GetPurgeAfter()

	manager.RegisterHandler(models.JobTypeCleanup, func(ctx context.Context, job *models.Job) (map[string]any, error) {
		cutoff := time.Now().Add(-purgeAfter)

		purged, err := storage.JobQueueStore().PurgeTerminal(ctx, cutoff)
		if err != nil {
			return nil, err
		}

		swept := 0
		if quotes != nil {
			swept = quotes.PurgeExpired(purgeAfter)
		}

		logger.Info().
			Int("jobs_purged", purged).
			Int("cache_swept", swept).
			Msg("Cleanup complete")

		return map[string]any{
			"jobs_purged": purged,
			"cache_swept": swept,
		}, nil
	})
}
