package jobmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

// Poller enqueues POLL jobs for every active company each tick. The dedup
// key carries the tick bucket so overlapping ticks coalesce instead of
// stacking duplicate polls.
type Poller struct {
	manager *Manager
	storage interfaces.StorageManager
	logger  *common.Logger

	interval        time.Duration
	cleanupInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewPoller creates the polling scheduler.
func NewPoller(manager *Manager, storage interfaces.StorageManager, logger *common.Logger, pollerCfg common.PollerConfig, jmCfg common.JobManagerConfig) *Poller {
	return &Poller{
		manager:         manager,
		storage:         storage,
		logger:          logger,
		interval:        pollerCfg.GetInterval(),
		cleanupInterval: jmCfg.GetCleanupInterval(),
		now:             time.Now,
	}
}

// Start launches the tick loops. An initial poll pass runs immediately.
func (p *Poller) Start(ctx context.Context) error {
	if p.cancel != nil {
		return common.NewError(common.KindInternal, "poller already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.pollLoop(runCtx)
	}()
	go func() {
		defer p.wg.Done()
		p.cleanupLoop(runCtx)
	}()

	p.logger.Info().
		Dur("interval", p.interval).
		Msg("Poller started")
	return nil
}

// Stop cancels the tick loops and waits for them.
func (p *Poller) Stop() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	p.cancel = nil
	p.wg.Wait()
	p.logger.Info().Msg("Poller stopped")
	return nil
}

func (p *Poller) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick enqueues one POLL job per active company, plus a PRICE_REFRESH for
// companies with a listed symbol.
func (p *Poller) tick(ctx context.Context) {
	companies, err := p.storage.CompanyStore().ListActive(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Poller: failed to list active companies")
		return
	}

	bucket := p.bucket()
	enqueued := 0

	for _, company := range companies {
		params, err := models.EncodeParams(models.PollParams{CIK: company.CIK})
		if err != nil {
			p.logger.Warn().Str("cik", company.CIK).Err(err).Msg("Poller: encode params")
			continue
		}

		if _, err := p.manager.Submit(ctx, &models.Job{
			JobType:    models.JobTypePoll,
			Parameters: params,
			DedupKey:   fmt.Sprintf("poll:%s:%d", company.CIK, bucket),
		}); err != nil {
			p.logger.Warn().Str("cik", company.CIK).Err(err).Msg("Poller: failed to enqueue poll")
			continue
		}
		enqueued++

		if company.Symbol != "" {
			priceParams, err := models.EncodeParams(models.PriceRefreshParams{Symbol: company.Symbol})
			if err != nil {
				continue
			}
			if _, err := p.manager.Submit(ctx, &models.Job{
				JobType:    models.JobTypePriceRefresh,
				Parameters: priceParams,
				DedupKey:   fmt.Sprintf("price:%s:%d", company.Symbol, bucket),
			}); err != nil {
				p.logger.Warn().Str("symbol", company.Symbol).Err(err).Msg("Poller: failed to enqueue price refresh")
			}
		}
	}

	if enqueued > 0 {
		p.logger.Info().Int("enqueued", enqueued).Int("companies", len(companies)).Msg("Poller: tick complete")
	} else {
		p.logger.Debug().Int("companies", len(companies)).Msg("Poller: tick complete, nothing to enqueue")
	}
}

// bucket is the current tick window number; identical across overlapping
// ticks within one interval.
func (p *Poller) bucket() int64 {
	return p.now().Unix() / int64(p.interval.Seconds())
}

func (p *Poller) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.manager.Submit(ctx, &models.Job{
				JobType:  models.JobTypeCleanup,
				DedupKey: fmt.Sprintf("cleanup:%d", p.now().Unix()/int64(p.cleanupInterval.Seconds())),
			}); err != nil {
				p.logger.Warn().Err(err).Msg("Poller: failed to enqueue cleanup")
			}
		}
	}
}

// Ensure Poller implements Scheduler
var _ interfaces.Scheduler = (*Poller)(nil)
