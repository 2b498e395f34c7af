// Package jobmanager runs the durable priority job queue: a bounded worker
// pool draining the store, retry with backoff, a stuck-job reaper, and a
// WebSocket hub broadcasting job lifecycle events.
package jobmanager

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/filingwatch/internal/common"
	"github.com/bobmcallan/filingwatch/internal/interfaces"
	"github.com/bobmcallan/filingwatch/internal/models"
)

const (
	idleBackoff = 1 * time.Second
	pullBackoff = 5 * time.Second
)

// Handler executes one job type. The returned map becomes the job's result.
type Handler func(ctx context.Context, job *models.Job) (map[string]any, error)

// Manager implements the JobManager interface.
type Manager struct {
	storage interfaces.StorageManager
	logger  *common.Logger
	hub     *Hub
	config  common.JobManagerConfig

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	inFlight atomic.Int64
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	workers  sync.WaitGroup

	now func() time.Time // injectable clock for testing
}

// NewManager creates a job manager. Handlers are registered by the
// composition root before Start.
func NewManager(storage interfaces.StorageManager, logger *common.Logger, config common.JobManagerConfig) *Manager {
	return &Manager{
		storage:  storage,
		logger:   logger,
		hub:      NewHub(logger),
		config:   config,
		handlers: make(map[string]Handler),
		now:      time.Now,
	}
}

// RegisterHandler binds a job type to its handler. Registering twice
// replaces the previous handler.
func (m *Manager) RegisterHandler(jobType string, handler Handler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers[jobType] = handler
}

// Hub returns the WebSocket hub for HTTP handler registration.
func (m *Manager) Hub() *Hub {
	return m.hub
}

// safeGo launches a goroutine with panic recovery and logging.
func (m *Manager) safeGo(name string, wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in job manager goroutine")
			}
		}()
		fn()
	}()
}

// Start launches the worker pool, the reaper, and the WebSocket hub.
func (m *Manager) Start(ctx context.Context) error {
	if m.cancel != nil {
		return common.NewError(common.KindInternal, "job manager already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	// Jobs orphaned by a previous crash return to pending immediately.
	cutoff := m.now() // anything claimed before startup is stuck by definition
	if count, err := m.storage.JobQueueStore().ReapStuck(runCtx, cutoff); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to reap orphaned jobs at startup")
	} else if count > 0 {
		m.logger.Info().Int("count", count).Msg("Returned orphaned jobs to pending")
	}

	m.safeGo("websocket-hub", &m.wg, func() { m.hub.Run() })
	m.safeGo("reaper", &m.wg, func() { m.reapLoop(runCtx) })

	workers := m.config.GetMaxConcurrent()
	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker-%d", i)
		m.safeGo(name, &m.workers, func() { m.workLoop(runCtx) })
	}

	m.logger.Info().
		Int("workers", workers).
		Int("max_retries", m.config.GetMaxRetries()).
		Msg("Job manager started")

	return nil
}

// Stop refuses new pulls and waits up to the shutdown grace for in-flight
// jobs; survivors are released back to pending by the heartbeat reaper.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	m.cancel = nil

	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()

	grace := m.config.GetShutdownGrace()
	select {
	case <-done:
	case <-time.After(grace):
		m.logger.Warn().
			Dur("grace", grace).
			Int64("in_flight", m.inFlight.Load()).
			Msg("Shutdown grace elapsed with jobs still running")
	case <-ctx.Done():
	}

	m.hub.Stop()
	m.wg.Wait()
	m.logger.Info().Msg("Job manager stopped")
	return nil
}

// Submit enqueues a job, filling defaults for id, priority, retry budget,
// and schedule. Dedup-key absorption returns the existing job's id.
func (m *Manager) Submit(ctx context.Context, job *models.Job) (string, error) {
	if job.JobType == "" {
		return "", common.NewError(common.KindValidation, "job type required")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Priority == 0 {
		job.Priority = models.DefaultPriority(job.JobType)
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = m.config.GetMaxRetries()
	}
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = m.now()
	}
	job.Status = models.JobStatusPending
	job.CreatedAt = m.now()

	id, err := m.storage.JobQueueStore().Enqueue(ctx, job)
	if err != nil {
		return "", err
	}

	if id == job.ID {
		m.publish("job_queued", job)
	} else {
		m.logger.Debug().
			Str("dedup_key", job.DedupKey).
			Str("existing_id", id).
			Msg("Job absorbed by dedup key")
	}

	return id, nil
}

// Stats returns queue counts plus this process's in-flight jobs.
func (m *Manager) Stats(ctx context.Context) (*models.QueueStats, error) {
	stats, err := m.storage.JobQueueStore().Stats(ctx)
	if err != nil {
		return nil, err
	}
	stats.InFlight = int(m.inFlight.Load())
	return stats, nil
}

// Subscribe registers a listener channel for job events. The returned
// function unsubscribes.
func (m *Manager) Subscribe(ch chan<- models.JobEvent) func() {
	return m.hub.Subscribe(ch)
}

// workLoop pulls and executes jobs until the context is cancelled.
func (m *Manager) workLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.storage.JobQueueStore().Dequeue(ctx, m.now())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn().Err(err).Msg("Dequeue failed")
			if !sleep(ctx, pullBackoff) {
				return
			}
			continue
		}
		if job == nil {
			if !sleep(ctx, idleBackoff) {
				return
			}
			continue
		}

		m.runJob(ctx, job)
	}
}

// runJob executes one claimed job with heartbeating, a type-specific soft
// deadline, and panic isolation, then records the outcome.
func (m *Manager) runJob(ctx context.Context, job *models.Job) {
	m.inFlight.Add(1)
	defer m.inFlight.Add(-1)

	m.publish("job_started", job)

	jobCtx, cancelDeadline := context.WithTimeout(ctx, models.DefaultDeadline(job.JobType))
	defer cancelDeadline()

	stopHeartbeat := m.heartbeat(jobCtx, job.ID)

	start := m.now()
	result, execErr := m.execute(jobCtx, job)
	durationMS := m.now().Sub(start).Milliseconds()
	stopHeartbeat()

	if execErr == nil {
		if err := m.storage.JobQueueStore().Complete(ctx, job.ID, result, durationMS); err != nil {
			m.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to mark job completed")
			return
		}
		job.Status = models.JobStatusCompleted
		job.Result = result
		m.publish("job_completed", job)
		m.logger.Debug().
			Str("job_id", job.ID).
			Str("job_type", job.JobType).
			Int64("duration_ms", durationMS).
			Msg("Job completed")
		return
	}

	// Cooperative shutdown: the worker is dying, not the job. Release it
	// without consuming a retry.
	if ctx.Err() != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.storage.JobQueueStore().Release(releaseCtx, job.ID, m.now().Add(time.Second)); err != nil {
			m.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to release job on shutdown")
		}
		return
	}

	m.logger.Warn().
		Str("job_id", job.ID).
		Str("job_type", job.JobType).
		Int("retry_count", job.RetryCount).
		Int64("duration_ms", durationMS).
		Err(execErr).
		Msg("Job failed")

	if common.IsRetryable(execErr) && job.RetryCount < job.MaxRetries {
		retryCount := job.RetryCount + 1
		scheduledFor := m.now().Add(retryBackoff(retryCount))
		if err := m.storage.JobQueueStore().Retry(ctx, job.ID, retryCount, execErr.Error(), scheduledFor); err != nil {
			m.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to schedule retry")
		}
		return
	}

	if err := m.storage.JobQueueStore().Fail(ctx, job.ID, execErr.Error(), durationMS); err != nil {
		m.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to mark job failed")
		return
	}
	job.Status = models.JobStatusFailed
	job.ErrorMessage = execErr.Error()
	m.publish("job_failed", job)
}

// retryBackoff is the retry delay: exponential, capped at 30 seconds.
func retryBackoff(retryCount int) time.Duration {
	if retryCount > 5 {
		return 30 * time.Second
	}
	d := time.Duration(1<<retryCount) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// heartbeat stamps the job at the configured interval so the reaper can
// tell a slow job from a dead worker. Returns a stop function.
func (m *Manager) heartbeat(ctx context.Context, jobID string) func() {
	interval := m.config.GetHeartbeat()
	done := make(chan struct{})
	var once sync.Once

	m.safeGo("heartbeat-"+jobID, &m.wg, func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.storage.JobQueueStore().Heartbeat(ctx, jobID, m.now()); err != nil {
					m.logger.Warn().Str("job_id", jobID).Err(err).Msg("Heartbeat failed")
				}
			}
		}
	})

	return func() { once.Do(func() { close(done) }) }
}

// reapLoop returns running jobs with stale heartbeats to pending and purges
// old terminal jobs.
func (m *Manager) reapLoop(ctx context.Context) {
	interval := m.config.GetReaperInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := m.now().Add(-3 * m.config.GetHeartbeat())
			if count, err := m.storage.JobQueueStore().ReapStuck(ctx, cutoff); err != nil {
				m.logger.Warn().Err(err).Msg("Reaper failed")
			} else if count > 0 {
				m.logger.Info().Int("count", count).Msg("Reaped stuck jobs")
			}

			purgeCutoff := m.now().Add(-m.config.GetPurgeAfter())
			if _, err := m.storage.JobQueueStore().PurgeTerminal(ctx, purgeCutoff); err != nil {
				m.logger.Warn().Err(err).Msg("Failed to purge old jobs")
			}
		}
	}
}

// publish broadcasts a job lifecycle event with the current queue depth.
func (m *Manager) publish(eventType string, job *models.Job) {
	queueSize := 0
	if stats, err := m.storage.JobQueueStore().Stats(context.Background()); err == nil {
		queueSize = stats.Pending
	}
	m.hub.Broadcast(models.JobEvent{
		Type:      eventType,
		Job:       job,
		Timestamp: m.now(),
		QueueSize: queueSize,
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Ensure Manager implements JobManager
var _ interfaces.JobManager = (*Manager)(nil)
