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

// jobSelectFields aliases job_id to id for struct mapping.
const jobSelectFields = "job_id AS id, job_type, status, priority, parameters, dedup_key, scheduled_for, created_at, started_at, completed_at, heartbeat_at, retry_count, max_retries, error_message, result, duration_ms"

// JobQueueStore implements interfaces.JobQueueStore using SurrealDB.
type JobQueueStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewJobQueueStore creates a new JobQueueStore.
func NewJobQueueStore(db *surrealdb.DB, logger *common.Logger) *JobQueueStore {
	return &JobQueueStore{db: db, logger: logger}
}

// Enqueue inserts a job. A non-terminal job holding the same dedup key
// absorbs the insert: its id is returned and nothing is written.
func (s *JobQueueStore) Enqueue(ctx context.Context, job *models.Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = job.CreatedAt
	}

	if job.DedupKey != "" {
		sql := "SELECT job_id AS id FROM job_queue WHERE dedup_key = $key AND status IN [$pending, $running] LIMIT 1"
		vars := map[string]any{
			"key":     job.DedupKey,
			"pending": models.JobStatusPending,
			"running": models.JobStatusRunning,
		}
		results, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
		if err != nil {
			return "", fmt.Errorf("failed to check dedup key: %w", err)
		}
		if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
			return (*results)[0].Result[0].ID, nil
		}
	}

	sql := `UPSERT $rid SET
		job_id = $job_id, job_type = $job_type, status = $status, priority = $priority,
		parameters = $parameters, dedup_key = $dedup_key, scheduled_for = $scheduled_for,
		created_at = $created_at, started_at = $started_at, completed_at = $completed_at,
		heartbeat_at = $heartbeat_at, retry_count = $retry_count, max_retries = $max_retries,
		error_message = $error_message, result = $result, duration_ms = $duration_ms`
	vars := map[string]any{
		"rid":           surrealmodels.NewRecordID("job_queue", job.ID),
		"job_id":        job.ID,
		"job_type":      job.JobType,
		"status":        job.Status,
		"priority":      job.Priority,
		"parameters":    job.Parameters,
		"dedup_key":     job.DedupKey,
		"scheduled_for": job.ScheduledFor,
		"created_at":    job.CreatedAt,
		"started_at":    job.StartedAt,
		"completed_at":  job.CompletedAt,
		"heartbeat_at":  job.HeartbeatAt,
		"retry_count":   job.RetryCount,
		"max_retries":   job.MaxRetries,
		"error_message": job.ErrorMessage,
		"result":        job.Result,
		"duration_ms":   job.DurationMS,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job.ID, nil
}

// EnqueueMany enqueues a batch, respecting each job's dedup key.
func (s *JobQueueStore) EnqueueMany(ctx context.Context, jobs []*models.Job) error {
	for _, job := range jobs {
		if _, err := s.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// Dequeue claims the highest-priority due pending job. Two-step: SELECT the
// candidate, then a conditional UPDATE that only succeeds while the job is
// still pending — a lost race returns nil and the worker polls again.
func (s *JobQueueStore) Dequeue(ctx context.Context, now time.Time) (*models.Job, error) {
	selectSQL := "SELECT " + jobSelectFields + ` FROM job_queue
		WHERE status = $pending AND scheduled_for <= $now
		ORDER BY priority DESC, created_at ASC LIMIT 1`
	vars := map[string]any{
		"pending": models.JobStatusPending,
		"now":     now,
	}

	candidates, err := surrealdb.Query[[]models.Job](ctx, s.db, selectSQL, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to select candidate job: %w", err)
	}
	if candidates == nil || len(*candidates) == 0 || len((*candidates)[0].Result) == 0 {
		return nil, nil
	}
	candidate := (*candidates)[0].Result[0]

	updateSQL := `UPDATE $rid SET status = $running, started_at = $now, heartbeat_at = $now
		WHERE status = $pending`
	updateVars := map[string]any{
		"rid":     surrealmodels.NewRecordID("job_queue", candidate.ID),
		"running": models.JobStatusRunning,
		"pending": models.JobStatusPending,
		"now":     now,
	}

	claimed, err := surrealdb.Query[[]models.Job](ctx, s.db, updateSQL, updateVars)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if claimed == nil || len(*claimed) == 0 || len((*claimed)[0].Result) == 0 {
		// Another worker won the race.
		return nil, nil
	}

	candidate.Status = models.JobStatusRunning
	candidate.StartedAt = now
	candidate.HeartbeatAt = now
	return &candidate, nil
}

func (s *JobQueueStore) Complete(ctx context.Context, id string, result map[string]any, durationMS int64) error {
	sql := `UPDATE $rid SET status = $completed, completed_at = $now, result = $result, duration_ms = $dur`
	vars := map[string]any{
		"rid":       surrealmodels.NewRecordID("job_queue", id),
		"completed": models.JobStatusCompleted,
		"now":       time.Now(),
		"result":    result,
		"dur":       durationMS,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Retry returns a failed job to pending with its retry count bumped.
func (s *JobQueueStore) Retry(ctx context.Context, id string, retryCount int, errMsg string, scheduledFor time.Time) error {
	sql := `UPDATE $rid SET status = $pending, retry_count = $retry_count,
		error_message = $error_message, scheduled_for = $scheduled_for`
	vars := map[string]any{
		"rid":           surrealmodels.NewRecordID("job_queue", id),
		"pending":       models.JobStatusPending,
		"retry_count":   retryCount,
		"error_message": errMsg,
		"scheduled_for": scheduledFor,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	return nil
}

func (s *JobQueueStore) Fail(ctx context.Context, id string, errMsg string, durationMS int64) error {
	sql := `UPDATE $rid SET status = $failed, completed_at = $now,
		error_message = $error_message, duration_ms = $dur`
	vars := map[string]any{
		"rid":           surrealmodels.NewRecordID("job_queue", id),
		"failed":        models.JobStatusFailed,
		"now":           time.Now(),
		"error_message": errMsg,
		"dur":           durationMS,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// Release returns a claimed job to pending without consuming a retry.
func (s *JobQueueStore) Release(ctx context.Context, id string, scheduledFor time.Time) error {
	sql := `UPDATE $rid SET status = $pending, scheduled_for = $scheduled_for WHERE status = $running`
	vars := map[string]any{
		"rid":           surrealmodels.NewRecordID("job_queue", id),
		"pending":       models.JobStatusPending,
		"running":       models.JobStatusRunning,
		"scheduled_for": scheduledFor,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	return nil
}

func (s *JobQueueStore) Heartbeat(ctx context.Context, id string, ts time.Time) error {
	sql := "UPDATE $rid SET heartbeat_at = $ts WHERE status = $running"
	vars := map[string]any{
		"rid":     surrealmodels.NewRecordID("job_queue", id),
		"ts":      ts,
		"running": models.JobStatusRunning,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to heartbeat job: %w", err)
	}
	return nil
}

// ReapStuck returns running jobs with heartbeats older than the cutoff to
// pending (worker death recovery).
func (s *JobQueueStore) ReapStuck(ctx context.Context, cutoff time.Time) (int, error) {
	sql := `UPDATE job_queue SET status = $pending
		WHERE status = $running AND heartbeat_at < $cutoff`
	vars := map[string]any{
		"pending": models.JobStatusPending,
		"running": models.JobStatusRunning,
		"cutoff":  cutoff,
	}

	results, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to reap stuck jobs: %w", err)
	}
	if results != nil && len(*results) > 0 {
		return len((*results)[0].Result), nil
	}
	return 0, nil
}

func (s *JobQueueStore) Get(ctx context.Context, id string) (*models.Job, error) {
	sql := "SELECT " + jobSelectFields + " FROM job_queue WHERE job_id = $id LIMIT 1"
	vars := map[string]any{"id": id}

	results, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, common.NewError(common.KindNotFound, "job not found: "+id)
	}
	return &(*results)[0].Result[0], nil
}

func (s *JobQueueStore) Stats(ctx context.Context) (*models.QueueStats, error) {
	sql := "SELECT status, count() AS cnt FROM job_queue GROUP BY status"

	type statusCount struct {
		Status string `json:"status"`
		Cnt    int    `json:"cnt"`
	}

	results, err := surrealdb.Query[[]statusCount](ctx, s.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}

	stats := &models.QueueStats{}
	if results != nil && len(*results) > 0 {
		for _, row := range (*results)[0].Result {
			switch row.Status {
			case models.JobStatusPending:
				stats.Pending = row.Cnt
			case models.JobStatusRunning:
				stats.Running = row.Cnt
			case models.JobStatusCompleted:
				stats.Completed = row.Cnt
			case models.JobStatusFailed:
				stats.Failed = row.Cnt
			}
		}
	}
	return stats, nil
}

func (s *JobQueueStore) ListPending(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	sql := "SELECT " + jobSelectFields + " FROM job_queue WHERE status = $pending ORDER BY priority DESC, created_at ASC LIMIT $limit"
	vars := map[string]any{"pending": models.JobStatusPending, "limit": limit}

	results, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}

	var jobs []*models.Job
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			jobs = append(jobs, &(*results)[0].Result[i])
		}
	}
	return jobs, nil
}

// PurgeTerminal deletes completed and failed jobs older than the cutoff.
func (s *JobQueueStore) PurgeTerminal(ctx context.Context, olderThan time.Time) (int, error) {
	sql := `DELETE FROM job_queue
		WHERE status IN [$completed, $failed] AND completed_at < $cutoff
		RETURN BEFORE`
	vars := map[string]any{
		"completed": models.JobStatusCompleted,
		"failed":    models.JobStatusFailed,
		"cutoff":    olderThan,
	}

	results, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal jobs: %w", err)
	}
	if results != nil && len(*results) > 0 {
		return len((*results)[0].Result), nil
	}
	return 0, nil
}

// Compile-time check
var _ interfaces.JobQueueStore = (*JobQueueStore)(nil)
