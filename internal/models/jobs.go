package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job is a unit of durable work in the job queue.
type Job struct {
	ID           string         `json:"id"`
	JobType      string         `json:"job_type"`
	Status       string         `json:"status"`
	Priority     int            `json:"priority"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	DedupKey     string         `json:"dedup_key,omitempty"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
	HeartbeatAt  time.Time      `json:"heartbeat_at"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	DurationMS   int64          `json:"duration_ms"`
}

// Job type constants
const (
	JobTypePoll         = "poll"
	JobTypeIngest       = "ingest"
	JobTypeDiff         = "diff"
	JobTypeAlertFanout  = "alert_fanout"
	JobTypeDeliver      = "deliver"
	JobTypePriceRefresh = "price_refresh"
	JobTypeCleanup      = "cleanup"
)

// Job status constants
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Priorities (higher = processed first)
const (
	PriorityLow    = 1
	PriorityNormal = 5
	PriorityHigh   = 10
)

// DefaultPriority returns the default priority for a job type.
func DefaultPriority(jobType string) int {
	switch jobType {
	case JobTypeDeliver:
		return PriorityHigh
	case JobTypeIngest, JobTypeAlertFanout, JobTypeDiff:
		return PriorityNormal
	case JobTypePoll, JobTypePriceRefresh, JobTypeCleanup:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// DefaultDeadline returns the soft deadline for a job type.
func DefaultDeadline(jobType string) time.Duration {
	switch jobType {
	case JobTypeIngest:
		return 10 * time.Minute
	case JobTypePoll:
		return 5 * time.Minute
	case JobTypeDeliver:
		return time.Minute
	default:
		return 5 * time.Minute
	}
}

// IsTerminal reports whether a job status is final.
func IsTerminal(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// PollParams parameterizes a POLL job.
type PollParams struct {
	CIK string `json:"cik"`
}

// IngestParams parameterizes an INGEST job.
type IngestParams struct {
	CIK            string `json:"cik"`
	AccessionNo    string `json:"accession_no"`
	FormType       string `json:"form_type"`
	ForceReprocess bool   `json:"force_reprocess,omitempty"`
	GenerateAlerts bool   `json:"generate_alerts,omitempty"`
}

// AlertFanoutParams parameterizes an ALERT_FANOUT job.
type AlertFanoutParams struct {
	FilingID string `json:"filing_id"`
}

// DeliverParams parameterizes a DELIVER job.
type DeliverParams struct {
	AlertID string `json:"alert_id"`
}

// PriceRefreshParams parameterizes a PRICE_REFRESH job.
type PriceRefreshParams struct {
	Symbol string `json:"symbol"`
}

// EncodeParams converts a typed parameter struct to the job's open map.
func EncodeParams(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode job parameters: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode job parameters: %w", err)
	}
	return m, nil
}

// DecodeParams parses a job's parameter map into a typed struct.
// Called once at job-pull time by the executor.
func DecodeParams(job *Job, v any) error {
	data, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("decode %s parameters: %w", job.JobType, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s parameters: %w", job.JobType, err)
	}
	return nil
}

// QueueStats summarizes queue state by status.
type QueueStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	InFlight  int `json:"in_flight"` // running inside this process
}

// JobEvent is broadcast via WebSocket when job state changes.
type JobEvent struct {
	Type      string    `json:"type"` // "job_queued", "job_started", "job_completed", "job_failed"
	Job       *Job      `json:"job"`
	Timestamp time.Time `json:"timestamp"`
	QueueSize int       `json:"queue_size"` // current pending count
}
