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

// alertSelectFields aliases alert_id to id for struct mapping.
const alertSelectFields = "alert_id AS id, user_id, alert_type, method, recipient, title, body, priority, dedup_key, scheduled_for, attempts, max_attempts, status, error_message, created_at, sent_at"

// AlertStore implements interfaces.AlertStore using SurrealDB. The outbox
// is append-only: rows reach SENT or FAILED and stay.
type AlertStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewAlertStore creates a new AlertStore.
func NewAlertStore(db *surrealdb.DB, logger *common.Logger) *AlertStore {
	return &AlertStore{db: db, logger: logger}
}

// Append inserts an outbox alert. An alert already holding the same dedup
// key absorbs the insert and is returned unchanged.
func (s *AlertStore) Append(ctx context.Context, alert *models.OutboxAlert) (*models.OutboxAlert, error) {
	if alert.DedupKey != "" {
		sql := "SELECT " + alertSelectFields + " FROM alert_outbox WHERE dedup_key = $key LIMIT 1"
		results, err := surrealdb.Query[[]models.OutboxAlert](ctx, s.db, sql, map[string]any{"key": alert.DedupKey})
		if err != nil {
			return nil, fmt.Errorf("failed to check alert dedup key: %w", err)
		}
		if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
			return &(*results)[0].Result[0], nil
		}
	}

	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Status == "" {
		alert.Status = models.AlertStatusPending
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}

	sql := `UPSERT $rid SET
		alert_id = $alert_id, user_id = $user_id, alert_type = $alert_type,
		method = $method, recipient = $recipient, title = $title, body = $body,
		priority = $priority, dedup_key = $dedup_key, scheduled_for = $scheduled_for,
		attempts = $attempts, max_attempts = $max_attempts, status = $status,
		created_at = $created_at, sent_at = $sent_at`
	vars := map[string]any{
		"rid":           surrealmodels.NewRecordID("alert_outbox", alert.ID),
		"alert_id":      alert.ID,
		"user_id":       alert.UserID,
		"alert_type":    alert.AlertType,
		"method":        alert.Method,
		"recipient":     alert.Recipient,
		"title":         alert.Title,
		"body":          alert.Body,
		"priority":      alert.Priority,
		"dedup_key":     alert.DedupKey,
		"scheduled_for": alert.ScheduledFor,
		"attempts":      alert.Attempts,
		"max_attempts":  alert.MaxAttempts,
		"status":        alert.Status,
		"created_at":    alert.CreatedAt,
		"sent_at":       alert.SentAt,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return nil, fmt.Errorf("failed to append alert: %w", err)
	}
	return alert, nil
}

func (s *AlertStore) Get(ctx context.Context, id string) (*models.OutboxAlert, error) {
	sql := "SELECT " + alertSelectFields + " FROM alert_outbox WHERE alert_id = $id LIMIT 1"
	results, err := surrealdb.Query[[]models.OutboxAlert](ctx, s.db, sql, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// FindCoalescible returns a pending alert for the same (user, method, alert
// type) scheduled inside the bucket, if any.
func (s *AlertStore) FindCoalescible(ctx context.Context, userID, method, alertType string, bucketStart, bucketEnd time.Time) (*models.OutboxAlert, error) {
	sql := "SELECT " + alertSelectFields + ` FROM alert_outbox
		WHERE user_id = $user_id AND method = $method AND alert_type = $alert_type
		AND status = $pending AND scheduled_for >= $start AND scheduled_for < $end
		LIMIT 1`
	vars := map[string]any{
		"user_id":    userID,
		"method":     method,
		"alert_type": alertType,
		"pending":    models.AlertStatusPending,
		"start":      bucketStart,
		"end":        bucketEnd,
	}

	results, err := surrealdb.Query[[]models.OutboxAlert](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to find coalescible alert: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// AppendBody appends text to a pending alert's body (frequency coalescing).
func (s *AlertStore) AppendBody(ctx context.Context, id, text string) error {
	sql := "UPDATE $rid SET body = body + $text WHERE status = $pending"
	vars := map[string]any{
		"rid":     surrealmodels.NewRecordID("alert_outbox", id),
		"text":    text,
		"pending": models.AlertStatusPending,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to append alert body: %w", err)
	}
	return nil
}

// MarkAttempt records a failed attempt on a pending alert without leaving
// PENDING. The status guard makes it a no-op on terminal alerts.
func (s *AlertStore) MarkAttempt(ctx context.Context, id string, attempts int, errMsg string) error {
	sql := "UPDATE $rid SET attempts = $attempts, error_message = $error WHERE status = $pending"
	vars := map[string]any{
		"rid":      surrealmodels.NewRecordID("alert_outbox", id),
		"attempts": attempts,
		"error":    errMsg,
		"pending":  models.AlertStatusPending,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to record alert attempt: %w", err)
	}
	return nil
}

func (s *AlertStore) MarkSent(ctx context.Context, id string, attempts int) error {
	sql := "UPDATE $rid SET status = $sent, attempts = $attempts, sent_at = $now"
	vars := map[string]any{
		"rid":      surrealmodels.NewRecordID("alert_outbox", id),
		"sent":     models.AlertStatusSent,
		"attempts": attempts,
		"now":      time.Now(),
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to mark alert sent: %w", err)
	}
	return nil
}

func (s *AlertStore) MarkFailed(ctx context.Context, id string, attempts int, errMsg string) error {
	sql := "UPDATE $rid SET status = $failed, attempts = $attempts, error_message = $error"
	vars := map[string]any{
		"rid":      surrealmodels.NewRecordID("alert_outbox", id),
		"failed":   models.AlertStatusFailed,
		"attempts": attempts,
		"error":    errMsg,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to mark alert failed: %w", err)
	}
	return nil
}

func (s *AlertStore) ListPending(ctx context.Context, limit int) ([]*models.OutboxAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	sql := "SELECT " + alertSelectFields + " FROM alert_outbox WHERE status = $pending ORDER BY scheduled_for ASC LIMIT $limit"
	vars := map[string]any{"pending": models.AlertStatusPending, "limit": limit}

	results, err := surrealdb.Query[[]models.OutboxAlert](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending alerts: %w", err)
	}

	var alerts []*models.OutboxAlert
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			alerts = append(alerts, &(*results)[0].Result[i])
		}
	}
	return alerts, nil
}

// Compile-time check
var _ interfaces.AlertStore = (*AlertStore)(nil)
