package surrealdb

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bobmcallan/filingwatch/internal/models"
)

func testAlert(dedupKey string, scheduledFor time.Time) *models.OutboxAlert {
	return &models.OutboxAlert{
		UserID:       "user:1",
		AlertType:    models.AlertTypeMaterialChange,
		Method:       models.MethodEmail,
		Recipient:    "analyst@example.com",
		Title:        "Material changes in Apple Inc. 10-K",
		Body:         "- RISK_FACTORS MODIFICATION (score 0.85): New litigation disclosed",
		Priority:     1,
		DedupKey:     dedupKey,
		ScheduledFor: scheduledFor,
		MaxAttempts:  3,
	}
}

func TestAlertStore_AppendAndGet(t *testing.T) {
	db := testDB(t)
	store := NewAlertStore(db, testLogger())
	ctx := context.Background()

	alert := testAlert("dedup-1", time.Now())
	saved, err := store.Append(ctx, alert)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if saved.ID == "" {
		t.Error("expected generated alert id")
	}
	if saved.Status != models.AlertStatusPending {
		t.Errorf("expected pending status, got %s", saved.Status)
	}

	got, err := store.Get(ctx, saved.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected alert")
	}
	if got.Title != alert.Title || got.Recipient != alert.Recipient {
		t.Errorf("alert fields not round-tripped: %+v", got)
	}
}

func TestAlertStore_AppendDedupAbsorbs(t *testing.T) {
	db := testDB(t)
	store := NewAlertStore(db, testLogger())
	ctx := context.Background()

	first, _ := store.Append(ctx, testAlert("dedup-1", time.Now()))
	second, err := store.Append(ctx, testAlert("dedup-1", time.Now()))
	if err != nil {
		t.Fatalf("second Append failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected dedup absorption, got %s and %s", second.ID, first.ID)
	}

	pending, _ := store.ListPending(ctx, 10)
	if len(pending) != 1 {
		t.Errorf("expected 1 pending alert, got %d", len(pending))
	}

	// Dedup holds even after the alert is sent.
	store.MarkSent(ctx, first.ID, 1)
	third, _ := store.Append(ctx, testAlert("dedup-1", time.Now()))
	if third.ID != first.ID {
		t.Errorf("sent alert must still absorb its dedup key, got %s", third.ID)
	}
}

func TestAlertStore_FindCoalescible(t *testing.T) {
	db := testDB(t)
	store := NewAlertStore(db, testLogger())
	ctx := context.Background()

	bucketStart := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	bucketEnd := bucketStart.Add(time.Hour)

	inBucket, _ := store.Append(ctx, testAlert("dedup-1", bucketStart.Add(15*time.Minute)))
	store.Append(ctx, testAlert("dedup-2", bucketEnd.Add(time.Minute)))

	got, err := store.FindCoalescible(ctx, "user:1", models.MethodEmail, models.AlertTypeMaterialChange, bucketStart, bucketEnd)
	if err != nil {
		t.Fatalf("FindCoalescible failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a coalescible alert")
	}
	if got.ID != inBucket.ID {
		t.Errorf("expected the in-bucket alert, got %s", got.ID)
	}

	// Different method means a different coalescing stream.
	got, _ = store.FindCoalescible(ctx, "user:1", models.MethodSMS, models.AlertTypeMaterialChange, bucketStart, bucketEnd)
	if got != nil {
		t.Errorf("expected no SMS alert in bucket, got %+v", got)
	}

	// A sent alert no longer coalesces.
	store.MarkSent(ctx, inBucket.ID, 1)
	got, _ = store.FindCoalescible(ctx, "user:1", models.MethodEmail, models.AlertTypeMaterialChange, bucketStart, bucketEnd)
	if got != nil {
		t.Errorf("sent alert must not coalesce, got %+v", got)
	}
}

func TestAlertStore_AppendBody(t *testing.T) {
	db := testDB(t)
	store := NewAlertStore(db, testLogger())
	ctx := context.Background()

	saved, _ := store.Append(ctx, testAlert("dedup-1", time.Now()))

	extra := "\n\n- TRIGGERING_EVENTS ADDITION (score 0.90): CEO departure"
	if err := store.AppendBody(ctx, saved.ID, extra); err != nil {
		t.Fatalf("AppendBody failed: %v", err)
	}

	got, _ := store.Get(ctx, saved.ID)
	if !strings.Contains(got.Body, "RISK_FACTORS") || !strings.Contains(got.Body, "TRIGGERING_EVENTS") {
		t.Errorf("expected merged body, got %q", got.Body)
	}

	// Terminal alerts are immutable.
	store.MarkSent(ctx, saved.ID, 1)
	store.AppendBody(ctx, saved.ID, "\n\nlate addition")
	got, _ = store.Get(ctx, saved.ID)
	if strings.Contains(got.Body, "late addition") {
		t.Error("sent alert body must not change")
	}
}

func TestAlertStore_MarkAttempt(t *testing.T) {
	db := testDB(t)
	store := NewAlertStore(db, testLogger())
	ctx := context.Background()

	saved, _ := store.Append(ctx, testAlert("dedup-1", time.Now()))

	if err := store.MarkAttempt(ctx, saved.ID, 1, "smtp unavailable"); err != nil {
		t.Fatalf("MarkAttempt failed: %v", err)
	}

	got, _ := store.Get(ctx, saved.ID)
	if got.Status != models.AlertStatusPending {
		t.Errorf("attempt must not leave pending, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("expected attempts 1, got %d", got.Attempts)
	}
	if got.ErrorMessage != "smtp unavailable" {
		t.Errorf("expected last error recorded, got %q", got.ErrorMessage)
	}

	// Terminal alerts ignore late attempt records.
	store.MarkSent(ctx, saved.ID, 2)
	store.MarkAttempt(ctx, saved.ID, 3, "late failure")
	got, _ = store.Get(ctx, saved.ID)
	if got.Status != models.AlertStatusSent || got.Attempts != 2 {
		t.Errorf("sent alert must be immutable, got status=%s attempts=%d", got.Status, got.Attempts)
	}
}

func TestAlertStore_MarkSent(t *testing.T) {
	db := testDB(t)
	store := NewAlertStore(db, testLogger())
	ctx := context.Background()

	saved, _ := store.Append(ctx, testAlert("dedup-1", time.Now()))

	if err := store.MarkSent(ctx, saved.ID, 2); err != nil {
		t.Fatalf("MarkSent failed: %v", err)
	}

	got, _ := store.Get(ctx, saved.ID)
	if got.Status != models.AlertStatusSent {
		t.Errorf("expected sent, got %s", got.Status)
	}
	if got.Attempts != 2 {
		t.Errorf("expected attempts 2, got %d", got.Attempts)
	}
	if got.SentAt.IsZero() {
		t.Error("expected sent_at recorded")
	}
}

func TestAlertStore_MarkFailed(t *testing.T) {
	db := testDB(t)
	store := NewAlertStore(db, testLogger())
	ctx := context.Background()

	saved, _ := store.Append(ctx, testAlert("dedup-1", time.Now()))

	if err := store.MarkFailed(ctx, saved.ID, 3, "smtp unavailable"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	got, _ := store.Get(ctx, saved.ID)
	if got.Status != models.AlertStatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.Attempts != 3 {
		t.Errorf("expected attempts 3, got %d", got.Attempts)
	}
}

func TestAlertStore_ListPendingOrder(t *testing.T) {
	db := testDB(t)
	store := NewAlertStore(db, testLogger())
	ctx := context.Background()

	now := time.Now()
	later, _ := store.Append(ctx, testAlert("dedup-later", now.Add(time.Hour)))
	sooner, _ := store.Append(ctx, testAlert("dedup-sooner", now))
	done, _ := store.Append(ctx, testAlert("dedup-done", now.Add(-time.Hour)))
	store.MarkSent(ctx, done.ID, 1)

	pending, err := store.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending alerts, got %d", len(pending))
	}
	if pending[0].ID != sooner.ID || pending[1].ID != later.ID {
		t.Errorf("expected ascending scheduled_for, got %s then %s", pending[0].ID, pending[1].ID)
	}
}
