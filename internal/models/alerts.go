package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Alert type constants.
const (
	AlertTypeMaterialChange = "MATERIAL_CHANGE"
	AlertTypePriceChange    = "PRICE_CHANGE"
	AlertTypeNewFiling      = "NEW_FILING"
)

// Delivery method constants.
const (
	MethodEmail = "EMAIL"
	MethodSMS   = "SMS"
	MethodPush  = "PUSH"
)

// Frequency constants.
const (
	FrequencyImmediate = "IMMEDIATE"
	FrequencyHourly    = "HOURLY"
	FrequencyDaily     = "DAILY"
	FrequencyWeekly    = "WEEKLY"
)

// Outbox alert status constants.
const (
	AlertStatusPending = "PENDING"
	AlertStatusSent    = "SENT"
	AlertStatusFailed  = "FAILED"
)

// Watchlist links a user to a company they follow. Unique on (user, company).
type Watchlist struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	CompanyID            string    `json:"company_id"`
	AlertTypes           []string  `json:"alert_types"`
	PriceChangeThreshold float64   `json:"price_change_threshold"` // percent
	IsActive             bool      `json:"is_active"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// WatchesAlertType reports whether the watchlist subscribes to an alert type.
// An empty AlertTypes list subscribes to everything.
func (w *Watchlist) WatchesAlertType(alertType string) bool {
	if len(w.AlertTypes) == 0 {
		return true
	}
	for _, t := range w.AlertTypes {
		if t == alertType {
			return true
		}
	}
	return false
}

// QuietHours suppresses immediate delivery inside a local-time window.
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"` // "22:00"
	End      string `json:"end"`   // "07:00"
	Timezone string `json:"timezone"`
}

// AlertRule configures how one alert type reaches one user.
type AlertRule struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	AlertType  string      `json:"alert_type"`
	Method     string      `json:"method"`
	Recipient  string      `json:"recipient"`
	IsEnabled  bool        `json:"is_enabled"`
	Threshold  float64     `json:"threshold,omitempty"`
	Frequency  string      `json:"frequency"`
	QuietHours *QuietHours `json:"quiet_hours,omitempty"`
}

// OutboxAlert is one materialized notification awaiting external delivery.
// Append-only; terminal after SENT or FAILED.
type OutboxAlert struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	AlertType    string    `json:"alert_type"`
	Method       string    `json:"method"`
	Recipient    string    `json:"recipient"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Priority     int       `json:"priority"`
	DedupKey     string    `json:"dedup_key"`
	ScheduledFor time.Time `json:"scheduled_for"`
	Attempts     int       `json:"attempts"`
	MaxAttempts  int       `json:"max_attempts"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	SentAt       time.Time `json:"sent_at,omitempty"`
}

// AlertDedupKey derives the dedup key for a material-change alert.
func AlertDedupKey(userID, method, filingID string) string {
	h := sha256.Sum256([]byte(userID + "\x00" + method + "\x00" + filingID))
	return hex.EncodeToString(h[:16])
}

// DispatchReceipt is the external dispatcher's response for one alert.
type DispatchReceipt struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`
}
