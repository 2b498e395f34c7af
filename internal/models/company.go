package models

import "time"

// Company is a tracked EDGAR filer. Companies are created on first ingest or
// lookup and never destroyed — deactivation removes them from polling only.
type Company struct {
	ID           string    `json:"id"`
	CIK          string    `json:"cik"` // 10-digit zero-padded
	Symbol       string    `json:"symbol,omitempty"`
	Name         string    `json:"name"`
	SIC          string    `json:"sic,omitempty"`
	Industry     string    `json:"industry,omitempty"`
	IsActive     bool      `json:"is_active"`
	LastPolledAt time.Time `json:"last_polled_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CompanyMatch is a ticker-catalogue search result.
type CompanyMatch struct {
	CIK    string `json:"cik"`
	Name   string `json:"name"`
	Ticker string `json:"ticker,omitempty"`
}
