// Package model defines the canonical market record shared by the scraper,
// store, and API layers.
package model

import "time"

// Market is the canonical prediction-market record. The upstream payloads are
// loosely shaped, so everything beyond ID and Title is optional; pointer
// fields stay nil when the upstream omitted the value.
type Market struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  *string    `json:"description"`
	CurrentPrice *float64   `json:"current_price"`
	Volume       *float64   `json:"volume"`
	EndDate      *string    `json:"end_date"`
	DiscoveredAt *time.Time `json:"discovered_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// Valid reports whether the record may be persisted. A market without an
// identity must never reach storage.
func (m Market) Valid() bool {
	return m.ID != ""
}

// MarketsPage is the paginated list response served by the read API.
type MarketsPage struct {
	Markets []Market `json:"markets"`
	Total   int64    `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// StatusReport summarizes operational state for the status endpoint.
type StatusReport struct {
	TotalMarkets     int64      `json:"total_markets"`
	TotalCycles      uint64     `json:"total_scrapes"`
	SuccessfulCycles uint64     `json:"successful_scrapes"`
	FailedCycles     uint64     `json:"failed_scrapes"`
	LastCycleTime    *time.Time `json:"last_scrape_time"`
}

// NewMarketEvent is published when a market is stored for the first time.
type NewMarketEvent struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	DiscoveredAt time.Time `json:"discovered_at"`
}
