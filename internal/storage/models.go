package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"farewatch/internal/fetcher"
)

func init() {
	// Prices travel as JSON numbers so dashboards can plot them directly.
	decimal.MarshalJSONWithoutQuotes = true
}

// CheckResult is the latest persisted outcome of a price check.
type CheckResult struct {
	ID        string          `json:"id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency,omitempty"`
	Airlines  string          `json:"airlines,omitempty"`
	IsDeal    bool            `json:"is_deal"`
	Threshold decimal.Decimal `json:"threshold"`
	Offers    []fetcher.Offer `json:"all_offers,omitempty"`
	Error     *string         `json:"error"`
}

// Failed reports whether the check recorded an error instead of a price.
func (r CheckResult) Failed() bool {
	return r.Error != nil
}

// HistoryEntry is one successful check in the append-only price history.
type HistoryEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency,omitempty"`
	Airlines  string          `json:"airlines"`
}

// Tail returns at most the last n entries, preserving order.
func Tail(entries []HistoryEntry, n int) []HistoryEntry {
	if n <= 0 || len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
