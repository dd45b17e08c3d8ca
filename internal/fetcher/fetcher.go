package fetcher

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoOffers indicates the provider answered but had nothing for the route.
	ErrNoOffers = errors.New("no flight offers returned")
	// ErrMissingCredentials indicates API credentials were not configured.
	ErrMissingCredentials = errors.New("amadeus client id and secret must be set")
)

// RouteParams identify the round trip being priced.
type RouteParams struct {
	Origin      string
	Destination string
	DepartDate  string
	ReturnDate  string
	Adults      int
	Currency    string
	NonStop     bool
	MaxResults  int
}

// Offer is a simplified, priced itinerary.
type Offer struct {
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	Airlines      []string        `json:"airlines"`
	StopsOutbound int             `json:"stops_outbound"`
	StopsReturn   int             `json:"stops_return"`
}

// QuoteFetcher retrieves offers for a route, cheapest first.
type QuoteFetcher interface {
	FetchOffers(ctx context.Context, params RouteParams) ([]Offer, error)
}
