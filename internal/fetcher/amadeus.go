package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	amadeusTokenPath  = "/v1/security/oauth2/token"
	amadeusOffersPath = "/v2/shopping/flight-offers"

	// tokenRefreshSkew renews the token slightly before the provider expires it.
	tokenRefreshSkew = 60 * time.Second

	maxErrorBodyRunes = 300
)

// AmadeusOptions parameterise the Amadeus fetcher.
type AmadeusOptions struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	MaxRetries   int
}

// Amadeus fetches flight offers from the Amadeus self-service API.
type Amadeus struct {
	opts    AmadeusOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string

	tokenMux sync.Mutex
	tokens   oauth2.TokenSource
}

// NewAmadeus constructs an Amadeus fetcher.
func NewAmadeus(opts AmadeusOptions, logger zerolog.Logger) *Amadeus {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://test.api.amadeus.com"
	}

	return &Amadeus{
		opts:    opts,
		logger:  logger.With().Str("component", "amadeus_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchOffers queries round-trip offers and returns them sorted by price.
func (a *Amadeus) FetchOffers(ctx context.Context, params RouteParams) ([]Offer, error) {
	if a.opts.ClientID == "" || a.opts.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond

	offers, err := backoff.Retry(ctx, func() ([]Offer, error) {
		return a.search(ctx, params)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(a.opts.MaxRetries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			a.logger.Warn().Err(err).Dur("retry_in", wait).Msg("flight search failed, retrying")
		}),
	)
	if err != nil {
		return nil, err
	}

	if len(offers) == 0 {
		return nil, ErrNoOffers
	}
	return offers, nil
}

func (a *Amadeus) search(ctx context.Context, params RouteParams) ([]Offer, error) {
	token, err := a.accessToken()
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("originLocationCode", params.Origin)
	query.Set("destinationLocationCode", params.Destination)
	query.Set("departureDate", params.DepartDate)
	if params.ReturnDate != "" {
		query.Set("returnDate", params.ReturnDate)
	}
	adults := params.Adults
	if adults <= 0 {
		adults = 1
	}
	query.Set("adults", strconv.Itoa(adults))
	if params.Currency != "" {
		query.Set("currencyCode", params.Currency)
	}
	query.Set("nonStop", strconv.FormatBool(params.NonStop))
	if params.MaxResults > 0 {
		query.Set("max", strconv.Itoa(params.MaxResults))
	}

	endpoint := a.baseURL + amadeusOffersPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send flight search: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read flight search: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		a.invalidateToken()
		return nil, parseHTTPError(resp.StatusCode, payload)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, parseHTTPError(resp.StatusCode, payload)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(parseHTTPError(resp.StatusCode, payload))
	}

	var res offersResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode flight offers: %w", err))
	}

	offers, err := simplifyOffers(res, params.Currency)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	a.logger.Debug().Int("offers", len(offers)).
		Str("origin", params.Origin).
		Str("destination", params.Destination).
		Msg("flight offers received")
	return offers, nil
}

func simplifyOffers(res offersResponse, fallbackCurrency string) ([]Offer, error) {
	offers := make([]Offer, 0, len(res.Data))
	for _, raw := range res.Data {
		price, err := decimal.NewFromString(raw.Price.GrandTotal)
		if err != nil {
			return nil, fmt.Errorf("parse grand total %q: %w", raw.Price.GrandTotal, err)
		}

		carriers := make(map[string]struct{})
		for _, itin := range raw.Itineraries {
			for _, seg := range itin.Segments {
				carriers[seg.CarrierCode] = struct{}{}
			}
		}
		airlines := make([]string, 0, len(carriers))
		for code := range carriers {
			airlines = append(airlines, code)
		}
		sort.Strings(airlines)

		offer := Offer{
			Price:    price,
			Currency: raw.Price.Currency,
			Airlines: airlines,
		}
		if offer.Currency == "" {
			offer.Currency = fallbackCurrency
		}
		if len(raw.Itineraries) > 0 {
			offer.StopsOutbound = stops(raw.Itineraries[0])
		}
		if len(raw.Itineraries) > 1 {
			offer.StopsReturn = stops(raw.Itineraries[1])
		}
		offers = append(offers, offer)
	}

	sort.SliceStable(offers, func(i, j int) bool {
		return offers[i].Price.LessThan(offers[j].Price)
	})
	return offers, nil
}

func stops(itin itinerary) int {
	if len(itin.Segments) == 0 {
		return 0
	}
	return len(itin.Segments) - 1
}

// accessToken returns the cached OAuth2 token, fetching a new one when the
// current token is within tokenRefreshSkew of expiry.
func (a *Amadeus) accessToken() (string, error) {
	tok, err := a.tokenSource().Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			status := retrieveErr.Response.StatusCode
			tokenErr := parseHTTPError(status, retrieveErr.Body)
			if status >= 400 && status < 500 {
				return "", backoff.Permanent(tokenErr)
			}
			return "", tokenErr
		}
		return "", fmt.Errorf("request amadeus token: %w", err)
	}
	return tok.AccessToken, nil
}

func (a *Amadeus) tokenSource() oauth2.TokenSource {
	a.tokenMux.Lock()
	defer a.tokenMux.Unlock()

	if a.tokens == nil {
		creds := &clientcredentials.Config{
			ClientID:     a.opts.ClientID,
			ClientSecret: a.opts.ClientSecret,
			TokenURL:     a.baseURL + amadeusTokenPath,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		// Token requests are bounded by the client timeout, not by a check's context.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, a.client)
		a.tokens = oauth2.ReuseTokenSourceWithExpiry(nil, freshTokens{ctx: ctx, creds: creds}, tokenRefreshSkew)
	}
	return a.tokens
}

// invalidateToken drops the cached token after the API rejected it.
func (a *Amadeus) invalidateToken() {
	a.tokenMux.Lock()
	a.tokens = nil
	a.tokenMux.Unlock()
}

// freshTokens requests a new token on every call; caching is left to the
// reuse wrapper so the refresh skew applies.
type freshTokens struct {
	ctx   context.Context
	creds *clientcredentials.Config
}

func (f freshTokens) Token() (*oauth2.Token, error) {
	return f.creds.Token(f.ctx)
}

type offersResponse struct {
	Data []struct {
		Price struct {
			GrandTotal string `json:"grandTotal"`
			Currency   string `json:"currency"`
		} `json:"price"`
		Itineraries []itinerary `json:"itineraries"`
	} `json:"data"`
}

type itinerary struct {
	Segments []struct {
		CarrierCode string `json:"carrierCode"`
	} `json:"segments"`
}

type errorResponse struct {
	Errors []struct {
		Status int    `json:"status"`
		Code   int    `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
	ErrorDescription string `json:"error_description"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if len(apiErr.Errors) > 0 {
			first := apiErr.Errors[0]
			if first.Detail != "" {
				return fmt.Errorf("amadeus api error (%d): %s", status, first.Detail)
			}
			if first.Title != "" {
				return fmt.Errorf("amadeus api error (%d): %s", status, first.Title)
			}
		}
		if apiErr.ErrorDescription != "" {
			return fmt.Errorf("amadeus api error (%d): %s", status, apiErr.ErrorDescription)
		}
	}
	if len(payload) > 0 {
		text := strings.TrimSpace(string(payload))
		if runes := []rune(text); len(runes) > maxErrorBodyRunes {
			text = string(runes[:maxErrorBodyRunes])
		}
		return fmt.Errorf("amadeus api error (%d): %s", status, text)
	}
	return fmt.Errorf("amadeus api error (%d)", status)
}

var _ QuoteFetcher = (*Amadeus)(nil)
