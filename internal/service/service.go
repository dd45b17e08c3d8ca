package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"farewatch/internal/alerting"
	"farewatch/internal/config"
	"farewatch/internal/fetcher"
	"farewatch/internal/metrics"
	"farewatch/internal/runstate"
	"farewatch/internal/storage"
)

// Outcome is what a completed check produced.
type Outcome struct {
	Result     storage.CheckResult
	CheckCount int64
}

// ResultPayload is the body of a result event.
type ResultPayload struct {
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Airlines  string          `json:"airlines"`
	IsDeal    bool            `json:"is_deal"`
	Timestamp time.Time       `json:"timestamp"`
	Offers    []fetcher.Offer `json:"all_offers"`
}

// Checker runs single-flight price checks and relays their outcome.
type Checker struct {
	state    *runstate.State
	fetcher  fetcher.QuoteFetcher
	store    storage.ResultStore
	notifier alerting.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	route      config.RouteConfig
	limit      decimal.Decimal
	keepOffers int
	now        func() time.Time
}

// New constructs the checker. notifier and m may be nil.
func New(cfg *config.Config, state *runstate.State, quotes fetcher.QuoteFetcher, store storage.ResultStore, notifier alerting.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Checker {
	return &Checker{
		state:      state,
		fetcher:    quotes,
		store:      store,
		notifier:   notifier,
		metrics:    m,
		logger:     logger.With().Str("component", "checker").Logger(),
		route:      cfg.Route,
		limit:      decimal.NewFromFloat(cfg.Alerting.PriceLimit),
		keepOffers: cfg.Route.KeepOffers,
		now:        time.Now,
	}
}

// State exposes the shared run state.
func (c *Checker) State() *runstate.State {
	return c.state
}

// Limit is the deal threshold.
func (c *Checker) Limit() decimal.Decimal {
	return c.limit
}

// RunCheck performs one check synchronously. It reports false, without
// side effects, when another check is already in flight. Cancelling ctx
// does not abort a started check; fetch timeouts belong to the fetcher.
func (c *Checker) RunCheck(ctx context.Context) (Outcome, bool) {
	if !c.begin() {
		return Outcome{}, false
	}
	return c.execute(ctx), true
}

// TryStart claims the single-flight gate and runs the check in the
// background. It reports false when a check is already in flight.
func (c *Checker) TryStart(ctx context.Context) bool {
	if !c.begin() {
		return false
	}
	go c.execute(ctx)
	return true
}

func (c *Checker) begin() bool {
	if !c.state.TryBeginCheck() {
		c.metrics.ObserveCheck(metrics.OutcomeBusy, 0)
		c.logger.Debug().Msg("check already running, skipping")
		return false
	}
	c.state.Broadcast(runstate.EventChecking, runstate.CheckingPayload{Checking: true})
	return true
}

// execute runs with the gate held and always releases it. The caller's
// cancellation is detached so the outcome is always persisted.
func (c *Checker) execute(ctx context.Context) (outcome Outcome) {
	ctx = context.WithoutCancel(ctx)
	started := c.now()
	defer func() {
		c.state.FinishCheck()
		c.state.Broadcast(runstate.EventChecking, runstate.CheckingPayload{Checking: false})
	}()

	checkID := uuid.NewString()
	logger := c.logger.With().Str("check_id", checkID).Logger()
	logger.Info().
		Str("origin", c.route.Origin).
		Str("destination", c.route.Destination).
		Msg("checking flight prices")

	offers, err := c.fetch(ctx)
	if err != nil {
		return c.recordFailure(ctx, logger, checkID, started, err)
	}

	cheapest := offers[0]
	result := storage.CheckResult{
		ID:        checkID,
		Timestamp: c.now().UTC(),
		Price:     cheapest.Price,
		Currency:  cheapest.Currency,
		Airlines:  strings.Join(cheapest.Airlines, ", "),
		IsDeal:    cheapest.Price.LessThan(c.limit),
		Threshold: c.limit,
		Offers:    topOffers(offers, c.keepOffers),
	}
	if result.Currency == "" {
		result.Currency = c.route.Currency
	}

	count := c.state.IncrementCheckCount()
	c.metrics.ObserveCheck(metrics.OutcomeSuccess, c.now().Sub(started))

	if err := c.store.AppendHistory(ctx, storage.HistoryEntry{
		Timestamp: result.Timestamp,
		Price:     result.Price,
		Currency:  result.Currency,
		Airlines:  result.Airlines,
	}); err != nil {
		logger.Error().Err(err).Msg("failed to append price history")
	}
	if err := c.store.SaveStatus(ctx, result); err != nil {
		logger.Error().Err(err).Msg("failed to save status")
	}

	c.state.Broadcast(runstate.EventResult, ResultPayload{
		Price:     result.Price,
		Currency:  result.Currency,
		Airlines:  result.Airlines,
		IsDeal:    result.IsDeal,
		Timestamp: result.Timestamp,
		Offers:    result.Offers,
	})

	logEvent := logger.Info().
		Str("price", result.Price.StringFixed(0)).
		Str("limit", c.limit.StringFixed(0)).
		Str("airlines", result.Airlines).
		Int64("check_count", count)
	if result.IsDeal {
		logEvent.Msg("price alert: below threshold")
		c.metrics.DealFound()
		c.notify(ctx, logger, result)
	} else {
		logEvent.Msg("price above threshold, no alert")
	}

	return Outcome{Result: result, CheckCount: count}
}

// fetch calls the quote fetcher and converts panics into errors.
func (c *Checker) fetch(ctx context.Context) (offers []fetcher.Offer, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("quote fetcher panicked: %v", r)
		}
	}()

	offers, err = c.fetcher.FetchOffers(ctx, fetcher.RouteParams{
		Origin:      c.route.Origin,
		Destination: c.route.Destination,
		DepartDate:  c.route.DepartDate,
		ReturnDate:  c.route.ReturnDate,
		Adults:      c.route.Adults,
		Currency:    c.route.Currency,
		NonStop:     c.route.NonStop,
		MaxResults:  c.route.MaxResults,
	})
	if err != nil {
		return nil, err
	}
	if len(offers) == 0 {
		return nil, fetcher.ErrNoOffers
	}
	return offers, nil
}

func (c *Checker) recordFailure(ctx context.Context, logger zerolog.Logger, checkID string, started time.Time, cause error) Outcome {
	msg := cause.Error()
	result := storage.CheckResult{
		ID:        checkID,
		Timestamp: c.now().UTC(),
		Currency:  c.route.Currency,
		Threshold: c.limit,
		Error:     &msg,
	}

	count := c.state.IncrementCheckCount()
	c.metrics.ObserveCheck(metrics.OutcomeFailure, c.now().Sub(started))
	logger.Error().Err(cause).Int64("check_count", count).Msg("flight search failed")

	if err := c.store.SaveStatus(ctx, result); err != nil {
		logger.Error().Err(err).Msg("failed to save error status")
	}
	return Outcome{Result: result, CheckCount: count}
}

func (c *Checker) notify(ctx context.Context, logger zerolog.Logger, result storage.CheckResult) {
	if c.notifier == nil {
		return
	}

	note := alerting.RenderDeal(alerting.Deal{
		Origin:      c.route.Origin,
		Destination: c.route.Destination,
		DepartDate:  c.route.DepartDate,
		ReturnDate:  c.route.ReturnDate,
		NonStop:     c.route.NonStop,
		Price:       result.Price,
		Limit:       c.limit,
		Currency:    result.Currency,
		Airlines:    result.Airlines,
	})

	err := safeNotify(ctx, c.notifier, note)
	c.metrics.NotificationSent(err)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to dispatch alert")
	}
}

func safeNotify(ctx context.Context, n alerting.Notifier, note alerting.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()
	return n.Notify(ctx, note)
}

func topOffers(offers []fetcher.Offer, n int) []fetcher.Offer {
	if n <= 0 || len(offers) <= n {
		return offers
	}
	return offers[:n]
}
