package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"farewatch/internal/alerting"
)

// SimulateAlert renders a deal alert for the given price and sends it through
// the configured channels.
func (a *App) SimulateAlert(ctx context.Context, price decimal.Decimal, airlines string) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	route := a.Config.Route
	note := alerting.RenderDeal(alerting.Deal{
		Origin:      route.Origin,
		Destination: route.Destination,
		DepartDate:  route.DepartDate,
		ReturnDate:  route.ReturnDate,
		NonStop:     route.NonStop,
		Price:       price,
		Limit:       decimal.NewFromFloat(a.Config.Alerting.PriceLimit),
		Currency:    route.Currency,
		Airlines:    airlines,
	})

	if err := notifier.Notify(ctx, note); err != nil {
		return fmt.Errorf("dispatch simulated alert: %w", err)
	}
	a.Logger.Info().Str("title", note.Title).Msg("simulated alert dispatched")
	return nil
}
