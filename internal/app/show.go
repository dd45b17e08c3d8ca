package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"farewatch/internal/storage"
)

// Show prints the latest status and the most recent history entries.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	status, err := store.LoadStatus(ctx)
	if err != nil {
		return err
	}
	history, err := store.LoadHistory(ctx)
	if err != nil {
		return err
	}

	printStatus(a, status)

	limit := decimal.NewFromFloat(a.Config.Alerting.PriceLimit)
	if opts.DealsOnly {
		history = dealsOnly(history, limit)
	}

	entries := storage.Tail(history, opts.Limit)
	if len(entries) == 0 {
		fmt.Fprintln(a.Out, "no price history found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPrice\tCurrency\tDeal\tAirlines")

	for _, entry := range entries {
		deal := ""
		if entry.Price.LessThan(limit) {
			deal = "yes"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			entry.Timestamp.UTC().Format(time.RFC3339),
			entry.Price.StringFixed(0),
			entry.Currency,
			deal,
			sanitizeInline(entry.Airlines),
		)
	}

	return writer.Flush()
}

func dealsOnly(entries []storage.HistoryEntry, limit decimal.Decimal) []storage.HistoryEntry {
	out := make([]storage.HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Price.LessThan(limit) {
			out = append(out, entry)
		}
	}
	return out
}

func printStatus(a *App, status *storage.CheckResult) {
	route := a.Config.Route
	fmt.Fprintf(a.Out, "Route: %s -> %s (%s / %s)\n", route.Origin, route.Destination, route.DepartDate, route.ReturnDate)

	switch {
	case status == nil:
		fmt.Fprintln(a.Out, "Last check: never")
	case status.Failed():
		fmt.Fprintf(a.Out, "Last check: %s failed: %s\n",
			status.Timestamp.UTC().Format(time.RFC3339), sanitizeInline(*status.Error))
	default:
		fmt.Fprintf(a.Out, "Last check: %s %s %s (deal: %t)\n",
			status.Timestamp.UTC().Format(time.RFC3339), status.Price.StringFixed(0), status.Currency, status.IsDeal)
	}
	fmt.Fprintln(a.Out)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
