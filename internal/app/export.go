package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"farewatch/internal/storage"
)

// Export renders price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	if opts.From != nil && opts.To != nil && !opts.From.Before(*opts.To) {
		return errors.New("from must be before to")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	history, err := store.LoadHistory(ctx)
	if err != nil {
		return err
	}

	entries := filterWindow(history, opts.From, opts.To)
	if len(entries) == 0 {
		a.Logger.Info().Msg("no price history found for export window")
		return nil
	}

	downsampled := downsampleEntries(entries, opts.MaxPoints)
	a.Logger.Info().Int("total", len(entries)).Int("exported", len(downsampled)).Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		limit := a.Config.Alerting.PriceLimit
		if err := writeHistoryPNG(opts.PNGPath, downsampled, limit); err != nil {
			return err
		}
	}

	return nil
}

// filterWindow keeps entries in [from, to).
func filterWindow(entries []storage.HistoryEntry, from, to *time.Time) []storage.HistoryEntry {
	if from == nil && to == nil {
		return entries
	}
	out := make([]storage.HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		if from != nil && entry.Timestamp.Before(*from) {
			continue
		}
		if to != nil && !entry.Timestamp.Before(*to) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func downsampleEntries(entries []storage.HistoryEntry, max int) []storage.HistoryEntry {
	if max <= 0 || len(entries) <= max {
		return entries
	}
	if max == 1 {
		return entries[len(entries)-1:]
	}

	result := make([]storage.HistoryEntry, 0, max)
	step := float64(len(entries)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(entries) {
			idx = len(entries) - 1
		}
		result = append(result, entries[idx])
	}
	return result
}

func writeHistoryCSV(path string, entries []storage.HistoryEntry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "price", "currency", "airlines"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, entry := range entries {
		record := []string{
			entry.Timestamp.UTC().Format(time.RFC3339),
			entry.Price.String(),
			entry.Currency,
			entry.Airlines,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeHistoryPNG(path string, entries []storage.HistoryEntry, limit float64) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(entries))
	prices := make([]float64, len(entries))
	threshold := make([]float64, len(entries))

	for i, entry := range entries {
		x[i] = entry.Timestamp
		prices[i] = entry.Price.InexactFloat64()
		threshold[i] = limit
	}

	// go-chart needs at least two points to draw a line.
	if len(entries) == 1 {
		x = append(x, x[0].Add(time.Minute))
		prices = append(prices, prices[0])
		threshold = append(threshold, limit)
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	currency := entries[0].Currency
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (" + currency + ")",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Cheapest offer",
				XValues: x,
				YValues: prices,
			},
			chart.TimeSeries{
				Name:    "Price limit",
				XValues: x,
				YValues: threshold,
				Style: chart.Style{
					StrokeDashArray: []float64{5, 5},
				},
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
