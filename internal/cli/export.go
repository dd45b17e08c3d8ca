package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"farewatch/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportSince     time.Duration
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export price history as CSV and/or PNG chart",
	Example: `  farewatch export --csv out/history.csv
  farewatch export --png out/history.png --since 168h
  farewatch export --csv march.csv --from 2026-03-01 --to 2026-04-01`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportSince > 0 && exportFrom != "" {
			return errors.New("--since and --from are mutually exclusive")
		}

		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		var err error
		if opts.From, err = parseWindowFlag("from", exportFrom); err != nil {
			return err
		}
		if opts.To, err = parseWindowFlag("to", exportTo); err != nil {
			return err
		}
		if exportSince > 0 {
			from := time.Now().UTC().Add(-exportSince)
			opts.From = &from
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

// parseWindowFlag accepts RFC3339 timestamps or plain dates (UTC midnight).
func parseWindowFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if ts, err := time.Parse(layout, value); err == nil {
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("invalid --%s value %q: want RFC3339 or YYYY-MM-DD", name, value)
}

func init() {
	flags := exportCmd.Flags()
	flags.StringVar(&exportFrom, "from", "", "window start, inclusive (RFC3339 or YYYY-MM-DD)")
	flags.StringVar(&exportTo, "to", "", "window end, exclusive (RFC3339 or YYYY-MM-DD)")
	flags.DurationVar(&exportSince, "since", 0, "only export entries newer than this duration")
	flags.StringVar(&exportPNGPath, "png", "", "write a price chart to this PNG path")
	flags.StringVar(&exportCSVPath, "csv", "", "write history rows to this CSV path")
	flags.IntVar(&exportMaxPoints, "max-points", 0, "downsample to at most this many points (0 uses export.max_data_points)")
}
