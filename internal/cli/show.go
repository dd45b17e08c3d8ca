package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"farewatch/internal/app"
)

var showOpts app.ShowOptions

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the last check and recent fares",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showOpts.Limit <= 0 {
			return errors.New("--limit must be greater than zero")
		}
		return getApp().Show(cmd.Context(), showOpts)
	},
}

func init() {
	showCmd.Flags().IntVarP(&showOpts.Limit, "limit", "n", 20, "number of history entries to print")
	showCmd.Flags().BoolVar(&showOpts.DealsOnly, "deals", false, "only list fares under alerting.price_limit")
}
