package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulatePrice    float64
	simulateAirlines string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a deal alert for a simulated fare",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice <= 0 {
			return errors.New("--price must be greater than zero")
		}
		return getApp().SimulateAlert(cmd.Context(), decimal.NewFromFloat(simulatePrice), simulateAirlines)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "simulated cheapest fare")
	simulateCmd.Flags().StringVar(&simulateAirlines, "airlines", "SK", "simulated airline codes")
}
