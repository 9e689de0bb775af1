package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tradeflow",
	Short: "B2B trade marketplace core",
	Long: `tradeflow runs the trade lifecycle backend: RFQ and quoting,
escrow-backed settlement, payment webhooks, and automated dispute
resolution.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
