// Command signal-lab parses Telegram memecoin signals, enriches the coins
// they mention and serves the results.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath   string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "signal-lab",
	Short: "Memecoin signal parsing and enrichment pipeline",
	Long: `signal-lab turns Telegram channel messages into trading signals, enriches
each mentioned Solana token from market, risk, on-chain and social sources,
scores it with a runner confidence and persists the result.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format (table|json)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
