package main

import (
	"time"

	"github.com/spf13/cobra"

	"memecoin-signal-lab/internal/pipeline"
)

var (
	ingestChannel string
	noAlerts      bool
	showProgress  bool
	pendingLimit  int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Parse, enrich and persist channel messages",
	Long: `Ingest runs the full pipeline over messages read from a file or stdin:
parse, enrich every mentioned token from all enabled sources, score, persist
and alert on coins above the configured confidence.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

var enrichCmd = &cobra.Command{
	Use:   "enrich <address>...",
	Short: "Enrich contract addresses directly",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, func(p *pipeline.Pipeline) (*pipeline.Result, error) {
			return p.RunAddresses(cmd.Context(), args)
		})
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Re-enrich coins without fresh price data",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, func(p *pipeline.Pipeline) (*pipeline.Result, error) {
			return p.RunPending(cmd.Context(), pendingLimit)
		})
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd, enrichCmd, pendingCmd)

	ingestCmd.Flags().StringVar(&ingestChannel, "channel", "stdin", "Channel name for plain-text lines")
	pendingCmd.Flags().IntVar(&pendingLimit, "limit", 0, "Maximum coins to re-enrich (default pipeline.pending_limit)")
	for _, c := range []*cobra.Command{ingestCmd, enrichCmd, pendingCmd} {
		c.Flags().BoolVar(&noAlerts, "no-alerts", false, "Do not send alerts")
		c.Flags().BoolVar(&showProgress, "progress", false, "Log per-item progress")
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	in, err := openInput(firstArg(args))
	if err != nil {
		return err
	}
	defer in.Close()

	msgs, err := readMessages(in, ingestChannel, time.Now().UTC())
	if err != nil {
		return err
	}
	return runBatch(cmd, func(p *pipeline.Pipeline) (*pipeline.Result, error) {
		return p.RunMessages(cmd.Context(), msgs)
	})
}

// runBatch wires the app, runs one batch, prints it and sends alerts.
func runBatch(cmd *cobra.Command, run func(*pipeline.Pipeline) (*pipeline.Result, error)) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if pendingLimit <= 0 {
		pendingLimit = a.cfg.Pipeline.PendingLimit
	}

	var observer pipeline.Observer
	if showProgress {
		observer = func(pr pipeline.Progress) {
			a.log.Info().
				Str("item", pr.ItemID).
				Str("address", pr.ContractAddress).
				Str("status", string(pr.Status)).
				Int("processed", pr.Processed).
				Int("total", pr.Total).
				Msg("progress")
		}
	}

	p, err := a.pipeline(ctx, observer)
	if err != nil {
		return err
	}
	res, err := run(p)
	if err != nil {
		return err
	}

	if err := printResult(cmd.OutOrStdout(), outputFormat, res); err != nil {
		return err
	}
	if !noAlerts {
		if sent := a.alert(ctx, res); sent > 0 {
			a.log.Info().Int("alerts", sent).Msg("alerts sent")
		}
	}
	return nil
}
