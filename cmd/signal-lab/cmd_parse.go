package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/parser"
)

var parseChannel string

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Parse channel messages into signals without enriching",
	Long: `Parse reads one message per line from a file or stdin and prints the
extracted signal fields and parse confidence. Lines may be plain text or JSON
objects of the form {"text":...,"channel":...,"timestamp":...}.

Examples:
  signal-lab parse messages.jsonl
  echo '$BONK CA: DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263' | signal-lab parse --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)
	parseCmd.Flags().StringVar(&parseChannel, "channel", "stdin", "Channel name for plain-text lines")
}

func runParse(cmd *cobra.Command, args []string) error {
	in, err := openInput(firstArg(args))
	if err != nil {
		return err
	}
	defer in.Close()

	msgs, err := readMessages(in, parseChannel, time.Now().UTC())
	if err != nil {
		return err
	}

	p := parser.New()
	signals, errs := parseAll(p, msgs)
	return printSignals(cmd.OutOrStdout(), outputFormat, signals, errs)
}

func parseAll(p *parser.Parser, msgs []domain.InboundMessage) ([]*domain.RawSignal, []string) {
	var (
		signals []*domain.RawSignal
		errs    []string
	)
	for i, m := range msgs {
		sig, err := p.Parse(m.Text, m.Channel, m.Timestamp)
		if err != nil {
			errs = append(errs, fmt.Sprintf("message %d: %v", i, err))
			continue
		}
		signals = append(signals, sig)
	}
	return signals, errs
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
