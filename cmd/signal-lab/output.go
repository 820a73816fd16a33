package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/notify"
	"memecoin-signal-lab/internal/pipeline"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult writes a batch summary followed by one row per item.
func printResult(w io.Writer, format string, res *pipeline.Result) error {
	if strings.EqualFold(format, "json") {
		return writeJSON(w, res)
	}

	s := res.Stats
	fmt.Fprintf(w, "Run %s: %d items in %s\n", s.RunID, s.Total, s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  processed %d, successful %d, degraded %d, dropped %d, skipped %d, failed %d\n",
		s.Processed, s.Successful, s.Degraded, s.Dropped, s.Skipped, s.Failed)
	if len(s.SourceFailures) > 0 {
		names := make([]string, 0, len(s.SourceFailures))
		for name := range s.SourceFailures {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = fmt.Sprintf("%s=%d", name, s.SourceFailures[name])
		}
		fmt.Fprintf(w, "  source failures: %s\n", strings.Join(parts, ", "))
	}
	if res.Cancelled {
		fmt.Fprintln(w, "  cancelled before every item started")
	}
	if res.ProgressDropped > 0 {
		fmt.Fprintf(w, "  progress events dropped: %d\n", res.ProgressDropped)
	}
	fmt.Fprintln(w)

	coins := make(map[string]*domain.EnrichedCoin, len(res.Coins))
	for _, c := range res.Coins {
		coins[c.ContractAddress] = c
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tSTATUS\tSYMBOL\tADDRESS\tPRICE\tMCAP\tCONFIDENCE\tNOTE")
	for _, o := range res.Outcomes {
		symbol, price, mcap := "-", "-", "-"
		if c, ok := coins[o.ContractAddress]; ok {
			symbol = orDash(c.Symbol)
			price = "$" + notify.FormatPrice(c.CurrentPrice)
			mcap = notify.FormatUSD(c.MarketCap)
		}
		note := o.Err
		if len(o.FailedSources) > 0 {
			note = "failed: " + strings.Join(o.FailedSources, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%.1f\t%s\n",
			o.ItemID, o.Status, symbol, orDash(o.ContractAddress), price, mcap, o.RunnerConfidence, orDash(note))
	}
	return tw.Flush()
}

// printSignals writes parsed signals.
func printSignals(w io.Writer, format string, signals []*domain.RawSignal, errs []string) error {
	if strings.EqualFold(format, "json") {
		return writeJSON(w, struct {
			Signals []*domain.RawSignal `json:"signals"`
			Errors  []string            `json:"errors,omitempty"`
		}{signals, errs})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tSYMBOL\tADDRESS\tPRICE\tMCAP\tVOLUME\tCONFIDENCE")
	for _, s := range signals {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%.2f\n",
			orDash(s.Channel), orDash(s.Symbol()), orDash(s.ContractAddress()),
			field(s, domain.FieldPrice), field(s, domain.FieldMarketCap), field(s, domain.FieldVolume),
			s.ParseConfidence)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, e := range errs {
		fmt.Fprintf(w, "skipped: %s\n", e)
	}
	return nil
}

func field(s *domain.RawSignal, key string) string {
	v, _ := s.Field(key)
	return orDash(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
