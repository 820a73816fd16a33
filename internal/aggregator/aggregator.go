// Package aggregator merges a parsed signal, per-source enrichments and
// technical indicators into one EnrichedCoin and scores it.
package aggregator

import (
	"sort"
	"time"

	"memecoin-signal-lab/internal/domain"
)

// Aggregator merges partial results into coin records.
// It holds no mutable state and is safe for concurrent use.
type Aggregator struct {
	scoring Scoring
}

// New creates an aggregator with the given scoring configuration.
func New(scoring Scoring) *Aggregator {
	return &Aggregator{scoring: scoring}
}

// Scoring returns the active scoring configuration.
func (a *Aggregator) Scoring() Scoring {
	return a.scoring
}

// Merge builds the next version of a coin record.
//
// Merge order:
//  1. start from prior (or documented defaults)
//  2. signal-quoted symbol/price/market cap/volume fill fields that are still unknown
//  3. enrichments overwrite exactly the fields they supply, ordered by (FetchedAt, Source)
//  4. indicators overwrite the technical fields when non-nil
//
// prior is never modified. The result's address comes from prior, else from signal.
func (a *Aggregator) Merge(
	prior *domain.EnrichedCoin,
	signal *domain.RawSignal,
	enrichments []*domain.PartialEnrichment,
	ind *domain.Indicators,
	now time.Time,
) *domain.EnrichedCoin {
	var coin *domain.EnrichedCoin
	switch {
	case prior != nil:
		coin = prior.Clone()
	default:
		coin = domain.NewEnrichedCoin(signal.ContractAddress())
	}

	parseConfidence := 0.0
	if signal != nil {
		applySignal(coin, signal)
		parseConfidence = signal.ParseConfidence
		if signal.Channel != "" {
			coin.Source = signal.Channel
		}
	}

	ordered := make([]*domain.PartialEnrichment, 0, len(enrichments))
	for _, e := range enrichments {
		if e != nil {
			ordered = append(ordered, e)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].FetchedAt.Equal(ordered[j].FetchedAt) {
			return ordered[i].FetchedAt.Before(ordered[j].FetchedAt)
		}
		return ordered[i].Source < ordered[j].Source
	})

	sources := make([]string, 0, len(ordered))
	for _, e := range ordered {
		applyEnrichment(coin, e)
		sources = append(sources, e.Source)
	}
	sort.Strings(sources)
	coin.Sources = dedupe(sources)

	if ind != nil {
		coin.RSI = ind.RSI
		coin.MACD = ind.MACD
		coin.BollingerUpper = ind.BollingerUpper
		coin.BollingerLower = ind.BollingerLower
	}

	coin.RunnerConfidence = a.scoring.RunnerConfidence(coin, parseConfidence)
	coin.EnrichmentTimestamp = now
	return coin
}

// RunnerConfidence scores coin with the aggregator's configuration.
func (a *Aggregator) RunnerConfidence(coin *domain.EnrichedCoin, parseConfidence float64) float64 {
	return a.scoring.RunnerConfidence(coin, parseConfidence)
}

// Factors returns the per-factor breakdown behind RunnerConfidence.
func (a *Aggregator) Factors(coin *domain.EnrichedCoin, parseConfidence float64) FactorBreakdown {
	return a.scoring.Factors(coin, parseConfidence)
}

func applySignal(c *domain.EnrichedCoin, s *domain.RawSignal) {
	if c.Symbol == "" {
		c.Symbol = s.Symbol()
	}
	if v, ok := s.Price(); ok && c.CurrentPrice == 0 {
		c.CurrentPrice = v
	}
	if v, ok := s.MarketCap(); ok && c.MarketCap == 0 {
		c.MarketCap = v
	}
	if v, ok := s.Volume(); ok && c.Volume24h == 0 {
		c.Volume24h = v
	}
}

func applyEnrichment(c *domain.EnrichedCoin, e *domain.PartialEnrichment) {
	setString(&c.Symbol, e.Symbol)
	setString(&c.Name, e.Name)

	setFloat(&c.CurrentPrice, e.CurrentPrice)
	setFloat(&c.PriceChange24h, e.PriceChange24h)
	setFloat(&c.PriceChange7d, e.PriceChange7d)
	setFloat(&c.Volume24h, e.Volume24h)
	setFloat(&c.MarketCap, e.MarketCap)
	setFloat(&c.LiquidityUSD, e.LiquidityUSD)

	setFloat(&c.SocialScore, e.SocialScore)
	setFloat(&c.SentimentScore, e.SentimentScore)
	setInt(&c.TelegramMentions, e.TelegramMentions)
	setInt(&c.TwitterMentions, e.TwitterMentions)

	setFloat(&c.RugRiskScore, e.RugRiskScore)
	setFloat(&c.HoneypotRisk, e.HoneypotRisk)
	if e.ContractVerified != nil {
		c.ContractVerified = *e.ContractVerified
	}
	setInt(&c.HolderCount, e.HolderCount)
	setFloat(&c.CreatorBalance, e.CreatorBalance)
	setFloat(&c.Top10HolderPercent, e.Top10HolderPercent)
}

// setString ignores empty strings so a source cannot blank a known name.
func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i > 0 && s == sorted[i-1] {
			continue
		}
		out = append(out, s)
	}
	return out
}
