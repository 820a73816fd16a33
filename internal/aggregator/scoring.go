package aggregator

import (
	"fmt"
	"math"

	"memecoin-signal-lab/internal/domain"
)

// weightTolerance is the allowed deviation of the weight sum from 1.
const weightTolerance = 1e-6

// Weights are the runner-confidence factor weights. They must sum to 1.
type Weights struct {
	Momentum    float64 `yaml:"momentum" json:"momentum"`
	Volume      float64 `yaml:"volume" json:"volume"`
	Liquidity   float64 `yaml:"liquidity" json:"liquidity"`
	Social      float64 `yaml:"social" json:"social"`
	Technical   float64 `yaml:"technical" json:"technical"`
	InverseRisk float64 `yaml:"inverse_risk" json:"inverse_risk"`
	Parse       float64 `yaml:"parse" json:"parse"`
}

// DefaultWeights returns the shipped weight table.
func DefaultWeights() Weights {
	return Weights{
		Momentum:    0.20,
		Volume:      0.15,
		Liquidity:   0.15,
		Social:      0.15,
		Technical:   0.10,
		InverseRisk: 0.15,
		Parse:       0.10,
	}
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.Momentum + w.Volume + w.Liquidity + w.Social + w.Technical + w.InverseRisk + w.Parse
}

// Validate checks that weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"momentum": w.Momentum, "volume": w.Volume, "liquidity": w.Liquidity,
		"social": w.Social, "technical": w.Technical, "inverse_risk": w.InverseRisk, "parse": w.Parse,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("weight %s must be non-negative, got %v", name, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights must sum to 1, got %v", sum)
	}
	return nil
}

// Scoring configures how raw coin fields normalize into [0,1] factors.
type Scoring struct {
	Weights Weights `yaml:"weights" json:"weights"`

	// MomentumRangePct maps a 24h change of ±MomentumRangePct onto [0,1], 0% at 0.5.
	MomentumRangePct float64 `yaml:"momentum_range_pct" json:"momentum_range_pct"`
	// VolumeSaturationUSD is the 24h volume at which the volume factor reaches 1 (log scale).
	VolumeSaturationUSD float64 `yaml:"volume_saturation_usd" json:"volume_saturation_usd"`
	// LiquiditySaturationUSD is the liquidity at which the liquidity factor reaches 1 (log scale).
	LiquiditySaturationUSD float64 `yaml:"liquidity_saturation_usd" json:"liquidity_saturation_usd"`
}

// DefaultScoring returns DefaultWeights with the default normalization ranges.
func DefaultScoring() Scoring {
	return Scoring{
		Weights:                DefaultWeights(),
		MomentumRangePct:       100,
		VolumeSaturationUSD:    10_000_000,
		LiquiditySaturationUSD: 1_000_000,
	}
}

// Validate checks weights and normalization ranges.
func (s Scoring) Validate() error {
	if err := s.Weights.Validate(); err != nil {
		return err
	}
	if s.MomentumRangePct <= 0 || s.VolumeSaturationUSD <= 1 || s.LiquiditySaturationUSD <= 1 {
		return fmt.Errorf("normalization ranges must be positive (momentum>0, saturations>1)")
	}
	return nil
}

// FactorBreakdown holds each factor in [0,1] and the resulting confidence.
type FactorBreakdown struct {
	Momentum    float64 `json:"momentum"`
	Volume      float64 `json:"volume"`
	Liquidity   float64 `json:"liquidity"`
	Social      float64 `json:"social"`
	Technical   float64 `json:"technical"`
	InverseRisk float64 `json:"inverse_risk"`
	Parse       float64 `json:"parse"`
	Confidence  float64 `json:"confidence"` // 0-100
}

// Factors normalizes a coin's fields into clamped factors and weighs them.
//
// momentum:    0.5 + change24h / (2·range)
// volume:      log10(1+volume) / log10(1+saturation)
// liquidity:   log10(1+liquidity) / log10(1+saturation)
// social:      social_score
// technical:   |rsi − 50| / 50
// inverse risk: 1 − rug_risk_score
// parse:       parse_confidence
func (s Scoring) Factors(c *domain.EnrichedCoin, parseConfidence float64) FactorBreakdown {
	f := FactorBreakdown{
		Momentum:    clamp01(0.5 + c.PriceChange24h/(2*s.MomentumRangePct)),
		Volume:      logScale(c.Volume24h, s.VolumeSaturationUSD),
		Liquidity:   logScale(c.LiquidityUSD, s.LiquiditySaturationUSD),
		Social:      clamp01(c.SocialScore),
		Technical:   clamp01(math.Abs(c.RSI-domain.NeutralRSI) / domain.NeutralRSI),
		InverseRisk: clamp01(1 - c.RugRiskScore),
		Parse:       clamp01(parseConfidence),
	}

	w := s.Weights
	sum := w.Momentum*f.Momentum +
		w.Volume*f.Volume +
		w.Liquidity*f.Liquidity +
		w.Social*f.Social +
		w.Technical*f.Technical +
		w.InverseRisk*f.InverseRisk +
		w.Parse*f.Parse

	f.Confidence = math.Max(0, math.Min(100, sum*100))
	return f
}

// RunnerConfidence returns the weighted confidence in [0,100].
func (s Scoring) RunnerConfidence(c *domain.EnrichedCoin, parseConfidence float64) float64 {
	return s.Factors(c, parseConfidence).Confidence
}

func logScale(v, saturation float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return clamp01(math.Log10(1+v) / math.Log10(1+saturation))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
