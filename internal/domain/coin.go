package domain

import "time"

// Documented defaults for fields no source has ever supplied.
const (
	NeutralScore = 0.5  // social, sentiment and risk scores
	NeutralRSI   = 50.0 // RSI with too little history
)

// EnrichedCoin is the canonical merged record for one on-chain asset.
// Corresponds to coins table in PostgreSQL; ContractAddress is the unique key.
type EnrichedCoin struct {
	ContractAddress string `json:"contract_address"`
	Symbol          string `json:"symbol"`
	Name            string `json:"name"`

	// Market
	CurrentPrice   float64 `json:"current_price"`
	PriceChange24h float64 `json:"price_change_24h"` // percent
	PriceChange7d  float64 `json:"price_change_7d"`  // percent
	Volume24h      float64 `json:"volume_24h"`
	MarketCap      float64 `json:"market_cap"`
	LiquidityUSD   float64 `json:"liquidity_usd"`

	// Technical
	RSI            float64 `json:"rsi"`
	MACD           float64 `json:"macd"`
	BollingerUpper float64 `json:"bollinger_upper"`
	BollingerLower float64 `json:"bollinger_lower"`

	// Social
	SocialScore      float64 `json:"social_score"`
	SentimentScore   float64 `json:"sentiment_score"`
	TelegramMentions int64   `json:"telegram_mentions"`
	TwitterMentions  int64   `json:"twitter_mentions"`

	// Risk
	RugRiskScore       float64 `json:"rug_risk_score"`
	HoneypotRisk       float64 `json:"honeypot_risk"`
	ContractVerified   bool    `json:"contract_verified"`
	HolderCount        int64   `json:"holder_count"`
	CreatorBalance     float64 `json:"creator_balance"`
	Top10HolderPercent float64 `json:"top_10_holder_percent"`

	// Derived
	RunnerConfidence float64 `json:"runner_confidence"` // 0-100

	// Provenance
	EnrichmentTimestamp time.Time `json:"enrichment_timestamp"`
	Source              string    `json:"source"`  // channel or pipeline entry point
	Sources             []string  `json:"sources"` // enrichers that succeeded on the last pass
}

// NewEnrichedCoin returns a record for address with every field at its documented default:
// market values 0, scores at the neutral midpoint, booleans false.
func NewEnrichedCoin(address string) *EnrichedCoin {
	return &EnrichedCoin{
		ContractAddress: address,
		RSI:             NeutralRSI,
		SocialScore:     NeutralScore,
		SentimentScore:  NeutralScore,
		RugRiskScore:    NeutralScore,
		HoneypotRisk:    NeutralScore,
	}
}

// Clone returns a deep copy.
func (c *EnrichedCoin) Clone() *EnrichedCoin {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Sources != nil {
		cp.Sources = append([]string(nil), c.Sources...)
	}
	return &cp
}
