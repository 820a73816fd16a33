package domain

import "time"

// PartialEnrichment is what one source returns for one address.
// A nil pointer means the source could not supply the field; a non-nil
// pointer to zero is a measured zero.
type PartialEnrichment struct {
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`

	Symbol *string `json:"symbol,omitempty"`
	Name   *string `json:"name,omitempty"`

	CurrentPrice   *float64 `json:"current_price,omitempty"`
	PriceChange24h *float64 `json:"price_change_24h,omitempty"`
	PriceChange7d  *float64 `json:"price_change_7d,omitempty"`
	Volume24h      *float64 `json:"volume_24h,omitempty"`
	MarketCap      *float64 `json:"market_cap,omitempty"`
	LiquidityUSD   *float64 `json:"liquidity_usd,omitempty"`

	SocialScore      *float64 `json:"social_score,omitempty"`
	SentimentScore   *float64 `json:"sentiment_score,omitempty"`
	TelegramMentions *int64   `json:"telegram_mentions,omitempty"`
	TwitterMentions  *int64   `json:"twitter_mentions,omitempty"`

	RugRiskScore       *float64 `json:"rug_risk_score,omitempty"`
	HoneypotRisk       *float64 `json:"honeypot_risk,omitempty"`
	ContractVerified   *bool    `json:"contract_verified,omitempty"`
	HolderCount        *int64   `json:"holder_count,omitempty"`
	CreatorBalance     *float64 `json:"creator_balance,omitempty"`
	Top10HolderPercent *float64 `json:"top_10_holder_percent,omitempty"`
}

// Empty reports whether the enrichment supplies no fields at all.
func (p *PartialEnrichment) Empty() bool {
	return p == nil || (p.Symbol == nil && p.Name == nil &&
		p.CurrentPrice == nil && p.PriceChange24h == nil && p.PriceChange7d == nil &&
		p.Volume24h == nil && p.MarketCap == nil && p.LiquidityUSD == nil &&
		p.SocialScore == nil && p.SentimentScore == nil &&
		p.TelegramMentions == nil && p.TwitterMentions == nil &&
		p.RugRiskScore == nil && p.HoneypotRisk == nil && p.ContractVerified == nil &&
		p.HolderCount == nil && p.CreatorBalance == nil && p.Top10HolderPercent == nil)
}

// Indicators holds technical statistics derived from a price history.
type Indicators struct {
	RSI            float64
	MACD           float64
	BollingerUpper float64
	BollingerLower float64
}

// PricePoint is one recorded price observation.
// Corresponds to price_history table in ClickHouse.
type PricePoint struct {
	ContractAddress string
	TimestampMs     int64 // Unix timestamp in milliseconds
	Price           float64
	Volume24h       float64
	Source          string
}
