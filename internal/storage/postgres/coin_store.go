package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/solana"
	"memecoin-signal-lab/internal/storage"
)

// CoinStore implements storage.CoinStore using PostgreSQL.
type CoinStore struct {
	pool *Pool
}

// NewCoinStore creates a new CoinStore.
func NewCoinStore(pool *Pool) *CoinStore {
	return &CoinStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CoinStore = (*CoinStore)(nil)

const coinColumns = `
	contract_address, symbol, name,
	current_price, price_change_24h, price_change_7d, volume_24h, market_cap, liquidity_usd,
	rsi, macd, bollinger_upper, bollinger_lower,
	social_score, sentiment_score, telegram_mentions, twitter_mentions,
	rug_risk_score, honeypot_risk, contract_verified, holder_count, creator_balance, top_10_holder_percent,
	runner_confidence, enrichment_timestamp, source, sources
`

// Upsert inserts or replaces the coin keyed by contract_address.
// Concurrent upserts of the same address are serialized by the row lock; last writer wins.
func (s *CoinStore) Upsert(ctx context.Context, c *domain.EnrichedCoin) (err error) {
	if c == nil || !solana.IsValidAddress(c.ContractAddress) {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { err = s.pool.observe("upsert coin", start, err) }(time.Now())

	query := `
		INSERT INTO coins (` + coinColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		        $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
		ON CONFLICT (contract_address) DO UPDATE SET
			symbol                = EXCLUDED.symbol,
			name                  = EXCLUDED.name,
			current_price         = EXCLUDED.current_price,
			price_change_24h      = EXCLUDED.price_change_24h,
			price_change_7d       = EXCLUDED.price_change_7d,
			volume_24h            = EXCLUDED.volume_24h,
			market_cap            = EXCLUDED.market_cap,
			liquidity_usd         = EXCLUDED.liquidity_usd,
			rsi                   = EXCLUDED.rsi,
			macd                  = EXCLUDED.macd,
			bollinger_upper       = EXCLUDED.bollinger_upper,
			bollinger_lower       = EXCLUDED.bollinger_lower,
			social_score          = EXCLUDED.social_score,
			sentiment_score       = EXCLUDED.sentiment_score,
			telegram_mentions     = EXCLUDED.telegram_mentions,
			twitter_mentions      = EXCLUDED.twitter_mentions,
			rug_risk_score        = EXCLUDED.rug_risk_score,
			honeypot_risk         = EXCLUDED.honeypot_risk,
			contract_verified     = EXCLUDED.contract_verified,
			holder_count          = EXCLUDED.holder_count,
			creator_balance       = EXCLUDED.creator_balance,
			top_10_holder_percent = EXCLUDED.top_10_holder_percent,
			runner_confidence     = EXCLUDED.runner_confidence,
			enrichment_timestamp  = EXCLUDED.enrichment_timestamp,
			source                = EXCLUDED.source,
			sources               = EXCLUDED.sources,
			updated_at            = now()
	`

	sources := c.Sources
	if sources == nil {
		sources = []string{}
	}

	_, err = s.pool.Exec(ctx, query,
		c.ContractAddress, c.Symbol, c.Name,
		c.CurrentPrice, c.PriceChange24h, c.PriceChange7d, c.Volume24h, c.MarketCap, c.LiquidityUSD,
		c.RSI, c.MACD, c.BollingerUpper, c.BollingerLower,
		c.SocialScore, c.SentimentScore, c.TelegramMentions, c.TwitterMentions,
		c.RugRiskScore, c.HoneypotRisk, c.ContractVerified, c.HolderCount, c.CreatorBalance, c.Top10HolderPercent,
		c.RunnerConfidence, nullTime(c.EnrichmentTimestamp), c.Source, sources,
	)
	if err != nil {
		return fmt.Errorf("upsert coin: %w", err)
	}
	return nil
}

// GetByAddress retrieves a coin. Returns ErrNotFound if not exists.
func (s *CoinStore) GetByAddress(ctx context.Context, address string) (c *domain.EnrichedCoin, err error) {
	defer func(start time.Time) { err = s.pool.observe("get coin", start, err) }(time.Now())

	query := `SELECT ` + coinColumns + ` FROM coins WHERE contract_address = $1`

	c, err = scanCoin(s.pool.QueryRow(ctx, query, address))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get coin by address: %w", err)
	}
	return c, nil
}

// PendingAddresses returns never-priced or stale coins, oldest enrichment first.
func (s *CoinStore) PendingAddresses(ctx context.Context, limit int, staleBefore time.Time) (addrs []string, err error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}
	defer func(start time.Time) { err = s.pool.observe("pending coins", start, err) }(time.Now())

	query := `
		SELECT contract_address
		FROM coins
		WHERE current_price = 0
		   OR enrichment_timestamp IS NULL
		   OR enrichment_timestamp < $1
		ORDER BY enrichment_timestamp ASC NULLS FIRST, contract_address ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending coins: %w", err)
	}
	defer rows.Close()

	addrs, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect pending coins: %w", err)
	}
	return addrs, nil
}

// Top returns coins ordered by runner_confidence DESC, contract_address ASC.
func (s *CoinStore) Top(ctx context.Context, limit int) (coins []*domain.EnrichedCoin, err error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}
	defer func(start time.Time) { err = s.pool.observe("top coins", start, err) }(time.Now())

	query := `
		SELECT ` + coinColumns + `
		FROM coins
		ORDER BY runner_confidence DESC, contract_address ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query top coins: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCoin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coin row: %w", err)
		}
		coins = append(coins, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coin rows: %w", err)
	}
	return coins, nil
}

// scanCoin scans a single row into an EnrichedCoin.
func scanCoin(row pgx.Row) (*domain.EnrichedCoin, error) {
	var c domain.EnrichedCoin
	var enrichedAt *time.Time

	err := row.Scan(
		&c.ContractAddress, &c.Symbol, &c.Name,
		&c.CurrentPrice, &c.PriceChange24h, &c.PriceChange7d, &c.Volume24h, &c.MarketCap, &c.LiquidityUSD,
		&c.RSI, &c.MACD, &c.BollingerUpper, &c.BollingerLower,
		&c.SocialScore, &c.SentimentScore, &c.TelegramMentions, &c.TwitterMentions,
		&c.RugRiskScore, &c.HoneypotRisk, &c.ContractVerified, &c.HolderCount, &c.CreatorBalance, &c.Top10HolderPercent,
		&c.RunnerConfidence, &enrichedAt, &c.Source, &c.Sources,
	)
	if err != nil {
		return nil, err
	}

	if enrichedAt != nil {
		c.EnrichmentTimestamp = enrichedAt.UTC()
	}
	if len(c.Sources) == 0 {
		c.Sources = nil
	}
	return &c, nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
