package enrichment

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"memecoin-signal-lab/internal/domain"
)

// DefaultDexScreenerURL is the public DexScreener API base.
const DefaultDexScreenerURL = "https://api.dexscreener.com"

// DexScreener supplies price, 24h change, volume, market cap and liquidity
// from the most liquid pair whose base token is the address.
type DexScreener struct {
	baseURL string
	http    *httpJSON
	now     func() time.Time
}

// NewDexScreener creates the price/volume/liquidity enricher.
func NewDexScreener(baseURL string, client *http.Client) *DexScreener {
	if baseURL == "" {
		baseURL = DefaultDexScreenerURL
	}
	return &DexScreener{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    newHTTPJSON(SourceDexScreener, client, nil),
		now:     time.Now,
	}
}

// Name returns the source name.
func (d *DexScreener) Name() string { return SourceDexScreener }

type dexTokensResponse struct {
	Pairs []dexPair `json:"pairs"`
}

type dexPair struct {
	ChainID   string `json:"chainId"`
	BaseToken struct {
		Address string `json:"address"`
	} `json:"baseToken"`
	PriceUSD    string `json:"priceUsd"`
	PriceChange struct {
		H24 *float64 `json:"h24"`
	} `json:"priceChange"`
	Volume struct {
		H24 *float64 `json:"h24"`
	} `json:"volume"`
	Liquidity *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	FDV       *float64 `json:"fdv"`
	MarketCap *float64 `json:"marketCap"`
}

// Fetch queries /latest/dex/tokens/{address}. An address with no pairs
// yields an empty enrichment, not an error.
func (d *DexScreener) Fetch(ctx context.Context, address string) (*domain.PartialEnrichment, error) {
	var resp dexTokensResponse
	if err := d.http.get(ctx, d.baseURL+"/latest/dex/tokens/"+address, &resp); err != nil {
		return nil, err
	}

	out := &domain.PartialEnrichment{Source: SourceDexScreener, FetchedAt: d.now().UTC()}

	best := bestPair(resp.Pairs, address)
	if best == nil {
		return out, nil
	}

	if p, err := strconv.ParseFloat(best.PriceUSD, 64); err == nil && p >= 0 {
		out.CurrentPrice = ptr(p)
	}
	out.PriceChange24h = best.PriceChange.H24
	out.Volume24h = best.Volume.H24
	if best.Liquidity != nil {
		out.LiquidityUSD = ptr(best.Liquidity.USD)
	}
	switch {
	case best.MarketCap != nil:
		out.MarketCap = best.MarketCap
	case best.FDV != nil:
		out.MarketCap = best.FDV
	}
	return out, nil
}

// bestPair picks the solana pair with the deepest liquidity whose base token
// is address. Pairs quoting the address as the quote token are ignored.
func bestPair(pairs []dexPair, address string) *dexPair {
	var best *dexPair
	bestLiq := -1.0
	for i := range pairs {
		p := &pairs[i]
		if p.ChainID != "" && p.ChainID != "solana" {
			continue
		}
		if p.BaseToken.Address != address {
			continue
		}
		liq := 0.0
		if p.Liquidity != nil {
			liq = p.Liquidity.USD
		}
		if liq > bestLiq {
			best, bestLiq = p, liq
		}
	}
	return best
}
