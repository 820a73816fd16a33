// Package enrichment fetches per-source market, risk and social data for a
// contract address and dispatches those fetches with retries, rate limits
// and circuit breaking.
package enrichment

import (
	"context"

	"memecoin-signal-lab/internal/domain"
)

// Source names.
const (
	SourceDexScreener  = "dexscreener"
	SourceRugCheck     = "rugcheck"
	SourceOnChain      = "onchain"
	SourceSocial       = "social"
	SourcePriceHistory = "price_history"
)

// Enricher fetches one category of data for a contract address.
// Implementations return only fields within their category and leave
// everything else nil. They do not retry or rate limit; the Dispatcher does.
type Enricher interface {
	Name() string
	Fetch(ctx context.Context, address string) (*domain.PartialEnrichment, error)
}

// Func adapts a function to the Enricher interface.
type Func struct {
	SourceName string
	Fn         func(ctx context.Context, address string) (*domain.PartialEnrichment, error)
}

// Name returns the source name.
func (f Func) Name() string { return f.SourceName }

// Fetch calls Fn.
func (f Func) Fetch(ctx context.Context, address string) (*domain.PartialEnrichment, error) {
	return f.Fn(ctx, address)
}

func ptr[T any](v T) *T { return &v }
