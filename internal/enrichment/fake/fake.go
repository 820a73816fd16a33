// Package fake provides a deterministic Enricher for tests.
// Values are derived from a seed and the contract address, so the same
// (seed, address) pair always yields the same enrichment.
package fake

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"memecoin-signal-lab/internal/domain"
)

// Category selects which fields the fake supplies.
type Category int

// Categories mirror the production sources.
const (
	Market Category = iota // price, 24h change, volume, market cap, liquidity
	Risk                   // rug/honeypot risk, holders, creator balance
	Social                 // scores and mention counts
	Chain                  // name, symbol, contract_verified, top-10 share
)

// ErrInjected is the default failure returned by WithFailures and WithAlwaysFail.
var ErrInjected = errors.New("injected failure")

// Enricher is a seeded test double satisfying enrichment.Enricher.
type Enricher struct {
	name     string
	category Category
	seed     int64

	delay       time.Duration
	err         error
	failFirst   int32
	failAddress map[string]bool

	calls atomic.Int32
	mu    sync.Mutex
	seen  map[string]int
}

// Option configures the fake.
type Option func(*Enricher)

// WithDelay makes each Fetch wait d (or until ctx is done).
func WithDelay(d time.Duration) Option {
	return func(e *Enricher) { e.delay = d }
}

// WithAlwaysFail makes every Fetch return err.
func WithAlwaysFail(err error) Option {
	return func(e *Enricher) {
		if err == nil {
			err = ErrInjected
		}
		e.err = err
		e.failFirst = -1
	}
}

// WithFailures makes the first n calls fail with err.
func WithFailures(n int, err error) Option {
	return func(e *Enricher) {
		if err == nil {
			err = ErrInjected
		}
		e.err = err
		e.failFirst = int32(n)
	}
}

// WithFailingAddresses makes Fetch fail for the listed addresses only.
func WithFailingAddresses(err error, addrs ...string) Option {
	return func(e *Enricher) {
		if err == nil {
			err = ErrInjected
		}
		e.err = err
		e.failAddress = make(map[string]bool, len(addrs))
		for _, a := range addrs {
			e.failAddress[a] = true
		}
	}
}

// New creates a fake enricher.
func New(name string, category Category, seed int64, opts ...Option) *Enricher {
	e := &Enricher{name: name, category: category, seed: seed, seen: make(map[string]int)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the configured source name.
func (e *Enricher) Name() string { return e.name }

// Calls returns the total number of Fetch calls.
func (e *Enricher) Calls() int { return int(e.calls.Load()) }

// CallsFor returns the number of Fetch calls for address.
func (e *Enricher) CallsFor(address string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seen[address]
}

// Fetch returns deterministic fields for address.
func (e *Enricher) Fetch(ctx context.Context, address string) (*domain.PartialEnrichment, error) {
	n := e.calls.Add(1)
	e.mu.Lock()
	e.seen[address]++
	e.mu.Unlock()

	if e.delay > 0 {
		t := time.NewTimer(e.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	switch {
	case e.failAddress != nil:
		if e.failAddress[address] {
			return nil, e.err
		}
	case e.failFirst < 0:
		return nil, e.err
	case n <= e.failFirst:
		return nil, e.err
	}

	r := rand.New(rand.NewSource(e.seed ^ hash(address)))
	out := &domain.PartialEnrichment{Source: e.name, FetchedAt: time.Unix(0, 0).UTC()}

	switch e.category {
	case Market:
		out.CurrentPrice = ptr(r.Float64() / 1000)
		out.PriceChange24h = ptr(r.Float64()*200 - 50)
		out.Volume24h = ptr(r.Float64() * 5e6)
		out.MarketCap = ptr(r.Float64() * 1e8)
		out.LiquidityUSD = ptr(r.Float64() * 1e6)
	case Risk:
		out.RugRiskScore = ptr(r.Float64())
		out.HoneypotRisk = ptr(r.Float64())
		out.HolderCount = ptr(r.Int63n(50_000))
		out.CreatorBalance = ptr(r.Float64() * 1e7)
	case Social:
		out.SocialScore = ptr(r.Float64())
		out.SentimentScore = ptr(r.Float64())
		out.TelegramMentions = ptr(r.Int63n(1_000))
		out.TwitterMentions = ptr(r.Int63n(5_000))
	case Chain:
		prefix := address
		if len(prefix) > 4 {
			prefix = prefix[:4]
		}
		out.Name = ptr("Token " + prefix)
		out.Symbol = ptr(prefix)
		out.ContractVerified = ptr(r.Intn(2) == 1)
		out.Top10HolderPercent = ptr(r.Float64() * 100)
	}
	return out, nil
}

func hash(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}

func ptr[T any](v T) *T { return &v }
