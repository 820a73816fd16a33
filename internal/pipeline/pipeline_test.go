package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/enrichment"
	"memecoin-signal-lab/internal/enrichment/fake"
	"memecoin-signal-lab/internal/pipeline"
	"memecoin-signal-lab/internal/storage"
	"memecoin-signal-lab/internal/storage/memory"
)

const (
	bonk = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	wsol = "So11111111111111111111111111111111111111112"
	usdc = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	coins   *memory.CoinStore
	signals *memory.RawSignalStore
	prices  *memory.PriceHistoryStore
	market  *fake.Enricher
	risk    *fake.Enricher
	social  *fake.Enricher
}

func newHarness() *harness {
	return &harness{
		coins:   memory.NewCoinStore(),
		signals: memory.NewRawSignalStore(),
		prices:  memory.NewPriceHistoryStore(),
		market:  fake.New("market", fake.Market, 7),
		risk:    fake.New("risk", fake.Risk, 7),
		social:  fake.New("social", fake.Social, 7),
	}
}

func (h *harness) dispatcher(t *testing.T) *enrichment.Dispatcher {
	t.Helper()
	opts := enrichment.DefaultDispatchOptions()
	opts.Backoff = time.Millisecond
	opts.MaxBackoff = 2 * time.Millisecond
	opts.Logger = zerolog.Nop()

	var cfgs []enrichment.SourceConfig
	for _, e := range []*fake.Enricher{h.market, h.risk, h.social} {
		cfgs = append(cfgs, enrichment.SourceConfig{Enricher: e, Timeout: time.Second})
	}
	d, err := enrichment.NewDispatcher(cfgs, opts)
	require.NoError(t, err)
	return d
}

func (h *harness) pipeline(t *testing.T, mutate func(*pipeline.Options)) *pipeline.Pipeline {
	t.Helper()
	opts := pipeline.Options{
		Coins:      h.coins,
		Signals:    h.signals,
		Prices:     h.prices,
		Dispatcher: h.dispatcher(t),
		Logger:     zerolog.Nop(),
		Clock:      func() time.Time { return now },
	}
	if mutate != nil {
		mutate(&opts)
	}
	p, err := pipeline.New(opts)
	require.NoError(t, err)
	return p
}

func msg(text string, at time.Time) domain.InboundMessage {
	return domain.InboundMessage{Text: text, Channel: "CryptoGems", Timestamp: at}
}

func outcomeFor(t *testing.T, res *pipeline.Result, id string) domain.ItemOutcome {
	t.Helper()
	for _, o := range res.Outcomes {
		if o.ItemID == id {
			return o
		}
	}
	t.Fatalf("no outcome for %s", id)
	return domain.ItemOutcome{}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	h := newHarness()

	_, err := pipeline.New(pipeline.Options{Dispatcher: h.dispatcher(t)})
	assert.Error(t, err)

	_, err = pipeline.New(pipeline.Options{Coins: h.coins})
	assert.Error(t, err)

	p := h.pipeline(t, nil)
	assert.Equal(t, pipeline.StateIdle, p.State())
	assert.Equal(t, h.dispatcher(t).MaxCallBudget()+pipeline.DefaultItemMargin, p.ItemTimeout())
}

func TestRunMessages_EnrichesAndPersists(t *testing.T) {
	h := newHarness()
	p := h.pipeline(t, nil)

	res, err := p.RunMessages(context.Background(), []domain.InboundMessage{
		msg("🚀 $BONK CA: "+bonk+" Price: $0.00001234 MC: $50M", now.Add(-time.Minute)),
		msg("gm everyone, no calls today", now),
		msg("   ", now),
	})
	require.NoError(t, err)

	assert.Equal(t, pipeline.StateComplete, p.State())
	assert.False(t, res.Cancelled)
	assert.Equal(t, 3, res.Stats.Total)
	assert.Equal(t, 3, res.Stats.Processed)
	assert.Equal(t, 1, res.Stats.Successful)
	assert.Equal(t, 2, res.Stats.Dropped)
	assert.Zero(t, res.Stats.Failed)
	assert.NotEmpty(t, res.Stats.RunID)

	assert.Equal(t, domain.OutcomeDropped, outcomeFor(t, res, "message-1").Status)
	assert.Equal(t, domain.OutcomeDropped, outcomeFor(t, res, "message-2").Status)
	enriched := outcomeFor(t, res, bonk)
	assert.Equal(t, domain.OutcomeEnriched, enriched.Status)

	coin, err := h.coins.GetByAddress(context.Background(), bonk)
	require.NoError(t, err)
	assert.Equal(t, "BONK", coin.Symbol)
	assert.Equal(t, "CryptoGems", coin.Source)
	assert.Equal(t, []string{"market", "risk", "social"}, coin.Sources)
	assert.Equal(t, now, coin.EnrichmentTimestamp)
	assert.Equal(t, enriched.RunnerConfidence, coin.RunnerConfidence)
	assert.GreaterOrEqual(t, coin.RunnerConfidence, 0.0)
	assert.LessOrEqual(t, coin.RunnerConfidence, 100.0)

	signals, err := h.signals.GetByCoin(context.Background(), bonk)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, 0.75, signals[0].ParseConfidence)

	points, err := h.prices.Recent(context.Background(), bonk, 10)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, coin.CurrentPrice, points[0].Price)
}

func TestRunMessages_DuplicateAddressNewestSignalWins(t *testing.T) {
	h := newHarness()
	// Without a market source the quoted price survives into the record.
	d, err := enrichment.NewDispatcher([]enrichment.SourceConfig{{Enricher: h.risk, Timeout: time.Second}}, enrichment.DefaultDispatchOptions())
	require.NoError(t, err)
	p := h.pipeline(t, func(o *pipeline.Options) { o.Dispatcher = d })

	newer := domain.InboundMessage{Text: "CA: " + bonk + " Price: $0.2", Channel: "late", Timestamp: now}
	older := domain.InboundMessage{Text: "CA: " + bonk + " Price: $0.1", Channel: "early", Timestamp: now.Add(-time.Hour)}

	res, err := p.RunMessages(context.Background(), []domain.InboundMessage{newer, older})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.Total)
	assert.Equal(t, 1, res.Stats.Successful)
	assert.Equal(t, 1, h.risk.CallsFor(bonk), "duplicates collapse into one item")

	coin, err := h.coins.GetByAddress(context.Background(), bonk)
	require.NoError(t, err)
	assert.Equal(t, 0.2, coin.CurrentPrice)
	assert.Equal(t, "late", coin.Source)

	signals, err := h.signals.GetByCoin(context.Background(), bonk)
	require.NoError(t, err)
	assert.Len(t, signals, 2)
}

func TestRunAddresses_Idempotent(t *testing.T) {
	h := newHarness()
	p := h.pipeline(t, nil)
	ctx := context.Background()

	first, err := p.RunAddresses(ctx, []string{bonk, wsol})
	require.NoError(t, err)
	second, err := p.RunAddresses(ctx, []string{bonk, wsol})
	require.NoError(t, err)

	assert.Equal(t, 2, h.coins.Count())
	assert.Equal(t, 2, second.Stats.Successful)
	assert.NotEqual(t, first.Stats.RunID, second.Stats.RunID)

	for _, addr := range []string{bonk, wsol} {
		a := outcomeFor(t, first, addr)
		b := outcomeFor(t, second, addr)
		assert.Equal(t, a.RunnerConfidence, b.RunnerConfidence, addr)
	}
}

func TestRunAddresses_PartialFailureIsolation(t *testing.T) {
	h := newHarness()
	h.risk = fake.New("risk", fake.Risk, 7, fake.WithFailingAddresses(nil, bonk))
	p := h.pipeline(t, nil)

	res, err := p.RunAddresses(context.Background(), []string{bonk, wsol})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Stats.Successful)
	assert.Equal(t, 1, res.Stats.Degraded)
	assert.GreaterOrEqual(t, res.Stats.Failed, 1)
	assert.Equal(t, 1, res.Stats.SourceFailures["risk"])

	degraded := outcomeFor(t, res, bonk)
	assert.Equal(t, domain.OutcomeDegraded, degraded.Status)
	assert.Equal(t, []string{"risk"}, degraded.FailedSources)
	assert.Equal(t, domain.OutcomeEnriched, outcomeFor(t, res, wsol).Status)

	coin, err := h.coins.GetByAddress(context.Background(), bonk)
	require.NoError(t, err)
	assert.Equal(t, domain.NeutralScore, coin.RugRiskScore, "missing risk data keeps the default")
	assert.NotZero(t, coin.CurrentPrice, "other sources still contribute")
}

func TestRunAddresses_AllSourcesFail(t *testing.T) {
	h := newHarness()
	h.market = fake.New("market", fake.Market, 7, fake.WithAlwaysFail(nil))
	h.risk = fake.New("risk", fake.Risk, 7, fake.WithAlwaysFail(nil))
	h.social = fake.New("social", fake.Social, 7, fake.WithAlwaysFail(nil))
	p := h.pipeline(t, nil)

	res, err := p.RunAddresses(context.Background(), []string{bonk})
	require.NoError(t, err)

	out := outcomeFor(t, res, bonk)
	assert.Equal(t, domain.OutcomeDegraded, out.Status)
	assert.ElementsMatch(t, []string{"market", "risk", "social"}, out.FailedSources)

	coin, err := h.coins.GetByAddress(context.Background(), bonk)
	require.NoError(t, err)
	assert.Zero(t, coin.CurrentPrice)
	assert.Equal(t, domain.NeutralScore, coin.SocialScore)
	assert.Empty(t, coin.Sources)
	assert.Equal(t, pipeline.EntryAddresses, coin.Source)

	points, err := h.prices.Recent(context.Background(), bonk, 10)
	require.NoError(t, err)
	assert.Empty(t, points, "no snapshot without a price")
}

func TestRunAddresses_InvalidAndDuplicate(t *testing.T) {
	h := newHarness()
	p := h.pipeline(t, nil)

	res, err := p.RunAddresses(context.Background(), []string{"not-an-address", bonk, bonk})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Stats.Total)
	assert.Equal(t, 1, res.Stats.Dropped)
	assert.Equal(t, 1, res.Stats.Successful)
	assert.Equal(t, 1, h.market.CallsFor(bonk))

	dropped := outcomeFor(t, res, "not-an-address")
	assert.Equal(t, domain.OutcomeDropped, dropped.Status)
	assert.NotEmpty(t, dropped.Err)
}

func TestRunAddresses_UsesLinkedSignal(t *testing.T) {
	h := newHarness()
	p := h.pipeline(t, nil)
	ctx := context.Background()

	_, err := p.RunMessages(ctx, []domain.InboundMessage{msg("🚀 $BONK CA: "+bonk+" Price: $0.00001234 MC: $50M", now)})
	require.NoError(t, err)

	res, err := p.RunAddresses(ctx, []string{bonk})
	require.NoError(t, err)

	coin, err := h.coins.GetByAddress(ctx, bonk)
	require.NoError(t, err)
	assert.Equal(t, "CryptoGems", coin.Source)
	assert.Equal(t, coin.RunnerConfidence, outcomeFor(t, res, bonk).RunnerConfidence)

	signals, err := h.signals.GetByCoin(ctx, bonk)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestRunAddresses_IndicatorsFromHistory(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		require.NoError(t, h.prices.Append(ctx, &domain.PricePoint{
			ContractAddress: bonk,
			TimestampMs:     now.Add(time.Duration(i-30) * time.Hour).UnixMilli(),
			Price:           1 + float64(i)*0.1,
		}))
	}
	// No market source, so no fresh price joins the series.
	d, err := enrichment.NewDispatcher([]enrichment.SourceConfig{{Enricher: h.risk, Timeout: time.Second}}, enrichment.DefaultDispatchOptions())
	require.NoError(t, err)
	p := h.pipeline(t, func(o *pipeline.Options) { o.Dispatcher = d })

	_, err = p.RunAddresses(ctx, []string{bonk})
	require.NoError(t, err)

	coin, err := h.coins.GetByAddress(ctx, bonk)
	require.NoError(t, err)
	assert.Equal(t, 100.0, coin.RSI, "monotonic rise has no losses")
	assert.Greater(t, coin.MACD, 0.0)
	assert.Greater(t, coin.BollingerUpper, coin.BollingerLower)
}

// fixedDispatcher quotes one price for every address.
type fixedDispatcher struct {
	price  float64
	onCall func(address string)
}

func (d fixedDispatcher) Dispatch(_ context.Context, address string) enrichment.DispatchResult {
	if d.onCall != nil {
		d.onCall(address)
	}
	price := d.price
	return enrichment.DispatchResult{
		Enrichments: []*domain.PartialEnrichment{{Source: "market", FetchedAt: now, CurrentPrice: &price}},
	}
}

func (fixedDispatcher) MaxCallBudget() time.Duration { return time.Second }

func TestRunAddresses_IndicatorsIncludeCurrentPrice(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		require.NoError(t, h.prices.Append(ctx, &domain.PricePoint{
			ContractAddress: bonk,
			TimestampMs:     now.Add(time.Duration(i-30) * time.Hour).UnixMilli(),
			Price:           1,
		}))
	}
	p := h.pipeline(t, func(o *pipeline.Options) { o.Dispatcher = fixedDispatcher{price: 2} })

	res, err := p.RunAddresses(ctx, []string{bonk})
	require.NoError(t, err)

	coin, err := h.coins.GetByAddress(ctx, bonk)
	require.NoError(t, err)
	assert.Equal(t, 2.0, coin.CurrentPrice)
	assert.Equal(t, 100.0, coin.RSI, "flat history then a jump")
	assert.Greater(t, coin.MACD, 0.0)
	assert.Greater(t, coin.BollingerUpper, coin.BollingerLower)
	assert.Equal(t, coin.RunnerConfidence, outcomeFor(t, res, bonk).RunnerConfidence)

	points, err := h.prices.Recent(ctx, bonk, 100)
	require.NoError(t, err)
	assert.Len(t, points, 31)
}

func TestRunPending_OnlyStaleCoins(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	require.NoError(t, h.coins.Upsert(ctx, domain.NewEnrichedCoin(bonk)))
	fresh := domain.NewEnrichedCoin(wsol)
	fresh.CurrentPrice = 150
	fresh.EnrichmentTimestamp = now.Add(-time.Minute)
	require.NoError(t, h.coins.Upsert(ctx, fresh))
	stale := domain.NewEnrichedCoin(usdc)
	stale.CurrentPrice = 1
	stale.EnrichmentTimestamp = now.Add(-2 * time.Hour)
	require.NoError(t, h.coins.Upsert(ctx, stale))

	p := h.pipeline(t, nil)
	res, err := p.RunPending(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Stats.Successful)
	assert.Zero(t, h.market.CallsFor(wsol))
	assert.Equal(t, 1, h.market.CallsFor(bonk))
	assert.Equal(t, 1, h.market.CallsFor(usdc))

	pending, err := h.coins.PendingAddresses(ctx, 10, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	h := newHarness()
	p := h.pipeline(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.RunAddresses(ctx, []string{bonk, wsol})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 2, res.Stats.Skipped)
	assert.Zero(t, res.Stats.Processed)
	assert.Zero(t, h.market.Calls())
	assert.Zero(t, h.coins.Count())
	assert.Equal(t, domain.OutcomeSkipped, outcomeFor(t, res, bonk).Status)
}

func TestRun_CancellationLetsInFlightItemsFinish(t *testing.T) {
	h := newHarness()
	h.market = fake.New("market", fake.Market, 7, fake.WithDelay(200*time.Millisecond))
	p := h.pipeline(t, func(o *pipeline.Options) { o.Concurrency = 1 })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	res, err := p.RunAddresses(ctx, []string{bonk, wsol, usdc})
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, res.Stats.Successful)
	assert.Equal(t, 2, res.Stats.Skipped)
	assert.Equal(t, domain.OutcomeEnriched, outcomeFor(t, res, bonk).Status)
	assert.Equal(t, 1, h.coins.Count())
	assert.Zero(t, h.market.CallsFor(usdc))
	assert.Equal(t, pipeline.StateComplete, p.State())
}

type unavailableCoins struct {
	*memory.CoinStore
}

func (unavailableCoins) Upsert(context.Context, *domain.EnrichedCoin) error {
	return &storage.Error{Op: "upsert coin", Err: storage.ErrUnavailable}
}

func TestRun_StorageUnavailableFailsBatch(t *testing.T) {
	h := newHarness()
	p := h.pipeline(t, func(o *pipeline.Options) {
		o.Coins = unavailableCoins{memory.NewCoinStore()}
	})

	res, err := p.RunAddresses(context.Background(), []string{bonk, wsol})
	require.Error(t, err)
	assert.Nil(t, res)

	var serr *storage.Error
	require.True(t, errors.As(err, &serr))
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Equal(t, pipeline.StateError, p.State())
}

type brokenPending struct {
	*memory.CoinStore
}

func (brokenPending) PendingAddresses(context.Context, int, time.Time) ([]string, error) {
	return nil, storage.ErrUnavailable
}

func TestRunPending_StoreErrorIsStorageError(t *testing.T) {
	h := newHarness()
	p := h.pipeline(t, func(o *pipeline.Options) {
		o.Coins = brokenPending{memory.NewCoinStore()}
	})

	_, err := p.RunPending(context.Background(), 5)
	var serr *storage.Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "pending addresses", serr.Op)
}

func TestProgress_ObserverSeesEveryItem(t *testing.T) {
	h := newHarness()
	var (
		mu     sync.Mutex
		events []pipeline.Progress
	)
	p := h.pipeline(t, func(o *pipeline.Options) {
		o.Observer = func(ev pipeline.Progress) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	})

	res, err := p.RunAddresses(context.Background(), []string{"bad", bonk, wsol})
	require.NoError(t, err)
	assert.Zero(t, res.ProgressDropped)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	last := events[len(events)-1]
	assert.Equal(t, 3, last.Processed)
	assert.Equal(t, 3, last.Total)
	assert.Equal(t, 2, last.Successful)
	assert.Equal(t, 1, last.Dropped)
	for _, ev := range events {
		assert.Equal(t, res.Stats.RunID, ev.RunID)
	}
}

func TestProgress_BlockedObserverDoesNotStallBatch(t *testing.T) {
	h := newHarness()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	p := h.pipeline(t, func(o *pipeline.Options) {
		o.ProgressBuffer = 1
		o.Observer = func(pipeline.Progress) { <-release }
	})

	addrs := []string{
		bonk, wsol, usdc,
		"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
		"mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So",
	}
	done := make(chan *pipeline.Result, 1)
	go func() {
		res, err := p.RunAddresses(context.Background(), addrs)
		assert.NoError(t, err)
		done <- res
	}()

	select {
	case res := <-done:
		assert.Equal(t, len(addrs), res.Stats.Successful)
		assert.Equal(t, len(addrs), h.coins.Count())
		assert.GreaterOrEqual(t, res.ProgressDropped, len(addrs)-1)
		assert.Equal(t, pipeline.StateComplete, p.State())
	case <-time.After(2 * time.Second):
		t.Fatal("run waited on the observer")
	}
}

func TestProgress_SlowObserverDoesNotDelayRun(t *testing.T) {
	h := newHarness()
	p := h.pipeline(t, func(o *pipeline.Options) {
		o.Observer = func(pipeline.Progress) { time.Sleep(300 * time.Millisecond) }
	})

	start := time.Now()
	res, err := p.RunAddresses(context.Background(), []string{bonk, wsol, usdc})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 600*time.Millisecond)
	assert.Equal(t, 3, res.Stats.Successful)
	assert.GreaterOrEqual(t, res.ProgressDropped, 2, "undelivered events count as dropped")
}

func TestProgress_PublishedWhileOtherItemsEnrich(t *testing.T) {
	h := newHarness()
	var (
		seen       atomic.Int32
		calls      int32
		atDispatch []int32
	)
	// Concurrency 1 runs dispatches one after another.
	dispatcher := fixedDispatcher{price: 1, onCall: func(string) {
		want := calls
		calls++
		deadline := time.Now().Add(time.Second)
		for seen.Load() < want && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		atDispatch = append(atDispatch, seen.Load())
	}}
	p := h.pipeline(t, func(o *pipeline.Options) {
		o.Concurrency = 1
		o.Dispatcher = dispatcher
		o.Observer = func(pipeline.Progress) { seen.Add(1) }
	})

	res, err := p.RunAddresses(context.Background(), []string{bonk, wsol, usdc})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Stats.Successful)
	assert.Equal(t, []int32{0, 1, 2}, atDispatch, "each finished item is reported before the next dispatch")
	assert.Equal(t, 3, h.coins.Count())
}

type countingCoins struct {
	*memory.CoinStore
	upserts atomic.Int32
}

func (c *countingCoins) Upsert(ctx context.Context, coin *domain.EnrichedCoin) error {
	if c.upserts.Add(1) > 1 {
		return &storage.Error{Op: "upsert coin", Err: storage.ErrUnavailable}
	}
	return c.CoinStore.Upsert(ctx, coin)
}

func TestRun_StorageFailureStopsUnstartedItems(t *testing.T) {
	h := newHarness()
	coins := &countingCoins{CoinStore: memory.NewCoinStore()}
	p := h.pipeline(t, func(o *pipeline.Options) {
		o.Coins = coins
		o.Concurrency = 1
	})

	_, err := p.RunAddresses(context.Background(), []string{bonk, wsol, usdc})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Equal(t, pipeline.StateError, p.State())
	assert.Zero(t, h.market.CallsFor(usdc), "no dispatch after the store failed")
}
