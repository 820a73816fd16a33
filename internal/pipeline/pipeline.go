// Package pipeline drives raw channel messages or known contract addresses
// through parsing, enrichment, aggregation and persistence.
//
// A run moves through these phases:
//  1. parsing: messages are parsed and grouped by contract address
//  2. enriching: a bounded worker pool dispatches every source per address
//  3. aggregating: enrichments, signals and indicators merge into coin records
//  4. persisting: coins are upserted and signals linked to them
//
// Phases 2-4 run per item inside the worker, so one item may be persisting
// while another is still enriching. A source failure degrades one item.
// Only a fatal storage error fails the batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"memecoin-signal-lab/internal/aggregator"
	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/enrichment"
	"memecoin-signal-lab/internal/indicators"
	"memecoin-signal-lab/internal/observability"
	"memecoin-signal-lab/internal/parser"
	"memecoin-signal-lab/internal/solana"
	"memecoin-signal-lab/internal/storage"
)

// Defaults for Options.
const (
	DefaultConcurrency  = 5
	DefaultItemMargin   = 5 * time.Second
	DefaultHistoryLimit = 200
	DefaultStaleAfter   = time.Hour
)

// Entry point labels used in logs, metrics and coin provenance.
const (
	EntryMessages  = "messages"
	EntryAddresses = "addresses"
	EntryPending   = "pending"
)

// Dispatcher fans one address out to every enrichment source.
// *enrichment.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, address string) enrichment.DispatchResult
	MaxCallBudget() time.Duration
}

// Options configures a Pipeline. Coins and Dispatcher are required.
type Options struct {
	Coins      storage.CoinStore
	Signals    storage.RawSignalStore    // optional
	Prices     storage.PriceHistoryStore // optional; enables indicators and snapshots
	Dispatcher Dispatcher
	Parser     *parser.Parser         // default parser.New()
	Aggregator *aggregator.Aggregator // default aggregator.DefaultScoring()

	Concurrency  int           // concurrent items, default DefaultConcurrency
	ItemTimeout  time.Duration // default Dispatcher.MaxCallBudget() + DefaultItemMargin
	HistoryLimit int           // price points fed to the indicator engine
	StaleAfter   time.Duration // RunPending re-enriches coins older than this

	Observer       Observer
	ProgressBuffer int
	ProgressGrace  time.Duration // wait for a lagging observer at run end, default DefaultProgressGrace; negative waits not at all

	Logger  zerolog.Logger
	Metrics *observability.Metrics
	Clock   func() time.Time
}

// Result is the outcome of one run.
type Result struct {
	Stats           domain.PipelineStats   `json:"stats"`
	Outcomes        []domain.ItemOutcome   `json:"outcomes"`         // one per item, in completion order
	Coins           []*domain.EnrichedCoin `json:"coins"`            // persisted records, in completion order
	Cancelled       bool                   `json:"cancelled"`        // the context was cancelled before every item started
	ProgressDropped int                    `json:"progress_dropped"` // progress events lost to a full buffer
}

// Pipeline orchestrates enrichment runs. Runs on one Pipeline are serialized.
type Pipeline struct {
	coins      storage.CoinStore
	signals    storage.RawSignalStore
	prices     storage.PriceHistoryStore
	dispatcher Dispatcher
	parser     *parser.Parser
	agg        *aggregator.Aggregator

	concurrency  int
	itemTimeout  time.Duration
	historyLimit int
	staleAfter   time.Duration

	observer       Observer
	progressBuffer int
	progressGrace  time.Duration

	log     zerolog.Logger
	metrics *observability.Metrics
	clock   func() time.Time

	runMu sync.Mutex
	state atomic.Value // State
}

// New validates opts and creates a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Coins == nil {
		return nil, errors.New("pipeline: coin store is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("pipeline: dispatcher is required")
	}

	p := &Pipeline{
		coins:          opts.Coins,
		signals:        opts.Signals,
		prices:         opts.Prices,
		dispatcher:     opts.Dispatcher,
		parser:         opts.Parser,
		agg:            opts.Aggregator,
		concurrency:    opts.Concurrency,
		itemTimeout:    opts.ItemTimeout,
		historyLimit:   opts.HistoryLimit,
		staleAfter:     opts.StaleAfter,
		observer:       opts.Observer,
		progressBuffer: opts.ProgressBuffer,
		progressGrace:  opts.ProgressGrace,
		log:            opts.Logger.With().Str("component", "pipeline").Logger(),
		metrics:        opts.Metrics,
		clock:          opts.Clock,
	}
	if p.parser == nil {
		p.parser = parser.New()
	}
	if p.agg == nil {
		p.agg = aggregator.New(aggregator.DefaultScoring())
	}
	if p.concurrency <= 0 {
		p.concurrency = DefaultConcurrency
	}
	if p.itemTimeout <= 0 {
		p.itemTimeout = p.dispatcher.MaxCallBudget() + DefaultItemMargin
	}
	if p.historyLimit <= 0 {
		p.historyLimit = DefaultHistoryLimit
	}
	if p.staleAfter <= 0 {
		p.staleAfter = DefaultStaleAfter
	}
	if p.progressGrace == 0 {
		p.progressGrace = DefaultProgressGrace
	}
	if p.clock == nil {
		p.clock = func() time.Time { return time.Now().UTC() }
	}
	p.state.Store(StateIdle)
	return p, nil
}

// State returns the phase of the current or last run.
func (p *Pipeline) State() State {
	return p.state.Load().(State)
}

// ItemTimeout returns the per-item deadline.
func (p *Pipeline) ItemTimeout() time.Duration {
	return p.itemTimeout
}

// item is one unit of work: a contract address plus every signal that named it.
type item struct {
	id      string
	address string
	signals []*domain.RawSignal // ascending ReceivedAt

	started  bool
	prior    *domain.EnrichedCoin
	dispatch enrichment.DispatchResult
	history  []float64 // stored prices, oldest first
	coin     *domain.EnrichedCoin
}

// run carries the per-run bookkeeping. Workers update it under mu.
type run struct {
	entry   string
	bus     *progressBus
	log     zerolog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex
	counting bool // total known; outcomes are published as they land
	stats    domain.PipelineStats
	outcomes []domain.ItemOutcome
	coins    []*domain.EnrichedCoin
}

// RunMessages parses raw messages and enriches every coin they name.
// Messages that fail to parse or carry no valid contract address are dropped.
func (p *Pipeline) RunMessages(ctx context.Context, msgs []domain.InboundMessage) (*Result, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	r := p.begin(EntryMessages)
	p.setState(r, StateParsing)

	var (
		items  []*item
		byAddr = make(map[string]*item)
	)
	for i, msg := range msgs {
		id := fmt.Sprintf("message-%d", i)
		sig, err := p.parser.Parse(msg.Text, msg.Channel, msg.Timestamp)
		if err != nil {
			r.drop(id, "", err)
			continue
		}
		addr := sig.ContractAddress()
		if addr == "" {
			r.drop(id, "", errors.New("no contract address"))
			continue
		}
		if err := solana.ValidateAddress(addr); err != nil {
			r.drop(id, addr, fmt.Errorf("%w: %v", domain.ErrInvalidAddress, err))
			continue
		}

		if p.signals != nil {
			if _, err := p.signals.Insert(ctx, sig); err != nil {
				if storage.IsFatal(err) {
					return p.fail(r, "insert signal", err)
				}
				r.log.Warn().Err(err).Str("item", id).Msg("signal not stored")
			}
		}

		it, ok := byAddr[addr]
		if !ok {
			it = &item{id: addr, address: addr}
			byAddr[addr] = it
			items = append(items, it)
		}
		it.signals = append(it.signals, sig)
	}
	for _, it := range items {
		sort.SliceStable(it.signals, func(i, j int) bool {
			return it.signals[i].ReceivedAt.Before(it.signals[j].ReceivedAt)
		})
	}

	r.start(len(r.outcomes) + len(items))
	r.log.Info().Int("messages", len(msgs)).Int("coins", len(items)).Int("dropped", r.stats.Dropped).Msg("parsed")

	return p.process(ctx, r, items)
}

// RunAddresses enriches known contract addresses. Duplicates are collapsed.
func (p *Pipeline) RunAddresses(ctx context.Context, addrs []string) (*Result, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.runAddresses(ctx, EntryAddresses, addrs)
}

// RunPending re-enriches up to limit coins that lack recent price data.
func (p *Pipeline) RunPending(ctx context.Context, limit int) (*Result, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	staleBefore := p.clock().Add(-p.staleAfter)
	addrs, err := p.coins.PendingAddresses(ctx, limit, staleBefore)
	if err != nil {
		r := p.begin(EntryPending)
		return p.fail(r, "pending addresses", err)
	}
	return p.runAddresses(ctx, EntryPending, addrs)
}

func (p *Pipeline) runAddresses(ctx context.Context, entry string, addrs []string) (*Result, error) {
	r := p.begin(entry)

	var (
		items []*item
		seen  = make(map[string]bool)
	)
	for _, addr := range addrs {
		if err := solana.ValidateAddress(addr); err != nil {
			r.drop(addr, addr, fmt.Errorf("%w: %v", domain.ErrInvalidAddress, err))
			continue
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true
		items = append(items, &item{id: addr, address: addr})
	}

	r.start(len(r.outcomes) + len(items))
	return p.process(ctx, r, items)
}

// process runs every item through a bounded worker pool. Each worker
// enriches, merges and persists its own item and publishes its outcome, so
// progress flows while other items are still being enriched.
func (p *Pipeline) process(ctx context.Context, r *run, items []*item) (*Result, error) {
	p.setState(r, StateEnriching)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, it := range items {
		if gctx.Err() != nil {
			break
		}
		it.started = true
		g.Go(func() error {
			return p.processItem(ctx, gctx, r, it)
		})
	}
	if err := g.Wait(); err != nil {
		return p.fail(r, "process item", err)
	}

	cancelled := false
	for _, it := range items {
		if !it.started {
			cancelled = true
			r.skip(it)
		}
	}

	p.setState(r, StateComplete)
	status := "complete"
	if cancelled {
		status = "cancelled"
	}
	res := p.finish(r, status)
	res.Cancelled = cancelled
	return res, nil
}

// processItem handles one item end to end. Started items complete even after
// cancellation; gctx only stops items that have not begun. Only a fatal
// storage error is returned.
func (p *Pipeline) processItem(ctx, gctx context.Context, r *run, it *item) error {
	if gctx.Err() != nil {
		it.started = false
		return nil
	}
	if err := p.enrich(ctx, r, it); err != nil {
		return err
	}

	p.advance(r, StateAggregating)
	sig := combineSignals(it.signals)
	it.coin = p.agg.Merge(it.prior, sig, it.dispatch.Enrichments, nil, p.clock())
	if it.coin.Source == "" {
		it.coin.Source = r.entry
	}
	if len(it.history) > 0 {
		p.applyIndicators(it.coin, it.history, sig)
	}

	p.advance(r, StatePersisting)
	return p.persist(context.WithoutCancel(ctx), r, it)
}

// enrich loads prior state and dispatches every source under the per-item deadline.
func (p *Pipeline) enrich(ctx context.Context, r *run, it *item) error {
	itemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.itemTimeout)
	defer cancel()

	prior, err := p.coins.GetByAddress(itemCtx, it.address)
	switch {
	case err == nil:
		it.prior = prior
	case errors.Is(err, storage.ErrNotFound):
		it.prior = domain.NewEnrichedCoin(it.address)
	case storage.IsFatal(err):
		return fatal("load coin", err)
	default:
		it.prior = domain.NewEnrichedCoin(it.address)
	}

	// Addresses without a fresh signal are scored against the latest stored one.
	if len(it.signals) == 0 && p.signals != nil {
		linked, err := p.signals.GetByCoin(itemCtx, it.address)
		if err != nil {
			r.log.Warn().Err(err).Str("address", it.address).Msg("linked signals unavailable")
		} else if len(linked) > 0 {
			it.signals = linked[len(linked)-1:]
		}
	}

	it.dispatch = p.dispatcher.Dispatch(itemCtx, it.address)

	if p.prices != nil {
		points, err := p.prices.Recent(itemCtx, it.address, p.historyLimit)
		if err != nil {
			r.log.Warn().Err(err).Str("address", it.address).Msg("price history unavailable")
		}
		for _, pt := range points {
			it.history = append(it.history, pt.Price)
		}
	}
	return nil
}

// applyIndicators computes indicators over the stored history followed by
// this pass's price, then rescores the coin.
func (p *Pipeline) applyIndicators(coin *domain.EnrichedCoin, history []float64, sig *domain.RawSignal) {
	series := history
	if coin.CurrentPrice > 0 {
		series = append(series[:len(series):len(series)], coin.CurrentPrice)
	}
	ind := indicators.Compute(series)
	coin.RSI = ind.RSI
	coin.MACD = ind.MACD
	coin.BollingerUpper = ind.BollingerUpper
	coin.BollingerLower = ind.BollingerLower

	parseConfidence := 0.0
	if sig != nil {
		parseConfidence = sig.ParseConfidence
	}
	coin.RunnerConfidence = p.agg.RunnerConfidence(coin, parseConfidence)
}

// persist stores one coin, its price snapshot and its signal links, then
// records the outcome. Returns an error only when the store is unusable.
func (p *Pipeline) persist(ctx context.Context, r *run, it *item) error {
	if err := p.coins.Upsert(ctx, it.coin); err != nil {
		if storage.IsFatal(err) {
			return fatal("upsert coin", err)
		}
		r.drop(it.id, it.address, err)
		return nil
	}

	if p.prices != nil && it.coin.CurrentPrice > 0 {
		pt := &domain.PricePoint{
			ContractAddress: it.address,
			TimestampMs:     it.coin.EnrichmentTimestamp.UnixMilli(),
			Price:           it.coin.CurrentPrice,
			Volume24h:       it.coin.Volume24h,
			Source:          r.entry,
		}
		if err := p.prices.Append(ctx, pt); err != nil {
			r.log.Warn().Err(err).Str("address", it.address).Msg("price snapshot not stored")
		}
	}

	if p.signals != nil {
		for _, sig := range it.signals {
			if sig.ID == 0 || (sig.CoinAddress != nil && *sig.CoinAddress == it.address) {
				continue
			}
			if err := p.signals.LinkCoin(ctx, sig.ID, it.address); err != nil {
				if storage.IsFatal(err) {
					return fatal("link signal", err)
				}
				r.log.Warn().Err(err).Int64("signal_id", sig.ID).Msg("signal not linked")
			}
		}
	}

	out := r.enriched(it)
	if len(out.FailedSources) > 0 {
		r.log.Warn().Str("address", it.address).Strs("failed_sources", out.FailedSources).Msg("coin enriched with missing sources")
	}
	r.metrics.RecordItem(string(out.Status), out.RunnerConfidence)
	return nil
}

func (p *Pipeline) begin(entry string) *run {
	id := uuid.NewString()
	r := &run{
		entry:   entry,
		stats:   domain.PipelineStats{RunID: id, StartedAt: p.clock()},
		log:     p.log.With().Str("run_id", id).Str("entry", entry).Logger(),
		metrics: p.metrics,
	}
	r.bus = newProgressBus(p.observer, p.progressBuffer, p.progressGrace, p.metrics)
	return r
}

func (p *Pipeline) setState(r *run, s State) {
	p.state.Store(s)
	r.log.Info().Str("state", string(s)).Msg("pipeline state")
}

// advance moves the run forward to s unless another item already took it further.
func (p *Pipeline) advance(r *run, s State) {
	for {
		cur := p.State()
		if s.rank() <= cur.rank() {
			return
		}
		if p.state.CompareAndSwap(cur, s) {
			r.log.Info().Str("state", string(s)).Msg("pipeline state")
			return
		}
	}
}

// fatal wraps err as a *storage.Error unless it already is one.
func fatal(op string, err error) error {
	var serr *storage.Error
	if errors.As(err, &serr) {
		return err
	}
	return &storage.Error{Op: op, Err: err}
}

// fail aborts the run on a fatal storage error.
func (p *Pipeline) fail(r *run, op string, err error) (*Result, error) {
	var serr *storage.Error
	if !errors.As(err, &serr) {
		serr = &storage.Error{Op: op, Err: err}
	}
	p.state.Store(StateError)
	r.log.Error().Err(serr).Msg("pipeline aborted")
	p.finish(r, "error")
	return nil, serr
}

func (p *Pipeline) finish(r *run, status string) *Result {
	r.stats.Elapsed = p.clock().Sub(r.stats.StartedAt)
	dropped := r.bus.close()
	p.metrics.RecordPipelineRun(r.entry, status, r.stats.Elapsed)
	r.log.Info().
		Str("status", status).
		Int("total", r.stats.Total).
		Int("successful", r.stats.Successful).
		Int("degraded", r.stats.Degraded).
		Int("dropped", r.stats.Dropped).
		Int("skipped", r.stats.Skipped).
		Dur("elapsed", r.stats.Elapsed).
		Msg("pipeline finished")
	return &Result{
		Stats:           r.stats,
		Outcomes:        r.outcomes,
		Coins:           r.coins,
		ProgressDropped: dropped,
	}
}

// record appends an outcome. The caller holds r.mu.
func (r *run) record(out domain.ItemOutcome) {
	r.outcomes = append(r.outcomes, out)
	if out.Status != domain.OutcomeSkipped {
		r.stats.Processed++
	}
}

// start fixes the item total and publishes the drops recorded before it was known.
func (r *run) start(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Total = total
	r.counting = true
	for i, out := range r.outcomes {
		ev := r.progress(out)
		ev.Processed = i + 1
		ev.Dropped = i + 1
		r.bus.publish(ev)
	}
}

func (r *run) drop(id, addr string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Dropped++
	r.metrics.RecordItem(string(domain.OutcomeDropped), 0)
	r.log.Warn().Err(err).Str("item", id).Msg("item dropped")
	out := domain.ItemOutcome{
		ItemID:          id,
		ContractAddress: addr,
		Status:          domain.OutcomeDropped,
		Err:             err.Error(),
	}
	r.record(out)
	if r.counting {
		r.bus.publish(r.progress(out))
	}
}

// enriched records a persisted item and publishes its progress event.
func (r *run) enriched(it *item) domain.ItemOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := domain.ItemOutcome{
		ItemID:           it.id,
		ContractAddress:  it.address,
		Status:           domain.OutcomeEnriched,
		RunnerConfidence: it.coin.RunnerConfidence,
		FailedSources:    it.dispatch.FailedSources(),
	}
	for _, f := range it.dispatch.Failures {
		r.stats.RecordSourceFailure(f.Source)
	}
	if len(out.FailedSources) > 0 {
		out.Status = domain.OutcomeDegraded
		r.stats.Degraded++
	}
	r.stats.Successful++
	r.record(out)
	r.coins = append(r.coins, it.coin)
	r.bus.publish(r.progress(out))
	return out
}

func (r *run) skip(it *item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Skipped++
	r.metrics.RecordItem(string(domain.OutcomeSkipped), 0)
	r.record(domain.ItemOutcome{
		ItemID:          it.id,
		ContractAddress: it.address,
		Status:          domain.OutcomeSkipped,
		Err:             context.Canceled.Error(),
	})
}

func (r *run) progress(out domain.ItemOutcome) Progress {
	return Progress{
		RunID:           r.stats.RunID,
		ItemID:          out.ItemID,
		ContractAddress: out.ContractAddress,
		Status:          out.Status,
		Processed:       r.stats.Processed,
		Total:           r.stats.Total,
		Successful:      r.stats.Successful,
		Degraded:        r.stats.Degraded,
		Dropped:         r.stats.Dropped,
		SourceFailures:  r.stats.Failed,
	}
}

// combineSignals folds signals (ascending ReceivedAt) into one, newest fields winning.
func combineSignals(sigs []*domain.RawSignal) *domain.RawSignal {
	switch len(sigs) {
	case 0:
		return nil
	case 1:
		return sigs[0]
	}
	newest := sigs[len(sigs)-1]
	out := &domain.RawSignal{
		Channel:         newest.Channel,
		Text:            newest.Text,
		ReceivedAt:      newest.ReceivedAt,
		ParseConfidence: newest.ParseConfidence,
		Fields:          make(map[string]string),
	}
	for _, s := range sigs {
		for k, v := range s.Fields {
			out.Fields[k] = v
		}
	}
	return out
}
