package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/observability"
)

// Dispatcher defaults.
const (
	DefaultSourceTimeout      = 10 * time.Second
	DefaultMaxRetries         = 2
	DefaultBackoff            = 500 * time.Millisecond
	DefaultMaxBackoff         = 5 * time.Second
	DefaultRateLimitCooldown  = 30 * time.Second
	DefaultBreakerFailures    = 5
	DefaultBreakerOpenTimeout = 60 * time.Second
)

// SourceConfig binds an enricher to its call budget.
type SourceConfig struct {
	Enricher      Enricher
	RatePerMinute float64       // 0 means unlimited
	Burst         int           // default 1
	Timeout       time.Duration // per call; default DefaultSourceTimeout
}

// DispatchOptions configures retry, cooldown and breaker policy shared by all sources.
type DispatchOptions struct {
	MaxRetries         int           // extra attempts after the first; negative means none
	Backoff            time.Duration // initial retry delay, doubled per attempt
	MaxBackoff         time.Duration
	RateLimitCooldown  time.Duration // used when a rate limit carries no reset hint
	BreakerFailures    uint32        // consecutive failures that open the breaker
	BreakerOpenTimeout time.Duration // how long the breaker stays open
	Logger             zerolog.Logger
	Metrics            *observability.Metrics
}

// DefaultDispatchOptions returns the documented defaults.
func DefaultDispatchOptions() DispatchOptions {
	return DispatchOptions{
		MaxRetries:         DefaultMaxRetries,
		Backoff:            DefaultBackoff,
		MaxBackoff:         DefaultMaxBackoff,
		RateLimitCooldown:  DefaultRateLimitCooldown,
		BreakerFailures:    DefaultBreakerFailures,
		BreakerOpenTimeout: DefaultBreakerOpenTimeout,
		Logger:             zerolog.Nop(),
	}
}

// SourceFailure records a source that yielded nothing for an item.
type SourceFailure struct {
	Source   string
	Attempts int
	Err      error
}

// DispatchResult is the per-item outcome of a fan-out.
// Enrichments are ordered by source registration order.
type DispatchResult struct {
	Enrichments []*domain.PartialEnrichment
	Failures    []SourceFailure
}

// FailedSources returns the names of failed sources.
func (r DispatchResult) FailedSources() []string {
	names := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		names[i] = f.Source
	}
	return names
}

// Dispatcher fans a contract address out to every source concurrently.
// Each source has its own token bucket, circuit breaker and rate-limit
// cooldown; all three are shared across items so concurrent items
// respect the same external budget.
type Dispatcher struct {
	sources []*source
	opts    DispatchOptions
	log     zerolog.Logger
}

type source struct {
	enricher Enricher
	timeout  time.Duration
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker

	mu            sync.Mutex
	cooldownUntil time.Time
}

// NewDispatcher creates a Dispatcher. Source names must be unique.
func NewDispatcher(sources []SourceConfig, opts DispatchOptions) (*Dispatcher, error) {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = opts.Backoff
	}
	if opts.RateLimitCooldown <= 0 {
		opts.RateLimitCooldown = DefaultRateLimitCooldown
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = DefaultBreakerFailures
	}
	if opts.BreakerOpenTimeout <= 0 {
		opts.BreakerOpenTimeout = DefaultBreakerOpenTimeout
	}

	d := &Dispatcher{opts: opts, log: opts.Logger.With().Str("component", "dispatcher").Logger()}
	seen := make(map[string]bool)

	for _, cfg := range sources {
		if cfg.Enricher == nil {
			return nil, errors.New("source config without enricher")
		}
		name := cfg.Enricher.Name()
		if seen[name] {
			return nil, fmt.Errorf("duplicate source %q", name)
		}
		seen[name] = true

		s := &source{enricher: cfg.Enricher, timeout: cfg.Timeout}
		if s.timeout <= 0 {
			s.timeout = DefaultSourceTimeout
		}

		limit, burst := rate.Inf, cfg.Burst
		if cfg.RatePerMinute > 0 {
			limit = rate.Limit(cfg.RatePerMinute / 60)
		}
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(limit, burst)

		s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: opts.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= opts.BreakerFailures
			},
			// Rate limits, cancellations and missing data say nothing about source health.
			IsSuccessful: func(err error) bool {
				if err == nil {
					return true
				}
				var rl *RateLimitError
				var se *SourceError
				switch {
				case errors.As(err, &rl), errors.Is(err, context.Canceled):
					return true
				case errors.As(err, &se) && se.Kind == KindNotFound:
					return true
				}
				return false
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				d.log.Warn().Str("source", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
				opts.Metrics.SetBreakerState(name, int(to))
			},
		})

		d.sources = append(d.sources, s)
	}

	return d, nil
}

// Sources returns the registered source names in order.
func (d *Dispatcher) Sources() []string {
	names := make([]string, len(d.sources))
	for i, s := range d.sources {
		names[i] = s.enricher.Name()
	}
	return names
}

// MaxCallBudget is the longest a single item's fan-out can take when every
// attempt of every source runs to its timeout, plus backoff between attempts.
func (d *Dispatcher) MaxCallBudget() time.Duration {
	attempts := time.Duration(d.opts.MaxRetries + 1)
	var backoff time.Duration
	delay := d.opts.Backoff
	for i := 0; i < d.opts.MaxRetries; i++ {
		backoff += delay
		delay = min(delay*2, d.opts.MaxBackoff)
	}

	var total time.Duration
	for _, s := range d.sources {
		total += s.timeout*attempts + backoff
	}
	return total
}

// Dispatch calls every source for address concurrently. It never returns an
// error: failed sources are reported in the result and leave their fields absent.
func (d *Dispatcher) Dispatch(ctx context.Context, address string) DispatchResult {
	type outcome struct {
		enrichment *domain.PartialEnrichment
		failure    *SourceFailure
	}
	outcomes := make([]outcome, len(d.sources))

	var g errgroup.Group
	for i, s := range d.sources {
		g.Go(func() error {
			e, attempts, err := d.call(ctx, s, address)
			if err != nil {
				outcomes[i].failure = &SourceFailure{Source: s.enricher.Name(), Attempts: attempts, Err: err}
				return nil
			}
			outcomes[i].enrichment = e
			return nil
		})
	}
	_ = g.Wait()

	var res DispatchResult
	for _, o := range outcomes {
		if o.failure != nil {
			res.Failures = append(res.Failures, *o.failure)
			continue
		}
		res.Enrichments = append(res.Enrichments, o.enrichment)
	}
	return res
}

// call runs one source with retries. It returns the attempt count for reporting.
func (d *Dispatcher) call(ctx context.Context, s *source, address string) (*domain.PartialEnrichment, int, error) {
	name := s.enricher.Name()
	log := d.log.With().Str("source", name).Str("address", address).Logger()
	delay := d.opts.Backoff

	for attempt := 1; ; attempt++ {
		if err := s.waitCooldown(ctx); err != nil {
			return nil, attempt - 1, err
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, attempt - 1, NewSourceError(name, KindTimeout, fmt.Errorf("rate limiter: %w", err))
		}

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.breaker.Execute(func() (interface{}, error) {
			return s.enricher.Fetch(callCtx, address)
		})
		cancel()
		elapsed := time.Since(start)

		if err == nil {
			e, _ := res.(*domain.PartialEnrichment)
			if e == nil {
				e = &domain.PartialEnrichment{}
			}
			if e.Source == "" {
				e.Source = name
			}
			if e.FetchedAt.IsZero() {
				e.FetchedAt = time.Now().UTC()
			}
			d.opts.Metrics.RecordSourceCall(name, "ok", elapsed)
			return e, attempt, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			d.opts.Metrics.RecordSourceCall(name, "circuit_open", elapsed)
			return nil, attempt, &SourceError{Source: name, Kind: KindCircuitOpen, Err: err}
		}

		err = classify(name, err)
		var rl *RateLimitError
		if errors.As(err, &rl) {
			d.opts.Metrics.RecordSourceCall(name, "rate_limited", elapsed)
			wait := rl.RetryAfter
			if wait <= 0 {
				wait = d.opts.RateLimitCooldown
			}
			s.setCooldown(time.Now().Add(wait))
			if attempt > d.opts.MaxRetries {
				return nil, attempt, err
			}
			log.Debug().Dur("cooldown", wait).Int("attempt", attempt).Msg("rate limited, cooling down")
			d.opts.Metrics.RecordSourceRetry(name, "rate_limited")
			continue
		}

		d.opts.Metrics.RecordSourceCall(name, "error", elapsed)
		if !IsRetryable(err) || attempt > d.opts.MaxRetries || ctx.Err() != nil {
			return nil, attempt, err
		}

		var se *SourceError
		if errors.As(err, &se) {
			d.opts.Metrics.RecordSourceRetry(name, string(se.Kind))
		}
		log.Debug().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying source")
		if err := sleep(ctx, delay); err != nil {
			return nil, attempt, NewSourceError(name, KindTimeout, err)
		}
		delay = min(delay*2, d.opts.MaxBackoff)
	}
}

func (s *source) setCooldown(until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if until.After(s.cooldownUntil) {
		s.cooldownUntil = until
	}
}

// waitCooldown blocks until the source's cooldown has passed. If the
// cooldown outlasts the caller's deadline it fails immediately.
func (s *source) waitCooldown(ctx context.Context) error {
	s.mu.Lock()
	until := s.cooldownUntil
	s.mu.Unlock()

	wait := time.Until(until)
	if wait <= 0 {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok && until.After(deadline) {
		return &RateLimitError{Source: s.enricher.Name(), RetryAfter: wait}
	}
	if err := sleep(ctx, wait); err != nil {
		return NewSourceError(s.enricher.Name(), KindTimeout, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
