package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"memecoin-signal-lab/internal/aggregator"
	"memecoin-signal-lab/internal/cache"
	"memecoin-signal-lab/internal/config"
	"memecoin-signal-lab/internal/enrichment"
	"memecoin-signal-lab/internal/logging"
	"memecoin-signal-lab/internal/notify"
	"memecoin-signal-lab/internal/observability"
	"memecoin-signal-lab/internal/parser"
	"memecoin-signal-lab/internal/pipeline"
	"memecoin-signal-lab/internal/solana"
	"memecoin-signal-lab/internal/storage"
	chstore "memecoin-signal-lab/internal/storage/clickhouse"
	"memecoin-signal-lab/internal/storage/memory"
	"memecoin-signal-lab/internal/storage/migrations"
	pgstore "memecoin-signal-lab/internal/storage/postgres"
)

// app holds the wired components shared by subcommands.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	metrics *observability.Metrics

	coins   storage.CoinStore
	signals storage.RawSignalStore
	prices  storage.PriceHistoryStore
	pingers map[string]storage.Pinger

	parser     *parser.Parser
	aggregator *aggregator.Aggregator

	closers []func()
}

// loadApp reads config and opens the stores. Enrichment is wired lazily by pipeline().
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		log:        logging.New(logging.Options{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty}),
		metrics:    observability.NewMetrics(cfg.Metrics.Namespace),
		pingers:    make(map[string]storage.Pinger),
		aggregator: aggregator.New(cfg.Scoring),
	}

	var parserOpts []parser.Option
	if len(cfg.Parser.HypeWords) > 0 {
		parserOpts = append(parserOpts, parser.WithHypeWords(cfg.Parser.HypeWords))
	}
	if cfg.Parser.MinLength > 0 {
		parserOpts = append(parserOpts, parser.WithMinLength(cfg.Parser.MinLength))
	}
	a.parser = parser.New(parserOpts...)

	if err := a.openStores(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	switch a.cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := pgstore.NewPool(ctx, a.cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		pool.Metrics = a.metrics
		a.closers = append(a.closers, pool.Close)
		if a.cfg.Storage.Migrate {
			if err := migrations.ApplyPostgres(ctx, pool); err != nil {
				return err
			}
		}
		a.coins = pgstore.NewCoinStore(pool)
		a.signals = pgstore.NewRawSignalStore(pool)
		a.pingers["postgres"] = pool
	default:
		a.coins = memory.NewCoinStore()
		a.signals = memory.NewRawSignalStore()
	}

	if dsn := a.cfg.Storage.ClickhouseDSN; dsn != "" {
		var (
			conn *chstore.Conn
			err  error
		)
		if a.cfg.Storage.Migrate {
			conn, err = migrations.OpenClickhouse(ctx, dsn)
		} else {
			conn, err = chstore.NewConn(ctx, dsn)
		}
		if err != nil {
			return err
		}
		conn.Metrics = a.metrics
		a.closers = append(a.closers, func() { _ = conn.Close() })
		a.prices = chstore.NewPriceHistoryStore(conn)
		a.pingers["clickhouse"] = conn
	} else {
		a.prices = memory.NewPriceHistoryStore()
	}

	a.log.Info().
		Str("driver", a.cfg.Storage.Driver).
		Bool("clickhouse", a.cfg.Storage.ClickhouseDSN != "").
		Msg("stores ready")
	return nil
}

// dispatcher builds the enabled enrichers, optionally behind the Redis cache.
func (a *app) dispatcher(ctx context.Context) (*enrichment.Dispatcher, error) {
	srcs := a.cfg.Sources
	client := &http.Client{Timeout: enrichment.DefaultHTTPTimeout}

	var rdb redis.Cmdable
	if addr := a.cfg.Cache.RedisAddr; addr != "" {
		c, err := cache.NewClient(ctx, addr, a.cfg.Cache.RedisPassword, a.cfg.Cache.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = c.Close() })
		a.pingers["redis"] = redisPinger{c}
		rdb = c
	}

	var sources []enrichment.SourceConfig
	add := func(sc config.SourceConfig, e enrichment.Enricher, cacheable bool) {
		if !sc.Enabled {
			return
		}
		if rdb != nil && cacheable {
			e = cache.Wrap(e, rdb, cache.Options{TTL: a.cfg.Cache.TTL, Logger: a.log, Metrics: a.metrics})
		}
		sources = append(sources, enrichment.SourceConfig{
			Enricher:      e,
			RatePerMinute: sc.RatePerMinute,
			Burst:         sc.Burst,
			Timeout:       sc.Timeout,
		})
	}

	add(srcs.DexScreener, enrichment.NewDexScreener(srcs.DexScreener.Endpoint, client), true)
	add(srcs.RugCheck, enrichment.NewRugCheck(srcs.RugCheck.Endpoint, srcs.RugCheck.APIKey, client), true)
	add(srcs.OnChain, enrichment.NewOnChain(solana.NewHTTPClient(srcs.OnChain.Endpoint,
		solana.WithTimeout(srcs.OnChain.Timeout))), true)
	add(srcs.Social, enrichment.NewSocial(srcs.Social.Endpoint, srcs.Social.APIKey, client), true)
	// Price history reads our own store, so it is never cached.
	add(srcs.PriceHistory, enrichment.NewPriceHistory(a.prices), false)

	if len(sources) == 0 {
		return nil, fmt.Errorf("no enrichment sources enabled")
	}

	d := a.cfg.Dispatch
	return enrichment.NewDispatcher(sources, enrichment.DispatchOptions{
		MaxRetries:         d.MaxRetries,
		Backoff:            d.Backoff,
		MaxBackoff:         d.MaxBackoff,
		RateLimitCooldown:  d.RateLimitCooldown,
		BreakerFailures:    d.BreakerFailures,
		BreakerOpenTimeout: d.BreakerOpenTimeout,
		Logger:             a.log,
		Metrics:            a.metrics,
	})
}

// pipeline wires the enrichment pipeline with an optional progress observer.
func (a *app) pipeline(ctx context.Context, observer pipeline.Observer) (*pipeline.Pipeline, error) {
	disp, err := a.dispatcher(ctx)
	if err != nil {
		return nil, err
	}
	p := a.cfg.Pipeline
	return pipeline.New(pipeline.Options{
		Coins:          a.coins,
		Signals:        a.signals,
		Prices:         a.prices,
		Dispatcher:     disp,
		Parser:         a.parser,
		Aggregator:     a.aggregator,
		Concurrency:    p.Concurrency,
		ItemTimeout:    p.ItemTimeout,
		HistoryLimit:   p.HistoryLimit,
		StaleAfter:     p.StaleAfter,
		Observer:       observer,
		ProgressBuffer: p.ProgressBuffer,
		ProgressGrace:  p.ProgressGrace,
		Logger:         a.log,
		Metrics:        a.metrics,
	})
}

// notifier returns the configured alert fan-out gated by min confidence.
func (a *app) notifier() *notify.Threshold {
	n := a.cfg.Notify
	multi := &notify.Multi{Metrics: a.metrics}
	if n.DiscordWebhookURL != "" {
		multi.Notifiers = append(multi.Notifiers, notify.NewDiscord(n.DiscordWebhookURL, n.DiscordUsername, nil, a.log))
	}
	if n.TelegramBotToken != "" {
		multi.Notifiers = append(multi.Notifiers, notify.NewTelegram(n.TelegramAPI, n.TelegramBotToken, n.TelegramChatID, nil, a.log))
	}
	if len(multi.Notifiers) == 0 {
		return notify.NewThreshold(n.MinConfidence, notify.Noop{})
	}
	return notify.NewThreshold(n.MinConfidence, multi)
}

// alert sends every eligible coin in a result and returns how many were delivered.
func (a *app) alert(ctx context.Context, res *pipeline.Result) int {
	n := a.notifier()
	sent := 0
	for _, coin := range res.Coins {
		if !n.Eligible(coin) {
			continue
		}
		if n.Notify(ctx, coin) {
			sent++
		}
	}
	return sent
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }
