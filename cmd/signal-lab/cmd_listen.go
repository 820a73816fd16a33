package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"memecoin-signal-lab/internal/api"
	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/feed"
)

var (
	listenEndpoint string
	listenServe    bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stream messages from a websocket feed through the pipeline",
	Long: `Listen connects to a websocket message feed, groups incoming messages into
batches and runs each batch through the pipeline. The connection is
re-established with exponential backoff. With --serve the read API runs
alongside the listener.`,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().StringVar(&listenEndpoint, "endpoint", "", "Websocket feed URL (default feed.endpoint)")
	listenCmd.Flags().BoolVar(&listenServe, "serve", false, "Also serve the read API")
	listenCmd.Flags().BoolVar(&noAlerts, "no-alerts", false, "Do not send alerts")
}

func runListen(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	endpoint := listenEndpoint
	if endpoint == "" {
		endpoint = a.cfg.Feed.Endpoint
	}
	if endpoint == "" {
		return fmt.Errorf("no feed endpoint: set --endpoint or feed.endpoint")
	}

	p, err := a.pipeline(ctx, nil)
	if err != nil {
		return err
	}

	wsCfg := feed.DefaultConfig()
	wsCfg.ReconnectDelay = a.cfg.Feed.ReconnectDelay
	wsCfg.MaxReconnectDelay = a.cfg.Feed.MaxReconnectDelay
	wsCfg.Logger = a.log
	wsCfg.Metrics = a.metrics
	source := feed.NewWSSource(endpoint, wsCfg)

	batcher := &feed.Batcher{
		Size:          a.cfg.Feed.BatchSize,
		FlushInterval: a.cfg.Feed.FlushInterval,
		Logger:        a.log,
		Handler: func(ctx context.Context, msgs []domain.InboundMessage) error {
			res, err := p.RunMessages(ctx, msgs)
			if err != nil {
				return err
			}
			a.log.Info().
				Str("run_id", res.Stats.RunID).
				Int("messages", len(msgs)).
				Int("successful", res.Stats.Successful).
				Int("degraded", res.Stats.Degraded).
				Int("dropped", res.Stats.Dropped).
				Msg("batch complete")
			if !noAlerts {
				a.alert(ctx, res)
			}
			return nil
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return batcher.Run(gctx, source.Messages(gctx))
	})
	if listenServe {
		srv, err := newAPIServer(a)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.ListenAndServe(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info().Msg("listener stopped")
	return nil
}

func newAPIServer(a *app) (*api.Server, error) {
	return api.New(api.Options{
		Addr:           a.cfg.API.Addr,
		Coins:          a.coins,
		Signals:        a.signals,
		Aggregator:     a.aggregator,
		Pingers:        a.pingers,
		Metrics:        a.metrics,
		Logger:         a.log,
		RequestTimeout: a.cfg.API.RequestTimeout,
	})
}
