package feed

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"memecoin-signal-lab/internal/domain"
)

// Batcher defaults.
const (
	DefaultBatchSize     = 50
	DefaultFlushInterval = 10 * time.Second
)

// Handler processes one batch. A returned error stops the Batcher.
type Handler func(ctx context.Context, msgs []domain.InboundMessage) error

// Batcher groups a message stream into batches by size or age.
type Batcher struct {
	Size          int
	FlushInterval time.Duration
	Handler       Handler
	Logger        zerolog.Logger
}

// Run consumes in until it is closed or ctx is done, flushing whenever Size
// messages are pending or FlushInterval elapses. Pending messages are flushed
// before returning, detached from ctx cancellation.
func (b *Batcher) Run(ctx context.Context, in <-chan domain.InboundMessage) error {
	size := b.Size
	if size <= 0 {
		size = DefaultBatchSize
	}
	interval := b.FlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pending := make([]domain.InboundMessage, 0, size)
	flush := func(ctx context.Context) error {
		if len(pending) == 0 {
			return nil
		}
		batch := pending
		pending = make([]domain.InboundMessage, 0, size)
		b.Logger.Debug().Int("messages", len(batch)).Msg("flushing batch")
		return b.Handler(ctx, batch)
	}

	for {
		select {
		case <-ctx.Done():
			if err := flush(context.WithoutCancel(ctx)); err != nil {
				return err
			}
			return ctx.Err()

		case m, ok := <-in:
			if !ok {
				return flush(context.WithoutCancel(ctx))
			}
			pending = append(pending, m)
			if len(pending) >= size {
				if err := flush(ctx); err != nil {
					return err
				}
				ticker.Reset(interval)
			}

		case <-ticker.C:
			if err := flush(ctx); err != nil {
				return err
			}
		}
	}
}
