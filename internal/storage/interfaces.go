package storage

import (
	"context"
	"time"

	"memecoin-signal-lab/internal/domain"
)

// CoinStore provides access to coins storage, keyed by contract address.
type CoinStore interface {
	// Upsert inserts or replaces the coin with the same contract address.
	// Returns ErrInvalidInput if the address is empty or malformed.
	Upsert(ctx context.Context, c *domain.EnrichedCoin) error

	// GetByAddress retrieves a coin. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address string) (*domain.EnrichedCoin, error)

	// PendingAddresses returns coins lacking recent price data: never priced,
	// or last enriched before staleBefore. Oldest enrichment first.
	PendingAddresses(ctx context.Context, limit int, staleBefore time.Time) ([]string, error)

	// Top returns coins ordered by runner_confidence DESC, contract_address ASC.
	Top(ctx context.Context, limit int) ([]*domain.EnrichedCoin, error)
}

// RawSignalStore provides access to raw_signals storage.
type RawSignalStore interface {
	// Insert stores a signal and returns its assigned id. The signal's ID is set.
	Insert(ctx context.Context, s *domain.RawSignal) (int64, error)

	// LinkCoin sets the coin a signal was merged into. Returns ErrNotFound if id does not exist.
	LinkCoin(ctx context.Context, id int64, address string) error

	// GetByCoin retrieves signals merged into a coin, ordered by received_at ASC, id ASC.
	GetByCoin(ctx context.Context, address string) ([]*domain.RawSignal, error)
}

// PriceHistoryStore provides access to price snapshots.
type PriceHistoryStore interface {
	// Append adds a snapshot. Returns ErrInvalidInput for an empty address.
	Append(ctx context.Context, p *domain.PricePoint) error

	// Recent returns up to limit most recent snapshots, ordered by timestamp ASC.
	Recent(ctx context.Context, address string, limit int) ([]*domain.PricePoint, error)
}

// Pinger is implemented by stores backed by a remote server.
type Pinger interface {
	Ping(ctx context.Context) error
}
