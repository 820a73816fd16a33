package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/storage"
)

// RawSignalStore implements storage.RawSignalStore using PostgreSQL.
type RawSignalStore struct {
	pool *Pool
}

// NewRawSignalStore creates a new RawSignalStore.
func NewRawSignalStore(pool *Pool) *RawSignalStore {
	return &RawSignalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RawSignalStore = (*RawSignalStore)(nil)

// Insert stores a signal and sets its autoincrement id.
func (s *RawSignalStore) Insert(ctx context.Context, sig *domain.RawSignal) (id int64, err error) {
	if sig == nil {
		return 0, storage.ErrInvalidInput
	}
	defer func(start time.Time) { err = s.pool.observe("insert signal", start, err) }(time.Now())

	query := `
		INSERT INTO raw_signals (channel, text, received_at, fields, parse_confidence, coin_address)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	fields := sig.Fields
	if fields == nil {
		fields = map[string]string{}
	}

	err = s.pool.QueryRow(ctx, query,
		sig.Channel,
		sig.Text,
		sig.ReceivedAt,
		fields,
		sig.ParseConfidence,
		sig.CoinAddress,
	).Scan(&id)
	if err != nil {
		if isForeignKeyError(err) {
			return 0, storage.ErrInvalidInput
		}
		return 0, fmt.Errorf("insert raw signal: %w", err)
	}

	sig.ID = id
	return id, nil
}

// LinkCoin sets the coin a signal was merged into.
// Returns ErrNotFound for an unknown id and ErrInvalidInput for an unknown coin.
func (s *RawSignalStore) LinkCoin(ctx context.Context, id int64, address string) (err error) {
	defer func(start time.Time) { err = s.pool.observe("link signal", start, err) }(time.Now())

	tag, err := s.pool.Exec(ctx, `UPDATE raw_signals SET coin_address = $2 WHERE id = $1`, id, address)
	if err != nil {
		if isForeignKeyError(err) {
			return storage.ErrInvalidInput
		}
		return fmt.Errorf("link raw signal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByCoin retrieves signals merged into a coin, ordered by received_at ASC, id ASC.
func (s *RawSignalStore) GetByCoin(ctx context.Context, address string) (sigs []*domain.RawSignal, err error) {
	defer func(start time.Time) { err = s.pool.observe("signals by coin", start, err) }(time.Now())

	query := `
		SELECT id, channel, text, received_at, fields, parse_confidence, coin_address
		FROM raw_signals
		WHERE coin_address = $1
		ORDER BY received_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, address)
	if err != nil {
		return nil, fmt.Errorf("query raw signals by coin: %w", err)
	}
	defer rows.Close()

	return scanSignals(rows)
}

// scanSignals scans multiple rows.
func scanSignals(rows pgx.Rows) ([]*domain.RawSignal, error) {
	var sigs []*domain.RawSignal

	for rows.Next() {
		var sig domain.RawSignal
		err := rows.Scan(
			&sig.ID,
			&sig.Channel,
			&sig.Text,
			&sig.ReceivedAt,
			&sig.Fields,
			&sig.ParseConfidence,
			&sig.CoinAddress,
		)
		if err != nil {
			return nil, fmt.Errorf("scan raw signal row: %w", err)
		}
		sig.ReceivedAt = sig.ReceivedAt.UTC()
		sigs = append(sigs, &sig)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw signal rows: %w", err)
	}

	return sigs, nil
}
