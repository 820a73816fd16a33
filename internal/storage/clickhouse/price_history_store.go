package clickhouse

import (
	"context"
	"fmt"
	"time"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/storage"
)

// PriceHistoryStore implements storage.PriceHistoryStore using ClickHouse.
type PriceHistoryStore struct {
	conn *Conn
}

// NewPriceHistoryStore creates a new PriceHistoryStore.
func NewPriceHistoryStore(conn *Conn) *PriceHistoryStore {
	return &PriceHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

// Append adds a snapshot. A repeated (address, timestamp) replaces the earlier
// row on merge.
func (s *PriceHistoryStore) Append(ctx context.Context, p *domain.PricePoint) (err error) {
	if p == nil || p.ContractAddress == "" || p.TimestampMs < 0 {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { err = s.observe("append price", start, err) }(time.Now())

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_history (contract_address, timestamp_ms, price, volume_24h, source)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	if err := batch.Append(p.ContractAddress, uint64(p.TimestampMs), p.Price, p.Volume24h, p.Source); err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent snapshots, ordered by timestamp ASC.
func (s *PriceHistoryStore) Recent(ctx context.Context, address string, limit int) (points []*domain.PricePoint, err error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}
	defer func(start time.Time) { err = s.observe("recent prices", start, err) }(time.Now())

	query := `
		SELECT contract_address, timestamp_ms, price, volume_24h, source
		FROM price_history FINAL
		WHERE contract_address = ?
		ORDER BY timestamp_ms DESC
		LIMIT ?
	`

	rows, err := s.conn.Query(ctx, query, address, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("query recent prices: %w", err)
	}
	defer rows.Close()

	points, err = scanPricePoints(rows)
	if err != nil {
		return nil, err
	}

	// Newest-first from the query; callers want chronological order.
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

func (s *PriceHistoryStore) observe(op string, start time.Time, err error) error {
	s.conn.Metrics.RecordDBQuery("clickhouse", op, time.Since(start), err)
	if err == nil || !storage.IsFatal(err) {
		return err
	}
	return &storage.Error{Op: op, Err: err}
}

// chRows is the subset of driver.Rows used for scanning.
type chRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanPricePoints scans multiple rows.
func scanPricePoints(rows chRows) ([]*domain.PricePoint, error) {
	var points []*domain.PricePoint

	for rows.Next() {
		var p domain.PricePoint
		var timestampMs uint64

		if err := rows.Scan(&p.ContractAddress, &timestampMs, &p.Price, &p.Volume24h, &p.Source); err != nil {
			return nil, fmt.Errorf("scan price history row: %w", err)
		}

		p.TimestampMs = int64(timestampMs)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price history rows: %w", err)
	}

	return points, nil
}
