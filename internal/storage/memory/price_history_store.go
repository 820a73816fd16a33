package memory

import (
	"context"
	"sort"
	"sync"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/storage"
)

// PriceHistoryStore is an in-memory implementation of storage.PriceHistoryStore.
type PriceHistoryStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.PricePoint // keyed by contract_address, sorted by timestamp ASC
}

// NewPriceHistoryStore creates a new in-memory price history store.
func NewPriceHistoryStore() *PriceHistoryStore {
	return &PriceHistoryStore{
		data: make(map[string][]*domain.PricePoint),
	}
}

// Append adds a snapshot, keeping the per-address series ordered.
func (s *PriceHistoryStore) Append(_ context.Context, p *domain.PricePoint) error {
	if p == nil || p.ContractAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	series := s.data[p.ContractAddress]
	idx := sort.Search(len(series), func(i int) bool {
		return series[i].TimestampMs > cp.TimestampMs
	})
	series = append(series, nil)
	copy(series[idx+1:], series[idx:])
	series[idx] = &cp
	s.data[p.ContractAddress] = series
	return nil
}

// Recent returns up to limit most recent snapshots, ordered by timestamp ASC.
func (s *PriceHistoryStore) Recent(_ context.Context, address string, limit int) ([]*domain.PricePoint, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.data[address]
	if len(series) > limit {
		series = series[len(series)-limit:]
	}

	result := make([]*domain.PricePoint, len(series))
	for i, p := range series {
		cp := *p
		result[i] = &cp
	}
	return result, nil
}

// Compile-time interface check
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)
