package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/solana"
	"memecoin-signal-lab/internal/storage"
)

// CoinStore is an in-memory implementation of storage.CoinStore.
type CoinStore struct {
	mu   sync.RWMutex
	data map[string]*domain.EnrichedCoin // keyed by contract_address
}

// NewCoinStore creates a new in-memory coin store.
func NewCoinStore() *CoinStore {
	return &CoinStore{
		data: make(map[string]*domain.EnrichedCoin),
	}
}

// Upsert inserts or replaces the coin with the same contract address.
func (s *CoinStore) Upsert(_ context.Context, c *domain.EnrichedCoin) error {
	if c == nil || !solana.IsValidAddress(c.ContractAddress) {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation
	s.data[c.ContractAddress] = c.Clone()
	return nil
}

// GetByAddress retrieves a coin. Returns ErrNotFound if not exists.
func (s *CoinStore) GetByAddress(_ context.Context, address string) (*domain.EnrichedCoin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.data[address]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return c.Clone(), nil
}

// PendingAddresses returns never-priced or stale coins, oldest enrichment first.
func (s *CoinStore) PendingAddresses(_ context.Context, limit int, staleBefore time.Time) ([]string, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	var pending []*domain.EnrichedCoin
	for _, c := range s.data {
		if c.CurrentPrice == 0 || c.EnrichmentTimestamp.Before(staleBefore) {
			pending = append(pending, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].EnrichmentTimestamp.Equal(pending[j].EnrichmentTimestamp) {
			return pending[i].EnrichmentTimestamp.Before(pending[j].EnrichmentTimestamp)
		}
		return pending[i].ContractAddress < pending[j].ContractAddress
	})

	if len(pending) > limit {
		pending = pending[:limit]
	}
	result := make([]string, len(pending))
	for i, c := range pending {
		result[i] = c.ContractAddress
	}
	return result, nil
}

// Top returns coins ordered by runner_confidence DESC, contract_address ASC.
func (s *CoinStore) Top(_ context.Context, limit int) ([]*domain.EnrichedCoin, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	result := make([]*domain.EnrichedCoin, 0, len(s.data))
	for _, c := range s.data {
		result = append(result, c.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].RunnerConfidence != result[j].RunnerConfidence {
			return result[i].RunnerConfidence > result[j].RunnerConfidence
		}
		return result[i].ContractAddress < result[j].ContractAddress
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Count returns the number of stored coins.
func (s *CoinStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Compile-time interface check
var _ storage.CoinStore = (*CoinStore)(nil)
