package memory

import (
	"context"
	"sort"
	"sync"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/storage"
)

// RawSignalStore is an in-memory implementation of storage.RawSignalStore.
type RawSignalStore struct {
	mu     sync.RWMutex
	nextID int64
	data   map[int64]*domain.RawSignal
}

// NewRawSignalStore creates a new in-memory raw signal store.
func NewRawSignalStore() *RawSignalStore {
	return &RawSignalStore{
		data: make(map[int64]*domain.RawSignal),
	}
}

// Insert stores a copy of the signal and assigns its id.
func (s *RawSignalStore) Insert(_ context.Context, sig *domain.RawSignal) (int64, error) {
	if sig == nil || sig.Text == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sig.ID = s.nextID
	s.data[sig.ID] = copySignal(sig)
	return sig.ID, nil
}

// LinkCoin sets the coin a signal was merged into.
func (s *RawSignalStore) LinkCoin(_ context.Context, id int64, address string) error {
	if address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sig, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	addr := address
	sig.CoinAddress = &addr
	return nil
}

// GetByCoin retrieves signals merged into a coin, ordered by received_at ASC, id ASC.
func (s *RawSignalStore) GetByCoin(_ context.Context, address string) ([]*domain.RawSignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RawSignal
	for _, sig := range s.data {
		if sig.CoinAddress != nil && *sig.CoinAddress == address {
			result = append(result, copySignal(sig))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].ReceivedAt.Equal(result[j].ReceivedAt) {
			return result[i].ReceivedAt.Before(result[j].ReceivedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// Count returns the number of stored signals.
func (s *RawSignalStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func copySignal(sig *domain.RawSignal) *domain.RawSignal {
	cp := *sig
	if sig.Fields != nil {
		cp.Fields = make(map[string]string, len(sig.Fields))
		for k, v := range sig.Fields {
			cp.Fields[k] = v
		}
	}
	if sig.CoinAddress != nil {
		addr := *sig.CoinAddress
		cp.CoinAddress = &addr
	}
	return &cp
}

// Compile-time interface check
var _ storage.RawSignalStore = (*RawSignalStore)(nil)
