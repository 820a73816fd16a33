package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/storage"
)

const (
	addrA = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	addrB = "So11111111111111111111111111111111111111112"
	addrC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func TestCoinStore_UpsertAndGet(t *testing.T) {
	store := NewCoinStore()
	ctx := context.Background()

	c := domain.NewEnrichedCoin(addrA)
	c.Symbol = "BONK"
	c.CurrentPrice = 0.00001234

	if err := store.Upsert(ctx, c); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := store.GetByAddress(ctx, addrA)
	if err != nil {
		t.Fatalf("GetByAddress failed: %v", err)
	}
	if got.Symbol != "BONK" {
		t.Errorf("Symbol mismatch: got %s, want BONK", got.Symbol)
	}

	// Upsert replaces, never duplicates
	c.CurrentPrice = 0.00002
	if err := store.Upsert(ctx, c); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if store.Count() != 1 {
		t.Errorf("expected 1 coin, got %d", store.Count())
	}
	got, _ = store.GetByAddress(ctx, addrA)
	if got.CurrentPrice != 0.00002 {
		t.Errorf("CurrentPrice not updated: %v", got.CurrentPrice)
	}
}

func TestCoinStore_InvalidAddress(t *testing.T) {
	store := NewCoinStore()
	ctx := context.Background()

	for _, addr := range []string{"", "not-an-address", "0000000000000000000000000000000000000000"} {
		err := store.Upsert(ctx, domain.NewEnrichedCoin(addr))
		if !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("Upsert(%q): expected ErrInvalidInput, got %v", addr, err)
		}
	}
	if err := store.Upsert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Upsert(nil): expected ErrInvalidInput, got %v", err)
	}
}

func TestCoinStore_NotFound(t *testing.T) {
	store := NewCoinStore()
	_, err := store.GetByAddress(context.Background(), addrA)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCoinStore_CopyOnReturn(t *testing.T) {
	store := NewCoinStore()
	ctx := context.Background()

	c := domain.NewEnrichedCoin(addrA)
	c.Sources = []string{"dexscreener"}
	_ = store.Upsert(ctx, c)

	c.Sources[0] = "mutated"
	got, _ := store.GetByAddress(ctx, addrA)
	got.Symbol = "MUTATED"

	again, _ := store.GetByAddress(ctx, addrA)
	if again.Sources[0] != "dexscreener" || again.Symbol != "" {
		t.Errorf("stored coin was mutated externally: %+v", again)
	}
}

func TestCoinStore_PendingAddresses(t *testing.T) {
	store := NewCoinStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	fresh := domain.NewEnrichedCoin(addrA)
	fresh.CurrentPrice = 1
	fresh.EnrichmentTimestamp = now

	stale := domain.NewEnrichedCoin(addrB)
	stale.CurrentPrice = 1
	stale.EnrichmentTimestamp = now.Add(-2 * time.Hour)

	unpriced := domain.NewEnrichedCoin(addrC)
	unpriced.EnrichmentTimestamp = now.Add(-time.Minute)

	for _, c := range []*domain.EnrichedCoin{fresh, stale, unpriced} {
		if err := store.Upsert(ctx, c); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	got, err := store.PendingAddresses(ctx, 10, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("PendingAddresses failed: %v", err)
	}
	if len(got) != 2 || got[0] != addrB || got[1] != addrC {
		t.Errorf("unexpected pending addresses: %v", got)
	}

	got, _ = store.PendingAddresses(ctx, 1, now.Add(-time.Hour))
	if len(got) != 1 || got[0] != addrB {
		t.Errorf("limit not applied: %v", got)
	}

	if _, err := store.PendingAddresses(ctx, 0, now); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for zero limit, got %v", err)
	}
}

func TestCoinStore_Top(t *testing.T) {
	store := NewCoinStore()
	ctx := context.Background()

	for addr, conf := range map[string]float64{addrA: 40, addrB: 90, addrC: 40} {
		c := domain.NewEnrichedCoin(addr)
		c.RunnerConfidence = conf
		_ = store.Upsert(ctx, c)
	}

	top, err := store.Top(ctx, 2)
	if err != nil {
		t.Fatalf("Top failed: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 coins, got %d", len(top))
	}
	if top[0].ContractAddress != addrB {
		t.Errorf("expected highest confidence first, got %s", top[0].ContractAddress)
	}
	// tie broken by address ASC
	if top[1].ContractAddress != addrA {
		t.Errorf("expected %s second, got %s", addrA, top[1].ContractAddress)
	}
}

func TestCoinStore_ConcurrentUpsertSameAddress(t *testing.T) {
	store := NewCoinStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := domain.NewEnrichedCoin(addrA)
			c.CurrentPrice = float64(i)
			_ = store.Upsert(ctx, c)
		}(i)
	}
	wg.Wait()

	if store.Count() != 1 {
		t.Errorf("expected exactly one record, got %d", store.Count())
	}
}
