package memory

import (
	"context"
	"errors"
	"testing"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/storage"
)

func TestPriceHistoryStore_RecentOrdered(t *testing.T) {
	store := NewPriceHistoryStore()
	ctx := context.Background()

	// appended out of order
	for _, ts := range []int64{3000, 1000, 2000, 4000} {
		p := &domain.PricePoint{ContractAddress: addrA, TimestampMs: ts, Price: float64(ts) / 1000}
		if err := store.Append(ctx, p); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := store.Recent(ctx, addrA, 3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 points, got %d", len(got))
	}
	for i, want := range []int64{2000, 3000, 4000} {
		if got[i].TimestampMs != want {
			t.Errorf("point %d: got ts %d, want %d", i, got[i].TimestampMs, want)
		}
	}

	empty, err := store.Recent(ctx, addrB, 10)
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty series, got %v, %v", empty, err)
	}
}

func TestPriceHistoryStore_InvalidInput(t *testing.T) {
	store := NewPriceHistoryStore()
	ctx := context.Background()

	if err := store.Append(ctx, &domain.PricePoint{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := store.Recent(ctx, addrA, 0); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
