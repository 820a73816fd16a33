package enrichment

import (
	"context"
	"time"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/storage"
)

// historyWindow is how far back the 7d change looks.
const historyWindow = 7 * 24 * time.Hour

// historyScanLimit bounds how many snapshots are read per address.
const historyScanLimit = 2000

// PriceHistory derives the 7d price change from stored snapshots.
type PriceHistory struct {
	store storage.PriceHistoryStore
	now   func() time.Time
}

// NewPriceHistory creates the price-history enricher.
func NewPriceHistory(store storage.PriceHistoryStore) *PriceHistory {
	return &PriceHistory{store: store, now: time.Now}
}

// Name returns the source name.
func (p *PriceHistory) Name() string { return SourcePriceHistory }

// Fetch compares the latest snapshot with the newest snapshot at least
// seven days older. Without such a baseline the change is left absent.
func (p *PriceHistory) Fetch(ctx context.Context, address string) (*domain.PartialEnrichment, error) {
	points, err := p.store.Recent(ctx, address, historyScanLimit)
	if err != nil {
		return nil, NewSourceError(SourcePriceHistory, KindUnknown, err)
	}

	out := &domain.PartialEnrichment{Source: SourcePriceHistory, FetchedAt: p.now().UTC()}
	if len(points) < 2 {
		return out, nil
	}

	latest := points[len(points)-1]
	cutoff := latest.TimestampMs - historyWindow.Milliseconds()

	var base *domain.PricePoint
	for i := len(points) - 2; i >= 0; i-- {
		if points[i].TimestampMs <= cutoff {
			base = points[i]
			break
		}
	}
	if base == nil || base.Price <= 0 {
		return out, nil
	}

	out.PriceChange7d = ptr((latest.Price - base.Price) / base.Price * 100)
	return out, nil
}
