package pipeline

import (
	"sync"
	"time"

	"memecoin-signal-lab/internal/domain"
	"memecoin-signal-lab/internal/observability"
)

// DefaultProgressBuffer is the number of undelivered progress events kept
// before new ones are dropped.
const DefaultProgressBuffer = 256

// DefaultProgressGrace bounds how long a finishing run waits for the
// observer to catch up on queued events.
const DefaultProgressGrace = 100 * time.Millisecond

// Progress is published after each item reaches a terminal outcome.
type Progress struct {
	RunID           string               `json:"run_id"`
	ItemID          string               `json:"item_id"`
	ContractAddress string               `json:"contract_address,omitempty"`
	Status          domain.OutcomeStatus `json:"status"`
	Processed       int                  `json:"processed"`
	Total           int                  `json:"total"`
	Successful      int                  `json:"successful"`
	Degraded        int                  `json:"degraded"`
	Dropped         int                  `json:"dropped"`
	SourceFailures  int                  `json:"source_failures"`
}

// Observer receives progress events on a dedicated goroutine.
type Observer func(Progress)

// progressBus delivers events to an observer without ever blocking the
// publisher: when the buffer is full the event is dropped and counted.
// Closing waits at most grace for queued events; whatever the observer has
// not picked up by then is abandoned and counted as dropped.
type progressBus struct {
	ch      chan Progress
	done    chan struct{}
	grace   time.Duration
	metrics *observability.Metrics

	mu        sync.Mutex
	accepted  int
	handed    int
	dropped   int
	abandoned bool
}

func newProgressBus(obs Observer, size int, grace time.Duration, m *observability.Metrics) *progressBus {
	if obs == nil {
		return nil
	}
	if size <= 0 {
		size = DefaultProgressBuffer
	}
	b := &progressBus{
		ch:      make(chan Progress, size),
		done:    make(chan struct{}),
		grace:   grace,
		metrics: m,
	}
	go b.deliver(obs)
	return b
}

func (b *progressBus) deliver(obs Observer) {
	defer close(b.done)
	for p := range b.ch {
		b.mu.Lock()
		if b.abandoned {
			b.mu.Unlock()
			continue
		}
		b.handed++
		b.mu.Unlock()
		obs(p)
	}
}

func (b *progressBus) publish(p Progress) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case b.ch <- p:
		b.accepted++
	default:
		b.dropped++
		b.metrics.RecordProgressDropped()
	}
}

// close stops accepting events and returns the number of dropped ones.
// It never waits longer than the grace period, even for a blocked observer.
func (b *progressBus) close() int {
	if b == nil {
		return 0
	}
	close(b.ch)

	if b.grace > 0 {
		timer := time.NewTimer(b.grace)
		defer timer.Stop()
		select {
		case <-b.done:
		case <-timer.C:
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.abandoned = true
	if lost := b.accepted - b.handed; lost > 0 {
		b.dropped += lost
		for i := 0; i < lost; i++ {
			b.metrics.RecordProgressDropped()
		}
	}
	return b.dropped
}
