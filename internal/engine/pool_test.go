package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adminhub/sync-engine/internal/domain"
	"github.com/google/uuid"
)

func makeItems(n int) []domain.QueueItem {
	items := make([]domain.QueueItem, n)
	for i := range items {
		items[i] = domain.QueueItem{ID: uuid.New(), EntityID: uuid.New()}
	}
	return items
}

func TestPool_ProcessesEveryItem(t *testing.T) {
	pool := NewPool(4)
	items := makeItems(25)

	var (
		mu   sync.Mutex
		seen = map[uuid.UUID]bool{}
	)

	results := pool.Process(context.Background(), items, func(ctx context.Context, item domain.QueueItem) *domain.SyncResult {
		mu.Lock()
		seen[item.ID] = true
		mu.Unlock()
		return &domain.SyncResult{EntityID: item.EntityID}
	})

	if len(seen) != 25 {
		t.Errorf("processed %d items, want 25", len(seen))
	}
	if len(results) != 25 {
		t.Errorf("collected %d results, want 25", len(results))
	}
}

func TestPool_SkipsNilResults(t *testing.T) {
	pool := NewPool(2)
	items := makeItems(10)

	i := 0
	var mu sync.Mutex
	results := pool.Process(context.Background(), items, func(ctx context.Context, item domain.QueueItem) *domain.SyncResult {
		mu.Lock()
		i++
		odd := i%2 == 1
		mu.Unlock()
		if odd {
			return nil
		}
		return &domain.SyncResult{EntityID: item.EntityID}
	})

	if len(results) != 5 {
		t.Errorf("collected %d results, want 5", len(results))
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const workers = 3
	pool := NewPool(workers)
	items := makeItems(30)

	var inFlight, peak atomic.Int32

	pool.Process(context.Background(), items, func(ctx context.Context, item domain.QueueItem) *domain.SyncResult {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	if peak.Load() > workers {
		t.Errorf("peak concurrency %d exceeds %d workers", peak.Load(), workers)
	}
}

func TestPool_StopsOnCancelledContext(t *testing.T) {
	pool := NewPool(1)
	items := makeItems(100)

	ctx, cancel := context.WithCancel(context.Background())

	var processed atomic.Int32
	pool.Process(ctx, items, func(ctx context.Context, item domain.QueueItem) *domain.SyncResult {
		if processed.Add(1) == 3 {
			cancel()
		}
		return nil
	})

	if n := processed.Load(); n >= 100 {
		t.Errorf("cancelled batch still processed all %d items", n)
	}
}
