package engine

import (
	"context"
	"sync"

	"github.com/adminhub/sync-engine/internal/domain"
)

// Pool processes one batch of queue items with bounded concurrency so a
// large cycle cannot overwhelm the remote system or the connection pool.
type Pool struct {
	numWorkers int
}

// NewPool creates a pool running at most numWorkers concurrent deliveries.
func NewPool(numWorkers int) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{numWorkers: numWorkers}
}

// Process runs fn for every item and collects the non-nil entity results.
// It returns once the whole batch has resolved.
func (p *Pool) Process(ctx context.Context, items []domain.QueueItem, fn func(ctx context.Context, item domain.QueueItem) *domain.SyncResult) []domain.SyncResult {
	jobs := make(chan domain.QueueItem)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []domain.SyncResult
	)

	workers := p.numWorkers
	if len(items) < workers {
		workers = len(items)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				if res := fn(ctx, item); res != nil {
					mu.Lock()
					results = append(results, *res)
					mu.Unlock()
				}
			}
		}()
	}

	for _, item := range items {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return results
		case jobs <- item:
		}
	}
	close(jobs)
	wg.Wait()

	return results
}
