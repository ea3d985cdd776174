package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSweepStore struct {
	mu       sync.Mutex
	cutoffs  []time.Time
	itemsErr error
	logCalls int
}

func (f *fakeSweepStore) PurgeTerminalItems(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 2, f.itemsErr
}

func (f *fakeSweepStore) PurgeSyncLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logCalls++
	return 1, nil
}

func TestSweeper_SweepsImmediatelyWithRetentionCutoff(t *testing.T) {
	store := &fakeSweepStore{}
	s := NewSweeper(store, 24*time.Hour, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // one immediate sweep, then stop

	s.Start(ctx)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.cutoffs) != 1 {
		t.Fatalf("sweeps = %d, want 1 immediate sweep", len(store.cutoffs))
	}

	wantCutoff := time.Now().UTC().Add(-24 * time.Hour)
	if diff := store.cutoffs[0].Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Errorf("cutoff %v not ~24h in the past", store.cutoffs[0])
	}
}

func TestSweeper_ItemPurgeFailureStillPurgesLogs(t *testing.T) {
	store := &fakeSweepStore{itemsErr: errors.New("deadlock detected")}
	s := NewSweeper(store, time.Hour, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.Start(ctx)

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.logCalls != 1 {
		t.Errorf("log purge calls = %d, want 1; one failing purge must not skip the other", store.logCalls)
	}
}

func TestSweeper_DefaultsApplied(t *testing.T) {
	s := NewSweeper(&fakeSweepStore{}, 0, 0, testLogger())
	if s.retention != 30*24*time.Hour {
		t.Errorf("default retention = %v, want 720h", s.retention)
	}
	if s.interval != time.Hour {
		t.Errorf("default interval = %v, want 1h", s.interval)
	}
}
