package engine

import (
	"testing"
	"time"
)

func TestBackoff_GrowsPerAttempt(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: time.Hour}

	// The deterministic part doubles each attempt; jitter adds at most half
	// of it. So the minimum delay of attempt n+1 always exceeds the maximum
	// delay of attempt n-1.
	for attempt := 1; attempt <= 8; attempt++ {
		d := b.Delay(attempt)

		min := time.Second << (attempt - 1)
		max := min + min/2

		if d < min || d > max {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt, d, min, max)
		}
	}
}

func TestBackoff_Cap(t *testing.T) {
	b := Backoff{Base: time.Minute, Cap: 5 * time.Minute}

	for attempt := 10; attempt <= 40; attempt += 10 {
		d := b.Delay(attempt)
		if d > 5*time.Minute+(5*time.Minute)/2 {
			t.Errorf("attempt %d: delay %v exceeds cap plus jitter", attempt, d)
		}
		if d < 5*time.Minute {
			t.Errorf("attempt %d: capped delay %v below cap", attempt, d)
		}
	}
}

func TestBackoff_ZeroBase(t *testing.T) {
	b := Backoff{}
	if d := b.Delay(3); d != 0 {
		t.Errorf("zero base should produce zero delay, got %v", d)
	}
}

func TestBackoff_NextAttemptAtAlwaysAfterNow(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Cap: time.Minute}
	now := time.Now()

	for attempt := 1; attempt <= 5; attempt++ {
		next := b.NextAttemptAt(now, attempt)
		if !next.After(now) {
			t.Errorf("attempt %d: next attempt %v not after now %v", attempt, next, now)
		}
	}
}

func TestBackoff_MonotonicAcrossAttempts(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: time.Hour}

	// Successive failed attempts happen at successive instants; the computed
	// eligibility time must strictly increase.
	now := time.Now()
	prev := now
	for attempt := 1; attempt <= 6; attempt++ {
		now = now.Add(time.Second) // each attempt happens later
		next := b.NextAttemptAt(now, attempt)
		if !next.After(prev) {
			t.Errorf("attempt %d: next-eligible %v did not increase past %v", attempt, next, prev)
		}
		prev = next
	}
}
