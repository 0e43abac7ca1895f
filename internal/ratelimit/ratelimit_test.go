package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestAllow(t *testing.T) {
	m := NewMemory()
	base := time.UnixMilli(1700000000000)
	m.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		d := m.Allow("k1", 3, time.Minute)
		if !d.Allowed {
			t.Fatalf("attempt %d rejected", i+1)
		}
		if d.Remaining != 3-(i+1) {
			t.Errorf("Remaining = %d, want %d", d.Remaining, 3-(i+1))
		}
	}

	d := m.Allow("k1", 3, time.Minute)
	if d.Allowed {
		t.Error("fourth attempt should be rejected")
	}
	if d.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", d.Remaining)
	}
	if d.ResetAtMS != base.Add(time.Minute).UnixMilli() {
		t.Errorf("ResetAtMS = %d, want window start + 1m", d.ResetAtMS)
	}
}

func TestAllow_KeysIndependent(t *testing.T) {
	m := NewMemory()
	m.Allow("k1", 1, time.Minute)
	if d := m.Allow("k1", 1, time.Minute); d.Allowed {
		t.Error("k1 should be exhausted")
	}
	if d := m.Allow("k2", 1, time.Minute); !d.Allowed {
		t.Error("k2 must not be affected by k1")
	}
}

func TestAllow_WindowRollover(t *testing.T) {
	m := NewMemory()
	base := time.UnixMilli(1700000000000)
	m.now = func() time.Time { return base }

	m.Allow("k1", 1, time.Minute)
	if d := m.Allow("k1", 1, time.Minute); d.Allowed {
		t.Fatal("window should be exhausted")
	}

	m.now = func() time.Time { return base.Add(time.Minute) }
	if d := m.Allow("k1", 1, time.Minute); !d.Allowed {
		t.Error("new window should admit again")
	}
}

func TestAllow_Concurrent(t *testing.T) {
	m := NewMemory()
	const max = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Allow("k1", max, time.Minute).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != max {
		t.Errorf("allowed = %d, want exactly %d", allowed, max)
	}
}

func TestPrune(t *testing.T) {
	m := NewMemory()
	base := time.UnixMilli(1700000000000)
	m.now = func() time.Time { return base }
	m.Allow("old", 5, time.Minute)

	m.now = func() time.Time { return base.Add(2 * time.Hour) }
	m.Allow("fresh", 5, time.Minute)

	if removed := m.Prune(time.Hour); removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if m.KeyCount() != 1 {
		t.Errorf("KeyCount = %d, want 1", m.KeyCount())
	}
}
