package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTryAcquireBound(t *testing.T) {
	l := New(2)
	if !l.TryAcquire() || !l.TryAcquire() {
		t.Fatal("first two acquires must succeed")
	}
	if l.TryAcquire() {
		t.Fatal("third acquire exceeded the bound")
	}
	l.Release()
	if !l.TryAcquire() {
		t.Fatal("released slot not reusable")
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	l := New(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("blocked Acquire returned %v, want deadline exceeded", err)
	}
}

func TestZeroSizeClampsToOne(t *testing.T) {
	l := New(0)
	if !l.TryAcquire() {
		t.Fatal("clamped limiter has no slot")
	}
	if l.TryAcquire() {
		t.Fatal("clamped limiter admitted two")
	}
}

func TestDoBoundsConcurrency(t *testing.T) {
	const bound = 3
	l := New(bound)

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func() error {
				cur := inFlight.Add(1)
				for {
					old := peak.Load()
					if cur <= old || peak.CompareAndSwap(old, cur) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > bound {
		t.Fatalf("observed %d concurrent ops, bound is %d", got, bound)
	}
}

func TestDoReturnsFnErrorAndFreesSlot(t *testing.T) {
	l := New(1)
	sentinel := errors.New("op failed")

	if err := l.Do(context.Background(), func() error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("Do returned %v, want sentinel", err)
	}
	// A failing fn must not leak its slot.
	if !l.TryAcquire() {
		t.Fatal("slot leaked after failed op")
	}
}
