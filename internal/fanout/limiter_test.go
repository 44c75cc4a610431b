package fanout

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiterNeverExceedsCap(t *testing.T) {
	const capSlots = 4
	const burst = 20

	limiter := NewLimiter(capSlots)
	var active, peak int32
	var wg sync.WaitGroup

	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(context.Background()); err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			defer limiter.Release()

			current := atomic.AddInt32(&active, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if current <= old || atomic.CompareAndSwapInt32(&peak, old, current) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > capSlots {
		t.Fatalf("observed %d concurrent slots, cap is %d", got, capSlots)
	}
}

func TestLimiterAcquireHonorsContext(t *testing.T) {
	limiter := NewLimiter(1)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer limiter.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(ctx); err == nil {
		t.Fatal("expected acquire to abort on context deadline")
	}
}

func TestLimiterReleasePromotesWaiter(t *testing.T) {
	limiter := NewLimiter(1)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		if err := limiter.Acquire(context.Background()); err == nil {
			limiter.Release()
		}
		close(done)
	}()

	limiter.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued waiter was not promoted after release")
	}
}
