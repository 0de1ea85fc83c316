package dedup

import (
	"sync"
	"testing"
	"time"
)

func TestCooldownWindow(t *testing.T) {
	d := New(30 * time.Second)
	t0 := time.Unix(1000, 0)

	if d.IsDuplicate("04AABB", t0) {
		t.Fatalf("first tap must not be a duplicate")
	}
	d.Accept("04AABB", t0)

	// 5s later: suppressed.
	if !d.IsDuplicate("04AABB", t0.Add(5*time.Second)) {
		t.Fatalf("tap at t=5s inside 30s cooldown must be suppressed")
	}
	// 31s later: accepted again.
	if d.IsDuplicate("04AABB", t0.Add(31*time.Second)) {
		t.Fatalf("tap at t=31s past cooldown must be accepted")
	}
}

func TestDifferentCardNotSuppressed(t *testing.T) {
	d := New(30 * time.Second)
	t0 := time.Unix(1000, 0)
	d.Accept("04AABB", t0)
	if d.IsDuplicate("04CCDD", t0.Add(time.Second)) {
		t.Fatalf("a different card is never a duplicate")
	}
}

func TestInFlightSuppression(t *testing.T) {
	d := New(1 * time.Second)
	t0 := time.Unix(1000, 0)
	d.Accept("04AABB", t0)
	d.MarkInFlight("04AABB")

	// Well past the cooldown, but the upload is still pending.
	if !d.IsDuplicate("04AABB", t0.Add(time.Minute)) {
		t.Fatalf("in-flight uid must be suppressed regardless of cooldown")
	}
	d.ClearInFlight()
	if d.IsDuplicate("04AABB", t0.Add(time.Minute)) {
		t.Fatalf("suppression must lift once the upload resolves")
	}
}

// Cooldown reloads come from the config watcher goroutine while the tap loop
// keeps checking; the race detector flags any unguarded access here.
func TestConcurrentCooldownUpdate(t *testing.T) {
	d := New(30 * time.Second)
	t0 := time.Unix(1000, 0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			d.SetCooldown(time.Duration(i) * time.Millisecond)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			d.IsDuplicate("04AABB", t0.Add(time.Duration(i)*time.Second))
			d.Accept("04AABB", t0.Add(time.Duration(i)*time.Second))
		}
	}()
	wg.Wait()
}

func TestEmptyUIDNeverInFlightDuplicate(t *testing.T) {
	d := New(time.Second)
	if d.IsDuplicate("", time.Unix(1000, 0)) {
		t.Fatalf("empty uid with no prior state must not be suppressed")
	}
}
