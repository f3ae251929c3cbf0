package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errRemote = errors.New("remote down")

func failing(ctx context.Context) error { return errRemote }
func succeeding(ctx context.Context) error { return nil }

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := New("sync", Options{FailureThreshold: 5})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := b.Execute(ctx, failing); !errors.Is(err, errRemote) {
			t.Fatalf("call %d: got %v, want remote error", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state after 5 failures = %v, want open", b.State())
	}

	// The sixth call must short-circuit without invoking the operation.
	invoked := false
	err := b.Execute(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open circuit returned %v, want ErrCircuitOpen", err)
	}
	if invoked {
		t.Error("operation was invoked through an open circuit")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("sync", Options{FailureThreshold: 3})
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("success failed: %v", err)
	}
	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed (success should reset the count)", b.State())
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	clock := newFakeClock()
	b := New("sync", Options{FailureThreshold: 1, ResetTimeout: 30 * time.Second, Clock: clock.Now})
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	clock.Advance(29 * time.Second)
	if err := b.Execute(ctx, succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("call before cooldown = %v, want ErrCircuitOpen", err)
	}

	clock.Advance(2 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state after cooldown = %v, want half-open", b.State())
	}

	// Probe success closes the circuit.
	if err := b.Execute(ctx, succeeding); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state after successful probe = %v, want closed", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	clock := newFakeClock()
	b := New("sync", Options{FailureThreshold: 1, ResetTimeout: 30 * time.Second, Clock: clock.Now})
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	clock.Advance(31 * time.Second)

	if err := b.Execute(ctx, failing); !errors.Is(err, errRemote) {
		t.Fatalf("probe = %v, want remote error", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state after failed probe = %v, want open", b.State())
	}

	// Cooldown restarts from the failed probe.
	clock.Advance(29 * time.Second)
	if err := b.Execute(ctx, succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("call during restarted cooldown = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_SingleProbeSlot(t *testing.T) {
	clock := newFakeClock()
	b := New("sync", Options{FailureThreshold: 1, ResetTimeout: time.Second, Clock: clock.Now})
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	clock.Advance(2 * time.Second)

	// First caller after the cooldown takes the probe slot; a second
	// concurrent caller must be short-circuited while the probe runs.
	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(ctx, func(ctx context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	if err := b.Execute(ctx, succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second caller during probe = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe returned %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestDo_ReturnsValue(t *testing.T) {
	b := New("list", Options{})
	got, err := Do(context.Background(), b, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	if got != 42 {
		t.Errorf("Do() = %d, want 42", got)
	}
}

func TestRegistry_GetCreatesOnce(t *testing.T) {
	reg := NewRegistry(Options{FailureThreshold: 2})

	a := reg.Get("characters")
	b := reg.Get("characters")
	if a != b {
		t.Error("Get returned different breakers for the same name")
	}
	if reg.Get("messages") == a {
		t.Error("distinct names share a breaker")
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	reg := NewRegistry(Options{FailureThreshold: 1})
	ctx := context.Background()

	_ = reg.Get("characters").Execute(ctx, failing)
	reg.Get("messages")

	snap := reg.Snapshot()
	if snap["characters"] != StateOpen {
		t.Errorf("characters = %v, want open", snap["characters"])
	}
	if snap["messages"] != StateClosed {
		t.Errorf("messages = %v, want closed", snap["messages"])
	}
}

func TestBreaker_ConcurrentFailures(t *testing.T) {
	b := New("sync", Options{FailureThreshold: 5})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(ctx, failing)
		}()
	}
	wg.Wait()

	if b.State() != StateOpen {
		t.Errorf("state after concurrent failures = %v, want open", b.State())
	}
}
