package circuit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errCollectorDown = errors.New("collector unreachable")

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	b := New("logsink-http", Config{})
	if b.config.TripAfter != 3 {
		t.Errorf("TripAfter default = %d, want 3", b.config.TripAfter)
	}
	if b.config.MaxRequests != 1 {
		t.Errorf("MaxRequests default = %d, want 1", b.config.MaxRequests)
	}
	if b.config.Interval != 60*time.Second || b.config.Timeout != 60*time.Second {
		t.Errorf("Interval/Timeout defaults = %v/%v, want 60s/60s", b.config.Interval, b.config.Timeout)
	}
}

func TestSuccessfulDeliveriesKeepBreakerClosed(t *testing.T) {
	b := New("logsink-http", Config{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := b.Do(ctx, func(context.Context) error { return nil }); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if state := b.GetState(); state != StateClosed {
		t.Errorf("state = %v, want closed", state)
	}
}

func TestConsecutiveFailuresTripBreaker(t *testing.T) {
	b := New("logsink-http", Config{TripAfter: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Do(ctx, func(context.Context) error { return errCollectorDown })
	}
	if state := b.GetState(); state != StateOpen {
		t.Fatalf("state after 3 consecutive failures = %v, want open", state)
	}

	err := b.Do(ctx, func(context.Context) error {
		t.Fatal("delivery must not be attempted while open")
		return nil
	})
	if err != ErrOpenState {
		t.Errorf("open-state delivery error = %v, want ErrOpenState", err)
	}
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	b := New("logsink-http", Config{TripAfter: 3})
	ctx := context.Background()

	_ = b.Do(ctx, func(context.Context) error { return errCollectorDown })
	_ = b.Do(ctx, func(context.Context) error { return errCollectorDown })
	_ = b.Do(ctx, func(context.Context) error { return nil })
	_ = b.Do(ctx, func(context.Context) error { return errCollectorDown })

	if state := b.GetState(); state != StateClosed {
		t.Errorf("state = %v, want closed (failures were not consecutive)", state)
	}
}

func TestOpenBreakerProbesAfterCoolOff(t *testing.T) {
	b := New("logsink-http", Config{TripAfter: 1, Timeout: 10 * time.Millisecond})
	ctx := context.Background()

	_ = b.Do(ctx, func(context.Context) error { return errCollectorDown })
	if state := b.GetState(); state != StateOpen {
		t.Fatalf("state = %v, want open", state)
	}

	time.Sleep(20 * time.Millisecond)
	if state := b.GetState(); state != StateHalfOpen {
		t.Fatalf("state after cool-off = %v, want half-open", state)
	}

	// A successful probe closes the breaker again.
	if err := b.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe delivery: %v", err)
	}
	if state := b.GetState(); state != StateClosed {
		t.Errorf("state after successful probe = %v, want closed", state)
	}
}

func TestFailedProbeReopensBreaker(t *testing.T) {
	b := New("logsink-http", Config{TripAfter: 1, Timeout: 10 * time.Millisecond})
	ctx := context.Background()

	_ = b.Do(ctx, func(context.Context) error { return errCollectorDown })
	time.Sleep(20 * time.Millisecond)

	_ = b.Do(ctx, func(context.Context) error { return errCollectorDown })
	if state := b.GetState(); state != StateOpen {
		t.Errorf("state after failed probe = %v, want open", state)
	}
}

func TestHalfOpenCapsProbeCount(t *testing.T) {
	b := New("logsink-http", Config{TripAfter: 1, Timeout: 5 * time.Millisecond, MaxRequests: 1})
	ctx := context.Background()

	_ = b.Do(ctx, func(context.Context) error { return errCollectorDown })
	time.Sleep(10 * time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Do(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// The probe slot is taken; a second delivery is rejected.
	if err := b.Do(ctx, func(context.Context) error { return nil }); err != ErrOpenState {
		t.Errorf("second half-open delivery error = %v, want ErrOpenState", err)
	}
	close(release)
}

func TestConcurrentDeliveries(t *testing.T) {
	b := New("logsink-http", Config{TripAfter: 1000})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = b.Do(ctx, func(context.Context) error { return nil })
			}
		}()
	}
	wg.Wait()

	if w := b.GetWindow(); w.Deliveries != 1000 {
		t.Errorf("deliveries = %d, want 1000", w.Deliveries)
	}
}

func TestManagerCreatesOneBreakerPerSink(t *testing.T) {
	m := NewManager(Config{})

	a := m.GetBreaker("logsink-http")
	b := m.GetBreaker("logsink-file")
	if a == b {
		t.Fatal("distinct sinks must get distinct breakers")
	}
	if m.GetBreaker("logsink-http") != a {
		t.Error("same sink must get the same breaker back")
	}
}

func TestManagerStats(t *testing.T) {
	m := NewManager(Config{TripAfter: 1})
	ctx := context.Background()

	_ = m.GetBreaker("logsink-http").Do(ctx, func(context.Context) error { return errCollectorDown })
	_ = m.GetBreaker("logsink-file").Do(ctx, func(context.Context) error { return nil })

	stats := m.GetStats()
	if len(stats) != 2 {
		t.Fatalf("stats for %d breakers, want 2", len(stats))
	}
	if stats["logsink-http"].State != StateOpen {
		t.Errorf("logsink-http state = %v, want open", stats["logsink-http"].State)
	}
	if stats["logsink-file"].State != StateClosed {
		t.Errorf("logsink-file state = %v, want closed", stats["logsink-file"].State)
	}
}
