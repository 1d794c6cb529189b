package tick

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func waitForTick(t *testing.T, s *Scheduler, want int64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.CurrentTick() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("tick never reached %d, stuck at %d", want, s.CurrentTick())
}

func TestRunnerDrivesTicks(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newEngine(1, healthyAgent("a-1", 5, 5))
	r := NewRunner(p.sched, 10*time.Millisecond, zap.NewNop())

	r.Start()
	if !r.IsActive() {
		t.Fatalf("runner not active after Start")
	}
	waitForTick(t, p.sched, 3)
	r.Stop()

	if r.IsActive() {
		t.Fatalf("runner still active after Stop")
	}
	at := p.sched.CurrentTick()
	time.Sleep(50 * time.Millisecond)
	if p.sched.CurrentTick() != at {
		t.Fatalf("ticks kept firing after Stop: %d -> %d", at, p.sched.CurrentTick())
	}
}

func TestRunnerStartAndStopAreIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newEngine(1)
	r := NewRunner(p.sched, 10*time.Millisecond, zap.NewNop())

	r.Start()
	r.Start()
	r.Stop()
	r.Stop()
}

func TestRunnerSetTickInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newEngine(1, healthyAgent("a-1", 5, 5))
	r := NewRunner(p.sched, time.Hour, zap.NewNop())

	if err := r.SetTickInterval(0); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("zero interval accepted: %v", err)
	}

	// An hour-long interval would never fire in this test; retuning a
	// running runner must take effect without a restart.
	r.Start()
	if err := r.SetTickInterval(10 * time.Millisecond); err != nil {
		t.Fatalf("SetTickInterval: %v", err)
	}
	if r.TickInterval() != 10*time.Millisecond {
		t.Fatalf("interval = %v", r.TickInterval())
	}
	waitForTick(t, p.sched, 2)
	r.Stop()
}

func TestRunnerKeepsRunningWhilePaused(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newEngine(1, healthyAgent("a-1", 5, 5))
	r := NewRunner(p.sched, 10*time.Millisecond, zap.NewNop())

	r.Start()
	waitForTick(t, p.sched, 1)
	p.sched.Pause()
	at := p.sched.CurrentTick()
	time.Sleep(50 * time.Millisecond)
	if p.sched.CurrentTick() != at {
		t.Fatalf("paused ticks advanced the counter")
	}

	// Resume without touching the runner: the same loop picks work back
	// up.
	p.sched.Resume()
	waitForTick(t, p.sched, at+1)
	r.Stop()
}
