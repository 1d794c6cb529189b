package tick

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultTickInterval = time.Second

var ErrInvalidInterval = errors.New("invalid tick interval")

// Runner fires ProcessTick on a wall-clock interval. Start and Stop
// are defensive no-ops when already in the requested state; Stop waits
// for an in-flight tick to finish, cancelling its context so a slow
// decision phase resolves to fallbacks instead of holding shutdown.
type Runner struct {
	Scheduler *Scheduler
	Log       *zap.Logger

	mu       sync.Mutex
	interval time.Duration
	active   bool
	cancel   context.CancelFunc
	stopCh   chan struct{}
	doneCh   chan struct{}
	notifyCh chan struct{}
}

func NewRunner(s *Scheduler, interval time.Duration, log *zap.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		Scheduler: s,
		Log:       log,
		interval:  interval,
		notifyCh:  make(chan struct{}, 1),
	}
}

func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.active = true
	go r.loop(ctx, r.stopCh, r.doneCh)
	r.Log.Info("tick runner started", zap.Duration("interval", r.interval))
}

func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	close(r.stopCh)
	r.cancel()
	done := r.doneCh
	r.mu.Unlock()

	<-done
	r.Log.Info("tick runner stopped")
}

func (r *Runner) IsActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Runner) TickInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// SetTickInterval takes effect from the next timer reset, including
// the one already pending.
func (r *Runner) SetTickInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInterval, d)
	}
	r.mu.Lock()
	r.interval = d
	active := r.active
	r.mu.Unlock()

	if active {
		select {
		case r.notifyCh <- struct{}{}:
		default:
		}
	}
	r.Log.Info("tick interval updated", zap.Duration("interval", d))
	return nil
}

func (r *Runner) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	timer := time.NewTimer(r.TickInterval())
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-r.notifyCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.TickInterval())
		case <-timer.C:
			res, err := r.Scheduler.ProcessTick(ctx)
			switch {
			case err != nil:
				r.Log.Warn("tick failed", zap.Error(err))
			case res.Skipped:
				r.Log.Debug("tick skipped, previous still in flight", zap.Int64("tick", res.Tick))
			case res.StopClock:
				r.Log.Info("clock stopped", zap.Int64("tick", res.Tick))
			}
			timer.Reset(r.TickInterval())
		}
	}
}
