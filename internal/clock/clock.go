// Package clock implements the Clock & Timer Service (spec §4.A): a
// monotonic time source plus cancellable single-shot and periodic
// timers, backed by a pooled executor so callback dispatch never
// spins up an unbounded number of goroutines.
package clock

import (
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Clock abstracts wall time so tests can inject a fake implementation
// instead of sleeping real seconds (SPEC_FULL.md ambient test tooling).
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Handle identifies a scheduled timer for cancellation.
type Handle uint64

// Service schedules callbacks onto a bounded goroutine pool (spec §5:
// "A runs a pool sized for >= 2*(active_trades+active_orders)").
// Handlers must be short; anything touching broker I/O should offload
// to its own pool rather than block a timer slot.
type Service struct {
	clock  Clock
	logger *zap.Logger
	pool   *ants.Pool

	mu      sync.Mutex
	nextID  uint64
	timers  map[Handle]*entry
	closed  bool
}

type entry struct {
	timer    *time.Timer
	periodic bool
	cancelCh chan struct{}
}

// Config controls the pool shape.
type Config struct {
	// PoolSize is the number of pooled goroutines available to run
	// callbacks. Size per spec §5's heuristic at construction time;
	// Resize can be called as load changes.
	PoolSize int
}

// New constructs a timer service with the given clock and pool size.
func New(clock Clock, cfg Config, logger *zap.Logger) (*Service, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = 32
	}
	pool, err := ants.NewPool(size, ants.WithPreAlloc(true), ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &Service{
		clock:  clock,
		logger: logger,
		pool:   pool,
		timers: make(map[Handle]*entry),
	}, nil
}

// Now returns the current time via the injected Clock.
func (s *Service) Now() time.Time { return s.clock.Now() }

// Resize grows or shrinks the pool to match spec §5's
// 2*(active_trades+active_orders) heuristic as load changes.
func (s *Service) Resize(size int) {
	if size <= 0 {
		return
	}
	s.pool.Tune(size)
}

// ScheduleOnce runs callback once after duration elapses, on the pool.
// Returns a Handle that Cancel accepts.
func (s *Service) ScheduleOnce(d time.Duration, callback func()) Handle {
	return s.schedule(d, 0, callback)
}

// SchedulePeriodic runs callback once after initial, then every period,
// until cancelled. Each firing is at-most-once per tick (spec §4.A).
func (s *Service) SchedulePeriodic(initial, period time.Duration, callback func()) Handle {
	return s.schedule(initial, period, callback)
}

func (s *Service) schedule(initial, period time.Duration, callback func()) Handle {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.nextID++
	h := Handle(s.nextID)
	e := &entry{periodic: period > 0, cancelCh: make(chan struct{})}
	s.timers[h] = e
	s.mu.Unlock()

	var arm func(time.Duration)
	arm = func(d time.Duration) {
		e.timer = time.AfterFunc(d, func() {
			select {
			case <-e.cancelCh:
				return
			default:
			}
			submitErr := s.pool.Submit(func() {
				defer func() {
					if r := recover(); r != nil && s.logger != nil {
						s.logger.Error("timer callback panicked", zap.Any("recover", r))
					}
				}()
				callback()
			})
			if submitErr != nil && s.logger != nil {
				s.logger.Warn("timer pool submit failed, running inline", zap.Error(submitErr))
				callback()
			}
			if e.periodic {
				select {
				case <-e.cancelCh:
					return
				default:
					arm(period)
				}
			} else {
				s.mu.Lock()
				delete(s.timers, h)
				s.mu.Unlock()
			}
		})
	}
	arm(initial)
	return h
}

// Cancel stops a scheduled handle. Cancelling an already-fired
// single-shot or an unknown handle is a no-op.
func (s *Service) Cancel(h Handle) {
	s.mu.Lock()
	e, ok := s.timers[h]
	if ok {
		delete(s.timers, h)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	close(e.cancelCh)
	if e.timer != nil {
		e.timer.Stop()
	}
}

// PendingCount reports outstanding handles, used by shutdown draining
// and diagnostics.
func (s *Service) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Shutdown cancels every outstanding timer and releases the pool. Per
// spec §4.A, "pending critical timers ... are drained synchronously
// before exit" — callers that need a timer's effect to definitely
// happen (batch flush, per-scrip flush) must invoke that effect
// themselves before calling Shutdown; Shutdown only guarantees no
// further asynchronous firings.
func (s *Service) Shutdown() {
	s.mu.Lock()
	s.closed = true
	handles := make([]Handle, 0, len(s.timers))
	for h := range s.timers {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		s.Cancel(h)
	}
	s.pool.Release()
}
