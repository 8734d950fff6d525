// Package scheduler implements the dispatch tick: a periodic,
// single-threaded loop that claims the next eligible job and binds it to
// an idle worker, dispatching at most one job per tick.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"queuectl/internal/job"
)

// Store is the subset of the job store the scheduler needs.
type Store interface {
	ClaimNext(nowMS int64) (*job.Job, error)
}

// Dispatcher is the subset of the worker pool the scheduler needs.
type Dispatcher interface {
	DispatchNext(claim func() (jobID, command string, err error)) (assigned bool, jobID string, err error)
}

// Guard reports whether dispatch should be paused (shutdown in progress).
type Guard interface {
	Refused() bool
}

// Clock abstracts "now" so tests can drive deterministic timelines.
type Clock func() time.Time

// Scheduler runs the periodic dispatch tick: at most one claim-and-bind
// per interval.
type Scheduler struct {
	store    Store
	pool     Dispatcher
	guard    Guard
	interval time.Duration
	clock    Clock
	logger   *zap.SugaredLogger
	ticking  atomic.Bool // re-entrance guard: "tick in flight"
}

// New creates a Scheduler. clock defaults to time.Now if nil.
func New(store Store, pool Dispatcher, guard Guard, interval time.Duration, logger *zap.SugaredLogger, clock Clock) *Scheduler {
	if clock == nil {
		clock = time.Now
	}
	return &Scheduler{store: store, pool: pool, guard: guard, interval: interval, clock: clock, logger: logger}
}

// Run blocks, ticking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick performs at most one claim-and-dispatch. Exported so tests (and a
// caller that wants synchronous control) can drive it directly instead of
// waiting on a ticker.
func (s *Scheduler) Tick() {
	if s.guard.Refused() {
		return
	}
	if !s.ticking.CompareAndSwap(false, true) {
		return // a previous tick is still in flight
	}
	defer s.ticking.Store(false)

	var claimed *job.Job
	claim := func() (string, string, error) {
		now := s.clock().UnixMilli()
		j, err := s.store.ClaimNext(now)
		if err != nil || j == nil {
			return "", "", err
		}
		claimed = j
		return j.ID, j.Command, nil
	}

	assigned, jobID, err := s.pool.DispatchNext(claim)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorw("tick failed", "job", jobID, "error", err)
		}
		return
	}
	if claimed != nil && !assigned && s.logger != nil {
		s.logger.Warnw("claimed job but could not dispatch it", "job", claimed.ID)
	}
}
