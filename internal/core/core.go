// Package core is the dependency-injection root: it wires the job store
// worker pool, scheduler, retry policy, and lifecycle controller
// together, and exposes the operations the control API and CLI need.
package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"queuectl/internal/config"
	"queuectl/internal/ipc"
	"queuectl/internal/job"
	"queuectl/internal/lifecycle"
	"queuectl/internal/pool"
	"queuectl/internal/retry"
	"queuectl/internal/scheduler"
	"queuectl/internal/store"
)

// Clock abstracts "now" for testability.
type Clock func() time.Time

// Core holds every live component and is the single place that knows
// how they depend on each other.
type Core struct {
	Store      *store.Store
	Pool       *pool.Pool
	Scheduler  *scheduler.Scheduler
	Lifecycle  *lifecycle.Controller
	logger     *zap.SugaredLogger
	clock      Clock
	saveEvery  time.Duration
}

// Options configures New.
type Options struct {
	SnapshotPath string
	WorkerCount  int
	Spawner      pool.Spawner
	Logger       *zap.SugaredLogger
	Clock        Clock
}

// New opens the store, builds the pool and scheduler from persisted
// config, and returns a Core ready for Run.
func New(opts Options) (*Core, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	s, err := store.Open(opts.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cfgSnap, err := s.ConfigSnapshot()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("read config: %w", err)
	}

	c := &Core{
		Store:     s,
		Lifecycle: lifecycle.New(),
		logger:    opts.Logger,
		clock:     opts.Clock,
		saveEvery: time.Duration(cfgSnap.SaveInterval) * time.Millisecond,
	}

	p := pool.New(opts.WorkerCount, opts.Spawner, c, opts.Logger)
	c.Pool = p

	sched := scheduler.New(s, p, c.Lifecycle, time.Duration(cfgSnap.TickInterval)*time.Millisecond, opts.Logger, func() time.Time { return opts.Clock() })
	c.Scheduler = sched

	return c, nil
}

// Run spawns the pool and starts the scheduler tick loop, blocking
// until ctx is cancelled.
func (c *Core) Run(ctx context.Context) error {
	if err := c.Pool.Init(); err != nil {
		return fmt.Errorf("start pool: %w", err)
	}
	go c.runSnapshotLoop(ctx)
	c.Scheduler.Run(ctx)
	return nil
}

func (c *Core) runSnapshotLoop(ctx context.Context) {
	if c.saveEvery <= 0 {
		c.saveEvery = 5 * time.Second
	}
	ticker := time.NewTicker(c.saveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if c.Store.Dirty() {
				if err := c.Store.Snapshot(context.Background()); err != nil {
					c.logger.Errorw("final snapshot failed", "error", err)
				}
			}
			return
		case <-ticker.C:
			if !c.Store.Dirty() {
				continue
			}
			if err := c.Store.Snapshot(ctx); err != nil {
				c.logger.Errorw("periodic snapshot failed", "error", err)
			}
		}
	}
}

// Shutdown begins graceful shutdown: the scheduler stops dispatching,
// the pool stops respawning crashed workers, and the call blocks until
// every in-flight job has finished or ctx expires. Once drained, it
// writes a final snapshot if the store is dirty and closes the store.
func (c *Core) Shutdown(ctx context.Context) error {
	c.Lifecycle.BeginShutdown()
	c.Pool.BeginShutdown()

	if c.Pool.ProcessingCount() == 0 {
		c.Lifecycle.Quiesced()
	}

	select {
	case <-c.Lifecycle.Drained():
	case <-ctx.Done():
		return ctx.Err()
	}
	if c.Store.Dirty() {
		if err := c.Store.Snapshot(ctx); err != nil {
			c.Store.Close()
			return fmt.Errorf("final snapshot: %w", err)
		}
	}
	return c.Store.Close()
}

// Enqueue adds a new job, refusing it once shutdown has begun.
func (c *Core) Enqueue(j job.Job) (job.Job, error) {
	if c.Lifecycle.Refused() {
		return job.Job{}, fmt.Errorf("shutting down: enqueue refused")
	}
	return c.Store.Enqueue(j, c.clock().UnixMilli())
}

// List returns jobs, optionally filtered by state.
func (c *Core) List(stateFilter string) ([]job.Job, error) {
	return c.Store.List(stateFilter)
}

// Status summarizes job counts per state plus pool occupancy.
type Status struct {
	JobCounts map[job.State]int
	Pool      pool.Stats
	Phase     string
}

func (c *Core) Status() (Status, error) {
	counts, err := c.Store.Summarize()
	if err != nil {
		return Status{}, err
	}
	return Status{JobCounts: counts, Pool: c.Pool.Stats(), Phase: c.Lifecycle.Phase().String()}, nil
}

// RequeueDead moves one dead job back to pending.
func (c *Core) RequeueDead(id string) error {
	return c.Store.RequeueDead(id, c.clock().UnixMilli())
}

// RequeueAllDead moves every dead job back to pending.
func (c *Core) RequeueAllDead() (int, error) {
	return c.Store.RequeueAllDead(c.clock().UnixMilli())
}

// GetConfig reads one config key, falling back to its default.
func (c *Core) GetConfig(key string) (string, error) {
	if !config.Known(key) {
		return "", &config.ErrUnknownKey{Key: key}
	}
	v, ok, err := c.Store.GetConfig(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return config.Defaults[key], nil
	}
	return v, nil
}

// ListConfig returns every known config key with its effective value.
func (c *Core) ListConfig() (map[string]string, error) {
	stored, err := c.Store.ListConfig()
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for k, v := range config.Defaults {
		out[k] = v
	}
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

// SetConfig validates and persists a new config value.
func (c *Core) SetConfig(key, value string) (string, error) {
	return c.Store.SetConfig(key, value)
}

// OnResult implements pool.ResultHandler: routes a worker's reply into
// Complete or the retry/backoff decision.
func (c *Core) OnResult(workerID, jobID string, env ipc.Envelope) {
	now := c.clock().UnixMilli()
	if env.Type == ipc.MsgCompleted {
		if err := c.Store.Complete(jobID, now); err != nil {
			c.logger.Errorw("failed to mark job completed", "job", jobID, "error", err)
		}
		c.afterResult()
		return
	}

	j, err := c.Store.Get(jobID)
	if err != nil {
		c.logger.Errorw("failed to load failed job for retry evaluation", "job", jobID, "error", err)
		c.afterResult()
		return
	}
	cfg, err := c.Store.ConfigSnapshot()
	if err != nil {
		c.logger.Errorw("failed to read config for retry evaluation", "job", jobID, "error", err)
		c.afterResult()
		return
	}
	outcome := retry.Evaluate(j, cfg, now)
	if err := c.Store.Fail(jobID, outcome.Attempts, outcome.NewState, outcome.RunAfter, now); err != nil {
		c.logger.Errorw("failed to apply retry outcome", "job", jobID, "error", err)
	}
	c.afterResult()
}

// OnCrash implements pool.ResultHandler: a worker died while bound to
// jobID, so the job goes back to pending without counting as an attempt.
func (c *Core) OnCrash(jobID string) {
	now := c.clock().UnixMilli()
	if err := c.Store.ResetProcessing(jobID, now); err != nil {
		c.logger.Errorw("failed to reset crashed job", "job", jobID, "error", err)
	}
	c.afterResult()
}

// afterResult checks whether shutdown is waiting on the last in-flight
// job to finish, and signals quiescence exactly once if so.
func (c *Core) afterResult() {
	if c.Lifecycle.Refused() && c.Pool.ProcessingCount() == 0 {
		c.Lifecycle.Quiesced()
	}
}
