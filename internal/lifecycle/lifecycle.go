// Package lifecycle implements the running -> shutting_down -> exiting
// state machine that coordinates graceful shutdown across the scheduler,
// pool, and API.
package lifecycle

import "sync"

// Phase is one of the controller's three states.
type Phase int

const (
	Running Phase = iota
	ShuttingDown
	Exiting
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	case Exiting:
		return "exiting"
	default:
		return "unknown"
	}
}

// Controller tracks the shutdown phase and notifies exactly once when
// in-flight work has drained after shutdown begins.
type Controller struct {
	mu       sync.Mutex
	phase    Phase
	quiesced bool
	notifyC  chan struct{}
}

// New returns a controller starting in the Running phase.
func New() *Controller {
	return &Controller{phase: Running, notifyC: make(chan struct{})}
}

// Refused reports whether new work should be refused: the scheduler
// stops dispatching and the API stops accepting enqueue requests as
// soon as shutdown begins, not only once it completes.
func (c *Controller) Refused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase != Running
}

// Phase returns the controller's current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// BeginShutdown transitions running -> shutting_down. It is a no-op if
// shutdown has already begun.
func (c *Controller) BeginShutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == Running {
		c.phase = ShuttingDown
	}
}

// Quiesced is called by whoever observes processing count reach zero
// (core, watching the pool). It is idempotent and notifies Drained
// exactly once, on the transition into quiescence.
func (c *Controller) Quiesced() {
	c.mu.Lock()
	if c.quiesced || c.phase == Running {
		c.mu.Unlock()
		return
	}
	c.quiesced = true
	c.phase = Exiting
	c.mu.Unlock()
	close(c.notifyC)
}

// Drained returns a channel that closes once Quiesced has fired. A
// caller that never calls BeginShutdown will block on it forever,
// which is the intended behavior: nothing to drain from Running.
func (c *Controller) Drained() <-chan struct{} {
	return c.notifyC
}
