// Package pool implements a bounded-thread, bounded-queue worker pool
// with suspend/resume/flush/drain and a synchronous fallback, plus a
// holder of long-lived IO goroutines for work that must stay pinned
// to one goroutine.
package pool

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/watt-toolkit/flywheel/internal/logging"
	"github.com/watt-toolkit/flywheel/pkg/perr"
	"github.com/watt-toolkit/flywheel/pkg/registry"
)

// DefaultMaxThreads and DefaultMaxOperations are the conventional
// sizing for callers that want an asynchronous pool without tuning.
const (
	DefaultMaxThreads    = 2
	DefaultMaxOperations = 100
)

// Task is a unit of scheduled work.
type Task func()

// Performer is the receiver half of a (receiver, action, argument)
// work item: the pool invokes Perform with the argument the work was
// scheduled with.
type Performer interface {
	Perform(arg interface{})
}

type queuedTask struct {
	task Task
}

// Config configures a Pool at construction.
type Config struct {
	Name string
	// MaxThreads is the worker count ceiling. 0 means every Schedule
	// call runs synchronously in the caller.
	MaxThreads int
	// MaxOperations bounds the pending queue. 0 means every Schedule
	// call runs synchronously in the caller.
	MaxOperations int
	// ShutdownTimeout bounds how long Shutdown waits for the workers
	// to exit. SetThreads does not use it: lowering MaxThreads never
	// waits for surplus workers.
	ShutdownTimeout time.Duration
	Registry        *registry.Registry
}

// Pool is a bag of worker goroutines draining a bounded queue. One
// mutex (condMu, paired with cond) guards the queue, the worker
// counts, and the suspended/shutdown flags.
type Pool struct {
	name string

	condMu sync.Mutex
	cond   *sync.Cond

	queue            []queuedTask
	maxThreads       int
	maxOperations    int
	shutdownDeadline time.Duration

	liveWorkers int
	active      int
	suspended   bool
	shutdown    bool

	scheduled atomic.Uint64
	executed  atomic.Uint64
	flushed   atomic.Uint64
	panics    atomic.Uint64
}

var _ registry.Reporter = (*Pool)(nil)

// New constructs a Pool and starts its initial workers.
func New(cfg Config) *Pool {
	if cfg.Name == "" {
		cfg.Name = registry.AutoName("worker-pool")
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	p := &Pool{
		name:             cfg.Name,
		maxThreads:       cfg.MaxThreads,
		maxOperations:    cfg.MaxOperations,
		shutdownDeadline: cfg.ShutdownTimeout,
	}
	p.cond = sync.NewCond(&p.condMu)

	p.condMu.Lock()
	p.spawnWorkersLocked(p.maxThreads)
	p.condMu.Unlock()

	cfg.Registry.Register(p)
	return p
}

// Name implements registry.Reporter.
func (p *Pool) Name() string { return p.name }

// Description implements registry.Reporter.
func (p *Pool) Description() string {
	p.condMu.Lock()
	defer p.condMu.Unlock()
	return fmtDescription(p)
}

// Schedule enqueues task for execution by a worker. When MaxThreads
// or MaxOperations is 0 the task instead runs synchronously in the
// calling goroutine before Schedule returns. Scheduling into a
// shut-down pool is dropped silently.
func (p *Pool) Schedule(task Task) {
	if task == nil {
		return
	}
	p.condMu.Lock()
	if p.shutdown {
		p.condMu.Unlock()
		return
	}
	if p.maxThreads == 0 || p.maxOperations == 0 {
		p.condMu.Unlock()
		p.runGuarded(task)
		return
	}
	for len(p.queue) >= p.maxOperations && !p.shutdown {
		// scheduling at capacity blocks the producer.
		p.cond.Wait()
	}
	if p.shutdown {
		p.condMu.Unlock()
		return
	}
	p.queue = append(p.queue, queuedTask{task: task})
	p.scheduled.Add(1)
	p.cond.Broadcast()
	p.condMu.Unlock()
}

// SchedulePerform enqueues a (receiver, argument) work item: the pool
// calls r.Perform(arg) when a worker picks it up. This is the
// receiver/action/argument form of Schedule, with the action being
// the receiver's Perform method.
func (p *Pool) SchedulePerform(r Performer, arg interface{}) {
	if r == nil {
		return
	}
	p.Schedule(func() { r.Perform(arg) })
}

// runGuarded executes task directly, recovering any panic the same
// way the worker loop does: a user action must not corrupt worker
// state, nor the caller's.
func (p *Pool) runGuarded(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			logging.L().Errorw("pool: task panicked", "pool", p.name, "panic", r)
		}
	}()
	task()
	p.executed.Add(1)
}

// spawnWorkersLocked starts n additional worker goroutines. Caller
// must hold condMu.
func (p *Pool) spawnWorkersLocked(n int) {
	for i := 0; i < n; i++ {
		p.liveWorkers++
		go p.workerLoop()
	}
}

// workerLoop is the per-goroutine loop: acquire, pop-or-wait,
// release, execute outside the lock, reacquire.
func (p *Pool) workerLoop() {
	for {
		p.condMu.Lock()
		if !p.shutdown && p.liveWorkers > p.maxThreads {
			// surplus worker asked to exit by a lowered MaxThreads;
			// its current item, if any, already finished.
			p.liveWorkers--
			p.condMu.Unlock()
			return
		}
		for !p.shutdown && (p.suspended || len(p.queue) == 0) {
			if p.liveWorkers > p.maxThreads {
				// surplus worker asked to exit by a lowered MaxThreads.
				p.liveWorkers--
				p.condMu.Unlock()
				return
			}
			p.cond.Wait()
		}
		if p.shutdown {
			p.liveWorkers--
			p.condMu.Unlock()
			p.cond.Broadcast()
			return
		}
		item := p.queue[0]
		p.queue = p.queue[1:]
		p.active++
		p.cond.Broadcast() // wake a producer blocked on a full queue
		p.condMu.Unlock()

		p.runGuarded(item.task)

		p.condMu.Lock()
		p.active--
		p.cond.Broadcast() // wake Drain waiting on in-flight items
		p.condMu.Unlock()
	}
}

// SetThreads changes the worker ceiling. Raising it starts new
// workers immediately; lowering it lets surplus workers finish their
// current item and exit on their own; this call does not block
// waiting for them.
func (p *Pool) SetThreads(max int) {
	p.condMu.Lock()
	defer p.condMu.Unlock()
	delta := max - p.maxThreads
	p.maxThreads = max
	if delta > 0 {
		p.spawnWorkersLocked(delta)
	}
	p.cond.Broadcast()
}

// SetOperations changes the queue capacity ceiling.
func (p *Pool) SetOperations(max int) {
	p.condMu.Lock()
	defer p.condMu.Unlock()
	p.maxOperations = max
	p.cond.Broadcast()
}

// Suspend stops workers from pulling new items; items already started
// continue to completion.
func (p *Pool) Suspend() {
	p.condMu.Lock()
	p.suspended = true
	p.condMu.Unlock()
}

// Resume reverses Suspend.
func (p *Pool) Resume() {
	p.condMu.Lock()
	p.suspended = false
	p.condMu.Unlock()
	p.cond.Broadcast()
}

// IsSuspended reports whether Suspend is currently in effect.
func (p *Pool) IsSuspended() bool {
	p.condMu.Lock()
	defer p.condMu.Unlock()
	return p.suspended
}

// Flush removes every not-yet-started item and returns the count
// removed.
func (p *Pool) Flush() int {
	p.condMu.Lock()
	defer p.condMu.Unlock()
	n := len(p.queue)
	p.queue = nil
	p.flushed.Add(uint64(n))
	p.cond.Broadcast()
	return n
}

// IsEmpty reports whether the pending queue is empty.
func (p *Pool) IsEmpty() bool {
	p.condMu.Lock()
	defer p.condMu.Unlock()
	return len(p.queue) == 0
}

// IsIdle reports whether the queue is empty and no worker is currently
// executing an item.
func (p *Pool) IsIdle() bool {
	p.condMu.Lock()
	defer p.condMu.Unlock()
	return len(p.queue) == 0 && p.active == 0
}

// Drain blocks until the queue is empty and every in-flight item has
// finished, or ctx is done; returns whether the pool fully drained.
func (p *Pool) Drain(ctx context.Context) bool {
	woken := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.condMu.Lock()
			p.cond.Broadcast()
			p.condMu.Unlock()
		case <-woken:
		}
	}()

	p.condMu.Lock()
	for (len(p.queue) > 0 || p.active > 0) && !p.shutdown {
		if ctx.Err() != nil {
			break
		}
		p.cond.Wait()
	}
	drained := len(p.queue) == 0 && p.active == 0
	p.condMu.Unlock()
	close(woken)
	return drained
}

// Shutdown stops accepting new work, wakes every worker so it can
// exit, and waits up to the pool's configured shutdown timeout for
// them to drain out.
func (p *Pool) Shutdown() error {
	p.condMu.Lock()
	if p.shutdown {
		p.condMu.Unlock()
		return errors.Wrapf(perr.ErrShutdown, "pool %q", p.name)
	}
	p.shutdown = true
	p.cond.Broadcast()
	p.condMu.Unlock()

	deadline := time.Now().Add(p.shutdownDeadline)
	for {
		p.condMu.Lock()
		live := p.liveWorkers
		p.condMu.Unlock()
		if live == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(perr.ErrTimeout, "pool %q: workers did not shut down within %s", p.name, p.shutdownDeadline)
		}
		time.Sleep(time.Millisecond)
	}
}

func fmtDescription(p *Pool) string {
	return "pool " + p.name +
		": threads=" + strconv.Itoa(p.maxThreads) +
		" queued=" + strconv.Itoa(len(p.queue)) +
		" scheduled=" + strconv.FormatUint(p.scheduled.Load(), 10) +
		" executed=" + strconv.FormatUint(p.executed.Load(), 10) +
		" flushed=" + strconv.FormatUint(p.flushed.Load(), 10) +
		" panics=" + strconv.FormatUint(p.panics.Load(), 10) +
		" suspended=" + strconv.FormatBool(p.suspended)
}
