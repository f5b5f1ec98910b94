package pool

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/watt-toolkit/flywheel/internal/config"
	"github.com/watt-toolkit/flywheel/pkg/registry"
)

// ioThread is one long-lived goroutine pumping its own work channel.
// Acquisitions are tracked so IOThreadPool can pick the least-used
// thread.
type ioThread struct {
	work      chan Task
	acquired  int
	terminate chan struct{}
}

func newIOThread() *ioThread {
	t := &ioThread{
		work:      make(chan Task, 1),
		terminate: make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *ioThread) run() {
	for {
		select {
		case task := <-t.work:
			func() {
				defer func() { recover() }()
				task()
			}()
		case <-t.terminate:
			return
		}
	}
}

func (t *ioThread) shutdown() { close(t.terminate) }

// IOThreadPool is a registry of long-lived goroutines, distinct from
// Pool: it exists to pin repeated, related operations onto the same
// goroutine rather than to parallelize a work queue. Admission into
// the pool (bounding how many threads may be concurrently acquired)
// is gated by a semaphore.Weighted, mapping the acquire/release
// pairing of AcquireThread/UnacquireThread directly onto
// golang.org/x/sync's primitive.
type IOThreadPool struct {
	mu      sync.Mutex
	threads []*ioThread
	gate    *semaphore.Weighted
	max     int64
	name    string
}

var _ registry.Reporter = (*IOThreadPool)(nil)

// NewIOThreadPool constructs a pool with maxThreads long-lived
// goroutines. maxThreads == 0 means synchronous (caller-goroutine)
// execution.
func NewIOThreadPool(name string, maxThreads int) *IOThreadPool {
	p := &IOThreadPool{
		max:  int64(maxThreads),
		name: name,
	}
	if maxThreads > 0 {
		p.gate = semaphore.NewWeighted(int64(maxThreads))
		p.threads = make([]*ioThread, maxThreads)
		for i := range p.threads {
			p.threads[i] = newIOThread()
		}
	}
	return p
}

// Name implements registry.Reporter.
func (p *IOThreadPool) Name() string { return p.name }

// Description implements registry.Reporter.
func (p *IOThreadPool) Description() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, t := range p.threads {
		total += t.acquired
	}
	return "io-thread-pool " + p.name + ": threads=" + strconv.Itoa(len(p.threads)) + " acquisitions=" + strconv.Itoa(total)
}

// AcquireThread blocks (respecting ctx) until a slot is available,
// then returns the index of the least-used thread, reserving a slot on
// the pool's semaphore.
func (p *IOThreadPool) AcquireThread(ctx context.Context) (int, error) {
	if p.gate == nil {
		return -1, nil // synchronous mode: caller runs the work itself.
	}
	if err := p.gate.Acquire(ctx, 1); err != nil {
		return -1, err
	}

	p.mu.Lock()
	best := 0
	for i, t := range p.threads {
		if t.acquired < p.threads[best].acquired {
			best = i
		}
	}
	p.threads[best].acquired++
	p.mu.Unlock()
	return best, nil
}

// UnacquireThread releases a previously acquired slot.
func (p *IOThreadPool) UnacquireThread(idx int) {
	if p.gate == nil {
		return
	}
	p.mu.Lock()
	if idx >= 0 && idx < len(p.threads) {
		p.threads[idx].acquired--
	}
	p.mu.Unlock()
	p.gate.Release(1)
}

// CountForThread returns the current acquisition count of thread idx.
func (p *IOThreadPool) CountForThread(idx int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.threads) {
		return 0
	}
	return p.threads[idx].acquired
}

// Run submits task to thread idx, or executes it synchronously in the
// calling goroutine when the pool has no threads (idx == -1).
func (p *IOThreadPool) Run(idx int, task Task) {
	if idx < 0 {
		task()
		return
	}
	p.threads[idx].work <- task
}

// Shutdown terminates every long-lived goroutine.
func (p *IOThreadPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.threads {
		t.shutdown()
	}
}

var (
	sharedIOPoolOnce sync.Once
	sharedIOPool     *IOThreadPool
)

// SharedIOPool returns the process-wide IOThreadPool sized from the
// IO_THREAD_POOL_SIZE environment key (default 0, synchronous
// execution).
func SharedIOPool() *IOThreadPool {
	sharedIOPoolOnce.Do(func() {
		src := config.FromEnviron()
		size := src.Uint("IO_THREAD_POOL_SIZE", "", 0)
		sharedIOPool = NewIOThreadPool("shared-io-pool", int(size))
	})
	return sharedIOPool
}
