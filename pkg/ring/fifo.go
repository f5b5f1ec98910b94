// Package ring implements a bounded producer/consumer FIFO whose
// contract changes with the number of declared producers and
// consumers: with a single producer and a single consumer the fast
// paths are lock-free; a multi side is serialized by its own mutex
// with condition signaling.
package ring

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/watt-toolkit/flywheel/internal/config"
	"github.com/watt-toolkit/flywheel/pkg/perr"
	"github.com/watt-toolkit/flywheel/pkg/registry"
)

// Item is the opaque payload type carried by the ring. The FIFO never
// interprets it.
type Item = interface{}

// Config configures a FIFO.
type Config struct {
	// Name identifies the FIFO in the registry and is also the suffix
	// used to look up per-instance settings from the environment
	// (FIFO_CAPACITY_<NAME> etc.) in NewNamed.
	Name string

	// Capacity is the slot count. Default 1000.
	Capacity uint

	// Granularity caps each blocking wait step, in milliseconds.
	// Default 0, which selects a built-in step: 1ms polling in SPSC
	// mode, 10ms condition waits in MP/MC mode.
	GranularityMS uint

	// Timeout is the cumulative wait budget per call, in milliseconds.
	// 0 means unbounded.
	TimeoutMS uint

	// MultiProducer enables the locked producer path. False means a
	// single, lock-free producer using the SPSC fast path.
	MultiProducer bool

	// MultiConsumer enables the locked consumer path. False means a
	// single, lock-free consumer using the SPSC fast path.
	MultiConsumer bool

	// Boundaries are the ascending wait-time histogram bands, in
	// seconds. Defaults to a small fixed ladder if empty.
	Boundaries []float64

	Registry *registry.Registry
}

var defaultBoundaries = []float64{0.001, 0.01, 0.1, 1, 10}

// sideStats accumulates one side's (producer or consumer) counters.
type sideStats struct {
	trySuccess, tryFailure atomic.Uint64
	waitTotal              atomic.Int64 // nanoseconds
	waitCount              atomic.Uint64
	histogram              []atomic.Uint64
}

func newSideStats(bands int) *sideStats {
	return &sideStats{histogram: make([]atomic.Uint64, bands)}
}

func (s *sideStats) recordWait(d time.Duration, boundaries []float64) {
	s.waitTotal.Add(int64(d))
	s.waitCount.Add(1)
	secs := d.Seconds()
	idx := len(boundaries)
	for i, b := range boundaries {
		if secs < b {
			idx = i
			break
		}
	}
	if idx < len(s.histogram) {
		s.histogram[idx].Add(1)
	}
}

// FIFO is a bounded, named producer/consumer queue.
type FIFO struct {
	name          string
	capacity      uint64
	granularity   time.Duration
	timeout       time.Duration
	multiProducer bool
	multiConsumer bool
	boundaries    []float64

	slots []Item

	// head and tail are monotonically increasing 64-bit counters,
	// never reduced modulo capacity. Each is single-writer: in SPSC
	// mode the one producer owns head and the one consumer owns tail;
	// in MP/MC modes the side mutex below serializes the writers. The
	// slot write always precedes the counter store, so the opposite
	// side's counter load orders its slot access correctly.
	head atomic.Uint64
	tail atomic.Uint64

	producerMu sync.Mutex
	consumerMu sync.Mutex
	cond       *sync.Cond
	condMu     sync.Mutex

	get, put *sideStats

	reg *registry.Registry
}

// New constructs a FIFO from an explicit Config.
func New(cfg Config) *FIFO {
	return newFIFO(cfg)
}

// NewNamed constructs a FIFO. Settings already present in cfg win; a
// field left at its zero value (false for MultiProducer and
// MultiConsumer) is read from the environment (FIFO_CAPACITY_<NAME>
// etc, falling back to the bare FIFO_CAPACITY key), then takes the
// hardcoded default. A name already registered is an invariant
// violation.
func NewNamed(name string, cfg Config, src *config.Source) (*FIFO, error) {
	cfg.Name = name
	if src == nil {
		src = config.FromEnviron()
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = uint(src.Uint("FIFO_CAPACITY", name, 1000))
	}
	if cfg.GranularityMS == 0 {
		cfg.GranularityMS = uint(src.Uint("FIFO_GRANULARITY", name, 0))
	}
	if cfg.TimeoutMS == 0 {
		cfg.TimeoutMS = uint(src.Uint("FIFO_TIMEOUT", name, 0))
	}
	if !cfg.MultiProducer {
		cfg.MultiProducer = !src.Bool("FIFO_SINGLE_PRODUCER", name, false)
	}
	if !cfg.MultiConsumer {
		cfg.MultiConsumer = !src.Bool("FIFO_SINGLE_CONSUMER", name, false)
	}
	if len(cfg.Boundaries) == 0 {
		cfg.Boundaries = src.Floats("FIFO_BOUNDARIES", name, nil)
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if _, exists := cfg.Registry.Lookup(name); exists {
		return nil, errors.Wrapf(perr.ErrInvariantViolation, "fifo %q: name already registered", name)
	}
	return newFIFO(cfg), nil
}

func newFIFO(cfg Config) *FIFO {
	if cfg.Capacity == 0 {
		cfg.Capacity = 1000
	}
	if len(cfg.Boundaries) == 0 {
		cfg.Boundaries = defaultBoundaries
	}
	if cfg.Name == "" {
		cfg.Name = registry.AutoName("fifo")
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}

	boundaries := append([]float64{}, cfg.Boundaries...)
	sort.Float64s(boundaries)

	bands := len(boundaries) + 1
	f := &FIFO{
		name:          cfg.Name,
		capacity:      uint64(cfg.Capacity),
		granularity:   time.Duration(cfg.GranularityMS) * time.Millisecond,
		timeout:       time.Duration(cfg.TimeoutMS) * time.Millisecond,
		multiProducer: cfg.MultiProducer,
		multiConsumer: cfg.MultiConsumer,
		boundaries:    boundaries,
		slots:         make([]Item, cfg.Capacity),
		get:           newSideStats(bands),
		put:           newSideStats(bands),
		reg:           cfg.Registry,
	}
	f.cond = sync.NewCond(&f.condMu)
	f.reg.RegisterFIFO(f)
	return f
}

// Name implements registry.Reporter.
func (f *FIFO) Name() string { return f.name }

// Count returns the number of items currently queued. The tail is
// loaded first so a concurrent put/get pair can never make the
// difference go negative.
func (f *FIFO) Count() uint64 {
	tail := f.tail.Load()
	head := f.head.Load()
	return head - tail
}

// isSPSC reports whether both sides are configured single, enabling
// the lock-free fast path.
func (f *FIFO) isSPSC() bool { return !f.multiProducer && !f.multiConsumer }

func (f *FIFO) broadcast() {
	f.condMu.Lock()
	f.cond.Broadcast()
	f.condMu.Unlock()
}

// tryPutSlot is the single-writer enqueue step. The caller must be the
// sole producer: either the declared SPSC producer, or the holder of
// producerMu in MP mode.
func (f *FIFO) tryPutSlot(item Item) bool {
	head := f.head.Load()
	tail := f.tail.Load()
	if head-tail >= f.capacity {
		f.put.tryFailure.Add(1)
		return false
	}
	f.slots[head%f.capacity] = item
	// Publish after the slot write: a consumer's load of head orders
	// its slot read after this store.
	f.head.Store(head + 1)
	f.put.trySuccess.Add(1)
	if !f.isSPSC() && head == tail {
		f.broadcast() // empty -> non-empty
	}
	return true
}

// tryGetSlot is the single-writer dequeue step, symmetric with
// tryPutSlot: sole consumer, or holder of consumerMu in MC mode.
func (f *FIFO) tryGetSlot() (Item, bool) {
	head := f.head.Load()
	tail := f.tail.Load()
	if head <= tail {
		f.get.tryFailure.Add(1)
		return nil, false
	}
	idx := tail % f.capacity
	item := f.slots[idx]
	f.slots[idx] = nil // ownership transfers to the consumer here
	f.tail.Store(tail + 1)
	f.get.trySuccess.Add(1)
	if !f.isSPSC() && head-tail == f.capacity {
		f.broadcast() // full -> non-full
	}
	return item, true
}

// TryPut is the non-blocking single-item enqueue: call-free on the
// SPSC fast path when the ring has room. In MP mode the producer
// mutex serializes the counter update.
func (f *FIFO) TryPut(item Item) bool {
	if f.multiProducer {
		f.producerMu.Lock()
		defer f.producerMu.Unlock()
	}
	return f.tryPutSlot(item)
}

// TryGet is the non-blocking single-item dequeue fast path.
func (f *FIFO) TryGet() (Item, bool) {
	if f.multiConsumer {
		f.consumerMu.Lock()
		defer f.consumerMu.Unlock()
	}
	return f.tryGetSlot()
}

// TryPeek returns the next item to be dequeued without removing it.
func (f *FIFO) TryPeek() (Item, bool) {
	if f.multiConsumer {
		f.consumerMu.Lock()
		defer f.consumerMu.Unlock()
	}
	tail := f.tail.Load()
	head := f.head.Load()
	if head <= tail {
		return nil, false
	}
	return f.slots[tail%f.capacity], true
}

// Peek is an alias for TryPeek.
func (f *FIFO) Peek() (Item, bool) { return f.TryPeek() }

// Put enqueues item, blocking if requested and the ring is full. ctx
// and the FIFO's own configured timeout both bound the wait;
// whichever elapses first wins.
func (f *FIFO) Put(ctx context.Context, item Item, block bool) (bool, error) {
	if f.TryPut(item) {
		return true, nil
	}
	if !block {
		return false, nil
	}
	attempt := func() bool { return f.tryPutSlot(item) }
	if f.isSPSC() {
		return f.waitSPSC(ctx, f.put, attempt)
	}
	f.producerMu.Lock()
	defer f.producerMu.Unlock()
	return f.waitCond(ctx, f.put, attempt)
}

// Get dequeues an item, blocking if requested and the ring is empty.
func (f *FIFO) Get(ctx context.Context, block bool) (Item, bool, error) {
	if item, ok := f.TryGet(); ok {
		return item, true, nil
	}
	if !block {
		return nil, false, nil
	}
	var result Item
	attempt := func() bool {
		var ok bool
		result, ok = f.tryGetSlot()
		return ok
	}
	var got bool
	var err error
	if f.isSPSC() {
		got, err = f.waitSPSC(ctx, f.get, attempt)
	} else {
		f.consumerMu.Lock()
		got, err = f.waitCond(ctx, f.get, attempt)
		f.consumerMu.Unlock()
	}
	if err != nil {
		return nil, false, err
	}
	return result, got, nil
}

// waitSPSC implements blocking in SPSC mode: the caller polls with a
// fixed back-off bounded by the configured granularity, accumulating
// total wait against the configured timeout.
func (f *FIFO) waitSPSC(ctx context.Context, stats *sideStats, attempt func() bool) (bool, error) {
	start := time.Now()
	step := f.granularity
	if step <= 0 {
		step = time.Millisecond
	}
	for {
		if attempt() {
			stats.recordWait(time.Since(start), f.boundaries)
			return true, nil
		}
		if f.timeout > 0 && time.Since(start) > f.timeout {
			return false, errors.Wrapf(perr.ErrTimeout, "fifo %q: wait exceeded %s", f.name, f.timeout)
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(step):
		}
	}
}

// waitCond implements the MP/MC blocking path: the caller holds the
// side mutex for the whole call, and waits on the shared condition
// variable in granularity-bounded steps, re-checking the cumulative
// wait against the configured timeout on every wake. The timer exists
// because sync.Cond has no timed wait; its callback broadcasts, which
// is also how every empty/full transition wakes waiters.
func (f *FIFO) waitCond(ctx context.Context, stats *sideStats, attempt func() bool) (bool, error) {
	start := time.Now()
	step := f.granularity
	if step <= 0 {
		step = 10 * time.Millisecond
	}
	for {
		if attempt() {
			stats.recordWait(time.Since(start), f.boundaries)
			return true, nil
		}
		if f.timeout > 0 && time.Since(start) > f.timeout {
			return false, errors.Wrapf(perr.ErrTimeout, "fifo %q: wait exceeded %s", f.name, f.timeout)
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		f.condMu.Lock()
		wake := time.AfterFunc(step, f.broadcast)
		f.cond.Wait()
		wake.Stop()
		f.condMu.Unlock()
	}
}

// PutAll blocks until every item in buf has been enqueued, and is
// disallowed in SPSC mode. Items are enqueued one at a time: items
// from other producers may interleave with them, and when the wait
// times out or ctx is done, the items already enqueued stay in the
// ring.
func (f *FIFO) PutAll(ctx context.Context, buf []Item) error {
	if uint64(len(buf)) > f.capacity {
		return errors.Wrapf(perr.ErrInvariantViolation, "fifo %q: PutAll count %d exceeds capacity %d", f.name, len(buf), f.capacity)
	}
	if f.isSPSC() {
		return errors.Wrapf(perr.ErrInvariantViolation, "fifo %q: PutAll is disallowed in SPSC mode", f.name)
	}
	for _, item := range buf {
		if _, err := f.Put(ctx, item, true); err != nil {
			return err
		}
	}
	return nil
}

// PutObjects enqueues up to len(buf) items, blocking at least until
// one is enqueued when block is set, and returns how many went in.
func (f *FIFO) PutObjects(ctx context.Context, buf []Item, block bool) (int, error) {
	n := 0
	for _, item := range buf {
		ok, err := f.Put(ctx, item, block && n == 0)
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		n++
	}
	return n, nil
}

// GetObjects dequeues up to len(buf) items, blocking at least until
// one is available when block is set, and returns how many were read.
func (f *FIFO) GetObjects(ctx context.Context, buf []Item, block bool) (int, error) {
	n := 0
	for i := range buf {
		item, ok, err := f.Get(ctx, block && n == 0)
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		buf[i] = item
		n++
	}
	return n, nil
}

// StatsGet returns a human-readable report of the consumer side's
// counters.
func (f *FIFO) StatsGet() string { return f.statsFor("get", f.get) }

// StatsPut returns a human-readable report of the producer side's
// counters.
func (f *FIFO) StatsPut() string { return f.statsFor("put", f.put) }

func (f *FIFO) statsFor(label string, s *sideStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s.%s: trySuccess=%d tryFailure=%d waitCount=%d waitTotal=%s",
		f.name, label, s.trySuccess.Load(), s.tryFailure.Load(), s.waitCount.Load(),
		time.Duration(s.waitTotal.Load()))
	if len(f.boundaries) > 0 {
		b.WriteString(" histogram=[")
		for i := range s.histogram {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%d", s.histogram[i].Load())
		}
		b.WriteByte(']')
	}
	return b.String()
}

// Description implements registry.Reporter, combining both sides.
func (f *FIFO) Description() string {
	return fmt.Sprintf("%s | %s", f.StatsPut(), f.StatsGet())
}
