// Package throughput implements a thread-confined event and duration
// counter that rolls observations up through second, minute, and
// period windows. All mutating calls (Add, AddDuration,
// StartDuration/EndDuration) must come from one goroutine. The
// atomics here exist only to let Description() be read safely from a
// different goroutine than the one recording events.
package throughput

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/atomic"

	"github.com/watt-toolkit/flywheel/internal/clock"
	"github.com/watt-toolkit/flywheel/pkg/registry"
)

const secondsPerMinute = 60

// Sample is a snapshot of one rolled-over window, delivered over a
// buffered channel when EnableNotifications(true) is set.
type Sample struct {
	Name     string
	Count    uint64
	Total    float64
	Min      float64
	Max      float64
	WindowID int64
}

type window struct {
	count uint64
	total float64
	min   float64
	max   float64
}

func (w *window) add(n uint64) {
	w.count += n
}

func (w *window) addDuration(d float64) {
	w.count++
	w.total += d
	if w.min == 0 || d < w.min {
		w.min = d
	}
	if d > w.max {
		w.max = d
	}
}

func (w *window) merge(o window) {
	w.count += o.count
	w.total += o.total
	if o.min != 0 && (w.min == 0 || o.min < w.min) {
		w.min = o.min
	}
	if o.max > w.max {
		w.max = o.max
	}
}

// Throughput tracks events and durations over rolling second, minute,
// and period windows. Construct with New.
type Throughput struct {
	name string
	tick *clock.Ticker

	currentSecond int64
	second        window
	minute        window
	period        window
	periodSeconds int64

	pending map[string]int64 // StartDuration name -> start tick (nanoseconds not tracked; seconds only)

	totalCount    atomic.Uint64
	totalDuration atomic.Float64

	notify  atomic.Bool
	samples chan Sample

	mu sync.Mutex
}

// Config configures a Throughput at construction.
type Config struct {
	Name string
	// PeriodSeconds is the length of the third rolling window, in
	// seconds. Defaults to 3600 (one hour), matching a coarse "period"
	// breakdown above minutes.
	PeriodSeconds int64
	Ticker        *clock.Ticker
	Registry      *registry.Registry
}

var _ registry.Reporter = (*Throughput)(nil)

// New constructs a Throughput and registers it under Config.Name.
func New(cfg Config) *Throughput {
	if cfg.Name == "" {
		cfg.Name = registry.AutoName("throughput")
	}
	if cfg.PeriodSeconds <= 0 {
		cfg.PeriodSeconds = 3600
	}
	if cfg.Ticker == nil {
		cfg.Ticker = clock.Process()
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}

	t := &Throughput{
		name:          cfg.Name,
		tick:          cfg.Ticker,
		currentSecond: cfg.Ticker.Now(),
		periodSeconds: cfg.PeriodSeconds,
		pending:       make(map[string]int64),
		samples:       make(chan Sample, 64),
	}
	cfg.Registry.RegisterThroughput(t)
	return t
}

// Name implements registry.Reporter.
func (t *Throughput) Name() string { return t.name }

// SetName changes the reported name.
func (t *Throughput) SetName(name string) {
	t.mu.Lock()
	t.name = name
	t.mu.Unlock()
}

// EnableNotifications turns delivery of Sample values on or off. When
// on, every second-window rollover is pushed onto Notifications();
// a full channel drops the sample rather than blocking the recording
// goroutine.
func (t *Throughput) EnableNotifications(on bool) { t.notify.Store(on) }

// Notifications returns the channel Sample values are delivered on
// when EnableNotifications(true) is set.
func (t *Throughput) Notifications() <-chan Sample { return t.samples }

// Add records n events in the current second window.
func (t *Throughput) Add(n uint64) {
	t.mu.Lock()
	t.rollLocked()
	t.second.add(n)
	t.mu.Unlock()
	t.totalCount.Add(n)
}

// AddDuration records one observation of duration seconds.
func (t *Throughput) AddDuration(seconds float64) {
	t.mu.Lock()
	t.rollLocked()
	t.second.addDuration(seconds)
	t.mu.Unlock()
	t.totalCount.Add(1)
	t.totalDuration.Add(seconds)
}

// StartDuration begins timing a named span; pair with EndDuration.
func (t *Throughput) StartDuration(name string) {
	t.mu.Lock()
	t.pending[name] = t.tick.Now()
	t.mu.Unlock()
}

// EndDuration finishes timing the span started by the most recent
// StartDuration with this name and records it.
func (t *Throughput) EndDuration(name string) {
	t.mu.Lock()
	start, ok := t.pending[name]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.pending, name)
	elapsed := float64(t.tick.Now() - start)
	t.rollLocked()
	t.second.addDuration(elapsed)
	t.mu.Unlock()
	t.totalCount.Add(1)
	t.totalDuration.Add(elapsed)
}

// rollLocked advances the second/minute/period windows to the
// ticker's current second, folding completed windows upward and
// emitting a Sample for each completed second when notifications are
// enabled. Caller must hold t.mu.
func (t *Throughput) rollLocked() {
	now := t.tick.Now()
	for t.currentSecond < now {
		t.minute.merge(t.second)
		t.period.merge(t.second)

		if t.notify.Load() {
			sample := Sample{
				Name:     t.name,
				Count:    t.second.count,
				Total:    t.second.total,
				Min:      t.second.min,
				Max:      t.second.max,
				WindowID: t.currentSecond,
			}
			select {
			case t.samples <- sample:
			default:
				// channel full: drop rather than block the recording side.
			}
		}

		t.second = window{}
		t.currentSecond++

		if t.currentSecond%secondsPerMinute == 0 {
			t.minute = window{}
		}
		if t.currentSecond%t.periodSeconds == 0 {
			t.period = window{}
		}
	}
}

// Description renders a human-readable summary, matching the
// original's "-description" contract.
func (t *Throughput) Description() string {
	t.mu.Lock()
	t.rollLocked()
	sec, min, per := t.second, t.minute, t.period
	name := t.name
	t.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "throughput %s: total=%d totalDuration=%.6fs\n", name, t.totalCount.Load(), t.totalDuration.Load())
	fmt.Fprintf(&b, "  second: count=%d total=%.6f min=%.6f max=%.6f\n", sec.count, sec.total, sec.min, sec.max)
	fmt.Fprintf(&b, "  minute: count=%d total=%.6f min=%.6f max=%.6f\n", min.count, min.total, min.min, min.max)
	fmt.Fprintf(&b, "  period: count=%d total=%.6f min=%.6f max=%.6f", per.count, per.total, per.min, per.max)
	return b.String()
}
