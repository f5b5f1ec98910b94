// Package cache implements a size- and count-limited cache with
// least-recently-used eviction, per-key expiry, and a delegate-driven
// refresh/retention protocol.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/watt-toolkit/flywheel/internal/clock"
	"github.com/watt-toolkit/flywheel/internal/link"
	"github.com/watt-toolkit/flywheel/internal/logging"
	"github.com/watt-toolkit/flywheel/pkg/perr"
	"github.com/watt-toolkit/flywheel/pkg/registry"
)

// neverExpires is the lifetime value meaning "no expiry".
const neverExpires int64 = 0

// farFuture caps PutUntil's absurdly distant expiry times: anything
// more than ~30 years out collapses to never-expires.
const farFuture int64 = 30 * 365 * 24 * 3600

// SizeReporter is the external size-reporting capability the cache
// consumes when byte-based limits are active. A value reports its
// footprint excluding any identity already present in exclude, so
// shared sub-objects are not double-counted.
type SizeReporter interface {
	SizeInBytes(exclude map[uintptr]struct{}) uint64
}

// Delegate is the cache's optional retention/refresh protocol. A
// panicking delegate is treated as having returned the safe default.
type Delegate[K comparable, V any] interface {
	// ShouldKeep is the authoritative veto fired when a get finds an
	// expired entry. Returning true resets the entry's birth to now.
	ShouldKeep(value V, key K, lifetime time.Duration, expiredFor time.Duration) bool

	// MayRefresh is an advisory hook fired at most once per entry per
	// lifetime, the first time it is touched after the halfway point.
	// Its return value is ignored.
	MayRefresh(value V, key K, lifetime time.Duration, remaining time.Duration)
}

type entry[K comparable, V any] struct {
	key             K
	value           V
	birthTick       int64
	lifetime        int64 // seconds; 0 = never expires
	sizeBytes       uint64
	refreshNotified bool
	link            *link.Link[*entry[K, V]]
}

func (e *entry[K, V]) isExpired(now int64) bool {
	if e.lifetime == neverExpires {
		return false
	}
	return now-e.birthTick >= e.lifetime
}

// Metrics is a point-in-time snapshot of a cache's counters.
type Metrics struct {
	Hits, Misses, Sets, Deletes, Evictions, Expirations int64
	CurrentObjects                                      int64
	CurrentBytes                                        uint64
}

// HitRate returns Hits / (Hits+Misses), or 0 if neither has happened.
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

type atomicMetrics struct {
	hits, misses, sets, deletes, evictions, expirations atomic.Int64
	currentObjects                                       atomic.Int64
	currentBytes                                         atomic.Uint64
}

func (m *atomicMetrics) snapshot() Metrics {
	return Metrics{
		Hits:           m.hits.Load(),
		Misses:         m.misses.Load(),
		Sets:           m.sets.Load(),
		Deletes:        m.deletes.Load(),
		Evictions:      m.evictions.Load(),
		Expirations:    m.expirations.Load(),
		CurrentObjects: m.currentObjects.Load(),
		CurrentBytes:   m.currentBytes.Load(),
	}
}

// Config configures a Cache. Zero values take the documented defaults.
type Config[K comparable, V any] struct {
	// Name identifies the cache in the registry's report. An empty
	// name gets an auto-generated one.
	Name string

	// MaxObjects bounds the entry count; 0 means unlimited.
	MaxObjects int

	// MaxBytes bounds the summed SizeInBytes of values; 0 means size
	// accounting is skipped entirely.
	MaxBytes uint64

	// DefaultLifetime is used by Put calls that don't specify their
	// own lifetime. 0 means entries never expire by default.
	DefaultLifetime time.Duration

	// Equal, if set, lets Put recognize a no-op rewrite (incoming value
	// equal to the stored one): the lifetime stamp still resets and
	// the entry still promotes to MRU, but the stored value is not
	// replaced. Cache values are opaque without this.
	Equal func(a, b V) bool

	// SizeOf is the size-reporting capability used when a value does
	// not implement SizeReporter itself.
	SizeOf func(v V, exclude map[uintptr]struct{}) uint64

	// Delegate is the optional retention/refresh protocol.
	Delegate Delegate[K, V]

	// Clock supplies birth-tick stamps. Defaults to the shared process
	// ticker.
	Clock *clock.Ticker

	// Registry receives this cache's registration. Defaults to the
	// shared process registry.
	Registry *registry.Registry

	// CleanupInterval drives a background goroutine that calls Purge
	// periodically. 0 disables it (expired entries are then purged only
	// as a side effect of Put, Shrink and the limit setters, and one at
	// a time by Get).
	CleanupInterval time.Duration
}

// Cache is a size/count-limited LRU cache with per-entry TTL and an
// optional delegate.
type Cache[K comparable, V any] struct {
	mu   sync.Mutex
	data map[K]*entry[K, V]
	lru  *link.Store[*entry[K, V]]

	name            string
	maxObjects      int
	maxBytes        uint64
	defaultLifetime int64
	equal           func(a, b V) bool
	sizeOf          func(v V, exclude map[uintptr]struct{}) uint64
	delegate        Delegate[K, V]
	clock           *clock.Ticker
	reg             *registry.Registry

	metrics atomicMetrics

	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Cache per cfg and registers it by name.
func New[K comparable, V any](cfg Config[K, V]) *Cache[K, V] {
	if cfg.Clock == nil {
		cfg.Clock = clock.Process()
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.Default()
	}
	if cfg.Name == "" {
		cfg.Name = registry.AutoName("cache")
	}

	c := &Cache[K, V]{
		data:            make(map[K]*entry[K, V]),
		lru:             link.NewStore[*entry[K, V]](),
		name:            cfg.Name,
		maxObjects:      cfg.MaxObjects,
		maxBytes:        cfg.MaxBytes,
		defaultLifetime: int64(cfg.DefaultLifetime / time.Second),
		equal:           cfg.Equal,
		sizeOf:          cfg.SizeOf,
		delegate:        cfg.Delegate,
		clock:           cfg.Clock,
		reg:             cfg.Registry,
		stopCh:          make(chan struct{}),
	}
	c.reg.RegisterCache(c)

	if cfg.CleanupInterval > 0 {
		c.wg.Add(1)
		go c.cleanupLoop(cfg.CleanupInterval)
	}
	return c
}

// Name implements registry.Reporter.
func (c *Cache[K, V]) Name() string { return c.name }

// SetName changes the cache's registry name, immediately.
func (c *Cache[K, V]) SetName(name string) {
	c.mu.Lock()
	old := c.name
	c.name = name
	c.mu.Unlock()
	c.reg.Unregister(old)
	c.reg.RegisterCache(c)
}

func (c *Cache[K, V]) now() int64 { return c.clock.Now() }

func (c *Cache[K, V]) recordHit()  { c.metrics.hits.Add(1) }
func (c *Cache[K, V]) recordMiss() { c.metrics.misses.Add(1) }

// Get looks up key, applying the delegate-driven expiry override and
// the advisory MayRefresh hook.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, perr.ErrClosed
	}
	e, ok := c.data[key]
	if !ok {
		c.mu.Unlock()
		c.recordMiss()
		return zero, perr.ErrNotFound
	}

	now := c.now()
	if e.isExpired(now) {
		expiredFor := time.Duration(now-(e.birthTick+e.lifetime)) * time.Second
		lifetime := time.Duration(e.lifetime) * time.Second
		value := e.value
		delegate := c.delegate
		c.mu.Unlock()

		if delegate != nil && callShouldKeep(delegate, value, key, lifetime, expiredFor) {
			c.mu.Lock()
			if e2, ok := c.data[key]; ok && e2 == e {
				e.birthTick = c.now()
				e.refreshNotified = false
				c.lru.MoveToFront(e.link)
			}
			c.mu.Unlock()
			c.recordHit()
			return value, nil
		}

		c.mu.Lock()
		if e2, ok := c.data[key]; ok && e2 == e {
			c.removeEntryLocked(key, e)
			c.metrics.expirations.Add(1)
		}
		c.mu.Unlock()
		c.recordMiss()
		return zero, perr.ErrNotFound
	}

	if c.delegate != nil && e.lifetime > neverExpires && !e.refreshNotified {
		remaining := e.birthTick + e.lifetime - now
		if remaining*2 <= e.lifetime {
			e.refreshNotified = true
			value, lifetime, delegate := e.value, time.Duration(e.lifetime)*time.Second, c.delegate
			c.mu.Unlock()
			callMayRefresh(delegate, value, key, lifetime, time.Duration(remaining)*time.Second)
			c.mu.Lock()
		}
	}

	c.lru.MoveToFront(e.link)
	value := e.value
	c.mu.Unlock()
	c.recordHit()
	return value, nil
}

// Put creates or overwrites key's entry. A lifetime of 0 applies the
// cache's default lifetime (which is itself 0, meaning
// never-expires, unless configured); a negative lifetime is treated
// as 0.
func (c *Cache[K, V]) Put(key K, value V, lifetime time.Duration) error {
	if lifetime < 0 {
		lifetime = 0
	}
	lifetimeSeconds := int64(lifetime / time.Second)
	if lifetime == 0 {
		lifetimeSeconds = c.defaultLifetime
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return perr.ErrClosed
	}

	if e, exists := c.data[key]; exists {
		if c.equal != nil && c.equal(e.value, value) {
			e.birthTick = c.now()
			e.refreshNotified = false
			c.lru.MoveToFront(e.link)
			c.metrics.sets.Add(1)
			return nil
		}
		c.adjustBytesLocked(e, 0)
		e.value = value
		e.lifetime = lifetimeSeconds
		e.birthTick = c.now()
		e.refreshNotified = false
		e.sizeBytes = c.sizeOfLocked(value)
		c.metrics.currentBytes.Add(e.sizeBytes)
		c.lru.MoveToFront(e.link)
		c.metrics.sets.Add(1)
		c.enforceLimitsLocked()
		return nil
	}

	e := &entry[K, V]{key: key, value: value, lifetime: lifetimeSeconds, birthTick: c.now()}
	e.sizeBytes = c.sizeOfLocked(value)
	c.data[key] = e
	e.link = c.lru.PushFront(e)
	c.metrics.currentObjects.Add(1)
	c.metrics.currentBytes.Add(e.sizeBytes)
	c.metrics.sets.Add(1)
	c.enforceLimitsLocked()
	return nil
}

// enforceLimitsLocked shrinks the cache to its configured budgets. A
// zero MaxObjects means unlimited here, not "remove everything".
func (c *Cache[K, V]) enforceLimitsLocked() {
	objects := c.maxObjects
	if objects == 0 {
		objects = -1
	}
	c.shrinkLocked(objects, c.maxBytes)
}

// PutUntil is Put with an absolute expiry instant instead of a
// duration.
func (c *Cache[K, V]) PutUntil(key K, value V, expiry time.Time) error {
	lifetime := time.Until(expiry)
	if lifetime <= 0 {
		return c.Remove(key)
	}
	if int64(lifetime/time.Second) > farFuture {
		lifetime = 0
	}
	return c.Put(key, value, lifetime)
}

// Remove deletes key unconditionally, equivalent to a put of an
// absent value.
func (c *Cache[K, V]) Remove(key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return perr.ErrClosed
	}
	e, ok := c.data[key]
	if !ok {
		return perr.ErrNotFound
	}
	c.removeEntryLocked(key, e)
	c.metrics.deletes.Add(1)
	return nil
}

func (c *Cache[K, V]) removeEntryLocked(key K, e *entry[K, V]) {
	delete(c.data, key)
	c.lru.Remove(e.link)
	c.metrics.currentObjects.Add(-1)
	c.metrics.currentBytes.Sub(e.sizeBytes)
}

func (c *Cache[K, V]) adjustBytesLocked(e *entry[K, V], newSize uint64) {
	c.metrics.currentBytes.Sub(e.sizeBytes)
	e.sizeBytes = newSize
}

func (c *Cache[K, V]) sizeOfLocked(value V) uint64 {
	if c.maxBytes == 0 {
		return 0
	}
	exclude := make(map[uintptr]struct{})
	if sr, ok := any(value).(SizeReporter); ok {
		return sr.SizeInBytes(exclude)
	}
	if c.sizeOf != nil {
		return c.sizeOf(value, exclude)
	}
	return 0
}

// Exists reports whether key is present and not expired, without
// promoting it or firing the delegate.
func (c *Cache[K, V]) Exists(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		return false
	}
	return !e.isExpired(c.now())
}

// Len returns the current object count.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Shrink first removes every expired entry, then evicts from the LRU
// tail until both budgets are met. targetObjects == 0 removes
// everything.
func (c *Cache[K, V]) Shrink(targetObjects int, targetBytes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shrinkLocked(targetObjects, targetBytes)
}

func (c *Cache[K, V]) shrinkLocked(targetObjects int, targetBytes uint64) {
	c.purgeExpiredLocked()

	if targetObjects == 0 {
		for key, e := range c.data {
			c.removeEntryLocked(key, e)
		}
		return
	}

	for {
		overObjects := targetObjects > 0 && len(c.data) > targetObjects
		overBytes := targetBytes > 0 && c.metrics.currentBytes.Load() > targetBytes
		if !overObjects && !overBytes {
			return
		}
		tail := c.lru.Last()
		if tail == nil {
			return
		}
		e := tail.Item
		c.removeEntryLocked(e.key, e)
		c.metrics.evictions.Add(1)
	}
}

// Purge removes every currently expired entry.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeExpiredLocked()
}

func (c *Cache[K, V]) purgeExpiredLocked() {
	if c.defaultLifetime == neverExpires && !c.anyLifetimeInUseLocked() {
		return
	}
	now := c.now()
	var expired []K
	for key, e := range c.data {
		if e.isExpired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		e := c.data[key]
		c.removeEntryLocked(key, e)
		c.metrics.expirations.Add(1)
	}
}

func (c *Cache[K, V]) anyLifetimeInUseLocked() bool {
	for _, e := range c.data {
		if e.lifetime != neverExpires {
			return true
		}
	}
	return false
}

// SetMaxObjects sets the object budget, immediately shrinking if the
// new limit is lower than the current size.
func (c *Cache[K, V]) SetMaxObjects(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxObjects = n
	c.enforceLimitsLocked()
}

// MaxObjects returns the current object budget.
func (c *Cache[K, V]) MaxObjects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxObjects
}

// SetMaxBytes sets the byte budget, immediately shrinking if the new
// limit is lower than the current usage.
func (c *Cache[K, V]) SetMaxBytes(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxBytes = n
	c.enforceLimitsLocked()
}

// MaxBytes returns the current byte budget.
func (c *Cache[K, V]) MaxBytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxBytes
}

// SetLifetime sets the default lifetime applied to Put calls that
// don't specify their own.
func (c *Cache[K, V]) SetLifetime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultLifetime = int64(d / time.Second)
}

// SetDelegate installs (or clears, with nil) the retention/refresh
// delegate.
func (c *Cache[K, V]) SetDelegate(d Delegate[K, V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate = d
}

// Clear removes every entry unconditionally, without running the
// purge-then-evict Shrink sequence.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[K]*entry[K, V])
	c.lru = link.NewStore[*entry[K, V]]()
	c.metrics.currentObjects.Store(0)
	c.metrics.currentBytes.Store(0)
}

// Close stops the cache's background cleanup goroutine, if any, and
// unregisters it. Further operations return ErrClosed.
func (c *Cache[K, V]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return perr.ErrClosed
	}
	c.closed = true
	close(c.stopCh)
	c.mu.Unlock()
	c.wg.Wait()
	c.reg.Unregister(c.name)
	return nil
}

func (c *Cache[K, V]) cleanupLoop(interval time.Duration) {
	defer c.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.Purge()
		case <-c.stopCh:
			return
		}
	}
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache[K, V]) Stats() Metrics {
	return c.metrics.snapshot()
}

// Description summarizes the cache's name, size, and limits in one
// line.
func (c *Cache[K, V]) Description() string {
	c.mu.Lock()
	objects := len(c.data)
	maxObjects := c.maxObjects
	maxBytes := c.maxBytes
	c.mu.Unlock()
	bytes := c.metrics.currentBytes.Load()
	return fmt.Sprintf("%s: %d/%s objects, %d/%s bytes", c.name,
		objects, limitString(maxObjects), bytes, limitString64(maxBytes))
}

func limitString(n int) string {
	if n == 0 {
		return "unbounded"
	}
	return fmt.Sprintf("%d", n)
}

func limitString64(n uint64) string {
	if n == 0 {
		return "unbounded"
	}
	return fmt.Sprintf("%d", n)
}

func callShouldKeep[K comparable, V any](d Delegate[K, V], value V, key K, lifetime, expiredFor time.Duration) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.L().Warnw("cache delegate ShouldKeep panicked", "panic", r)
			keep = false
		}
	}()
	return d.ShouldKeep(value, key, lifetime, expiredFor)
}

func callMayRefresh[K comparable, V any](d Delegate[K, V], value V, key K, lifetime, remaining time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			logging.L().Warnw("cache delegate MayRefresh panicked", "panic", r)
		}
	}()
	d.MayRefresh(value, key, lifetime, remaining)
}
