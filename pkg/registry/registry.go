// Package registry implements the process-global directory of named
// caches, FIFOs and throughput counters: every live, named component
// can be enumerated and dumped through one shared registry, per kind
// or all together.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Reporter is any component that can describe itself in one line for
// Report's dump: caches, FIFOs, and throughput counters all implement
// this.
type Reporter interface {
	Name() string
	Description() string
}

// Kind classifies a registered component for typed enumeration.
type Kind int

const (
	KindOther Kind = iota
	KindCache
	KindFIFO
	KindThroughput
)

type member struct {
	r    Reporter
	kind Kind
}

// Registry is a process-wide directory of named Reporters, guarded by a
// single lock. The zero value is not usable; use New or the package
// Default.
type Registry struct {
	mu      sync.RWMutex
	members map[string]member
}

// New returns an empty registry. Most callers use Default instead;
// New exists for tests and for hosts that want isolated registries.
func New() *Registry {
	return &Registry{members: make(map[string]member)}
}

// AutoName returns a short random name for a component constructed
// without an explicit one, so it can still be registered and reported.
func AutoName(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// Register adds r under its own Name() with no kind classification.
// Registering a second component under a name already present replaces
// the first; callers that care about duplicate-name detection should
// check Lookup first.
func (reg *Registry) Register(r Reporter) {
	reg.register(KindOther, r)
}

// RegisterCache adds a cache so AllCaches can enumerate it.
func (reg *Registry) RegisterCache(r Reporter) {
	reg.register(KindCache, r)
}

// RegisterFIFO adds a FIFO so AllFIFOs can enumerate it.
func (reg *Registry) RegisterFIFO(r Reporter) {
	reg.register(KindFIFO, r)
}

// RegisterThroughput adds a throughput counter so AllThroughputs can
// enumerate it.
func (reg *Registry) RegisterThroughput(r Reporter) {
	reg.register(KindThroughput, r)
}

func (reg *Registry) register(kind Kind, r Reporter) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.members[r.Name()] = member{r: r, kind: kind}
}

// Unregister removes the component registered under name, if any.
func (reg *Registry) Unregister(name string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.members, name)
}

// Lookup returns the component registered under name, if any.
func (reg *Registry) Lookup(name string) (Reporter, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	m, ok := reg.members[name]
	return m.r, ok
}

// All returns every registered component, ordered alphabetically by
// name.
func (reg *Registry) All() []Reporter {
	return reg.allOf(nil)
}

// AllCaches returns every component registered via RegisterCache,
// ordered alphabetically by name.
func (reg *Registry) AllCaches() []Reporter {
	kind := KindCache
	return reg.allOf(&kind)
}

// AllFIFOs returns every component registered via RegisterFIFO,
// ordered alphabetically by name.
func (reg *Registry) AllFIFOs() []Reporter {
	kind := KindFIFO
	return reg.allOf(&kind)
}

// AllThroughputs returns every component registered via
// RegisterThroughput, ordered alphabetically by name.
func (reg *Registry) AllThroughputs() []Reporter {
	kind := KindThroughput
	return reg.allOf(&kind)
}

func (reg *Registry) allOf(kind *Kind) []Reporter {
	reg.mu.RLock()
	names := make([]string, 0, len(reg.members))
	for name, m := range reg.members {
		if kind == nil || m.kind == *kind {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]Reporter, 0, len(names))
	for _, n := range names {
		out = append(out, reg.members[n].r)
	}
	reg.mu.RUnlock()
	return out
}

// Report builds a human-readable dump of every registered component,
// one Description() per line, ordered alphabetically by name.
func (reg *Registry) Report() string {
	var b strings.Builder
	for _, r := range reg.All() {
		b.WriteString(r.Description())
		b.WriteByte('\n')
	}
	return b.String()
}

var defaultRegistry = New()

// Default returns the process-wide registry used by components
// constructed without an explicit registry of their own.
func Default() *Registry {
	return defaultRegistry
}
