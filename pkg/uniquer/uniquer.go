// Package uniquer implements thread-safe content-addressed interning
// for immutable, hashable, comparable values: equal copies collapse
// to one canonical instance, so equality tests reduce to identity
// tests. Handles carry an atomic refcount; an entry leaves the intern
// table exactly when the last outstanding handle is released.
package uniquer

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/cespare/xxhash/v2"
)

// Internable is the capability a value must provide to be interned:
// a stable byte encoding of its content, used both to hash and to
// compare candidates within a hash bucket.
type Internable interface {
	Bytes() []byte
}

type entry[T Internable] struct {
	value    T
	refCount atomic.Int32
}

// Uniquer interns values of type T. The zero value is not usable;
// construct with New.
type Uniquer[T Internable] struct {
	mu      sync.Mutex
	buckets map[uint64][]*entry[T]
}

// New returns an empty Uniquer.
func New[T Internable]() *Uniquer[T] {
	return &Uniquer[T]{buckets: make(map[uint64][]*entry[T])}
}

// Handle wraps a canonical, interned representative. The holder must
// call Release when done; the entry is dropped from the intern table
// exactly when the last outstanding Handle is released.
type Handle[T Internable] struct {
	u *Uniquer[T]
	e *entry[T]
}

// Value returns the canonical representative.
func (h *Handle[T]) Value() T { return h.e.value }

// Release drops this handle's reference. Once every handle on an
// entry has been released, the entry is removed from the intern
// table under the uniquer's lock.
func (h *Handle[T]) Release() {
	if h.e.refCount.Dec() == 0 {
		h.u.remove(h.e)
	}
}

// Unique returns a Handle to the canonical representative equal in
// content to v. If no equal value has been interned yet, v itself
// becomes the canonical representative; otherwise the existing
// representative is returned and v is discarded.
func (u *Uniquer[T]) Unique(v T) *Handle[T] {
	sum := xxhash.Sum64(v.Bytes())

	u.mu.Lock()
	defer u.mu.Unlock()

	for _, e := range u.buckets[sum] {
		if string(e.value.Bytes()) == string(v.Bytes()) {
			e.refCount.Inc()
			return &Handle[T]{u: u, e: e}
		}
	}

	e := &entry[T]{value: v}
	e.refCount.Store(1)
	u.buckets[sum] = append(u.buckets[sum], e)
	return &Handle[T]{u: u, e: e}
}

func (u *Uniquer[T]) remove(target *entry[T]) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if target.refCount.Load() != 0 {
		// another Unique() raced in and re-acquired this entry between
		// the caller's Dec() and this lock; nothing to remove.
		return
	}
	sum := xxhash.Sum64(target.value.Bytes())
	bucket := u.buckets[sum]
	for i, e := range bucket {
		if e == target {
			bucket[i] = bucket[len(bucket)-1]
			u.buckets[sum] = bucket[:len(bucket)-1]
			break
		}
	}
	if len(u.buckets[sum]) == 0 {
		delete(u.buckets, sum)
	}
}

// Len returns the number of distinct interned values.
func (u *Uniquer[T]) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, bucket := range u.buckets {
		n += len(bucket)
	}
	return n
}
