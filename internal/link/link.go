// Package link implements an intrusive doubly-linked list with link
// recycling, the spine the cache package threads its LRU order
// through. Nil-terminated only; nothing in this module needs a
// circular variant.
package link

// Link is one node of a List. The zero value is an unlinked link;
// links are created by the List and Store insertion methods and by
// Store.ProvideLink.
type Link[T any] struct {
	next, prev *Link[T]
	owner      *List[T]
	Item       T
}

// List is a doubly-linked list of Links. head is the most-recently
// touched end when used as an LRU spine; callers decide the meaning of
// "front" and "back".
type List[T any] struct {
	head, tail *Link[T]
	count      int
}

// NewList returns an empty list.
func NewList[T any]() *List[T] {
	return &List[T]{}
}

// Len returns the number of links currently in the list.
func (l *List[T]) Len() int { return l.count }

// Empty reports whether the list has no links.
func (l *List[T]) Empty() bool { return l.count == 0 }

// First returns the head link, or nil if the list is empty.
func (l *List[T]) First() *Link[T] { return l.head }

// Last returns the tail link, or nil if the list is empty.
func (l *List[T]) Last() *Link[T] { return l.tail }

// PushFront inserts a new link carrying item at the head of the list.
func (l *List[T]) PushFront(item T) *Link[T] {
	n := &Link[T]{Item: item}
	l.linkAtFront(n)
	return n
}

// PushBack inserts a new link carrying item at the tail of the list.
func (l *List[T]) PushBack(item T) *Link[T] {
	n := &Link[T]{Item: item}
	l.linkAtBack(n)
	return n
}

func (l *List[T]) linkAtFront(n *Link[T]) {
	n.owner = l
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.count++
}

func (l *List[T]) linkAtBack(n *Link[T]) {
	n.owner = l
	n.next = nil
	n.prev = l.tail
	if l.tail != nil {
		l.tail.next = n
	} else {
		l.head = n
	}
	l.tail = n
	l.count++
}

// InsertAfter splices a new link carrying item immediately after mark.
func (l *List[T]) InsertAfter(mark *Link[T], item T) *Link[T] {
	if mark == nil || mark.owner != l {
		return l.PushBack(item)
	}
	n := &Link[T]{Item: item, owner: l, prev: mark, next: mark.next}
	if mark.next != nil {
		mark.next.prev = n
	} else {
		l.tail = n
	}
	mark.next = n
	l.count++
	return n
}

// InsertBefore splices a new link carrying item immediately before mark.
func (l *List[T]) InsertBefore(mark *Link[T], item T) *Link[T] {
	if mark == nil || mark.owner != l {
		return l.PushFront(item)
	}
	n := &Link[T]{Item: item, owner: l, next: mark, prev: mark.prev}
	if mark.prev != nil {
		mark.prev.next = n
	} else {
		l.head = n
	}
	mark.prev = n
	l.count++
	return n
}

// Remove unlinks n from the list. It is a no-op if n is nil or already
// unlinked. The caller keeps ownership of n.Item.
func (l *List[T]) Remove(n *Link[T]) {
	if n == nil || n.owner != l {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.next, n.prev, n.owner = nil, nil, nil
	l.count--
}

// MoveToFront relocates an already-linked node to the head of the list
// without allocating, the operation the cache performs on every touch.
func (l *List[T]) MoveToFront(n *Link[T]) {
	if n == nil || n.owner != l || n == l.head {
		return
	}
	l.unlink(n)
	l.linkAtFront(n)
}

// MoveToBack relocates an already-linked node to the tail of the list.
func (l *List[T]) MoveToBack(n *Link[T]) {
	if n == nil || n.owner != l || n == l.tail {
		return
	}
	l.unlink(n)
	l.linkAtBack(n)
}

// unlink splices n out without touching its owner field, for the
// move-to-front/back internal path; the linkAtFront/linkAtBack call
// that follows restores the count.
func (l *List[T]) unlink(n *Link[T]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.next, n.prev = nil, nil
	l.count--
}

// Store is a List that recycles unlinked links instead of discarding
// them. Use Store when items are
// inserted and removed at a high rate and allocation churn matters,
// which is exactly the cache's LRU spine.
type Store[T any] struct {
	list List[T]
	free []*Link[T]
}

// NewStore returns an empty link store.
func NewStore[T any]() *Store[T] {
	return &Store[T]{}
}

// Len returns the number of links currently linked (not counting the
// free list).
func (s *Store[T]) Len() int { return s.list.count }

// First returns the head link, or nil if the store is empty.
func (s *Store[T]) First() *Link[T] { return s.list.head }

// Last returns the tail link, or nil if the store is empty.
func (s *Store[T]) Last() *Link[T] { return s.list.tail }

// PushFront inserts item at the head of the store, reusing a link from
// the free list when one is available.
func (s *Store[T]) PushFront(item T) *Link[T] {
	n := s.ProvideLink()
	n.Item = item
	s.list.linkAtFront(n)
	return n
}

// PushBack inserts item at the tail of the store, reusing a free link
// when available.
func (s *Store[T]) PushBack(item T) *Link[T] {
	n := s.ProvideLink()
	n.Item = item
	s.list.linkAtBack(n)
	return n
}

// ProvideLink fetches a link from the free list, allocating one when
// none is available. The returned link is unlinked and carries the
// zero Item.
func (s *Store[T]) ProvideLink() *Link[T] {
	if n := len(s.free); n > 0 {
		link := s.free[n-1]
		s.free = s.free[:n-1]
		return link
	}
	return &Link[T]{}
}

// ConsumeLink adds a usable link to the store's free list for reuse.
// A link still linked into the store is unlinked first; the carried
// Item is released.
func (s *Store[T]) ConsumeLink(n *Link[T]) {
	if n == nil {
		return
	}
	if n.owner == &s.list {
		s.list.Remove(n)
	}
	var zero T
	n.Item = zero
	s.free = append(s.free, n)
}

// Remove unlinks n and returns it to the free list for reuse.
func (s *Store[T]) Remove(n *Link[T]) {
	if n == nil || n.owner != &s.list {
		return
	}
	s.ConsumeLink(n)
}

// MoveToFront relocates n to the head without allocating.
func (s *Store[T]) MoveToFront(n *Link[T]) { s.list.MoveToFront(n) }

// MoveToBack relocates n to the tail without allocating.
func (s *Store[T]) MoveToBack(n *Link[T]) { s.list.MoveToBack(n) }

// Purge discards every recycled link, releasing the memory held by the
// free list. The links currently linked into the store are unaffected.
func (s *Store[T]) Purge() {
	s.free = nil
}
