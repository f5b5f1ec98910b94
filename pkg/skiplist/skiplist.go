// Package skiplist implements a probabilistic skip list keyed by
// integer position rather than value, supporting O(log n) expected
// insert/remove/lookup/replace at arbitrary indices. Each forward
// pointer carries a delta: the number of index positions advanced by
// following it at that level.
package skiplist

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/watt-toolkit/flywheel/pkg/perr"
)

// MaxLevels is the ceiling on a node's level.
const MaxLevels = 16

// forward is one (delta, next) pair per level: delta is the distance,
// in index positions, from this node to the node reached by following
// next at that level.
type forward[V any] struct {
	delta int
	next  *node[V]
}

type node[V any] struct {
	value   V
	forward []forward[V]
}

// List is an index-addressed skip list. The zero value is not usable;
// construct with New.
//
// The header occupies virtual position -1: the first real element is
// at position 0, so a delta of d from the header points at the
// element d-1 positions away, i.e. index d-1.
type List[V any] struct {
	level  int
	header *node[V]
	count  int
	rng    *rand.Rand
}

// New returns an empty skip list.
func New[V any]() *List[V] {
	return &List[V]{
		level:  1,
		header: &node[V]{forward: make([]forward[V], MaxLevels)},
		rng:    rand.New(rand.NewSource(1)),
	}
}

// Len returns the number of elements currently stored.
func (l *List[V]) Len() uint { return uint(l.count) }

// randomLevel draws a level by repeated coin flips (p = 1/2), capped
// at MaxLevels.
func (l *List[V]) randomLevel() int {
	lvl := 1
	for lvl < MaxLevels && l.rng.Intn(2) == 0 {
		lvl++
	}
	return lvl
}

// At returns the value stored at index i.
func (l *List[V]) At(i uint) (V, error) {
	var zero V
	target := int(i)
	if target >= l.count {
		return zero, errors.Wrapf(perr.ErrIndexOutOfRange, "skiplist: index %d out of range [0,%d)", i, l.count)
	}
	update, _ := l.descend(target)
	return update[0].forward[0].next.value, nil
}

// descend walks from the header down through levels, stopping at
// every level on the highest-indexed node whose position is strictly
// less than target. update[lvl] is that stopping node at level lvl;
// updateDist[lvl] is its position. The node at position target, if
// any, is update[0].forward[0].next.
func (l *List[V]) descend(target int) ([]*node[V], []int) {
	update := make([]*node[V], MaxLevels)
	updateDist := make([]int, MaxLevels)
	cur := l.header
	pos := -1
	for lvl := l.level - 1; lvl >= 0; lvl-- {
		for cur.forward[lvl].next != nil && pos+cur.forward[lvl].delta < target {
			pos += cur.forward[lvl].delta
			cur = cur.forward[lvl].next
		}
		update[lvl] = cur
		updateDist[lvl] = pos
	}
	return update, updateDist
}

// Insert places v at index i, shifting everything at or after i one
// position to the right.
func (l *List[V]) Insert(i uint, v V) error {
	target := int(i)
	if target > l.count {
		return errors.Wrapf(perr.ErrIndexOutOfRange, "skiplist: insert index %d out of range [0,%d]", i, l.count)
	}

	update, updateDist := l.descend(target)

	newLevel := l.randomLevel()
	if newLevel > l.level {
		for lvl := l.level; lvl < newLevel; lvl++ {
			update[lvl] = l.header
			updateDist[lvl] = -1
			l.header.forward[lvl].delta = l.count + 1
		}
		l.level = newLevel
	}

	n := &node[V]{value: v, forward: make([]forward[V], newLevel)}
	for lvl := 0; lvl < newLevel; lvl++ {
		predDist := updateDist[lvl]
		pred := update[lvl]
		oldDelta := pred.forward[lvl].delta
		oldNextPos := predDist + oldDelta

		// The old successor shifts one position right, so the new
		// node spans oldNextPos+1-target and the predecessor keeps
		// exactly the distance up to the new node.
		n.forward[lvl].next = pred.forward[lvl].next
		n.forward[lvl].delta = oldNextPos + 1 - target
		pred.forward[lvl].next = n
		pred.forward[lvl].delta = target - predDist
	}
	for lvl := newLevel; lvl < l.level; lvl++ {
		update[lvl].forward[lvl].delta++
	}

	l.count++
	return nil
}

// Remove deletes and returns the value at index i.
func (l *List[V]) Remove(i uint) (V, error) {
	var zero V
	target := int(i)
	if target >= l.count {
		return zero, errors.Wrapf(perr.ErrIndexOutOfRange, "skiplist: remove index %d out of range [0,%d)", i, l.count)
	}

	update, _ := l.descend(target)
	victim := update[0].forward[0].next
	if victim == nil {
		return zero, errors.Wrapf(perr.ErrIndexOutOfRange, "skiplist: remove index %d out of range [0,%d)", i, l.count)
	}

	for lvl := 0; lvl < l.level; lvl++ {
		pred := update[lvl]
		if pred.forward[lvl].next == victim {
			pred.forward[lvl].delta += victim.forward[lvl].delta - 1
			pred.forward[lvl].next = victim.forward[lvl].next
		} else {
			pred.forward[lvl].delta--
		}
	}

	for l.level > 1 && l.header.forward[l.level-1].next == nil {
		l.level--
	}

	l.count--
	return victim.value, nil
}

// Replace swaps the value at index i and returns the previous value;
// no structural change.
func (l *List[V]) Replace(i uint, v V) (V, error) {
	var zero V
	target := int(i)
	if target >= l.count {
		return zero, errors.Wrapf(perr.ErrIndexOutOfRange, "skiplist: replace index %d out of range [0,%d)", i, l.count)
	}
	update, _ := l.descend(target)
	victim := update[0].forward[0].next
	old := victim.value
	victim.value = v
	return old, nil
}
