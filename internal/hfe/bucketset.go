package hfe

import (
	"container/heap"
	"container/list"
)

// bucketWidthMs coarsens expire times into buckets a few seconds wide. Items
// inside the same bucket are not kept in strict order; only the guarantee
// across buckets holds (see ExpireNewDiffThreshold).
const bucketWidthMs = uint64(5000)

// ExpireNewDiffThreshold is HASH_NEW_EXPIRE_DIFF_THRESHOLD: the minimum
// change in a hash's min-expire that justifies touching the global index
// (C6). max(4s, bucket width).
const ExpireNewDiffThreshold = bucketWidthMs

// ExpirySlot is the embedded header an item carries so a BucketSet can
// locate, relink, and report its expire time in O(1) without a secondary
// lookup. It is the Go-native stand-in for the spec's intrusive,
// pointer-tagged expiry header (see SPEC_FULL.md Open Question 3).
type ExpirySlot struct {
	expireAt  uint64
	trash     bool // true iff not currently linked into any bucket
	bucketKey uint64
	elem      *list.Element
}

// Trash reports whether the slot is currently unlinked from any bucket set.
func (s *ExpirySlot) Trash() bool { return s.trash }

// Expirable is implemented by anything a BucketSet can index: it must be
// able to hand back the embedded ExpirySlot that stores its link state.
type Expirable interface {
	expirySlot() *ExpirySlot
}

// bucketKeyHeap is a min-heap of bucket keys, used to find the smallest
// non-empty bucket in O(log b). Stale keys (for buckets that have since
// emptied) are popped lazily.
type bucketKeyHeap []uint64

func (h bucketKeyHeap) Len() int            { return len(h) }
func (h bucketKeyHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h bucketKeyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *bucketKeyHeap) Push(x interface{}) { *h = append(*h, x.(uint64)) }
func (h *bucketKeyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

type bucketNode struct {
	items *list.List
	min   uint64
}

// BucketSet is a bucketed expiry index over items of type T: coarse-grained
// time-wheel style, supporting peek-min, add, remove, and a quota-bounded
// sweep. It realizes both C5 (per-hash field expiry index) and C6 (global
// hash expiry index) of the specification, parameterized over the item
// type.
type BucketSet[T Expirable] struct {
	buckets map[uint64]*bucketNode
	heap    bucketKeyHeap
	count   int
}

// NewBucketSet constructs an empty bucket set.
func NewBucketSet[T Expirable]() *BucketSet[T] {
	return &BucketSet[T]{buckets: make(map[uint64]*bucketNode)}
}

func bucketKeyFor(expireAt uint64) uint64 {
	return expireAt / bucketWidthMs
}

// Len returns the number of items currently linked into the set.
func (b *BucketSet[T]) Len() int { return b.count }

// Add places item in the bucket whose range contains expireAt, moving it
// out of any bucket it currently occupies first. Sets trash=false.
func (b *BucketSet[T]) Add(item T, expireAt uint64) {
	slot := item.expirySlot()
	if !slot.trash {
		b.Remove(item)
	}

	key := bucketKeyFor(expireAt)
	node, ok := b.buckets[key]
	if !ok {
		node = &bucketNode{items: list.New(), min: expireAt}
		b.buckets[key] = node
		heap.Push(&b.heap, key)
	} else if expireAt < node.min {
		node.min = expireAt
	}

	slot.expireAt = expireAt
	slot.bucketKey = key
	slot.elem = node.items.PushBack(item)
	slot.trash = false
	b.count++
}

// Remove detaches item from whichever bucket it occupies. Sets trash=true.
// A no-op if the item is already detached.
func (b *BucketSet[T]) Remove(item T) {
	slot := item.expirySlot()
	if slot.trash || slot.elem == nil {
		return
	}

	node, ok := b.buckets[slot.bucketKey]
	if ok {
		node.items.Remove(slot.elem)
		b.count--
		if node.items.Len() == 0 {
			delete(b.buckets, slot.bucketKey)
		} else if slot.expireAt == node.min {
			node.min = recomputeMin[T](node.items)
		}
	}

	slot.elem = nil
	slot.trash = true
}

func recomputeMin[T Expirable](items *list.List) uint64 {
	min := ExpireInvalid
	for e := items.Front(); e != nil; e = e.Next() {
		if at := e.Value.(T).expirySlot().expireAt; at < min {
			min = at
		}
	}
	return min
}

// PeekMin returns the expire time of the minimum item, or ExpireInvalid if
// the set is empty. Exploits the smallest non-empty bucket's tracked
// minimum; does not imply strict ordering between items of the same bucket.
func (b *BucketSet[T]) PeekMin() uint64 {
	for b.heap.Len() > 0 {
		key := b.heap[0]
		node, ok := b.buckets[key]
		if !ok || node.items.Len() == 0 {
			heap.Pop(&b.heap)
			continue
		}
		return node.min
	}
	return ExpireInvalid
}

// NextToExpire is an alias for PeekMin, named to match the spec's external
// vocabulary.
func (b *BucketSet[T]) NextToExpire() uint64 { return b.PeekMin() }

// MaxExpire returns the maximum expire time across all items, or
// ExpireInvalid if empty. Used only for diagnostics/tests; unlike PeekMin it
// is not optimized (full scan).
func (b *BucketSet[T]) MaxExpire() uint64 {
	max := ExpireInvalid
	found := false
	for _, node := range b.buckets {
		for e := node.items.Front(); e != nil; e = e.Next() {
			at := e.Value.(T).expirySlot().expireAt
			if !found || at > max {
				max = at
				found = true
			}
		}
	}
	if !found {
		return ExpireInvalid
	}
	return max
}

// ExpireDryRun counts items whose expire time is <= now, without removing
// anything.
func (b *BucketSet[T]) ExpireDryRun(now uint64) uint64 {
	var count uint64
	for key, node := range b.buckets {
		if key*bucketWidthMs > now {
			continue
		}
		for e := node.items.Front(); e != nil; e = e.Next() {
			if e.Value.(T).expirySlot().expireAt <= now {
				count++
			}
		}
	}
	return count
}

// ExpireOutcome is a callback's verdict for one expired item.
type ExpireOutcome uint8

const (
	// ExpireRemove (the default) detaches the item permanently.
	ExpireRemove ExpireOutcome = iota
	// ExpireUpdateOutcome re-buckets the item at a new expire time instead
	// of removing it.
	ExpireUpdateOutcome
	// ExpireStop halts the sweep entirely, leaving the current item
	// untouched (used when a quota is exhausted mid-item).
	ExpireStop
)

// ExpireCallback is invoked for each item due to expire. It returns the
// outcome and, for ExpireUpdateOutcome, the item's new expire time.
type ExpireCallback[T Expirable] func(item T) (ExpireOutcome, uint64)

// Expire sweeps items whose expire time is <= now, invoking cb for each, up
// to maxToExpire invocations that result in Remove or Update (Stop does not
// count). Returns the number of items processed and the resulting
// PeekMin().
func (b *BucketSet[T]) Expire(now uint64, maxToExpire uint64, cb ExpireCallback[T]) (itemsExpired uint64, nextExpire uint64) {
	var expired uint64

outer:
	for b.heap.Len() > 0 {
		key := b.heap[0]
		node, ok := b.buckets[key]
		if !ok || node.items.Len() == 0 {
			heap.Pop(&b.heap)
			delete(b.buckets, key)
			continue
		}
		if node.min > now {
			break
		}

		e := node.items.Front()
		for e != nil {
			if expired >= maxToExpire {
				break outer
			}

			next := e.Next()
			item := e.Value.(T)
			slot := item.expirySlot()
			if slot.expireAt > now {
				e = next
				continue
			}

			outcome, newExpire := cb(item)
			if outcome == ExpireStop {
				break outer
			}

			node.items.Remove(e)
			b.count--
			slot.elem = nil
			slot.trash = true
			expired++

			if outcome == ExpireUpdateOutcome {
				b.Add(item, newExpire)
			}

			e = next
		}

		if node.items.Len() == 0 {
			delete(b.buckets, key)
			heap.Pop(&b.heap)
		} else {
			node.min = recomputeMin[T](node.items)
		}
	}

	return expired, b.PeekMin()
}
