package slotmap

// freePool is an intrusive, array-backed doubly linked list of unpinned
// slots, FIFO ordered (oldest-freed first). Because slot indices are dense
// and known at construction time, each slot owns its own list node rather
// than needing a side map keyed by slot — the design notes in spec.md §9
// ask for O(1) reclaim without scanning; this gets there without even the
// hash lookup a slot->node map would need.
type freePool struct {
	prev, next []int64 // -1 sentinel for list ends
	inList     []bool
	head, tail int64
	count      int64
}

const sentinel = -1

func newFreePool(slots int64) *freePool {
	fp := &freePool{
		prev:   make([]int64, slots),
		next:   make([]int64, slots),
		inList: make([]bool, slots),
		head:   sentinel,
		tail:   sentinel,
	}
	for i := range fp.prev {
		fp.prev[i] = sentinel
		fp.next[i] = sentinel
	}
	return fp
}

// pushTail appends slot to the tail of the free list. The caller must
// ensure slot is not already present.
func (fp *freePool) pushTail(slot int64) {
	fp.prev[slot] = fp.tail
	fp.next[slot] = sentinel
	if fp.tail != sentinel {
		fp.next[fp.tail] = slot
	} else {
		fp.head = slot
	}
	fp.tail = slot
	fp.inList[slot] = true
	fp.count++
}

// popHead removes and returns the oldest free slot. Returns (0, false) if
// empty.
func (fp *freePool) popHead() (int64, bool) {
	if fp.head == sentinel {
		return 0, false
	}
	slot := fp.head
	fp.remove(slot)
	return slot, true
}

// remove detaches slot from wherever it sits in the list. No-op if slot is
// not currently in the list.
func (fp *freePool) remove(slot int64) bool {
	if !fp.inList[slot] {
		return false
	}
	p, n := fp.prev[slot], fp.next[slot]
	if p != sentinel {
		fp.next[p] = n
	} else {
		fp.head = n
	}
	if n != sentinel {
		fp.prev[n] = p
	} else {
		fp.tail = p
	}
	fp.prev[slot] = sentinel
	fp.next[slot] = sentinel
	fp.inList[slot] = false
	fp.count--
	return true
}

// contains reports whether slot currently sits in the free list.
func (fp *freePool) contains(slot int64) bool {
	return fp.inList[slot]
}

// len reports the number of slots currently free.
func (fp *freePool) len() int64 {
	return fp.count
}
