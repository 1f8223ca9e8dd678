// Package slotmap implements the key table and slot free pool at the
// heart of featurecache: a dense array of KeyEntry records indexed by
// grouped key, and a FIFO free pool used for LRU-for-reuse slot recycling.
// It is keyed by a dense integer range rather than a split hash trie,
// since the feature-cache key space is bounded and contiguous (spec.md §3).
package slotmap

import (
	"sync"
	"sync/atomic"
)

// entry is a single KeyEntry. pin and slot are mutated only while the
// owning Table's mutex is held; valid and failed are published by the
// completion path without the mutex and observed by spin-waiters, per the
// single-writer publication requirement in spec.md §5.
type entry struct {
	pin    int32
	slot   int64 // -1 until a slot has ever been assigned
	valid  atomic.Bool
	failed atomic.Bool
}

// Table is the dense KeyEntry array plus the slot free pool and the
// back-pointer array (slot -> owning grouped key). All mutating methods
// require the caller to hold the Table's lock (via Lock/Unlock);
// CompleteLoad is the one exception, publishing its result lock-free so
// spin-waiters never contend with it. Valid and Failed read those flags
// without the lock.
type Table struct {
	mu sync.Mutex

	groupSize  int64
	nodeCount  int64
	cacheSlots int64

	entries []entry
	back    []int64 // slot index -> owning grouped key, -1 if unowned
	pool    *freePool
}

// NewTable allocates a Table sized for nodeCount grouped-key slots (the
// entries array is indexed directly by grouped key, so nodeCount should be
// at least the caller's node_count) and cacheSlots physical slots, all
// initially free.
func NewTable(nodeCount, groupSize, cacheSlots int64) *Table {
	t := &Table{
		groupSize:  groupSize,
		nodeCount:  nodeCount,
		cacheSlots: cacheSlots,
		entries:    make([]entry, nodeCount),
		back:       make([]int64, cacheSlots),
		pool:       newFreePool(cacheSlots),
	}
	for i := range t.entries {
		t.entries[i].slot = -1
	}
	for i := range t.back {
		t.back[i] = -1
	}
	for s := int64(0); s < cacheSlots; s++ {
		t.pool.pushTail(s)
	}
	return t
}

// Lock acquires the table's update mutex. Classification, pinning,
// free-pool mutation, and slot assignment all happen while it is held.
func (t *Table) Lock() { t.mu.Lock() }

// Unlock releases the table's update mutex.
func (t *Table) Unlock() { t.mu.Unlock() }

// GroupSize returns the configured group size.
func (t *Table) GroupSize() int64 { return t.groupSize }

// NodeCount returns the size of the grouped-key entry array.
func (t *Table) NodeCount() int64 { return t.nodeCount }

// CacheSlots returns the number of physical slots.
func (t *Table) CacheSlots() int64 { return t.cacheSlots }

// InRange reports whether a grouped key falls inside the entry array.
func (t *Table) InRange(groupKey int64) bool {
	return groupKey >= 0 && groupKey < t.nodeCount
}

// PinCount returns the current pin count for a grouped key. Caller must
// hold the lock.
func (t *Table) PinCount(groupKey int64) int32 { return t.entries[groupKey].pin }

// Slot returns the slot currently (or most recently) assigned to a grouped
// key, or -1 if none has ever been assigned. Caller must hold the lock,
// unless the caller holds a pin on groupKey: a pinned key's slot can only
// change under BeginLoad, which never runs against an already-pinned key,
// so a pinning caller may read Slot after releasing the lock so long as it
// has not yet dropped its pin.
func (t *Table) Slot(groupKey int64) int64 { return t.entries[groupKey].slot }

// Valid reports whether the slot assigned to groupKey currently holds that
// key's on-disk data. Safe to call without the lock.
func (t *Table) Valid(groupKey int64) bool { return t.entries[groupKey].valid.Load() }

// Failed reports whether the in-flight load for groupKey ended in error.
// Safe to call without the lock.
func (t *Table) Failed(groupKey int64) bool { return t.entries[groupKey].failed.Load() }

// Pin increments the pin count for a grouped key. Caller must hold the
// lock.
func (t *Table) Pin(groupKey int64) { t.entries[groupKey].pin++ }

// Release decrements the pin count for a grouped key. If it reaches zero
// and a slot is assigned, the slot rejoins the free pool without being
// invalidated (spec.md invariant 2). ok is false if the key's pin count
// was already zero (a programmer error: over-release).
func (t *Table) Release(groupKey int64) (ok bool) {
	e := &t.entries[groupKey]
	if e.pin <= 0 {
		return false
	}
	e.pin--
	if e.pin == 0 && e.slot >= 0 {
		t.pool.pushTail(e.slot)
	}
	return true
}

// Reclaim removes a slot from the free pool without disturbing its
// contents — used when a HIT is found whose pin count was zero. Caller
// must hold the lock.
func (t *Table) Reclaim(slot int64) bool { return t.pool.remove(slot) }

// AcquireSlot pops the oldest free slot. If that slot was previously owned
// by some key, that key's valid flag is cleared (its data is about to be
// overwritten — spec.md §4.1). ok is false if the pool is empty. Caller
// must hold the lock.
func (t *Table) AcquireSlot() (slot int64, ok bool) {
	slot, ok = t.pool.popHead()
	if !ok {
		return 0, false
	}
	if prev := t.back[slot]; prev >= 0 {
		t.entries[prev].valid.Store(false)
	}
	return slot, true
}

// BeginLoad assigns slot to groupKey, records the back-pointer (clearing it
// on any different slot the key last held), and clears valid/failed ahead
// of a new read. Caller must hold the lock.
func (t *Table) BeginLoad(groupKey, slot int64) {
	if old := t.entries[groupKey].slot; old >= 0 && old != slot && t.back[old] == groupKey {
		t.back[old] = -1
	}
	t.entries[groupKey].slot = slot
	t.back[slot] = groupKey
	t.entries[groupKey].valid.Store(false)
	t.entries[groupKey].failed.Store(false)
}

// CompleteLoad is called by the I/O completion path, without the lock
// held, to publish the outcome of a read: err == nil marks the entry
// valid; a non-nil err marks it failed instead (spec.md §9 REDESIGN FLAG:
// a failed read must never be reported as valid).
func (t *Table) CompleteLoad(groupKey int64, err error) {
	if err != nil {
		t.entries[groupKey].failed.Store(true)
		return
	}
	t.entries[groupKey].valid.Store(true)
}

// State derives the lifecycle state of groupKey from its pin count and
// valid/failed flags, per spec.md §4.7. Caller must hold the lock.
func (t *Table) State(groupKey int64) State {
	e := &t.entries[groupKey]
	if e.failed.Load() {
		return Errored
	}
	if e.slot < 0 {
		return Cold
	}
	valid := e.valid.Load()
	pinned := e.pin > 0
	switch {
	case !valid && pinned:
		return Loading
	case valid && pinned:
		return ReadyPinned
	case valid && !pinned:
		return ReadyFree
	default:
		return Evicted
	}
}

// BackOwner returns the grouped key currently owning slot, or -1 if the
// slot has never been assigned. Caller must hold the lock.
func (t *Table) BackOwner(slot int64) int64 { return t.back[slot] }

// PoolLen returns the number of currently free slots.
func (t *Table) PoolLen() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pool.len()
}
