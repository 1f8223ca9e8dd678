package slotmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMissThenHitReclaim(t *testing.T) {
	tbl := NewTable(8, 1, 2)

	slot, ok := tbl.AcquireSlot()
	if !ok || slot != 0 {
		t.Fatalf("AcquireSlot() = %d, %v, want 0, true", slot, ok)
	}
	tbl.BeginLoad(3, slot)
	tbl.Pin(3)
	if got := tbl.State(3); got != Loading {
		t.Fatalf("State(3) = %s, want loading", got)
	}
	tbl.CompleteLoad(3, nil)
	if !tbl.Valid(3) {
		t.Fatal("Valid(3) = false after CompleteLoad(nil)")
	}
	if got := tbl.State(3); got != ReadyPinned {
		t.Fatalf("State(3) = %s, want ready_pinned", got)
	}

	if ok := tbl.Release(3); !ok {
		t.Fatal("Release(3) = false")
	}
	if got := tbl.State(3); got != ReadyFree {
		t.Fatalf("State(3) = %s, want ready_free", got)
	}
	if tbl.PoolLen() != 2 {
		t.Fatalf("PoolLen() = %d, want 2", tbl.PoolLen())
	}

	// Re-pin before reuse: a reclaim, no reload needed.
	if !tbl.Reclaim(slot) {
		t.Fatal("Reclaim(slot) = false")
	}
	tbl.Pin(3)
	if !tbl.Valid(3) {
		t.Fatal("Valid(3) = false after reclaim")
	}
	if got := tbl.State(3); got != ReadyPinned {
		t.Fatalf("State(3) = %s, want ready_pinned", got)
	}
}

func TestAcquireSlotInvalidatesPriorOwner(t *testing.T) {
	tbl := NewTable(8, 1, 1)

	slot, _ := tbl.AcquireSlot()
	tbl.BeginLoad(1, slot)
	tbl.Pin(1)
	tbl.CompleteLoad(1, nil)
	tbl.Release(1)
	if !tbl.Valid(1) {
		t.Fatal("Valid(1) = false before eviction")
	}

	slot2, ok := tbl.AcquireSlot()
	if !ok || slot2 != slot {
		t.Fatalf("AcquireSlot() = %d, %v, want %d, true (only slot recycled)", slot2, ok, slot)
	}
	if tbl.Valid(1) {
		t.Fatal("Valid(1) = true after its slot was reacquired")
	}
	if got := tbl.State(1); got != Evicted {
		t.Fatalf("State(1) = %s, want evicted", got)
	}
}

func TestReleaseWithoutPinFails(t *testing.T) {
	tbl := NewTable(4, 1, 1)
	if ok := tbl.Release(0); ok {
		t.Fatal("Release(0) = true on a never-pinned key")
	}
}

func TestInRange(t *testing.T) {
	tbl := NewTable(4, 1, 1)
	if !tbl.InRange(0) || !tbl.InRange(3) {
		t.Fatal("InRange rejected a key inside [0, nodeCount)")
	}
	if tbl.InRange(-1) || tbl.InRange(4) {
		t.Fatal("InRange accepted a key outside [0, nodeCount)")
	}
}

func TestFreePoolFIFOOrder(t *testing.T) {
	fp := newFreePool(4)
	for i := int64(0); i < 4; i++ {
		fp.pushTail(i)
	}
	var order []int64
	for i := 0; i < 4; i++ {
		got, ok := fp.popHead()
		if !ok {
			t.Fatalf("popHead() ok = false before pool exhausted")
		}
		order = append(order, got)
	}
	if diff := cmp.Diff([]int64{0, 1, 2, 3}, order); diff != "" {
		t.Fatalf("pop order mismatch (-want +got):\n%s", diff)
	}
	if _, ok := fp.popHead(); ok {
		t.Fatal("popHead() on empty pool returned ok=true")
	}
}

func TestFreePoolRemoveFromMiddle(t *testing.T) {
	fp := newFreePool(4)
	fp.pushTail(0)
	fp.pushTail(1)
	fp.pushTail(2)
	if !fp.remove(1) {
		t.Fatal("remove(1) = false")
	}
	if fp.contains(1) {
		t.Fatal("contains(1) = true after remove")
	}
	if fp.len() != 2 {
		t.Fatalf("len() = %d, want 2", fp.len())
	}
	var order []int64
	for i := 0; i < 2; i++ {
		got, ok := fp.popHead()
		if !ok {
			t.Fatalf("popHead() ok = false before pool exhausted")
		}
		order = append(order, got)
	}
	if diff := cmp.Diff([]int64{0, 2}, order); diff != "" {
		t.Fatalf("pop order mismatch after remove (-want +got):\n%s", diff)
	}
}
