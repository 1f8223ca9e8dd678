package featurecache

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gholt/featurecache/device"
	"github.com/gholt/featurecache/dio"
)

// writeRowFile writes rows rows of rowDim float32 each; row r, column c
// holds float32(r*1000+c), so any row read back can be checked against its
// expected key.
func writeRowFile(t *testing.T, rows, rowDim int64) string {
	t.Helper()
	dir := t.TempDir()
	name := filepath.Join(dir, "rows.bin")
	buf := make([]byte, rows*rowDim*4)
	for r := int64(0); r < rows; r++ {
		for c := int64(0); c < rowDim; c++ {
			v := float32(r*1000 + c)
			binary.LittleEndian.PutUint32(buf[(r*rowDim+c)*4:], math.Float32bits(v))
		}
	}
	if err := os.WriteFile(name, buf, 0o644); err != nil {
		t.Fatal(err)
	}
	return name
}

func checkRow(t *testing.T, tensor Tensor, row, wantKey int64) {
	t.Helper()
	for c := int64(0); c < tensor.Cols; c++ {
		want := float32(wantKey*1000 + c)
		got := tensor.Data[row*tensor.Cols+c]
		if got != want {
			t.Fatalf("tensor row %d col %d = %v, want %v (key %d)", row, c, got, want, wantKey)
		}
	}
}

func newTestCache(t *testing.T, nodeCount, rowDim, bufferSize int64, alignment int, variant Variant, dev device.Device, stageSize int64) *Cache {
	t.Helper()
	name := writeRowFile(t, nodeCount, rowDim)
	opts := NewOpts("FEATURECACHETEST_",
		OptFilename(name),
		OptNodeCount(nodeCount),
		OptRowDim(rowDim),
		OptBufferSize(bufferSize),
		OptVariant(variant),
		OptAlignmentBytes(alignment),
		OptOpener(dio.OpenPlain),
		OptWorkers(2),
		OptSubmissionDepth(8),
		OptEventBufferSize(4),
		OptStageSize(stageSize),
	)
	c, err := New(opts, dev)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestColdMissThenHitReuse(t *testing.T) {
	c := newTestCache(t, 8, 4, 4, 16, VariantCPU, nil, 0) // alignment == rowBytes so groupSize=1
	ctx := context.Background()

	remap, err := c.AsyncLoad(ctx, []int64{2}, 0, 1)
	if err != nil {
		t.Fatalf("AsyncLoad miss: %v", err)
	}
	checkRow(t, c.GetTensor(), remap[0], 2)
	if err := c.Release([]int64{2}); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Key stays valid after release (reclaim path), no reload needed.
	if !c.table.Valid(2) {
		t.Fatal("key 2 not valid after release")
	}
	remap2, err := c.AsyncLoad(ctx, []int64{2}, 0, 1)
	if err != nil {
		t.Fatalf("AsyncLoad reclaim: %v", err)
	}
	if remap2[0] != remap[0] {
		t.Fatalf("reclaim remapped to a different row: %d != %d", remap2[0], remap[0])
	}
	checkRow(t, c.GetTensor(), remap2[0], 2)
	if err := c.Release([]int64{2}); err != nil {
		t.Fatal(err)
	}
}

func TestEvictionReloadsCorrectData(t *testing.T) {
	c := newTestCache(t, 8, 4, 1, 16, VariantCPU, nil, 0) // single slot forces eviction
	ctx := context.Background()

	remapA, err := c.AsyncLoad(ctx, []int64{0}, 0, 1)
	if err != nil {
		t.Fatalf("load 0: %v", err)
	}
	checkRow(t, c.GetTensor(), remapA[0], 0)
	if err := c.Release([]int64{0}); err != nil {
		t.Fatal(err)
	}

	remapB, err := c.AsyncLoad(ctx, []int64{1}, 0, 1)
	if err != nil {
		t.Fatalf("load 1: %v", err)
	}
	checkRow(t, c.GetTensor(), remapB[0], 1)
	if c.table.Valid(0) {
		t.Fatal("key 0 still valid after its only slot was evicted")
	}
	if err := c.Release([]int64{1}); err != nil {
		t.Fatal(err)
	}

	// Reloading the evicted key must re-read from disk, not surface stale data.
	remapA2, err := c.AsyncLoad(ctx, []int64{0}, 0, 1)
	if err != nil {
		t.Fatalf("reload 0: %v", err)
	}
	checkRow(t, c.GetTensor(), remapA2[0], 0)
	if err := c.Release([]int64{0}); err != nil {
		t.Fatal(err)
	}
}

func TestDuplicateKeyInBatchDedups(t *testing.T) {
	c := newTestCache(t, 8, 4, 4, 16, VariantCPU, nil, 0)
	ctx := context.Background()

	remap, err := c.AsyncLoad(ctx, []int64{5, 5, 5}, 0, 1)
	if err != nil {
		t.Fatalf("AsyncLoad: %v", err)
	}
	for i, r := range remap {
		checkRow(t, c.GetTensor(), r, 5)
		if r != remap[0] {
			t.Fatalf("occurrence %d remapped to %d, want %d", i, r, remap[0])
		}
	}
	if got := c.table.PinCount(5); got != 3 {
		t.Fatalf("PinCount(5) = %d, want 3 (one pin per occurrence)", got)
	}
	if err := c.Release([]int64{5, 5}); err != nil {
		t.Fatal(err)
	}
	if got := c.table.PinCount(5); got != 1 {
		t.Fatalf("PinCount(5) = %d, want 1 after two releases", got)
	}
	if err := c.Release([]int64{5}); err != nil {
		t.Fatal(err)
	}
	if got := c.table.PinCount(5); got != 0 {
		t.Fatalf("PinCount(5) = %d, want 0", got)
	}
}

func TestGroupingSharesOneRead(t *testing.T) {
	// rowBytes=16, alignment=64 -> groupSize=4; keys 0 and 2 share group key 0.
	c := newTestCache(t, 8, 4, 4, 64, VariantCPU, nil, 0)
	if c.groupSize != 4 {
		t.Fatalf("groupSize = %d, want 4", c.groupSize)
	}
	ctx := context.Background()

	remap, err := c.AsyncLoad(ctx, []int64{0, 2}, 0, 1)
	if err != nil {
		t.Fatalf("AsyncLoad: %v", err)
	}
	checkRow(t, c.GetTensor(), remap[0], 0)
	checkRow(t, c.GetTensor(), remap[1], 2)
	if remap[1]-remap[0] != 2 {
		t.Fatalf("remap offsets not 2 apart within the group: %d, %d", remap[0], remap[1])
	}
	if err := c.Release([]int64{0, 2}); err != nil {
		t.Fatal(err)
	}
}

func TestPoolExhaustionRollsBackPins(t *testing.T) {
	c := newTestCache(t, 8, 4, 1, 16, VariantCPU, nil, 0) // one slot, two distinct misses
	ctx := context.Background()

	_, err := c.AsyncLoad(ctx, []int64{0, 1}, 0, 1)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("AsyncLoad err = %v, want ErrPoolExhausted", err)
	}
	if got := c.table.PinCount(0); got != 0 {
		t.Fatalf("PinCount(0) = %d, want 0 after rollback", got)
	}
	if got := c.table.PinCount(1); got != 0 {
		t.Fatalf("PinCount(1) = %d, want 0 after rollback", got)
	}
	if c.table.PoolLen() != 1 {
		t.Fatalf("PoolLen() = %d, want 1 (slot returned to pool)", c.table.PoolLen())
	}
}

func TestKeyRangeRollsBackEarlierPins(t *testing.T) {
	c := newTestCache(t, 8, 4, 4, 16, VariantCPU, nil, 0)
	ctx := context.Background()

	_, err := c.AsyncLoad(ctx, []int64{0, 99}, 0, 1)
	if !errors.Is(err, ErrKeyRange) {
		t.Fatalf("AsyncLoad err = %v, want ErrKeyRange", err)
	}
	if got := c.table.PinCount(0); got != 0 {
		t.Fatalf("PinCount(0) = %d, want 0 after rollback", got)
	}
}

func TestReleaseWithoutPin(t *testing.T) {
	c := newTestCache(t, 8, 4, 4, 16, VariantCPU, nil, 0)
	if err := c.Release([]int64{0}); !errors.Is(err, ErrUnpinned) {
		t.Fatalf("Release err = %v, want ErrUnpinned", err)
	}
}

func TestDeviceVariantRoundTrip(t *testing.T) {
	var dev device.Simulated
	c := newTestCache(t, 8, 4, 4, 16, VariantGPU, dev, 4)
	ctx := context.Background()

	remap, err := c.AsyncLoad(ctx, []int64{3}, 0, 1)
	if err != nil {
		t.Fatalf("AsyncLoad: %v", err)
	}
	checkRow(t, c.GetTensor(), remap[0], 3)
	if err := c.Release([]int64{3}); err != nil {
		t.Fatal(err)
	}
}

func TestStagingExhaustionRollsBackPins(t *testing.T) {
	var dev device.Simulated
	c := newTestCache(t, 8, 4, 4, 16, VariantGPU, dev, 1) // one staging slot, two misses
	ctx := context.Background()

	_, err := c.AsyncLoad(ctx, []int64{0, 1}, 0, 1)
	if !errors.Is(err, ErrStagingExhausted) {
		t.Fatalf("AsyncLoad err = %v, want ErrStagingExhausted", err)
	}
	if got := c.table.PinCount(0); got != 0 {
		t.Fatalf("PinCount(0) = %d, want 0 after rollback", got)
	}
}

func TestUnsupportedVariantRejected(t *testing.T) {
	name := writeRowFile(t, 4, 4)
	opts := NewOpts("FEATURECACHETEST_",
		OptFilename(name),
		OptNodeCount(4),
		OptRowDim(4),
		OptBufferSize(2),
		OptVariant(VariantGDS),
		OptOpener(dio.OpenPlain),
	)
	if _, err := New(opts, nil); !errors.Is(err, ErrUnsupportedVariant) {
		t.Fatalf("New err = %v, want ErrUnsupportedVariant", err)
	}
}
