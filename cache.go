package featurecache

import (
	"context"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/gholt/featurecache/device"
	"github.com/gholt/featurecache/dio"
	"github.com/gholt/featurecache/ioengine"
	"github.com/gholt/featurecache/slotmap"
)

// Tensor is a flat, row-major view over a Cache's backing buffer: Data has
// Rows*Cols float32 elements, row r occupying Data[r*Cols : r*Cols+Cols].
type Tensor struct {
	Data []float32
	Rows int64
	Cols int64
}

// Cache is the feature-vector offload cache described by spec.md §1-§5: a
// fixed-size pool of cache_slots groups, each group_size rows wide, served
// from a direct-I/O file and exposed as a flat tensor. It owns the key
// table, the backing file, and the update mutex the same way a KV store's
// top-level handle owns its index and storage, with the hash trie replaced
// by a dense array since the key space here is a bounded integer range.
type Cache struct {
	opts      *Opts
	file      dio.File
	table     *slotmap.Table
	groupSize int64
	rowBytes  int64
	readBytes int64

	slotStride int64 // bytes per slot in the exposed tensor buffer (no padding)
	hostBuf    []byte

	// device variant only
	deviceBuf     []byte
	stagingBuf    []byte
	stagingStride int64
	stageMap      []int64
	dev           device.Device

	closed bool
}

// New constructs a Cache from opts, opening the backing file and allocating
// the host buffer (CPU variant) or the staging and device buffers (device
// variant).
// Callers own opts and must not mutate it afterward.
func New(opts *Opts, dev device.Device) (*Cache, error) {
	if opts.Variant != VariantCPU && opts.Variant != VariantGPU {
		return nil, ErrUnsupportedVariant
	}
	opener := opts.Opener
	if opener == nil {
		opener = dio.Open
	}
	file, err := opener(opts.Filename, opts.AlignmentBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOSetup, err)
	}

	rowBytes := opts.RowDim * 4
	groupSize := GroupSize(int(rowBytes), opts.AlignmentBytes)
	readBytes := ReadBytes(rowBytes, opts.AlignmentBytes)
	slotStride := groupSize * rowBytes

	table := slotmap.NewTable(opts.NodeCount, groupSize, opts.BufferSize)

	c := &Cache{
		opts:      opts,
		file:      file,
		table:     table,
		groupSize: groupSize,
		rowBytes:  rowBytes,
		readBytes: readBytes,

		slotStride: slotStride,
		dev:        dev,
	}

	if opts.Variant != VariantGPU {
		hostBytes := roundUp(roundUp(opts.BufferSize*slotStride, int64(opts.AlignmentBytes)), int64(opts.PageSize))
		c.hostBuf = dio.AlignedBuffer(int(hostBytes), opts.PageSize)
	}

	if opts.Variant == VariantGPU {
		c.deviceBuf = make([]byte, opts.BufferSize*slotStride)
		c.stagingStride = slotStride
		if readBytes > c.stagingStride {
			c.stagingStride = readBytes
		}
		stageBytes := roundUp(roundUp(opts.StageSize*c.stagingStride, int64(opts.AlignmentBytes)), int64(opts.PageSize))
		c.stagingBuf = dio.AlignedBuffer(int(stageBytes), opts.PageSize)
		c.stageMap = make([]int64, opts.NodeCount)
	}

	return c, nil
}

func roundUp(n, multiple int64) int64 {
	if multiple <= 0 || n%multiple == 0 {
		return n
	}
	return n + (multiple - n%multiple)
}

// Close releases the backing file. It does not wait for any in-flight
// batch; callers must ensure no AsyncLoad call is concurrently in progress.
func (c *Cache) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.file.Close()
}

// Release drops one pin per key. A key whose pin count reaches zero rejoins
// the free pool (still valid, available for reclaim) without being
// invalidated. Returns ErrUnpinned if any key's pin count was already zero,
// and ErrKeyRange if any key maps outside the configured node count; keys
// before the offending one have already had their pin dropped.
func (c *Cache) Release(keys []int64) error {
	if c.closed {
		return ErrClosed
	}
	c.table.Lock()
	defer c.table.Unlock()
	for _, raw := range keys {
		gk, _ := Split(raw, c.groupSize)
		if raw < 0 || raw >= c.opts.NodeCount {
			return ErrKeyRange
		}
		if ok := c.table.Release(gk); !ok {
			return ErrUnpinned
		}
	}
	return nil
}

// batch accumulates the bookkeeping AsyncLoad needs to unwind a partially
// built request on any error path, and to apply completions as they land.
type batch struct {
	c          *Cache
	pinned     []int64 // grouped keys pinned so far this call, in pin order
	waitKeys   map[int64]bool
	ioCtx      *ioengine.Context
	stream     device.Stream
	pendingCPU map[int64][]byte // groupKey -> bounce buffer, CPU variant only
	submitted  int
	completed  int // completions applied so far, via TryReap or DrainBatch
}

func (b *batch) rollback() {
	b.c.table.Lock()
	for _, gk := range b.pinned {
		b.c.table.Release(gk)
	}
	b.c.table.Unlock()
	b.teardown()
}

func (b *batch) teardown() {
	if b.ioCtx != nil {
		b.ioCtx.Close()
		b.ioCtx = nil
	}
	if b.stream != nil {
		b.stream.Close()
		b.stream = nil
	}
}

func (b *batch) ensureEngine() {
	if b.ioCtx == nil {
		b.ioCtx = ioengine.NewContext(b.c.file, b.c.opts.Workers, b.c.opts.SubmissionDepth)
		if b.c.opts.Variant == VariantGPU {
			b.stream = b.c.dev.NewStream()
		}
		if b.c.opts.Variant == VariantCPU {
			b.pendingCPU = map[int64][]byte{}
		}
	}
}

// applyCompletion copies loaded bytes into the exposed buffer (CPU) or
// enqueues the host->device copy (GPU), then publishes the outcome. The
// slot lookup is safe without the table lock: this key stays pinned for the
// whole batch, so AcquireSlot cannot reassign it out from under us.
func (b *batch) applyCompletion(comp ioengine.Completion) {
	c := b.c
	if comp.Err != nil {
		c.table.CompleteLoad(comp.Key, comp.Err)
		c.opts.LogFunc("featurecache: read failed for key %d: %v", comp.Key, comp.Err)
		delete(b.pendingCPU, comp.Key)
		return
	}
	slot := c.table.Slot(comp.Key)
	if c.opts.Variant == VariantGPU {
		hostIndex := c.stageMap[comp.Key]
		src := c.stagingBuf[hostIndex*c.stagingStride : hostIndex*c.stagingStride+c.slotStride]
		dst := c.deviceBuf[slot*c.slotStride : slot*c.slotStride+c.slotStride]
		c.table.CompleteLoad(comp.Key, nil)
		if err := b.stream.CopyAsync(dst, src); err != nil {
			c.opts.LogFunc("featurecache: device copy failed for key %d: %v", comp.Key, err)
		}
		return
	}
	buf := b.pendingCPU[comp.Key]
	dst := c.hostBuf[slot*c.slotStride : slot*c.slotStride+c.slotStride]
	copy(dst, buf[:c.slotStride])
	delete(b.pendingCPU, comp.Key)
	c.table.CompleteLoad(comp.Key, nil)
}

// AsyncLoad classifies each key in keys as a cache hit, an already in-flight
// load, or a miss; pins every one of them for the duration of the call;
// issues direct reads for misses and waits for all of them (including
// in-flight loads owned by a concurrent caller) to complete; and returns the
// remapped row index each key should use to address GetTensor's buffer.
//
// tID and tTotal partition the device variant's staging area across
// concurrent callers (spec.md §4.5); both are ignored by the CPU variant.
//
// On any error, every pin AsyncLoad took during this call is released
// before returning — partial batches never leak pins (spec.md §9 REDESIGN
// FLAG: the original left pins held across an aborted batch).
func (c *Cache) AsyncLoad(ctx context.Context, keys []int64, tID, tTotal int) ([]int64, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if tTotal < 1 {
		tTotal = 1
	}
	remap := make([]int64, len(keys))
	b := &batch{c: c, waitKeys: map[int64]bool{}}

	c.table.Lock()
	for n, raw := range keys {
		gk, off := Split(raw, c.groupSize)
		if raw < 0 || raw >= c.opts.NodeCount {
			c.table.Unlock()
			b.rollback()
			return nil, ErrKeyRange
		}

		switch {
		case c.table.Valid(gk):
			slot := c.table.Slot(gk)
			if c.table.PinCount(gk) == 0 {
				c.table.Reclaim(slot)
			}
			c.table.Pin(gk)
			b.pinned = append(b.pinned, gk)
			remap[n] = Remap(slot, off, c.groupSize)

		case c.table.PinCount(gk) > 0:
			c.table.Pin(gk)
			b.pinned = append(b.pinned, gk)
			remap[n] = Remap(c.table.Slot(gk), off, c.groupSize)
			b.waitKeys[gk] = true

		default: // miss
			var hostIndex int64
			if c.opts.Variant == VariantGPU {
				hostIndex = c.opts.StageSize/int64(tTotal)*int64(tID) + int64(b.submitted)
				if hostIndex < 0 || hostIndex >= c.opts.StageSize {
					c.table.Unlock()
					c.opts.LogFunc("featurecache: staging area exhausted (host index %d, stage size %d)", hostIndex, c.opts.StageSize)
					b.rollback()
					return nil, ErrStagingExhausted
				}
			}
			slot, ok := c.table.AcquireSlot()
			if !ok {
				c.table.Unlock()
				c.opts.LogFunc("featurecache: free pool exhausted (%d slots)", c.table.CacheSlots())
				b.rollback()
				return nil, ErrPoolExhausted
			}
			c.table.BeginLoad(gk, slot)
			c.table.Pin(gk)
			b.pinned = append(b.pinned, gk)
			remap[n] = Remap(slot, off, c.groupSize)

			b.ensureEngine()
			var reqBuf []byte
			if c.opts.Variant == VariantGPU {
				c.stageMap[gk] = hostIndex
				reqBuf = c.stagingBuf[hostIndex*c.stagingStride : hostIndex*c.stagingStride+c.readBytes]
			} else {
				reqBuf = dio.AlignedBuffer(int(c.readBytes), c.opts.AlignmentBytes)
				b.pendingCPU[gk] = reqBuf
			}
			if err := b.ioCtx.Submit(ioengine.Request{Key: gk, Buf: reqBuf, Offset: gk * c.rowBytes}); err != nil {
				c.table.Unlock()
				b.rollback()
				return nil, ErrSubmit
			}
			b.submitted++
			b.waitKeys[gk] = true

			if comp, ok := b.ioCtx.TryReap(); ok {
				b.applyCompletion(comp)
				b.completed++
			}
		}
	}
	c.table.Unlock()

	if b.ioCtx != nil {
		for int64(b.completed) < b.ioCtx.Submitted() {
			comps := b.ioCtx.DrainBatch(c.opts.EventBufferSize)
			for _, comp := range comps {
				b.applyCompletion(comp)
			}
			b.completed += len(comps)
		}
		b.ioCtx.Close()
		b.ioCtx = nil
		if b.stream != nil {
			if err := b.stream.Synchronize(); err != nil {
				c.opts.LogFunc("featurecache: stream synchronize failed: %v", err)
			}
			b.stream.Close()
			b.stream = nil
		}
	}

	for gk := range b.waitKeys {
		for {
			if c.table.Valid(gk) {
				break
			}
			if c.table.Failed(gk) {
				b.rollback()
				return nil, ErrCompletionFailed
			}
			select {
			case <-ctx.Done():
				b.rollback()
				return nil, ctx.Err()
			default:
			}
			runtime.Gosched()
		}
	}

	return remap, nil
}

// GetTensor returns a flat view over the variant-appropriate backing
// buffer: the host buffer for VariantCPU, the device buffer for VariantGPU.
// Row Remap(slot, offset, groupSize) of the returned Tensor holds the
// most recently loaded data for the slot currently owning that row's group.
func (c *Cache) GetTensor() Tensor {
	buf := c.hostBuf
	if c.opts.Variant == VariantGPU {
		buf = c.deviceBuf
	}
	buf = buf[:c.opts.BufferSize*c.slotStride]
	return Tensor{
		Data: floatView(buf),
		Rows: c.opts.BufferSize * c.groupSize,
		Cols: c.opts.RowDim,
	}
}

func floatView(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&buf[0])), len(buf)/4)
}
