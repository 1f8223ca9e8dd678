// Package ioengine is the direct-I/O load engine from spec.md §4.4: a
// per-batch asynchronous I/O context with a fixed submission depth,
// non-blocking opportunistic reaps interleaved with submission, and a
// blocking drain once submission is done. Go has no stdlib binding for
// io_submit/io_uring, so this is the idiomatic Go rendition: a bounded
// worker pool issuing blocking pread calls over channels.
package ioengine

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gholt/featurecache/dio"
)

// ErrQueueFull is returned by Submit when the per-batch submission depth
// has been reached — the Go analogue of io_submit failing because the
// kernel's AIO ring is full.
var ErrQueueFull = errors.New("ioengine: submission queue full")

// Request is a single pending read: fill Buf (already sized and aligned)
// from Offset in the backing file, and report completion tagged with Key.
type Request struct {
	Key    int64
	Buf    []byte
	Offset int64
}

// Completion reports the outcome of a Request.
type Completion struct {
	Key int64
	Err error
}

// Context is a per-batch I/O context: one per AsyncLoad call, created
// fresh and torn down at batch end.
type Context struct {
	file dio.File

	submit   chan Request
	complete chan Completion
	wg       sync.WaitGroup

	submitted int64
}

// NewContext starts workers goroutines pulling from a submission channel
// of depth submissionDepth and publishing to a completion channel of the
// same depth. A worker blocks sending its completion while that channel is
// full, until the caller reaps.
func NewContext(file dio.File, workers, submissionDepth int) *Context {
	if workers < 1 {
		workers = 1
	}
	if submissionDepth < 1 {
		submissionDepth = 1
	}
	c := &Context{
		file:     file,
		submit:   make(chan Request, submissionDepth),
		complete: make(chan Completion, submissionDepth),
	}
	c.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go c.worker()
	}
	return c
}

func (c *Context) worker() {
	defer c.wg.Done()
	for req := range c.submit {
		_, err := c.file.ReadAt(req.Buf, req.Offset)
		c.complete <- Completion{Key: req.Key, Err: err}
	}
}

// Submit enqueues a read request. It does not block waiting for a worker
// — if the submission channel is already at depth, it returns
// ErrQueueFull and the caller must abort the batch (spec.md §7, Submit
// errors).
func (c *Context) Submit(req Request) error {
	select {
	case c.submit <- req:
		atomic.AddInt64(&c.submitted, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Submitted returns the number of requests submitted so far.
func (c *Context) Submitted() int64 { return atomic.LoadInt64(&c.submitted) }

// TryReap non-blockingly returns at most one already-complete event, the
// "opportunistically reap any one already-complete event" step interleaved
// with submission in spec.md §4.4.
func (c *Context) TryReap() (Completion, bool) {
	select {
	case comp := <-c.complete:
		return comp, true
	default:
		return Completion{}, false
	}
}

// DrainBatch blocks for at least one completion, then opportunistically
// gathers up to maxBatch total without blocking further — the Go
// rendition of io_getevents(ctx, 1, EVENT_BUFFER_SIZE, ...).
func (c *Context) DrainBatch(maxBatch int) []Completion {
	if maxBatch < 1 {
		maxBatch = 1
	}
	out := make([]Completion, 0, maxBatch)
	out = append(out, <-c.complete)
	for len(out) < maxBatch {
		select {
		case comp := <-c.complete:
			out = append(out, comp)
		default:
			return out
		}
	}
	return out
}

// Close stops accepting submissions and waits for all in-flight workers to
// finish, the Go analogue of io_destroy. Callers may call Close with
// completions still outstanding (an aborted batch, say): a worker can be
// blocked sending on complete while it is full, and closing submit alone
// would never unblock it since the worker isn't receiving from submit at
// that point, so Close drains complete concurrently with waiting for the
// workers to exit.
func (c *Context) Close() {
	close(c.submit)
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-c.complete:
		case <-done:
			for {
				select {
				case <-c.complete:
				default:
					return
				}
			}
		}
	}
}
