package featurecache

import "errors"

// Error classification sentinels. Implementations and callers should
// classify failures with errors.Is rather than string matching.
var (
	// ErrClosed indicates an operation on a Cache after Close.
	ErrClosed = errors.New("featurecache: closed")
	// ErrKeyRange indicates a caller key fell outside [0, node_count).
	ErrKeyRange = errors.New("featurecache: key out of range")
	// ErrUnsupportedVariant indicates Opts.Variant named something this
	// build does not implement (gds is reserved, anything else unknown).
	ErrUnsupportedVariant = errors.New("featurecache: unsupported variant")
	// ErrPoolExhausted indicates the free pool had no slot to hand out for
	// a miss; the batch is aborted.
	ErrPoolExhausted = errors.New("featurecache: free pool exhausted")
	// ErrStagingExhausted indicates the device staging partition for this
	// caller ran out of host_index slots.
	ErrStagingExhausted = errors.New("featurecache: staging area exhausted")
	// ErrIOSetup indicates New could not open the backing file; New wraps
	// the underlying open error with it.
	ErrIOSetup = errors.New("featurecache: I/O context setup failed")
	// ErrSubmit indicates a read request was rejected at submission time.
	ErrSubmit = errors.New("featurecache: submit failed")
	// ErrCompletionFailed indicates a read completed with an error; the
	// key's slot is not marked valid and every waiter observes this error.
	ErrCompletionFailed = errors.New("featurecache: read completion failed")
	// ErrUnpinned indicates Release was called more times than the key was
	// loaded (pin count would go negative).
	ErrUnpinned = errors.New("featurecache: release without matching pin")
)
