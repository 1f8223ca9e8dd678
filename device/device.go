// Package device models the accelerator runtime as the narrow opaque
// stream + memcpy interface spec.md §1 treats it as — an external
// collaborator outside this module's scope. A real CUDA/ROCm binding
// implements Device/Stream; Simulated below is a synchronous, allocation-
// free stand-in used by tests and by cmd/featurecache-bench so the device
// variant's control flow (spec.md §4.5) can be exercised without cgo.
package device

// Stream represents a per-batch accelerator command stream: a sequence of
// host->device copies followed by a synchronization point.
type Stream interface {
	// CopyAsync enqueues a host->device copy of len(src) bytes. It must
	// not block on the copy completing.
	CopyAsync(dst, src []byte) error
	// Synchronize blocks until every CopyAsync enqueued on this stream has
	// completed.
	Synchronize() error
	// Close releases the stream. Called once at batch end: after
	// Synchronize when the batch completes, directly when it is aborted.
	Close()
}

// Device creates per-batch streams against a device buffer.
type Device interface {
	NewStream() Stream
}

// Simulated is a Device that performs copies synchronously on CopyAsync
// itself; Synchronize is therefore always a no-op. It exists so this
// module's device-variant code paths are exercisable without a real
// accelerator.
type Simulated struct{}

// NewStream returns a new simulated stream.
func (Simulated) NewStream() Stream { return &simulatedStream{} }

type simulatedStream struct {
	closed bool
}

func (s *simulatedStream) CopyAsync(dst, src []byte) error {
	copy(dst, src)
	return nil
}

func (s *simulatedStream) Synchronize() error { return nil }

func (s *simulatedStream) Close() { s.closed = true }
