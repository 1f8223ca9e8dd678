package featurecache

import (
	"log"
	"os"
	"runtime"
	"strconv"

	"github.com/gholt/featurecache/dio"
)

// LogFunc is used for logging non-fatal problems, such as a failed read
// completion or a capacity exhaustion. See OptLogFunc.
type LogFunc func(format string, v ...interface{})

// Variant selects which backing-buffer strategy a Cache uses.
type Variant int

const (
	// VariantCPU keeps the primary buffer in host memory; GetTensor
	// returns a view directly over it.
	VariantCPU Variant = iota
	// VariantGPU stages loads through a pinned host buffer and copies
	// them to a device buffer via the Device/Stream interface.
	VariantGPU
	// VariantGDS is reserved for a future GPUDirect Storage backend and is
	// not implemented; New rejects it with ErrUnsupportedVariant.
	VariantGDS
	// VariantNone disables loading entirely; New rejects it the same way.
	VariantNone
)

// ParseVariant maps the external spelling ("cpu", "gpu", "gds", "none") to
// a Variant. An unrecognized spelling returns VariantNone.
func ParseVariant(s string) Variant {
	switch s {
	case "cpu":
		return VariantCPU
	case "gpu":
		return VariantGPU
	case "gds":
		return VariantGDS
	default:
		return VariantNone
	}
}

// Opts configures a Cache. The zero value is not valid; use NewOpts to
// apply environment-variable and built-in defaults, then layer functional
// options on top.
type Opts struct {
	Filename   string
	NodeCount  int64
	RowDim     int64
	BufferSize int64
	Variant    Variant
	// DeviceID is the accelerator device ordinal. New never reads it —
	// the device.Device a caller selects by this ordinal is constructed
	// and injected separately — it is carried here only so a single Opts
	// value can describe which device a caller should open.
	DeviceID  int
	StageSize int64

	AlignmentBytes  int
	PageSize        int
	SubmissionDepth int
	EventBufferSize int
	Workers         int

	LogFunc LogFunc

	// Opener opens Filename for direct-I/O reads. Defaults to dio.Open;
	// tests and callers on filesystems without O_DIRECT support should set
	// this to dio.OpenPlain.
	Opener dio.Opener
}

// NewOpts returns an Opts populated from environment variables prefixed
// with envPrefix (defaulting to "FEATURECACHE_" when empty), with built-in
// defaults for tunables the environment leaves unset, then applies opts in
// order. Afterwards SubmissionDepth, Workers and EventBufferSize below 1 are
// raised to 1 and a nil LogFunc gets the standard-log default; other fields
// an option sets to zero stay zero.
func NewOpts(envPrefix string, opts ...func(*Opts)) *Opts {
	if envPrefix == "" {
		envPrefix = "FEATURECACHE_"
	}
	o := &Opts{}
	if v := os.Getenv(envPrefix + "ALIGNMENT_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.AlignmentBytes = n
		}
	}
	if o.AlignmentBytes <= 0 {
		o.AlignmentBytes = 512
	}
	if v := os.Getenv(envPrefix + "PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.PageSize = n
		}
	}
	if o.PageSize <= 0 {
		o.PageSize = dio.PageSize()
	}
	if v := os.Getenv(envPrefix + "SUBMISSION_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.SubmissionDepth = n
		}
	}
	if o.SubmissionDepth <= 0 {
		o.SubmissionDepth = 80
	}
	if v := os.Getenv(envPrefix + "EVENT_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.EventBufferSize = n
		}
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = 4
	}
	if v := os.Getenv(envPrefix + "WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.Workers = n
		}
	}
	if o.Workers <= 0 {
		o.Workers = defaultCores()
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.SubmissionDepth < 1 {
		o.SubmissionDepth = 1
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.EventBufferSize < 1 {
		o.EventBufferSize = 1
	}
	if o.LogFunc == nil {
		o.LogFunc = func(format string, v ...interface{}) { log.Printf(format, v...) }
	}
	return o
}

// OptFilename sets the backing file path.
func OptFilename(name string) func(*Opts) { return func(o *Opts) { o.Filename = name } }

// OptOpener overrides how Filename is opened. Defaults to dio.Open.
func OptOpener(opener dio.Opener) func(*Opts) { return func(o *Opts) { o.Opener = opener } }

// OptNodeCount sets the key-space size.
func OptNodeCount(n int64) func(*Opts) { return func(o *Opts) { o.NodeCount = n } }

// OptRowDim sets the number of float32 elements per row.
func OptRowDim(n int64) func(*Opts) { return func(o *Opts) { o.RowDim = n } }

// OptBufferSize sets the cache capacity in groups.
func OptBufferSize(n int64) func(*Opts) { return func(o *Opts) { o.BufferSize = n } }

// OptVariant sets the backing-buffer strategy.
func OptVariant(v Variant) func(*Opts) { return func(o *Opts) { o.Variant = v } }

// OptDeviceID sets the accelerator device ordinal (device variant).
func OptDeviceID(id int) func(*Opts) { return func(o *Opts) { o.DeviceID = id } }

// OptStageSize sets the pinned host staging area size in groups (device
// variant).
func OptStageSize(n int64) func(*Opts) { return func(o *Opts) { o.StageSize = n } }

// OptAlignmentBytes overrides the direct-I/O storage alignment. Defaults
// to env FEATURECACHE_ALIGNMENT_BYTES or 512.
func OptAlignmentBytes(n int) func(*Opts) { return func(o *Opts) { o.AlignmentBytes = n } }

// OptPageSize overrides the host buffer page alignment. Defaults to env
// FEATURECACHE_PAGE_SIZE or the platform's page size.
func OptPageSize(n int) func(*Opts) { return func(o *Opts) { o.PageSize = n } }

// OptSubmissionDepth overrides the per-batch I/O submission depth.
// Defaults to env FEATURECACHE_SUBMISSION_DEPTH or 80.
func OptSubmissionDepth(n int) func(*Opts) { return func(o *Opts) { o.SubmissionDepth = n } }

// OptEventBufferSize overrides how many completions are drained per
// blocking reap. Defaults to env FEATURECACHE_EVENT_BUFFER_SIZE or 4.
func OptEventBufferSize(n int) func(*Opts) { return func(o *Opts) { o.EventBufferSize = n } }

// OptLogFunc overrides the logging function used for non-fatal problems.
func OptLogFunc(f LogFunc) func(*Opts) { return func(o *Opts) { o.LogFunc = f } }

// OptWorkers overrides the number of goroutines the load engine uses to
// issue reads concurrently. Defaults to env FEATURECACHE_WORKERS or
// GOMAXPROCS.
func OptWorkers(n int) func(*Opts) { return func(o *Opts) { o.Workers = n } }

func defaultCores() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		return 1
	}
	return n
}
