// Command featurecache-bench drives a Cache with synthetic load: parse
// flags, fan a fixed number of clients out over goroutines, time the run.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gholt/brimutil"
	flags "github.com/jessevdk/go-flags"

	"github.com/gholt/featurecache"
	"github.com/gholt/featurecache/device"
)

type optsStruct struct {
	Clients    int    `long:"clients" description:"The number of clients. Default: cores*cores"`
	Cores      int    `long:"cores" description:"The number of cores. Default: CPU core count"`
	Filename   string `long:"filename" description:"Backing row file to read." required:"true"`
	NodeCount  int64  `long:"node-count" description:"Key space size." required:"true"`
	RowDim     int64  `long:"row-dim" description:"Float32 elements per row." required:"true"`
	BufferSize int64  `long:"buffer-size" description:"Cache capacity in groups."`
	Variant    string `long:"variant" description:"cpu or gpu. Default: cpu"`
	StageSize  int64  `long:"stage-size" description:"Device staging area size in groups (gpu variant)."`
	Batch      int    `long:"batch" description:"Keys per AsyncLoad call. Default: 8"`
	Number     int    `long:"number" description:"Batches per client. Default: 1000"`
	Random     int    `long:"random" description:"Random number seed."`

	keyspace []byte
	cache    *featurecache.Cache
	st       runtime.MemStats
}

var opts optsStruct
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = append(args, "-h")
	}
	if _, err := parser.ParseArgs(args); err != nil {
		os.Exit(1)
	}
	if opts.Cores > 0 {
		runtime.GOMAXPROCS(opts.Cores)
	} else if os.Getenv("GOMAXPROCS") == "" {
		runtime.GOMAXPROCS(runtime.NumCPU())
	}
	opts.Cores = runtime.GOMAXPROCS(0)
	if opts.Clients == 0 {
		opts.Clients = opts.Cores * opts.Cores
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = opts.NodeCount / 4
	}
	if opts.Batch == 0 {
		opts.Batch = 8
	}
	if opts.Number == 0 {
		opts.Number = 1000
	}
	variant := featurecache.ParseVariant(opts.Variant)
	if opts.Variant == "" {
		variant = featurecache.VariantCPU
	}

	opts.keyspace = make([]byte, opts.Clients*opts.Number*opts.Batch*8)
	brimutil.NewSeededScrambled(int64(opts.Random)).Read(opts.keyspace)

	var dev device.Device
	if variant == featurecache.VariantGPU {
		dev = device.Simulated{}
	}
	fcOpts := featurecache.NewOpts("FEATURECACHE_BENCH_",
		featurecache.OptFilename(opts.Filename),
		featurecache.OptNodeCount(opts.NodeCount),
		featurecache.OptRowDim(opts.RowDim),
		featurecache.OptBufferSize(opts.BufferSize),
		featurecache.OptVariant(variant),
		featurecache.OptStageSize(opts.StageSize),
	)
	cache, err := featurecache.New(fcOpts, dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	opts.cache = cache

	fmt.Println(opts.Cores, "cores")
	fmt.Println(opts.Clients, "clients")
	fmt.Println(opts.NodeCount, "node count")
	fmt.Println(opts.BufferSize, "buffer size (groups)")
	memstat()

	load()

	begin := time.Now()
	if err := opts.cache.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	fmt.Println(time.Since(begin), "to close cache")
	fmt.Println(opts.cache.Stats().String())
}

func memstat() {
	lastAlloc := opts.st.TotalAlloc
	runtime.ReadMemStats(&opts.st)
	deltaAlloc := opts.st.TotalAlloc - lastAlloc
	lastAlloc = opts.st.TotalAlloc
	fmt.Printf("%0.2fG total alloc, %0.2fG delta\n\n", float64(opts.st.TotalAlloc)/1024/1024/1024, float64(deltaAlloc)/1024/1024/1024)
}

func load() {
	var errs uint64
	begin := time.Now()
	wg := &sync.WaitGroup{}
	wg.Add(opts.Clients)
	ctx := context.Background()
	for i := 0; i < opts.Clients; i++ {
		go func(client int) {
			defer wg.Done()
			keys := make([]int64, opts.Batch)
			clientSpan := opts.Number * opts.Batch * 8
			base := client * clientSpan
			for b := 0; b < opts.Number; b++ {
				for k := 0; k < opts.Batch; k++ {
					o := base + b*opts.Batch*8 + k*8
					keys[k] = int64(binary.BigEndian.Uint64(opts.keyspace[o:]) % uint64(opts.NodeCount))
				}
				remap, err := opts.cache.AsyncLoad(ctx, keys, client, opts.Clients)
				if err != nil {
					atomic.AddUint64(&errs, 1)
					continue
				}
				_ = remap
				if err := opts.cache.Release(keys); err != nil {
					atomic.AddUint64(&errs, 1)
				}
			}
		}(i)
	}
	wg.Wait()
	dur := time.Since(begin)
	total := opts.Clients * opts.Number * opts.Batch
	fmt.Printf("%s %.0f/s to load %d keys\n", dur, float64(total)/(float64(dur)/float64(time.Second)), total)
	if errs > 0 {
		fmt.Println(errs, "ERRORS!")
	}
}
