package featurecache

import (
	"strconv"

	"github.com/gholt/brimtext"
)

// Stats is a point-in-time snapshot of a Cache's configuration and free
// pool occupancy.
type Stats struct {
	Variant        Variant
	NodeCount      int64
	GroupSize      int64
	CacheSlots     int64
	FreeSlots      int64
	RowBytes       int64
	AlignmentBytes int
}

// Stats snapshots the cache's current configuration and free pool depth.
func (c *Cache) Stats() Stats {
	return Stats{
		Variant:        c.opts.Variant,
		NodeCount:      c.table.NodeCount(),
		GroupSize:      c.table.GroupSize(),
		CacheSlots:     c.table.CacheSlots(),
		FreeSlots:      c.table.PoolLen(),
		RowBytes:       c.rowBytes,
		AlignmentBytes: c.opts.AlignmentBytes,
	}
}

func (s Stats) String() string {
	return brimtext.Align([][]string{
		{"VARIANT", variantName(s.Variant)},
		{"NODE_COUNT", strconv.FormatInt(s.NodeCount, 10)},
		{"GROUP_SIZE", strconv.FormatInt(s.GroupSize, 10)},
		{"CACHE_SLOTS", strconv.FormatInt(s.CacheSlots, 10)},
		{"FREE_SLOTS", strconv.FormatInt(s.FreeSlots, 10)},
		{"ROW_BYTES", strconv.FormatInt(s.RowBytes, 10)},
		{"ALIGNMENT_BYTES", strconv.Itoa(s.AlignmentBytes)},
	}, nil)
}

func variantName(v Variant) string {
	switch v {
	case VariantCPU:
		return "cpu"
	case VariantGPU:
		return "gpu"
	case VariantGDS:
		return "gds"
	default:
		return "none"
	}
}
