package featurecache

// GroupSize returns the number of consecutive rows one aligned direct read
// should fill, per spec invariant 7: max(1, floor(alignmentBytes /
// rowBytes)).
func GroupSize(rowBytes, alignmentBytes int) int64 {
	if rowBytes <= 0 {
		return 1
	}
	g := int64(alignmentBytes / rowBytes)
	if g < 1 {
		g = 1
	}
	return g
}

// Split collapses a caller key into its aligned group key and the row's
// offset within that group, per the grouping policy in spec.md §4.3.
func Split(key, groupSize int64) (groupKey, offset int64) {
	if groupSize <= 1 {
		return key, 0
	}
	offset = key % groupSize
	groupKey = key - offset
	return groupKey, offset
}

// Remap translates a slot index and in-group offset into the logical row
// index a caller should use to address the exposed tensor.
func Remap(slot, offset, groupSize int64) int64 {
	return slot*groupSize + offset
}

// ReadBytes returns the number of bytes one aligned read transfers, per
// spec.md §4.4: max(rowBytes, alignmentBytes). This equals alignmentBytes
// whenever rowBytes < alignmentBytes (which covers every groupSize > 1 case)
// and rowBytes otherwise. Since groupSize is floor(alignmentBytes/rowBytes),
// groupSize*rowBytes never exceeds it, so one read fills the whole group.
func ReadBytes(rowBytes int64, alignmentBytes int) int64 {
	if int64(alignmentBytes) > rowBytes {
		return int64(alignmentBytes)
	}
	return rowBytes
}
