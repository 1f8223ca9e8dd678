// Package featurecache caches fixed-width float32 feature rows from a
// large read-only file into a small fixed-size buffer, serving a graph- or
// node-sampling workload that asks for an arbitrary batch of rows by key
// and wants the hot subset to stay resident across calls.
//
// A Cache tracks pin-counted ownership of each cache slot: a caller pins
// every key it asks AsyncLoad for and must Release it once done with the
// corresponding row in GetTensor's buffer. Slots whose pin count drops to
// zero rejoin a FIFO free pool but keep their data, so a key that gets
// re-requested before its slot is reused (a "reclaim") needs no reload.
// Reuse of a slot still owned by a different, invalidated key is an
// "eviction".
package featurecache
