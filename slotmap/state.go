package slotmap

// State is the lifecycle state of a KeyEntry, per spec.md §4.7.
type State uint8

const (
	// Cold: pin=0, valid=0, no slot assigned.
	Cold State = iota
	// Loading: pin>0, valid=0, slot assigned, read outstanding.
	Loading
	// ReadyPinned: pin>0, valid=1.
	ReadyPinned
	// ReadyFree: pin=0, valid=1, slot sits in the free pool.
	ReadyFree
	// Evicted: pin=0, valid=0 — the slot was reassigned to another key
	// while this one was unpinned. Behaves as Cold for the next access.
	Evicted
	// Errored: a completion for this key's load failed. Every pinner of
	// this key observes the error; the entry cannot become ReadyPinned
	// until it is reloaded from Cold.
	Errored
)

func (s State) String() string {
	switch s {
	case Cold:
		return "cold"
	case Loading:
		return "loading"
	case ReadyPinned:
		return "ready_pinned"
	case ReadyFree:
		return "ready_free"
	case Evicted:
		return "evicted"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}
