package track

import "sync"

// CollectionState tracks where a collection is in its reconciliation cycle.
// Every transition eventually reaches StateReady: remote unavailability simply
// leaves the locally loaded snapshot serving reads.
type CollectionState int

const (
	StateEmpty CollectionState = iota
	StateLocalLoaded
	StateMerging
	StateReady
)

func (s CollectionState) String() string {
	switch s {
	case StateLocalLoaded:
		return "local-loaded"
	case StateMerging:
		return "merging"
	case StateReady:
		return "ready"
	default:
		return "empty"
	}
}

type collectionStates struct {
	mu sync.RWMutex
	m  map[string]CollectionState
}

func newCollectionStates(collections ...string) *collectionStates {
	m := make(map[string]CollectionState, len(collections))
	for _, col := range collections {
		m[col] = StateEmpty
	}
	return &collectionStates{m: m}
}

func (cs *collectionStates) set(col string, st CollectionState) {
	cs.mu.Lock()
	cs.m[col] = st
	cs.mu.Unlock()
}

func (cs *collectionStates) get(col string) CollectionState {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.m[col]
}

// mergeByID produces one authoritative collection from a local and a remote
// snapshot. Records sharing an id keep whichever copy has the greater
// timestamp; ties favor the remote copy since the remote store is the
// long-term source of truth. Records present only locally are preserved —
// unsynced ones stay enumerable for retry, deletions travel as tombstones and
// are never resurrected here.
func mergeByID[T Record](local, remote []T) []T {
	merged := make([]T, 0, len(local)+len(remote))
	idx := make(map[string]int, len(local))
	for _, rec := range local {
		idx[rec.RecordID()] = len(merged)
		merged = append(merged, rec)
	}
	for _, rec := range remote {
		if i, ok := idx[rec.RecordID()]; ok {
			if rec.LastWrite() >= merged[i].LastWrite() {
				merged[i] = rec
			}
		} else {
			idx[rec.RecordID()] = len(merged)
			merged = append(merged, rec)
		}
	}
	return merged
}

// live filters tombstones out of a read result.
func live[T Record](recs []T) []T {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		if !rec.IsDeleted() {
			out = append(out, rec)
		}
	}
	return out
}

// unsynced returns the records still awaiting remote acknowledgement.
func unsynced[T Record](recs []T) []T {
	out := make([]T, 0)
	for _, rec := range recs {
		if !rec.IsSynced() {
			out = append(out, rec)
		}
	}
	return out
}
