// Package raceengine implements the race engine: the memoized
// happens-before reachability search, the per-address MemCell
// history, and the race predicate that combines HB, lockset and pending
// seqlock-transaction reasoning to decide race freedom.
package raceengine

import "github.com/sslab-gatech/krace/internal/model"

// MemAccess is one recorded read or write. UnitKind is
// captured at access time (not looked up later) because the owning
// ExecUnit may have exited, and already-exited units are immutable but
// their kind must still be available for future race comparisons.
type MemAccess struct {
	InstHash uint64
	Point    model.Point
	Locks    map[uint64]struct{}
	Trans    map[uint64]struct{}
	UnitKind model.ExecUnitKind
}

// MemCell is the per-byte-address access history: the last accesses from
// every task that has touched this address, split by reader/writer.
type MemCell struct {
	Readers map[uint64][]MemAccess
	Writers map[uint64][]MemAccess
}

func newMemCell() *MemCell {
	return &MemCell{Readers: make(map[uint64][]MemAccess), Writers: make(map[uint64][]MemAccess)}
}

// lastOf returns the most recent access from ptid in the given map, and
// whether one exists. Only the last access from each peer ptid is
// considered: older accesses are dominated under the HB-plus-lockset
// policy.
func lastOf(m map[uint64][]MemAccess, ptid uint64) (MemAccess, bool) {
	lst, ok := m[ptid]
	if !ok || len(lst) == 0 {
		return MemAccess{}, false
	}
	return lst[len(lst)-1], true
}

func appendAccess(m map[uint64][]MemAccess, ptid uint64, a MemAccess) {
	m[ptid] = append(m[ptid], a)
}
