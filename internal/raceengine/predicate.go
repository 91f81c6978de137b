package raceengine

import "github.com/sslab-gatech/krace/internal/model"

// DataRace is one detected race.
type DataRace struct {
	Addr uint64
	Src  MemAccess
	Dst  MemAccess
}

// DenyListFunc reports whether a (src, dst) instruction-hash pair is on
// the curated benign-race deny list.
type DenyListFunc func(srcHash, dstHash uint64) bool

// verdict is the outcome of evaluating the race predicate for one
// candidate pair.
type verdict int

const (
	verdictNotRace verdict = iota
	verdictRace
	verdictPending
)

// evaluate applies the race predicate to a candidate pair of accesses
// from different tasks to the same address: context filters, then
// happens-before, then lockset intersection, then pending-transaction
// overlap, then the deny list.
// isWrite describes the new access currently being recorded; peerIsWrite
// describes the pre-existing access it is being compared against.
func (e *Engine) evaluate(
	peer, cur MemAccess,
	peerIsWrite, isWrite bool,
	deny DenyListFunc,
	reportInterruptRaces bool,
) (verdict, error) {
	peerCtx := peer.Point.Context()
	curCtx := cur.Point.Context()

	// step 1: both in interrupt context
	if !reportInterruptRaces && peerCtx != model.ContextTask && curCtx != model.ContextTask {
		return verdictNotRace, nil
	}

	// step 2: either in HARDIRQ, or inside a BLOCK softirq unit
	if peerCtx == model.ContextHardIRQ || curCtx == model.ContextHardIRQ {
		return verdictNotRace, nil
	}
	if peer.UnitKind == model.UnitBlock || cur.UnitKind == model.UnitBlock {
		return verdictNotRace, nil
	}

	// step 3: happens-before in either direction
	if ok, err := e.hb.HB(peer.Point, cur.Point); err != nil {
		return verdictNotRace, err
	} else if ok {
		return verdictNotRace, nil
	}
	if ok, err := e.hb.HB(cur.Point, peer.Point); err != nil {
		return verdictNotRace, err
	} else if ok {
		return verdictNotRace, nil
	}

	// step 4: intersecting locksets
	for lock := range peer.Locks {
		if _, ok := cur.Locks[lock]; ok {
			return verdictNotRace, nil
		}
	}

	// step 5: pending transaction overlap (read/write pairs only)
	if peerIsWrite != isWrite {
		for tr := range peer.Trans {
			if _, ok := cur.Trans[tr]; ok {
				return verdictPending, nil
			}
		}
	}

	// step 6: deny-list
	if deny != nil && deny(peer.InstHash, cur.InstHash) {
		return verdictNotRace, nil
	}

	return verdictRace, nil
}
