package raceengine

import (
	"encoding/binary"

	cuckoo "github.com/seiflotfy/cuckoofilter"
)

// Engine is the race engine: the per-address MemCell table plus the HB
// cache and race predicate evaluation.
type Engine struct {
	cells map[uint64]*MemCell
	hb    *HBCache

	// touched is a probabilistic pre-filter: most addresses are touched
	// by exactly one task (private
	// heap/stack allocations the memory filter didn't already exclude),
	// so a cuckoo-filter negative answer skips the authoritative map
	// lookup entirely on the hot path.
	touched *cuckoo.Filter

	// reportInterruptRaces controls step 1 of the race predicate (Open
	// Question: races where neither access ran in task context are
	// suppressed by default; a caller may opt back in).
	reportInterruptRaces bool

	Races []DataRace

	racesIssued  int64
	pendingCount int64
}

// NewEngine returns an Engine backed by the given HB cache.
func NewEngine(hb *HBCache, expectedAddrs uint) *Engine {
	if expectedAddrs == 0 {
		expectedAddrs = 1 << 20
	}
	return &Engine{
		cells:   make(map[uint64]*MemCell),
		hb:      hb,
		touched: cuckoo.NewFilter(expectedAddrs),
	}
}

// SetReportInterruptRaces toggles whether races observed entirely outside
// task context are reported rather than suppressed.
func (e *Engine) SetReportInterruptRaces(v bool) { e.reportInterruptRaces = v }

func addrKey(addr uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], addr)
	return b[:]
}

// Stats returns race-engine level counters for the metrics wiring.
func (e *Engine) Stats() (races, pending int64) {
	return e.racesIssued, e.pendingCount
}

// RecordAccess evaluates the race predicate for a new access to addr
// against every other task's last recorded access of the relevant kind,
// reports any races found, then appends the access to the cell. isWrite
// selects whether the new access is a write (checked against both readers
// and writers) or a read (checked against writers only).
func (e *Engine) RecordAccess(addr uint64, access MemAccess, isWrite bool, deny DenyListFunc) ([]DataRace, error) {
	var found []DataRace

	key := addrKey(addr)
	if e.touched.Lookup(key) {
		if cell, ok := e.cells[addr]; ok {
			if isWrite {
				for ptid, lst := range cell.Readers {
					if ptid == access.Point.PTID || len(lst) == 0 {
						continue
					}
					race, err := e.compare(lst[len(lst)-1], access, addr, false, isWrite, deny)
					if err != nil {
						return found, err
					}
					if race != nil {
						found = append(found, *race)
					}
				}
			}
			for ptid, lst := range cell.Writers {
				if ptid == access.Point.PTID || len(lst) == 0 {
					continue
				}
				race, err := e.compare(lst[len(lst)-1], access, addr, true, isWrite, deny)
				if err != nil {
					return found, err
				}
				if race != nil {
					found = append(found, *race)
				}
			}
		}
	} else {
		e.touched.Insert(key)
	}

	cell, ok := e.cells[addr]
	if !ok {
		cell = newMemCell()
		e.cells[addr] = cell
	}
	if isWrite {
		appendAccess(cell.Writers, access.Point.PTID, access)
	} else {
		appendAccess(cell.Readers, access.Point.PTID, access)
	}

	e.Races = append(e.Races, found...)
	e.racesIssued += int64(len(found))
	return found, nil
}

func (e *Engine) compare(peer, cur MemAccess, addr uint64, peerIsWrite, isWrite bool, deny DenyListFunc) (*DataRace, error) {
	v, err := e.evaluate(peer, cur, peerIsWrite, isWrite, deny, e.reportInterruptRaces)
	if err != nil {
		return nil, err
	}
	switch v {
	case verdictRace:
		return &DataRace{Addr: addr, Src: peer, Dst: cur}, nil
	case verdictPending:
		e.pendingCount++
		return nil, nil
	default:
		return nil, nil
	}
}
