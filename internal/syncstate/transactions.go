package syncstate

import "github.com/sslab-gatech/krace/internal/model"

// tranInfo is one reader-side transaction: the point it began at, and
// the point it last retried at (nil once a fresh begin has been observed
// and before the matching end).
type tranInfo struct {
	begin *model.Point
	retry *model.Point
}

// TransactionMap is the reader side of a seqlock (keyed by transaction id)
// plus the writer-lock side, which reuses the lock-depth machinery.
type TransactionMap struct {
	readers map[uint64]*tranInfo
	writers *lockMapImpl
}

// NewTransactionMap returns an empty TransactionMap.
func NewTransactionMap() *TransactionMap {
	return &TransactionMap{readers: make(map[uint64]*tranInfo), writers: newLockMapImpl()}
}

// AddReader records a reader-side transaction begin at point p. It clears
// any prior retry point and returns the retry point that was cleared (nil
// on first addition).
func (m *TransactionMap) AddReader(id uint64, p model.Point) *model.Point {
	t, ok := m.readers[id]
	if !ok {
		t = &tranInfo{}
		m.readers[id] = t
	}
	prior := t.retry
	t.begin = &p
	t.retry = nil
	return prior
}

// DelReader records a reader-side transaction end at point p, storing p as
// the new retry point, and returns the matching begin point. A nil return
// means no begin was ever observed for this id, which callers treat as a
// soft anomaly: seqlock readers can have extra unlocks on some paths.
func (m *TransactionMap) DelReader(id uint64, p model.Point) *model.Point {
	t, ok := m.readers[id]
	if !ok {
		t = &tranInfo{}
		m.readers[id] = t
	}
	prior := t.begin
	t.retry = &p
	return prior
}

func (m *TransactionMap) AddWriter(lock uint64) int { return m.writers.Add(lock) }
func (m *TransactionMap) DelWriter(lock uint64) int { return m.writers.Del(lock) }
func (m *TransactionMap) WritersEmpty() bool        { return m.writers.Empty() }

// TransetR returns the candidate transaction id set (every id ever begun
// or ended on this unit, whether or not it is currently pending).
func (m *TransactionMap) TransetR() map[uint64]struct{} {
	out := make(map[uint64]struct{}, len(m.readers))
	for id := range m.readers {
		out[id] = struct{}{}
	}
	return out
}

// TransetW returns the writer-lock transaction id set.
func (m *TransactionMap) TransetW() map[uint64]struct{} {
	return m.writers.Lockset()
}

// Pending returns the subset of transaction ids whose retry point is still
// unset, i.e. transactions that began but have not yet been confirmed to
// have ended cleanly. The access snapshots compared by the race engine
// use TransetR, not this subset.
func (m *TransactionMap) Pending() map[uint64]struct{} {
	out := make(map[uint64]struct{})
	for id, t := range m.readers {
		if t.retry == nil {
			out[id] = struct{}{}
		}
	}
	return out
}
