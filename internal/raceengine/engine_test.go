package raceengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sslab-gatech/krace/internal/model"
)

func set(ids ...uint64) map[uint64]struct{} {
	out := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func access(ptid, clk, hash uint64, locks, trans map[uint64]struct{}) MemAccess {
	if locks == nil {
		locks = set()
	}
	if trans == nil {
		trans = set()
	}
	return MemAccess{
		InstHash: hash,
		Point:    model.Point{PTID: ptid, Seq: 0, Clk: clk},
		Locks:    locks,
		Trans:    trans,
		UnitKind: model.UnitSyscall,
	}
}

func newTestEngine() *Engine {
	units := unitTable{}
	units.add(1, 0)
	units.add(2, 0)
	return NewEngine(NewHBCache(units.lookup, 0), 16)
}

func TestRecordAccessReportsWriteWriteRace(t *testing.T) {
	e := newTestEngine()

	found, err := e.RecordAccess(0x200, access(1, 1, 20, nil, nil), true, nil)
	require.NoError(t, err)
	require.Empty(t, found)

	found, err = e.RecordAccess(0x200, access(2, 1, 21, nil, nil), true, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, uint64(20), found[0].Src.InstHash)
	require.Equal(t, uint64(21), found[0].Dst.InstHash)
	require.Len(t, e.Races, 1)
}

func TestRecordAccessSameTaskNeverRaces(t *testing.T) {
	e := newTestEngine()

	_, err := e.RecordAccess(0x200, access(1, 1, 20, nil, nil), true, nil)
	require.NoError(t, err)
	found, err := e.RecordAccess(0x200, access(1, 2, 21, nil, nil), true, nil)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestRecordAccessSharedLockSuppresses(t *testing.T) {
	e := newTestEngine()

	_, err := e.RecordAccess(0x200, access(1, 1, 20, set(0x500), nil), true, nil)
	require.NoError(t, err)
	found, err := e.RecordAccess(0x200, access(2, 1, 21, set(0x500), nil), true, nil)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestRecordAccessPendingTransactionSuppressesReadWrite(t *testing.T) {
	e := newTestEngine()

	_, err := e.RecordAccess(0x600, access(1, 1, 50, nil, set(0x700)), true, nil)
	require.NoError(t, err)
	found, err := e.RecordAccess(0x600, access(2, 1, 51, nil, set(0x700)), false, nil)
	require.NoError(t, err)
	require.Empty(t, found)

	_, pending := e.Stats()
	require.Equal(t, int64(1), pending)
}

func TestRecordAccessTransactionDoesNotApplyToWriteWrite(t *testing.T) {
	e := newTestEngine()

	_, err := e.RecordAccess(0x600, access(1, 1, 50, nil, set(0x700)), true, nil)
	require.NoError(t, err)
	found, err := e.RecordAccess(0x600, access(2, 1, 51, nil, set(0x700)), true, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestRecordAccessDenyListSuppresses(t *testing.T) {
	e := newTestEngine()

	deny := func(srcHash, dstHash uint64) bool { return srcHash == 20 || dstHash == 20 }

	_, err := e.RecordAccess(0x200, access(1, 1, 20, nil, nil), true, deny)
	require.NoError(t, err)
	found, err := e.RecordAccess(0x200, access(2, 1, 21, nil, nil), true, deny)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestRecordAccessInterruptContextSkipped(t *testing.T) {
	e := newTestEngine()

	// Both accesses from softirq-level ptids: conservatively ignored.
	softA := uint64(1) | (1 << 8 << 16)
	softB := uint64(2) | (1 << 8 << 16)

	_, err := e.RecordAccess(0x200, access(softA, 1, 20, nil, nil), true, nil)
	require.NoError(t, err)
	found, err := e.RecordAccess(0x200, access(softB, 1, 21, nil, nil), true, nil)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestRecordAccessHardIRQAlwaysSkipped(t *testing.T) {
	e := newTestEngine()

	hard := uint64(2) | (1 << 9 << 16)

	_, err := e.RecordAccess(0x200, access(1, 1, 20, nil, nil), true, nil)
	require.NoError(t, err)
	found, err := e.RecordAccess(0x200, access(hard, 1, 21, nil, nil), true, nil)
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestRecordAccessOnlyLastPeerAccessConsidered(t *testing.T) {
	e := newTestEngine()

	// Two writes from task 1; only the last is compared, so the second
	// access from task 2 yields exactly one race, not two.
	_, err := e.RecordAccess(0x200, access(1, 1, 20, nil, nil), true, nil)
	require.NoError(t, err)
	_, err = e.RecordAccess(0x200, access(1, 2, 22, nil, nil), true, nil)
	require.NoError(t, err)

	found, err := e.RecordAccess(0x200, access(2, 1, 21, nil, nil), true, nil)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, uint64(22), found[0].Src.InstHash)
}
