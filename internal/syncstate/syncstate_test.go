package syncstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sslab-gatech/krace/internal/model"
)

func TestLockMapDepthSemantics(t *testing.T) {
	m := NewLockMap()

	require.Equal(t, 0, m.AddReader(0x500))
	require.Equal(t, 1, m.AddReader(0x500))
	require.Equal(t, 2, m.DelReader(0x500))
	require.Equal(t, 1, m.DelReader(0x500))
	require.Equal(t, 0, m.DelReader(0x500))
	require.True(t, m.ReadersEmpty())
}

func TestLocksetReaderSeesBothSides(t *testing.T) {
	m := NewLockMap()
	m.AddReader(0x10)
	m.AddWriter(0x20)

	r := m.LocksetR()
	require.Contains(t, r, uint64(0x10))
	require.Contains(t, r, uint64(0x20))

	w := m.LocksetW()
	require.NotContains(t, w, uint64(0x10))
	require.Contains(t, w, uint64(0x20))
}

func TestTransactionBeginRetryCycle(t *testing.T) {
	m := NewTransactionMap()
	p1 := model.Point{PTID: 1, Seq: 0, Clk: 1}
	p2 := model.Point{PTID: 1, Seq: 0, Clk: 5}

	// First begin: no prior retry.
	require.Nil(t, m.AddReader(0x700, p1))
	require.Contains(t, m.Pending(), uint64(0x700))

	// End: returns the begin, the end point becomes the retry marker and
	// the transaction is no longer pending.
	begin := m.DelReader(0x700, p2)
	require.NotNil(t, begin)
	require.Equal(t, p1, *begin)
	require.NotContains(t, m.Pending(), uint64(0x700))

	// Re-begin: the cleared retry point is handed back.
	retry := m.AddReader(0x700, model.Point{PTID: 1, Seq: 0, Clk: 9})
	require.NotNil(t, retry)
	require.Equal(t, p2, *retry)
	require.Contains(t, m.Pending(), uint64(0x700))
}

func TestTransactionEndWithoutBegin(t *testing.T) {
	m := NewTransactionMap()
	p := model.Point{PTID: 1, Seq: 0, Clk: 2}

	// Extra unlocks happen on some seqlock paths; the missing begin
	// surfaces as a nil return, never a panic.
	require.Nil(t, m.DelReader(0x700, p))
	require.Contains(t, m.TransetR(), uint64(0x700))
}

func TestTransetWTracksWriterLocks(t *testing.T) {
	m := NewTransactionMap()
	require.Equal(t, 0, m.AddWriter(0x700))
	require.Contains(t, m.TransetW(), uint64(0x700))
	require.Equal(t, 1, m.DelWriter(0x700))
	require.True(t, m.WritersEmpty())
	require.Empty(t, m.TransetW())
}
