// Package unit holds tests that exercise individual krace components
// without assembling a full ledger, keeping fast unit coverage separate
// from the slower end-to-end integration coverage.
package unit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sslab-gatech/krace/internal/edges"
	"github.com/sslab-gatech/krace/internal/memtrack"
	"github.com/sslab-gatech/krace/internal/model"
)

func TestExecUnitStepAndFrames(t *testing.T) {
	u := model.NewExecUnit(1, model.UnitSyscall, 0x100, 0)
	require.Equal(t, model.Point{PTID: 1, Seq: 0, Clk: 0}, u.Point())

	p := u.Step()
	require.Equal(t, uint64(1), p.Clk)

	u.PushFrame(0x10, 0x1000)
	require.Len(t, u.Stack, 2)
	require.Equal(t, uint64(0x10), u.TopFrame().FuncHash)

	popped := u.PopFrame()
	require.Equal(t, uint64(0x10), popped.FuncHash)
	require.Len(t, u.Stack, 1)
}

func TestTaskPushPopAssignsSeqAndChildren(t *testing.T) {
	task := model.NewTask(7)
	require.Nil(t, task.Live())

	u1 := model.NewExecUnit(7, model.UnitSyscall, 1, 0)
	task.Push(u1)
	require.Equal(t, uint64(0), u1.Seq)
	require.Same(t, u1, task.Live())

	u2 := model.NewExecUnit(7, model.UnitRCU, 2, 0)
	task.Push(u2)
	require.Equal(t, uint64(1), u2.Seq)
	require.Len(t, task.Children, 2)

	popped := task.Pop()
	require.Same(t, u2, popped)
	require.True(t, popped.Exited)
	require.Same(t, u1, task.Live())
	require.Same(t, u2, task.LastUnit)
}

func TestPointContextFromPTID(t *testing.T) {
	taskPoint := model.Point{PTID: 1, Seq: 0, Clk: 0}
	require.Equal(t, model.ContextTask, taskPoint.Context())

	softirqPTID := uint64(1) | (1 << 8 << 16)
	softirqPoint := model.Point{PTID: softirqPTID, Seq: 0, Clk: 0}
	require.NotEqual(t, model.ContextTask, softirqPoint.Context())
}

func TestPointLessOrEqualInUnit(t *testing.T) {
	a := model.Point{PTID: 1, Seq: 2, Clk: 3}
	b := model.Point{PTID: 1, Seq: 2, Clk: 5}
	c := model.Point{PTID: 1, Seq: 3, Clk: 0}

	require.True(t, a.LessOrEqualInUnit(b))
	require.False(t, b.LessOrEqualInUnit(a))
	require.False(t, a.LessOrEqualInUnit(c))
}

func TestEdgeBuilderLinkRejectsDuplicateAndSelfLoop(t *testing.T) {
	b := edges.NewBuilder()
	src := model.NewExecUnit(1, model.UnitSyscall, 1, 0)
	dst := model.NewExecUnit(2, model.UnitSyscall, 2, 0)

	srcPoint := src.Step()
	dstPoint := dst.Step()

	require.NoError(t, b.Link(src, srcPoint, dst, dstPoint, model.EdgeFIFO))

	err := b.Link(src, srcPoint, dst, dstPoint, model.EdgeFIFO)
	require.Error(t, err)
	var dup *edges.DuplicateEdgeError
	require.ErrorAs(t, err, &dup)

	err = b.Link(src, srcPoint, src, srcPoint, model.EdgeFIFO)
	require.Error(t, err)
	var loop *edges.SelfLoopError
	require.ErrorAs(t, err, &loop)
}

func TestForkSlotRegistrationState(t *testing.T) {
	b := edges.NewBuilder()
	origin := model.Point{PTID: 1, Seq: 0, Clk: 4}
	slot := &edges.SlotFork{Kind: model.UnitWork, Hash: 0x777, Func: 0x300, Originator: origin}
	b.ForkSlots[0x777] = slot

	// Registration state lives in Func/Serving, not table membership: a
	// consumed or cancelled slot stays in the table disarmed.
	require.Contains(t, b.ForkSlots, uint64(0x777))
	slot.Func = 0
	slot.Serving = 0x300
	require.Contains(t, b.ForkSlots, uint64(0x777))
	require.Equal(t, uint64(0), b.ForkSlots[0x777].Func)
}

func TestMemtrackRepositoryAllocFreeAndDoubleMap(t *testing.T) {
	repo := memtrack.NewRepository()
	require.NoError(t, repo.Alloc(0xA0, 16, 0x55, "heap"))
	require.True(t, repo.Contains(0xA0))
	require.Equal(t, 1, repo.LiveSizeCount())

	err := repo.Alloc(0xA0, 16, 0x56, "heap")
	require.Error(t, err)
	var dm *memtrack.DoubleMapError
	require.ErrorAs(t, err, &dm)

	size, err := repo.Free(0xA0, "heap")
	require.NoError(t, err)
	require.Equal(t, uint64(16), size)
	require.False(t, repo.Contains(0xA0))
	require.Equal(t, 0, repo.LiveSizeCount())
}

func TestMemtrackFreeUnknownAddr(t *testing.T) {
	repo := memtrack.NewRepository()
	_, err := repo.Free(0xDEAD, "heap")
	require.Error(t, err)
}
