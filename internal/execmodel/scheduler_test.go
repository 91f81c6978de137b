package execmodel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sslab-gatech/krace/internal/edges"
	"github.com/sslab-gatech/krace/internal/model"
)

func TestCtxtEnterDirectFIFO(t *testing.T) {
	s := NewScheduler(edges.NewBuilder())

	u1, err := s.CtxtEnterDirect(1, model.UnitSyscall, 100)
	require.NoError(t, err)
	require.NotNil(t, u1)

	_, err = s.CtxtExit(1, model.UnitSyscall, 100)
	require.NoError(t, err)

	u2, err := s.CtxtEnterDirect(1, model.UnitSyscall, 101)
	require.NoError(t, err)

	require.Len(t, u2.DepsOn[0], 1)
	require.Equal(t, model.EdgeFIFO, u2.DepsOn[0][0].Kind)
}

func TestCtxtEnterDirectEmbed(t *testing.T) {
	s := NewScheduler(edges.NewBuilder())

	parent, err := s.CtxtEnterDirect(1, model.UnitSyscall, 100)
	require.NoError(t, err)

	child, err := s.CtxtEnterDirect(1, model.UnitRCU, 200)
	require.NoError(t, err)

	require.NotNil(t, child.EmbedFrom)
	require.Equal(t, parent.PTID, child.EmbedFrom.PTID)
	require.Len(t, child.DepsOn[0], 1)
	require.Equal(t, model.EdgeEmbed, child.DepsOn[0][0].Kind)
}

func TestCtxtExitRestoresEmbedParent(t *testing.T) {
	s := NewScheduler(edges.NewBuilder())

	parent, err := s.CtxtEnterDirect(1, model.UnitSyscall, 100)
	require.NoError(t, err)

	child, err := s.CtxtEnterDirect(1, model.UnitRCU, 200)
	require.NoError(t, err)

	popped, err := s.CtxtExit(1, model.UnitRCU, 200)
	require.NoError(t, err)
	require.Same(t, child, popped)

	task := s.Tasks[1]
	require.Len(t, task.Stack, 1)
	require.Same(t, parent, task.Live())

	// The child's terminal point is linked back to the parent's resumed
	// step point.
	require.Len(t, parent.DepsOn[parent.Clk], 1)
	require.Equal(t, model.EdgeEmbed, parent.DepsOn[parent.Clk][0].Kind)
}

func TestCtxtExitMismatch(t *testing.T) {
	s := NewScheduler(edges.NewBuilder())

	_, err := s.CtxtEnterDirect(1, model.UnitSyscall, 100)
	require.NoError(t, err)

	_, err = s.CtxtExit(1, model.UnitSyscall, 999)
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestFuncEnterExit(t *testing.T) {
	s := NewScheduler(edges.NewBuilder())
	u, err := s.CtxtEnterDirect(1, model.UnitSyscall, 100)
	require.NoError(t, err)

	s.FuncEnter(u, 10, 0x1000)
	require.Len(t, u.Stack, 2)

	require.NoError(t, s.FuncExit(u, 10, 0x1000))
	require.Len(t, u.Stack, 1)

	s.FuncEnter(u, 11, 0x2000)
	require.Error(t, s.FuncExit(u, 999, 0x2000))
}

func TestCtxtEnterForkConsumesSlot(t *testing.T) {
	s := NewScheduler(edges.NewBuilder())

	producer, err := s.CtxtEnterDirect(1, model.UnitSyscall, 100)
	require.NoError(t, err)
	origin := producer.Step()

	s.Edges.ForkSlots[777] = &edges.SlotFork{
		Kind:       model.UnitWork,
		Hash:       777,
		Func:       0x300,
		Originator: origin,
	}

	child, err := s.CtxtEnterFork(2, model.UnitWork, 777, 0x300)
	require.NoError(t, err)
	require.NotNil(t, child.ForkFrom)

	// The slot survives the consume with its registration disarmed, so
	// exec_background can still reach it and the closure check can confirm
	// the serve completed.
	slot := s.Edges.ForkSlots[777]
	require.NotNil(t, slot)
	require.Equal(t, uint64(0), slot.Func)
	require.Equal(t, uint64(0x300), slot.Serving)
	require.Len(t, slot.Consumers, 1)

	require.Len(t, child.DepsOn[0], 1)
	require.Equal(t, model.EdgeFork, child.DepsOn[0][0].Kind)

	_, err = s.CtxtExit(2, model.UnitWork, 777)
	require.NoError(t, err)
	require.Equal(t, uint64(0), slot.Serving)
}

func TestCtxtEnterForkLinksFromConsumeTimePoint(t *testing.T) {
	s := NewScheduler(edges.NewBuilder())

	producer, err := s.CtxtEnterDirect(1, model.UnitSyscall, 100)
	require.NoError(t, err)
	origin := producer.Step()
	s.Edges.ForkSlots[777] = &edges.SlotFork{Kind: model.UnitWork, Hash: 777, Func: 0x300, Originator: origin}

	// The producer keeps running after registration; everything it did
	// before the callback starts must be ordered before the callback.
	producer.Step()
	producer.Step()

	child, err := s.CtxtEnterFork(2, model.UnitWork, 777, 0x300)
	require.NoError(t, err)
	require.Equal(t, producer.Clk, child.DepsOn[0][0].Other.Clk)
}

func TestCtxtEnterForkStealsAndRestoresParent(t *testing.T) {
	s := NewScheduler(edges.NewBuilder())

	parent, err := s.CtxtEnterDirect(1, model.UnitSyscall, 100)
	require.NoError(t, err)
	origin := parent.Step()
	s.Edges.ForkSlots[555] = &edges.SlotFork{Kind: model.UnitIPI, Hash: 555, Func: 0x900, Originator: origin}

	child, err := s.CtxtEnterFork(1, model.UnitIPI, 555, 0x900)
	require.NoError(t, err)
	require.Same(t, parent, s.Edges.ForkSlots[555].Host)
	require.NotNil(t, child.EmbedFrom)

	_, err = s.CtxtExit(1, model.UnitIPI, 555)
	require.NoError(t, err)

	task := s.Tasks[1]
	require.Len(t, task.Stack, 1)
	require.Same(t, parent, task.Live())
}

func TestExecBackgroundForegroundSwapsHost(t *testing.T) {
	s := NewScheduler(edges.NewBuilder())

	parent, err := s.CtxtEnterDirect(1, model.UnitSyscall, 100)
	require.NoError(t, err)
	origin := parent.Step()
	s.Edges.ForkSlots[666] = &edges.SlotFork{Kind: model.UnitWork, Hash: 666, Func: 0x400, Originator: origin}

	child, err := s.CtxtEnterFork(1, model.UnitWork, 666, 0x400)
	require.NoError(t, err)
	require.Same(t, child, s.Live(1))

	require.NoError(t, s.ExecBackground(1, 666))
	require.Same(t, parent, s.Live(1))

	require.NoError(t, s.ExecForeground(1, 666))
	require.Same(t, child, s.Live(1))
}

func TestCtxtEnterJoinLinksBothDirections(t *testing.T) {
	s := NewScheduler(edges.NewBuilder())

	arriver, err := s.CtxtEnterDirect(1, model.UnitSyscall, 100)
	require.NoError(t, err)
	reserved := arriver.Step()
	s.Edges.JoinSlots[888] = &edges.SlotJoin{
		Kind:    model.UnitWaitNotify,
		Hash:    888,
		Func:    0x500,
		Head:    0xBEEF,
		Arriver: &reserved,
	}

	notifier, err := s.CtxtEnterJoin(2, model.UnitWaitNotify, 888, 0x500)
	require.NoError(t, err)

	// Forward: the notifier depends on the arriver having arrived.
	require.Len(t, notifier.DepsOn[0], 1)
	require.Equal(t, model.EdgeFork, notifier.DepsOn[0][0].Kind)

	// Backward: the arriver conservatively depends on every notifier.
	require.Len(t, arriver.DepsOn[reserved.Clk], 1)
	require.Equal(t, model.EdgeJoin, arriver.DepsOn[reserved.Clk][0].Kind)

	slot := s.Edges.JoinSlots[888]
	require.Equal(t, uint64(0x500), slot.Notifiers[2].Func)

	_, err = s.CtxtExit(2, model.UnitWaitNotify, 888)
	require.NoError(t, err)
	require.Equal(t, uint64(0), slot.Notifiers[2].Func)
}

func TestPauseResumeBalance(t *testing.T) {
	s := NewScheduler(edges.NewBuilder())
	u, err := s.CtxtEnterDirect(1, model.UnitSyscall, 100)
	require.NoError(t, err)

	s.ExecPause(u)
	s.ExecPause(u)
	require.Equal(t, 2, u.Paused)
	s.ExecResume(u)
	require.Equal(t, 1, u.Paused)
}
