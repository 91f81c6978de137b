package model

// ExecUnitKind enumerates the kinds of scheduling-context activation an
// ExecUnit can represent.
type ExecUnitKind int

const (
	UnitRoot ExecUnitKind = iota
	UnitSyscall
	UnitRCU
	UnitWork
	UnitTask
	UnitTimer
	UnitKRun
	UnitBlock
	UnitIPI
	UnitCustom
	UnitWaitNotify
	UnitSemaNotify
)

func (k ExecUnitKind) String() string {
	names := [...]string{
		"ROOT", "SYSCALL", "RCU", "WORK", "TASK", "TIMER",
		"KRUN", "BLOCK", "IPI", "CUSTOM", "WAIT_NOTIFY", "SEMA_NOTIFY",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "UNKNOWN"
	}
	return names[k]
}

// CallFrame is one call-stack entry: the hash identifying the function,
// the call-site address, and every transcript item observed while this
// frame sat on top of the stack.
type CallFrame struct {
	FuncHash uint64
	CallAddr uint64
	Items    []string
}

// Dep is one entry of an ExecUnit's adjacency bookkeeping: "this point
// depends on (or is depended on by) Other via an edge of Kind".
type Dep struct {
	Other Point
	Kind  EdgeKind
}

// ExecUnit is one activation of a syscall, softirq/hardirq handler,
// callback or the root.
type ExecUnit struct {
	Kind ExecUnitKind
	Hash uint64
	PTID uint64
	Seq  uint64
	Clk  uint64

	// Stack[0] is the synthetic base frame; Stack[len-1] receives items.
	Stack []*CallFrame

	// StackMem maps a stack-local address to the size of its allocation.
	// Nothing outside this file reads or writes it; the analyzer tracks
	// stack allocations in its memtrack repositories instead.
	StackMem map[uint64]uint64

	Paused int

	// Scheduling provenance edges, one point each (nil = unset).
	EmbedFrom *Point
	EmbedInto *Point
	ForkFrom  *Point
	ForkInto  *Point
	JoinInto  *Point
	JoinFrom  *Point
	QueueFrom *Point
	QueueInto *Point
	OrderFrom *Point
	OrderInto *Point

	// DepsOn[clk] lists edges where the point at local clk depends on
	// Dep.Other; DepsBy is the inverse. Keyed by the local clk of the
	// point the dependency is attached to.
	DepsOn map[uint64][]Dep
	DepsBy map[uint64][]Dep

	Exited bool

	// ChildIndex is this unit's index in its Task's Children, set by
	// Task.Push.
	ChildIndex int
}

// NewExecUnit builds an ExecUnit with its synthetic base frame installed
// and seq/clk initialized per the ctxt_enter invariant.
func NewExecUnit(ptid uint64, kind ExecUnitKind, hash uint64, seq uint64) *ExecUnit {
	return &ExecUnit{
		Kind:     kind,
		Hash:     hash,
		PTID:     ptid,
		Seq:      seq,
		Clk:      0,
		Stack:    []*CallFrame{{FuncHash: 0, CallAddr: 0}},
		StackMem: make(map[uint64]uint64),
		DepsOn:   make(map[uint64][]Dep),
		DepsBy:   make(map[uint64][]Dep),
	}
}

// Point returns the point at the unit's current clock.
func (u *ExecUnit) Point() Point {
	return Point{PTID: u.PTID, Seq: u.Seq, Clk: u.Clk}
}

// PointAt returns the point at a specific clk within this unit.
func (u *ExecUnit) PointAt(clk uint64) Point {
	return Point{PTID: u.PTID, Seq: u.Seq, Clk: clk}
}

// Step increments the unit's clock; every non-scheduling event does this
// exactly once before dispatch so each event lands on a distinct Point.
func (u *ExecUnit) Step() Point {
	u.Clk++
	return u.Point()
}

// TopFrame returns the frame currently receiving items.
func (u *ExecUnit) TopFrame() *CallFrame {
	return u.Stack[len(u.Stack)-1]
}

// PushFrame pushes a new call frame (func_enter).
func (u *ExecUnit) PushFrame(funcHash, addr uint64) {
	u.Stack = append(u.Stack, &CallFrame{FuncHash: funcHash, CallAddr: addr})
}

// PopFrame pops the top call frame (func_exit); returns the popped frame.
func (u *ExecUnit) PopFrame() *CallFrame {
	top := u.Stack[len(u.Stack)-1]
	u.Stack = u.Stack[:len(u.Stack)-1]
	return top
}

// AddDep records that the point at localClk in this unit depends on other
// via an edge of the given kind. At most one edge of each kind between
// any two points is enforced by the edge builder, not here.
func (u *ExecUnit) AddDep(localClk uint64, other Point, kind EdgeKind) {
	u.DepsOn[localClk] = append(u.DepsOn[localClk], Dep{Other: other, Kind: kind})
}

// AddDepBy records the inverse adjacency entry.
func (u *ExecUnit) AddDepBy(localClk uint64, other Point, kind EdgeKind) {
	u.DepsBy[localClk] = append(u.DepsBy[localClk], Dep{Other: other, Kind: kind})
}

// Task is the collection of ExecUnits sharing a ptid.
type Task struct {
	PTID int

	// Stack of currently live units, supporting embedding (syscall ->
	// softirq -> IPI).
	Stack []*ExecUnit

	// Held is checked for nil at end of stream but is never set:
	// exec_background keeps the displaced unit in the fork slot's Host.
	Held *ExecUnit

	// NSeq counts units ever created on this task.
	NSeq uint64

	// Children holds every unit ever created on this task, in
	// context-enter order; a unit's seq doubles as its index here.
	Children []*ExecUnit

	// LastUnit is the most recently exited unit, used to add FIFO edges
	// to the next unit created on this task.
	LastUnit *ExecUnit
}

// NewTask creates an empty Task for ptid.
func NewTask(ptid int) *Task {
	return &Task{PTID: ptid}
}

// Live returns the currently active unit, or nil if none is live.
func (t *Task) Live() *ExecUnit {
	if len(t.Stack) == 0 {
		return nil
	}
	return t.Stack[len(t.Stack)-1]
}

// Push installs a new live unit (context-enter), assigning it the next
// seq and appending it to Children.
func (t *Task) Push(u *ExecUnit) {
	u.Seq = t.NSeq
	u.ChildIndex = len(t.Children)
	t.NSeq++
	t.Children = append(t.Children, u)
	t.Stack = append(t.Stack, u)
}

// Pop terminates the currently live unit (context-exit) and records it as
// LastUnit for the next FIFO edge.
func (t *Task) Pop() *ExecUnit {
	u := t.Stack[len(t.Stack)-1]
	t.Stack = t.Stack[:len(t.Stack)-1]
	u.Exited = true
	t.LastUnit = u
	return u
}
