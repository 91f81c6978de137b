package edges

import (
	"fmt"

	"github.com/sslab-gatech/krace/internal/model"
)

// Builder owns the global fork/join/queue/order slot tables and the Link
// operation that attaches directed edges between points in different
// units. It has no concurrency of its own: the analyzer is single
// threaded and calls into Builder serially as it walks the ledger.
type Builder struct {
	ForkSlots  map[uint64]*SlotFork
	JoinSlots  map[uint64]*SlotJoin
	QueueSlots map[uint64]*SlotQueue
	OrderSlots map[uint64]*SlotOrder
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		ForkSlots:  make(map[uint64]*SlotFork),
		JoinSlots:  make(map[uint64]*SlotJoin),
		QueueSlots: make(map[uint64]*SlotQueue),
		OrderSlots: make(map[uint64]*SlotOrder),
	}
}

// DuplicateEdgeError reports an attempt to add a second edge of the same
// kind between the same ordered pair of points.
type DuplicateEdgeError struct {
	Src, Dst model.Point
	Kind     model.EdgeKind
}

func (e *DuplicateEdgeError) Error() string {
	return fmt.Sprintf("edges: duplicate %s edge %s -> %s", e.Kind, e.Src, e.Dst)
}

// SelfLoopError reports an attempt to add a self-loop edge.
type SelfLoopError struct {
	Point model.Point
	Kind  model.EdgeKind
}

func (e *SelfLoopError) Error() string {
	return fmt.Sprintf("edges: self-loop %s edge at %s", e.Kind, e.Point)
}

// Link asserts no duplicate (src -> dst) edge of the given kind already
// exists and no self-loop is being introduced, then mutates both units'
// adjacency maps: dstUnit gains a DepsOn entry (dst depends on src) and
// srcUnit gains the inverse DepsBy bookkeeping entry.
func (b *Builder) Link(srcUnit *model.ExecUnit, src model.Point, dstUnit *model.ExecUnit, dst model.Point, kind model.EdgeKind) error {
	if src == dst {
		return &SelfLoopError{Point: src, Kind: kind}
	}
	for _, dep := range dstUnit.DepsOn[dst.Clk] {
		if dep.Other == src && dep.Kind == kind {
			return &DuplicateEdgeError{Src: src, Dst: dst, Kind: kind}
		}
	}
	dstUnit.AddDep(dst.Clk, src, kind)
	srcUnit.AddDepBy(src.Clk, dst, kind)
	return nil
}

// EvictQueue removes a queue slot once it is consumed on arrive.
func (b *Builder) EvictQueue(hash uint64) { delete(b.QueueSlots, hash) }

// DepositOrder overwrites (or installs) the order slot for addr; previous
// edge information stays only in consumer units' own bookkeeping.
func (b *Builder) DepositOrder(addr uint64, slot *SlotOrder) {
	b.OrderSlots[addr] = slot
}
