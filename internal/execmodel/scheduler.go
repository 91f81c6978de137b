// Package execmodel implements the execution model: the
// Task -> ExecUnit -> CallFrame hierarchy, context enter/exit, function
// enter/exit, pause/resume and background/foreground, plus the per-unit
// lockset and transaction state layered on top of each unit.
package execmodel

import (
	"fmt"

	"github.com/sslab-gatech/krace/internal/edges"
	"github.com/sslab-gatech/krace/internal/model"
	"github.com/sslab-gatech/krace/internal/syncstate"
)

// RCULockID is the implicit lock id RCU context uses: ctxt_rcu_enter
// acquires it before any other event in the unit, ctxt_rcu_exit releases
// it first.
const RCULockID = 1

// ProtocolError reports an unexpected execution-model transition: exit
// without a matching live context, a function-hash mismatch on exit, or a
// double registration of a fork slot. Always fatal.
type ProtocolError struct {
	Op  string
	Msg string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("execmodel: %s: %s", e.Op, e.Msg)
}

// UnitSync is the lockset and transaction state attached to one ExecUnit.
// It lives outside model.ExecUnit to avoid a model<->syncstate import
// cycle (syncstate already imports model for Point).
type UnitSync struct {
	Locks *syncstate.LockMap
	Trans *syncstate.TransactionMap
}

func newUnitSync() *UnitSync {
	return &UnitSync{Locks: syncstate.NewLockMap(), Trans: syncstate.NewTransactionMap()}
}

// Scheduler owns every Task, the edge builder's slot tables, and the
// per-unit sync-state side table. It has no concurrency of its own: the
// analyzer consumes the ledger strictly single-threaded.
type Scheduler struct {
	Edges *edges.Builder
	Tasks map[uint64]*model.Task
	Sync  map[*model.ExecUnit]*UnitSync
}

// NewScheduler returns a Scheduler backed by the given edge builder.
func NewScheduler(b *edges.Builder) *Scheduler {
	return &Scheduler{
		Edges: b,
		Tasks: make(map[uint64]*model.Task),
		Sync:  make(map[*model.ExecUnit]*UnitSync),
	}
}

func (s *Scheduler) taskFor(ptid uint64) *model.Task {
	t, ok := s.Tasks[ptid]
	if !ok {
		t = model.NewTask(int(ptid))
		s.Tasks[ptid] = t
	}
	return t
}

// SyncOf returns the lockset/transaction state for u, creating it on first
// use.
func (s *Scheduler) SyncOf(u *model.ExecUnit) *UnitSync {
	us, ok := s.Sync[u]
	if !ok {
		us = newUnitSync()
		s.Sync[u] = us
	}
	return us
}

// Live returns the currently live unit on ptid's task, or nil.
func (s *Scheduler) Live(ptid uint64) *model.ExecUnit {
	return s.taskFor(ptid).Live()
}

func (s *Scheduler) install(ptid uint64, kind model.ExecUnitKind, hash uint64) (*model.ExecUnit, *model.Task) {
	task := s.taskFor(ptid)
	u := model.NewExecUnit(ptid, kind, hash, 0)
	task.Push(u)
	s.Sync[u] = newUnitSync()
	return u, task
}

// CtxtEnterDirect handles a plain context enter (syscall, or any
// context kind entered without consuming a fork/join slot). If another
// unit is already live on the task (embedding), a synthetic step reserves
// a point in the parent and an EMBED edge is added parent -> child. If no
// unit is live and the task has a previously terminated unit, a FIFO edge
// is added from that unit's terminal point to the new unit's initial
// point.
func (s *Scheduler) CtxtEnterDirect(ptid uint64, kind model.ExecUnitKind, hash uint64) (*model.ExecUnit, error) {
	task := s.taskFor(ptid)
	parent := task.Live()

	u, _ := s.install(ptid, kind, hash)

	if parent != nil {
		embedPoint := parent.Step()
		parent.EmbedInto = ptrPoint(u.Point())
		u.EmbedFrom = ptrPoint(embedPoint)
		if err := s.Edges.Link(parent, embedPoint, u, u.Point(), model.EdgeEmbed); err != nil {
			return nil, err
		}
	} else if task.LastUnit != nil {
		if err := s.Edges.Link(task.LastUnit, task.LastUnit.Point(), u, u.Point(), model.EdgeFIFO); err != nil {
			return nil, err
		}
	}

	return u, nil
}

// CtxtEnterFork handles an indirect (fork-typed) context enter: the async
// callback side of a rcu/workqueue/task/timer/krun/block/ipi/custom
// registration. A SlotFork keyed by hash must already be registered with a
// matching kind and callback; FORK edges are added from the originator
// unit's current point and every attachment to the child's initial point.
// The slot stays in the table with Func zeroed and Serving set, so that
// exec_background/foreground can still reach its Host snapshot and the
// end-of-stream closure check can confirm the serve completed.
func (s *Scheduler) CtxtEnterFork(ptid uint64, kind model.ExecUnitKind, hash, callbackAddr uint64) (*model.ExecUnit, error) {
	slot, ok := s.Edges.ForkSlots[hash]
	if !ok {
		return nil, &ProtocolError{Op: "ctxt_enter_fork", Msg: fmt.Sprintf("indirect context %#x entered without registration", hash)}
	}
	if slot.Kind != kind || slot.Func != callbackAddr {
		return nil, &ProtocolError{Op: "ctxt_enter_fork", Msg: fmt.Sprintf("fork slot %#x kind/callback mismatch (registered %#x, entered %#x)", hash, slot.Func, callbackAddr)}
	}

	task := s.taskFor(ptid)
	parent := task.Live()
	u, _ := s.install(ptid, kind, hash)
	u.ForkFrom = ptrPoint(slot.Originator)

	// The callback depends on everything the originator did up to the
	// moment the callback starts, not just up to the registration itself:
	// link from the originator unit's current (possibly frozen) point.
	origin := originUnit(s, slot.Originator)
	if origin != nil {
		if err := s.linkIgnoreDup(origin, origin.Point(), u, u.Point(), model.EdgeFork); err != nil {
			return nil, err
		}
	}
	for _, att := range slot.Attachments {
		attUnit := originUnit(s, att)
		if attUnit == nil {
			continue
		}
		if err := s.linkIgnoreDup(attUnit, att, u, u.Point(), model.EdgeFork); err != nil {
			return nil, err
		}
	}

	slot.Consumers = append(slot.Consumers, u.Point())
	slot.Serving = slot.Func
	slot.Func = 0
	slot.Attachments = nil

	// The callback may pre-empt a live unit on the same ptid (embedding):
	// reserve a step point in the pre-empted parent and link it in, and
	// keep it on the slot so background/foreground can swap against it.
	if parent != nil {
		embedPoint := parent.Step()
		parent.EmbedInto = ptrPoint(u.Point())
		u.EmbedFrom = ptrPoint(embedPoint)
		if err := s.linkIgnoreDup(parent, embedPoint, u, u.Point(), model.EdgeEmbed); err != nil {
			return nil, err
		}
		slot.Host = parent
	} else {
		slot.Host = nil
	}

	return u, nil
}

// CtxtEnterJoin handles the notifier side of a wait/sema rendezvous: the
// context entered to run a wait-queue or semaphore notify callback. The
// SlotJoin for hash must already exist (created by the arrive event) with
// a matching callback. The notifier depends on the arriver having arrived
// (FORK edges from the arriver point and attachments into the notifier's
// initial point), and the arriver conservatively depends on every
// notifier (a JOIN edge from the notifier's point back to the reserved
// arriver step point — only one notifier actually releases it, but any
// might). The slot is not removed here; multiple notifiers may enter
// before the arriver actually passes.
func (s *Scheduler) CtxtEnterJoin(ptid uint64, kind model.ExecUnitKind, hash, callbackAddr uint64) (*model.ExecUnit, error) {
	slot, ok := s.Edges.JoinSlots[hash]
	if !ok {
		return nil, &ProtocolError{Op: "ctxt_enter_join", Msg: fmt.Sprintf("event notifier %#x entered without arrival", hash)}
	}
	if slot.Func != callbackAddr {
		return nil, &ProtocolError{Op: "ctxt_enter_join", Msg: fmt.Sprintf("event slot %#x callback mismatch (arrived %#x, entered %#x)", hash, slot.Func, callbackAddr)}
	}
	if prev, ok := slot.Notifiers[ptid]; ok && prev.Func != 0 {
		return nil, &ProtocolError{Op: "ctxt_enter_join", Msg: fmt.Sprintf("event notifier %#x entered twice on ptid %d", hash, ptid)}
	}

	task := s.taskFor(ptid)
	parent := task.Live()
	u, _ := s.install(ptid, kind, hash)
	u.JoinFrom = slot.Arriver

	if slot.Arriver != nil {
		arriverUnit := originUnit(s, *slot.Arriver)
		if arriverUnit != nil {
			if err := s.linkIgnoreDup(arriverUnit, *slot.Arriver, u, u.Point(), model.EdgeFork); err != nil {
				return nil, err
			}
			if err := s.linkIgnoreDup(u, u.Point(), arriverUnit, *slot.Arriver, model.EdgeJoin); err != nil {
				return nil, err
			}
		}
	}
	for _, att := range slot.Attachments {
		attUnit := originUnit(s, att)
		if attUnit == nil {
			continue
		}
		if err := s.linkIgnoreDup(attUnit, att, u, u.Point(), model.EdgeFork); err != nil {
			return nil, err
		}
	}

	if slot.Notifiers == nil {
		slot.Notifiers = make(map[uint64]*edges.NotifierEntry)
	}
	slot.Notifiers[ptid] = &edges.NotifierEntry{Func: callbackAddr, Point: u.Point()}

	if parent != nil {
		embedPoint := parent.Step()
		parent.EmbedInto = ptrPoint(u.Point())
		u.EmbedFrom = ptrPoint(embedPoint)
		if err := s.linkIgnoreDup(parent, embedPoint, u, u.Point(), model.EdgeEmbed); err != nil {
			return nil, err
		}
		slot.Host = parent
	} else {
		slot.Host = nil
	}

	return u, nil
}

// CtxtExit terminates the currently live unit on ptid's task. kind and
// hash must match the live unit exactly, otherwise this is a protocol
// violation. If the exited unit was fork-embedded (background-switched
// away from its parent), the parent it had stolen is restored.
func (s *Scheduler) CtxtExit(ptid uint64, kind model.ExecUnitKind, hash uint64) (*model.ExecUnit, error) {
	task := s.taskFor(ptid)
	live := task.Live()
	if live == nil {
		return nil, &ProtocolError{Op: "ctxt_exit", Msg: fmt.Sprintf("no live context on ptid %d", ptid)}
	}
	if live.Kind != kind || live.Hash != hash {
		return nil, &ProtocolError{Op: "ctxt_exit", Msg: fmt.Sprintf("exit kind/hash mismatch on ptid %d", ptid)}
	}

	u := task.Pop()

	// Fork/join-served units release their slot's serving marker so the
	// end-of-stream closure check can confirm every serve completed.
	switch {
	case u.ForkFrom != nil:
		if slot, ok := s.Edges.ForkSlots[u.Hash]; ok {
			slot.Serving = 0
			slot.Host = nil
		}
	case u.JoinFrom != nil || kind == model.UnitWaitNotify || kind == model.UnitSemaNotify:
		if slot, ok := s.Edges.JoinSlots[u.Hash]; ok {
			if entry, ok := slot.Notifiers[uint64(task.PTID)]; ok {
				entry.Func = 0
			}
			slot.Host = nil
		}
	}

	// The pre-empted parent, if any, is still on the task stack beneath
	// the exiting unit; it resumes at a fresh step point that the child's
	// terminal point is linked back to.
	if live.EmbedFrom != nil {
		parentUnit := originUnit(s, *live.EmbedFrom)
		if parentUnit != nil {
			resumed := parentUnit.Step()
			live.EmbedInto = ptrPoint(resumed)
			if err := s.linkIgnoreDup(u, u.Point(), parentUnit, resumed, model.EdgeEmbed); err != nil {
				return nil, err
			}
		}
	}

	return u, nil
}

// ExecPause increments the unit's pause balance. No edges are added.
func (s *Scheduler) ExecPause(u *model.ExecUnit) { u.Paused++ }

// ExecResume decrements the unit's pause balance. No edges are added.
func (s *Scheduler) ExecResume(u *model.ExecUnit) { u.Paused-- }

// ExecBackground swaps the currently live unit for the host unit saved in
// the fork slot identified by hash, expressing that a callback temporarily
// runs outside the slot's own activation. The displaced unit becomes the
// slot's new host so the symmetric ExecForeground swaps it back.
func (s *Scheduler) ExecBackground(ptid, hash uint64) error {
	return s.swapHost(ptid, hash, "exec_background")
}

// ExecForeground is the symmetric operation to ExecBackground.
func (s *Scheduler) ExecForeground(ptid, hash uint64) error {
	return s.swapHost(ptid, hash, "exec_foreground")
}

func (s *Scheduler) swapHost(ptid, hash uint64, op string) error {
	slot, ok := s.Edges.ForkSlots[hash]
	if !ok {
		return &ProtocolError{Op: op, Msg: fmt.Sprintf("no fork slot registered for %#x", hash)}
	}
	if slot.Host == nil {
		return &ProtocolError{Op: op, Msg: fmt.Sprintf("fork slot %#x has no host snapshot", hash)}
	}
	task := s.taskFor(ptid)
	current := task.Live()
	if current == nil {
		return &ProtocolError{Op: op, Msg: "no live unit to swap"}
	}
	task.Stack[len(task.Stack)-1] = slot.Host
	slot.Host = current
	return nil
}

// FuncEnter pushes a new call frame onto u's stack.
func (s *Scheduler) FuncEnter(u *model.ExecUnit, funcHash, addr uint64) {
	u.PushFrame(funcHash, addr)
}

// FuncExit pops the top call frame, validating its function hash matches
// the exiting one.
func (s *Scheduler) FuncExit(u *model.ExecUnit, funcHash, addr uint64) error {
	top := u.TopFrame()
	if top.FuncHash != funcHash {
		return &ProtocolError{Op: "func_exit", Msg: fmt.Sprintf("function hash mismatch: top=%#x exit=%#x", top.FuncHash, funcHash)}
	}
	u.PopFrame()
	return nil
}

// linkIgnoreDup adds an edge, treating an already-present identical edge
// as a no-op: the same producer point can legitimately feed one consumer
// through both the originator and an attachment entry.
func (s *Scheduler) linkIgnoreDup(srcUnit *model.ExecUnit, src model.Point, dstUnit *model.ExecUnit, dst model.Point, kind model.EdgeKind) error {
	err := s.Edges.Link(srcUnit, src, dstUnit, dst, kind)
	if err != nil {
		if _, ok := err.(*edges.DuplicateEdgeError); ok {
			return nil
		}
		return err
	}
	return nil
}

// originUnit resolves the ExecUnit that owns p's (ptid, seq) pair, used
// when attaching edges from a recorded point whose issuing unit is not
// directly available to the caller.
func originUnit(s *Scheduler, p model.Point) *model.ExecUnit {
	task, ok := s.Tasks[p.PTID]
	if !ok {
		return nil
	}
	if p.Seq >= uint64(len(task.Children)) {
		return nil
	}
	return task.Children[p.Seq]
}

func ptrPoint(p model.Point) *model.Point { return &p }

// UnitAt resolves the ExecUnit created as the seq'th child of ptid's task,
// matching raceengine.UnitLookup's signature so a Scheduler can be wired
// directly into an HBCache.
func (s *Scheduler) UnitAt(ptid, seq uint64) *model.ExecUnit {
	return originUnit(s, model.Point{PTID: ptid, Seq: seq})
}
