package krace

import (
	"fmt"

	"github.com/sslab-gatech/krace/internal/edges"
	"github.com/sslab-gatech/krace/internal/execmodel"
	"github.com/sslab-gatech/krace/internal/ledger"
	"github.com/sslab-gatech/krace/internal/model"
	"github.com/sslab-gatech/krace/internal/raceengine"
)

// dispatch applies one decoded record to every component: scheduling
// events go straight to the execution model; everything else increments
// the live unit's clock first, then fans out to the edge builder, sync
// state, memory tracker, and race engine, appending a transcript line as
// it goes.
func (a *Analyzer) dispatch(rec ledger.Record) error {
	ptid := uint64(rec.PTID)

	if a.finished {
		return NewError("ledger", ErrCodeProtocolViolation, fmt.Sprintf("record %s after sys_finish", rec.Code))
	}

	switch rec.Code {
	case ledger.SysLaunch:
		if a.entries != 1 {
			return NewError("ledger", ErrCodeProtocolViolation, "first log entry is not sys_launch")
		}
		if ptid == 0 {
			return NewError("ledger", ErrCodeProtocolViolation, "launched with ptid 0")
		}
		if a.mainPTID != 0 {
			return NewError("ledger", ErrCodeProtocolViolation, "launched multiple times")
		}
		a.mainPTID = ptid
		return nil
	case ledger.SysFinish:
		if a.mainPTID != ptid {
			return NewError("ledger", ErrCodeProtocolViolation, fmt.Sprintf("terminated with ptid %d, launched with %d", ptid, a.mainPTID))
		}
		a.finished = true
		return nil

	case ledger.MarkV0, ledger.MarkV1, ledger.MarkV2, ledger.MarkV3:
		if u := a.sched.Live(ptid); u != nil {
			u.Step()
		}
		a.line(ptid, "[m]", fmt.Sprintf("%s %v", rec.Code, rec.Marks))
		return nil

	case ledger.CtxtSyscallEnter:
		return a.ctxtEnterDirect(ptid, model.UnitSyscall, rec.Hash)
	case ledger.CtxtSyscallExit:
		return a.ctxtExit(ptid, model.UnitSyscall, rec.Hash)

	case ledger.CtxtRCUEnter:
		// RCU callback context is fork-typed (it needs an
		// ASYNC_RCU_REGISTER) and implies holding the global RCU lock for
		// the whole activation: acquire before any other event lands.
		if err := a.ctxtEnterFork(ptid, model.UnitRCU, rec.Hash, rec.A); err != nil {
			return err
		}
		u := a.sched.Live(ptid)
		a.sched.SyncOf(u).Locks.AddReader(execmodel.RCULockID)
		return nil
	case ledger.CtxtRCUExit:
		// Release first, while the unit is still live.
		if u := a.sched.Live(ptid); u != nil {
			a.sched.SyncOf(u).Locks.DelReader(execmodel.RCULockID)
		}
		return a.ctxtExit(ptid, model.UnitRCU, rec.Hash)

	case ledger.CtxtWorkEnter:
		return a.ctxtEnterFork(ptid, model.UnitWork, rec.Hash, rec.A)
	case ledger.CtxtWorkExit:
		return a.ctxtExit(ptid, model.UnitWork, rec.Hash)
	case ledger.CtxtTaskEnter:
		return a.ctxtEnterFork(ptid, model.UnitTask, rec.Hash, rec.A)
	case ledger.CtxtTaskExit:
		return a.ctxtExit(ptid, model.UnitTask, rec.Hash)
	case ledger.CtxtTimerEnter:
		return a.ctxtEnterFork(ptid, model.UnitTimer, rec.Hash, rec.A)
	case ledger.CtxtTimerExit:
		return a.ctxtExit(ptid, model.UnitTimer, rec.Hash)
	case ledger.CtxtKRunEnter:
		return a.ctxtEnterFork(ptid, model.UnitKRun, rec.Hash, rec.A)
	case ledger.CtxtKRunExit:
		return a.ctxtExit(ptid, model.UnitKRun, rec.Hash)
	case ledger.CtxtBlockEnter:
		return a.ctxtEnterFork(ptid, model.UnitBlock, rec.Hash, rec.A)
	case ledger.CtxtBlockExit:
		return a.ctxtExit(ptid, model.UnitBlock, rec.Hash)
	case ledger.CtxtIPIEnter:
		return a.ctxtEnterFork(ptid, model.UnitIPI, rec.Hash, rec.A)
	case ledger.CtxtIPIExit:
		return a.ctxtExit(ptid, model.UnitIPI, rec.Hash)
	case ledger.CtxtCustomEnter:
		return a.ctxtEnterFork(ptid, model.UnitCustom, rec.Hash, rec.A)
	case ledger.CtxtCustomExit:
		return a.ctxtExit(ptid, model.UnitCustom, rec.Hash)

	case ledger.ExecPause:
		if u := a.sched.Live(ptid); u != nil {
			u.Step()
			a.sched.ExecPause(u)
			a.line(ptid, "|-X", fmt.Sprintf("%d", rec.Hash))
		}
		return nil
	case ledger.ExecResume:
		if u := a.sched.Live(ptid); u != nil {
			u.Step()
			a.sched.ExecResume(u)
			a.line(ptid, "|X-", fmt.Sprintf("%d", rec.Hash))
		}
		return nil

	case ledger.ExecBackground:
		if err := a.sched.ExecBackground(ptid, rec.Hash); err != nil {
			return WrapError("ctxt", err)
		}
		return nil
	case ledger.ExecForeground:
		if err := a.sched.ExecForeground(ptid, rec.Hash); err != nil {
			return WrapError("ctxt", err)
		}
		return nil

	case ledger.ExecFuncEnter:
		u := a.sched.Live(ptid)
		if u == nil {
			return WrapError("ctxt", &execmodel.ProtocolError{Op: "func_enter", Msg: "no live context"})
		}
		u.Step()
		a.sched.FuncEnter(u, rec.Hash, rec.A)
		a.line(ptid, "|->", fmt.Sprintf("func %#x @%#x", rec.Hash, rec.A))
		return nil
	case ledger.ExecFuncExit:
		u := a.sched.Live(ptid)
		if u == nil {
			return WrapError("ctxt", &execmodel.ProtocolError{Op: "func_exit", Msg: "no live context"})
		}
		u.Step()
		a.line(ptid, "|<-", fmt.Sprintf("func %#x @%#x", rec.Hash, rec.A))
		if err := a.sched.FuncExit(u, rec.Hash, rec.A); err != nil {
			return WrapError("ctxt", err)
		}
		return nil

	case ledger.AsyncRCURegister:
		return a.registerFork(ptid, model.UnitRCU, rec.Hash, rec.A, "RCU")
	case ledger.AsyncWorkRegister:
		return a.registerFork(ptid, model.UnitWork, rec.Hash, rec.A, "WORK")
	case ledger.AsyncWorkCancel:
		return a.cancelFork(ptid, rec.Hash, "WORK")
	case ledger.AsyncWorkAttach:
		return a.attachFork(ptid, rec.Hash, rec.A, "WORK")
	case ledger.AsyncTaskRegister:
		return a.registerFork(ptid, model.UnitTask, rec.Hash, rec.A, "TASK")
	case ledger.AsyncTaskCancel:
		return a.cancelFork(ptid, rec.Hash, "TASK")
	case ledger.AsyncTimerRegister:
		return a.registerFork(ptid, model.UnitTimer, rec.Hash, rec.A, "TIMER")
	case ledger.AsyncTimerCancel:
		return a.cancelFork(ptid, rec.Hash, "TIMER")
	case ledger.AsyncTimerAttach:
		return a.attachFork(ptid, rec.Hash, rec.A, "TIMER")
	case ledger.AsyncKRunRegister:
		return a.registerFork(ptid, model.UnitKRun, rec.Hash, rec.A, "KRUN")
	case ledger.AsyncBlockRegister:
		return a.registerFork(ptid, model.UnitBlock, rec.Hash, rec.A, "BLOCK")
	case ledger.AsyncIPIRegister:
		return a.registerFork(ptid, model.UnitIPI, rec.Hash, rec.A, "IPI")
	case ledger.AsyncCustomRegister:
		return a.registerFork(ptid, model.UnitCustom, rec.Hash, rec.A, "CUSTOM")
	case ledger.AsyncCustomAttach:
		return a.attachFork(ptid, rec.Hash, rec.A, "CUSTOM")

	case ledger.EventQueueNotify:
		u := a.sched.Live(ptid)
		if u == nil {
			return nil
		}
		p := u.Step()
		slot, ok := a.sched.Edges.QueueSlots[rec.Hash]
		if !ok {
			slot = &edges.SlotQueue{Hash: rec.Hash, Producers: make(map[uint64]model.Point)}
			a.sched.Edges.QueueSlots[rec.Hash] = slot
		}
		slot.Producers[ptid] = p
		a.line(ptid, "+=>", fmt.Sprintf("%#x QUE", rec.Hash))
		return nil
	case ledger.EventQueueArrive:
		u := a.sched.Live(ptid)
		if u == nil {
			return nil
		}
		p := u.Step()
		if slot, ok := a.sched.Edges.QueueSlots[rec.Hash]; ok {
			for _, producer := range slot.Producers {
				if err := a.linkFrom(producer, u, p, model.EdgeQueue); err != nil {
					return err
				}
			}
			for _, att := range slot.Attachments {
				if err := a.linkFrom(att, u, p, model.EdgeQueue); err != nil {
					return err
				}
			}
			a.sched.Edges.EvictQueue(rec.Hash)
		}
		a.line(ptid, "<=+", fmt.Sprintf("%#x QUE", rec.Hash))
		return nil

	case ledger.EventWaitArrive:
		return a.eventArrive(ptid, model.UnitWaitNotify, rec.Hash, rec.A, rec.B, "WAIT")
	case ledger.EventSemaArrive:
		return a.eventArrive(ptid, model.UnitSemaNotify, rec.Hash, rec.A, rec.B, "SEMA")
	case ledger.EventWaitNotifyEnter:
		return a.ctxtEnterJoin(ptid, model.UnitWaitNotify, rec.Hash, rec.A)
	case ledger.EventSemaNotifyEnter:
		return a.ctxtEnterJoin(ptid, model.UnitSemaNotify, rec.Hash, rec.A)
	case ledger.EventWaitNotifyExit:
		return a.ctxtExit(ptid, model.UnitWaitNotify, rec.Hash)
	case ledger.EventSemaNotifyExit:
		return a.ctxtExit(ptid, model.UnitSemaNotify, rec.Hash)
	case ledger.EventWaitPass:
		return a.eventPass(ptid, rec.Hash, "WAIT")
	case ledger.EventSemaPass:
		return a.eventPass(ptid, rec.Hash, "SEMA")

	case ledger.CovCFG:
		if u := a.sched.Live(ptid); u != nil {
			u.Step()
		}
		if a.Reporter != nil {
			a.Reporter.RecordCovEdge()
		}
		return nil

	case ledger.MemStackPush:
		u := a.sched.Live(ptid)
		if u == nil {
			return nil
		}
		u.Step()
		if err := a.stackRepo(u).Alloc(rec.A, rec.B, rec.Hash, "stack"); err != nil {
			return WrapError("mem", err)
		}
		a.line(ptid, "+++", fmt.Sprintf("S+ %#x [%d]", rec.A, rec.B))
		return nil
	case ledger.MemStackPop:
		u := a.sched.Live(ptid)
		if u == nil {
			return nil
		}
		u.Step()
		size, err := a.stackRepo(u).Free(rec.A, "stack")
		if err != nil {
			return WrapError("mem", err)
		}
		a.line(ptid, "+++", fmt.Sprintf("S- %#x [%d]", rec.A, size))
		return nil
	case ledger.MemHeapAlloc:
		if u := a.sched.Live(ptid); u != nil {
			u.Step()
		}
		if err := a.heap.Alloc(rec.A, rec.B, rec.Hash, "heap"); err != nil {
			return WrapError("mem", err)
		}
		a.line(ptid, "+++", fmt.Sprintf("H+ %#x [%d]", rec.A, rec.B))
		return nil
	case ledger.MemHeapFree:
		if u := a.sched.Live(ptid); u != nil {
			u.Step()
		}
		size, err := a.heap.Free(rec.A, "heap")
		if err != nil {
			return WrapError("mem", err)
		}
		a.line(ptid, "+++", fmt.Sprintf("H- %#x [%d]", rec.A, size))
		return nil
	case ledger.MemPercpuAlloc:
		if u := a.sched.Live(ptid); u != nil {
			u.Step()
		}
		if err := a.percpu.Alloc(rec.A, rec.B, rec.Hash, "percpu"); err != nil {
			return WrapError("mem", err)
		}
		a.line(ptid, "+++", fmt.Sprintf("P+ %#x [%d]", rec.A, rec.B))
		return nil
	case ledger.MemPercpuFree:
		if u := a.sched.Live(ptid); u != nil {
			u.Step()
		}
		size, err := a.percpu.Free(rec.A, "percpu")
		if err != nil {
			return WrapError("mem", err)
		}
		a.line(ptid, "+++", fmt.Sprintf("P- %#x [%d]", rec.A, size))
		return nil

	case ledger.MemRead:
		return a.memAccess(ptid, rec, false)
	case ledger.MemWrite:
		return a.memAccess(ptid, rec, true)

	case ledger.SyncGenLock:
		return a.syncGen(ptid, rec, true)
	case ledger.SyncGenUnlock:
		return a.syncGen(ptid, rec, false)
	case ledger.SyncRCULock:
		return a.syncRCU(ptid, rec, true)
	case ledger.SyncRCUUnlock:
		return a.syncRCU(ptid, rec, false)
	case ledger.SyncSeqLock:
		return a.syncSeq(ptid, rec, true)
	case ledger.SyncSeqUnlock:
		return a.syncSeq(ptid, rec, false)

	case ledger.OrderPSPublish:
		// Decoded and logged, but deliberately not linked into HB:
		// treating every publisher as a dependency of every subscriber
		// would invent ordering the kernel never guaranteed.
		if u := a.sched.Live(ptid); u != nil {
			u.Step()
		}
		a.line(ptid, "+->", fmt.Sprintf("%#x RCU", rec.A))
		return nil
	case ledger.OrderPSSubscribe:
		if u := a.sched.Live(ptid); u != nil {
			u.Step()
		}
		a.line(ptid, "<-+", fmt.Sprintf("%#x RCU", rec.A))
		return nil

	case ledger.OrderObjDeposit:
		u := a.sched.Live(ptid)
		if u == nil {
			return nil
		}
		p := u.Step()
		a.sched.Edges.DepositOrder(rec.A, &edges.SlotOrder{Addr: rec.A, Point: p, ObjV: rec.B})
		a.line(ptid, "+->", fmt.Sprintf("%#x OBJ", rec.A))
		return nil
	case ledger.OrderObjConsume:
		u := a.sched.Live(ptid)
		if u == nil {
			return nil
		}
		p := u.Step()
		slot, ok := a.sched.Edges.OrderSlots[rec.A]
		if !ok {
			return NewError("edge", ErrCodeProtocolViolation, fmt.Sprintf("order consume with no prior deposit at %#x", rec.A))
		}
		if err := a.linkFrom(slot.Point, u, p, model.EdgeOrder); err != nil {
			return err
		}
		a.line(ptid, "<-+", fmt.Sprintf("%#x OBJ", rec.A))
		return nil

	default:
		a.warn(fmt.Sprintf("unhandled record code %s", rec.Code))
		return nil
	}
}

func (a *Analyzer) line(ptid uint64, icon, payload string) {
	u := a.sched.Live(ptid)
	depth := 0
	var point model.Point
	if u != nil {
		depth = len(u.Stack) - 1
		point = u.Point()
		u.TopFrame().Items = append(u.TopFrame().Items, payload)
	}
	if a.Reporter != nil {
		a.Reporter.Line(icon, depth, point, payload)
	}
}

func (a *Analyzer) ctxtEnterDirect(ptid uint64, kind model.ExecUnitKind, hash uint64) error {
	_, err := a.sched.CtxtEnterDirect(ptid, kind, hash)
	if err != nil {
		return WrapError("ctxt", err)
	}
	a.line(ptid, "|=>", fmt.Sprintf("%s %d", kind, hash))
	return nil
}

func (a *Analyzer) ctxtEnterFork(ptid uint64, kind model.ExecUnitKind, hash, callbackAddr uint64) error {
	_, err := a.sched.CtxtEnterFork(ptid, kind, hash, callbackAddr)
	if err != nil {
		return WrapError("ctxt", err)
	}
	a.line(ptid, "|=>", fmt.Sprintf("%s %d cb=%#x", kind, hash, callbackAddr))
	return nil
}

func (a *Analyzer) ctxtEnterJoin(ptid uint64, kind model.ExecUnitKind, hash, callbackAddr uint64) error {
	_, err := a.sched.CtxtEnterJoin(ptid, kind, hash, callbackAddr)
	if err != nil {
		return WrapError("ctxt", err)
	}
	a.line(ptid, "|=>", fmt.Sprintf("%s %d cb=%#x", kind, hash, callbackAddr))
	return nil
}

func (a *Analyzer) ctxtExit(ptid uint64, kind model.ExecUnitKind, hash uint64) error {
	a.line(ptid, "|<=", fmt.Sprintf("%s %d", kind, hash))
	_, err := a.sched.CtxtExit(ptid, kind, hash)
	if err != nil {
		return WrapError("ctxt", err)
	}
	return nil
}

// registerFork creates (or re-arms) the fork slot for hash. Re-registering
// a slot whose previous registration was never consumed or cancelled is a
// protocol violation.
func (a *Analyzer) registerFork(ptid uint64, kind model.ExecUnitKind, hash, callbackAddr uint64, label string) error {
	u := a.sched.Live(ptid)
	if u == nil {
		return WrapError("edge", &execmodel.ProtocolError{Op: "async_register", Msg: "no live context"})
	}
	origin := u.Step()
	if slot, exists := a.sched.Edges.ForkSlots[hash]; exists {
		if slot.Func != 0 {
			return WrapError("edge", &execmodel.ProtocolError{Op: "async_register", Msg: fmt.Sprintf("async %s %#x registered twice", label, hash)})
		}
		slot.Kind = kind
		slot.Func = callbackAddr
		slot.Originator = origin
		slot.Attachments = nil
		slot.Consumers = nil
	} else {
		a.sched.Edges.ForkSlots[hash] = &edges.SlotFork{Kind: kind, Hash: hash, Func: callbackAddr, Originator: origin}
	}
	a.line(ptid, "<->", fmt.Sprintf("%d [%#x] %s", hash, callbackAddr, label))
	return nil
}

func (a *Analyzer) cancelFork(ptid, hash uint64, label string) error {
	if u := a.sched.Live(ptid); u != nil {
		u.Step()
	}
	slot, ok := a.sched.Edges.ForkSlots[hash]
	if !ok {
		return WrapError("edge", &execmodel.ProtocolError{Op: "async_cancel", Msg: fmt.Sprintf("async %s %#x cancelled without register", label, hash)})
	}
	if len(slot.Consumers) != 0 {
		return WrapError("edge", &execmodel.ProtocolError{Op: "async_cancel", Msg: fmt.Sprintf("async %s %#x cancelled with a consumer already entered", label, hash)})
	}
	slot.Func = 0
	slot.Attachments = nil
	a.line(ptid, ">-<", fmt.Sprintf("%d %s", hash, label))
	return nil
}

func (a *Analyzer) attachFork(ptid, hash, callbackAddr uint64, label string) error {
	u := a.sched.Live(ptid)
	if u == nil {
		return nil
	}
	p := u.Step()
	slot, ok := a.sched.Edges.ForkSlots[hash]
	if !ok {
		return WrapError("edge", &execmodel.ProtocolError{Op: "async_attach", Msg: fmt.Sprintf("async %s %#x attached without register", label, hash)})
	}
	if slot.Func != callbackAddr {
		return WrapError("edge", &execmodel.ProtocolError{Op: "async_attach", Msg: fmt.Sprintf("async %s %#x attached with wrong callback %#x", label, hash, callbackAddr)})
	}
	slot.Attachments = append(slot.Attachments, p)
	a.line(ptid, ">->", fmt.Sprintf("%d [%#x] %s", hash, callbackAddr, label))
	return nil
}

// eventArrive arms (or re-arms) the join slot for hash: the waiting unit
// announces it is about to sleep on head and reserves the step point every
// later notifier links back to.
func (a *Analyzer) eventArrive(ptid uint64, kind model.ExecUnitKind, hash, callbackAddr, head uint64, label string) error {
	u := a.sched.Live(ptid)
	if u == nil {
		return nil
	}
	p := u.Step()
	if slot, ok := a.sched.Edges.JoinSlots[hash]; ok {
		if slot.Func != 0 {
			return WrapError("edge", &execmodel.ProtocolError{Op: "event_arrive", Msg: fmt.Sprintf("event %s %#x arrived twice", label, hash)})
		}
		for _, entry := range slot.Notifiers {
			if entry.Func != 0 {
				return WrapError("edge", &execmodel.ProtocolError{Op: "event_arrive", Msg: fmt.Sprintf("event %s %#x arrived while a notifier is still executing", label, hash)})
			}
		}
		slot.Kind = kind
		slot.Func = callbackAddr
		slot.Head = head
		slot.Arriver = &p
		slot.Notifiers = make(map[uint64]*edges.NotifierEntry)
	} else {
		a.sched.Edges.JoinSlots[hash] = &edges.SlotJoin{
			Kind:      kind,
			Hash:      hash,
			Func:      callbackAddr,
			Head:      head,
			Arriver:   &p,
			Notifiers: make(map[uint64]*edges.NotifierEntry),
		}
	}
	a.line(ptid, "<+>", fmt.Sprintf("%d %s", hash, label))
	return nil
}

// eventPass marks the arriver as released past the wait object; the slot
// stays in the table with Func zeroed so late notifier exits still find
// their entries.
func (a *Analyzer) eventPass(ptid, hash uint64, label string) error {
	if u := a.sched.Live(ptid); u != nil {
		u.Step()
	}
	slot, ok := a.sched.Edges.JoinSlots[hash]
	if !ok {
		return WrapError("edge", &execmodel.ProtocolError{Op: "event_pass", Msg: fmt.Sprintf("event %s %#x passed without arrival", label, hash)})
	}
	slot.Func = 0
	a.line(ptid, ">+<", fmt.Sprintf("%d %s", hash, label))
	return nil
}

// linkFrom resolves the ExecUnit owning src and links it to (dstUnit, dst)
// with the given edge kind.
func (a *Analyzer) linkFrom(src model.Point, dstUnit *model.ExecUnit, dst model.Point, kind model.EdgeKind) error {
	srcUnit := a.sched.UnitAt(src.PTID, src.Seq)
	if srcUnit == nil {
		return nil
	}
	if err := a.sched.Edges.Link(srcUnit, src, dstUnit, dst, kind); err != nil {
		if _, ok := err.(*edges.DuplicateEdgeError); ok {
			return nil
		}
		return WrapError("edge", err)
	}
	return nil
}

// memAccess evaluates one MEM_READ/MEM_WRITE event. rec.B is the access
// size; the event lands on a single Point (one clk increment per event,
// not per byte) but the race engine's cells are per-byte, so every byte
// in [rec.A, rec.A+rec.B) is checked and recorded individually against
// that one Point, the same per-byte loop
// internal/memtrack.Repository.Alloc/Free already use for the same range.
func (a *Analyzer) memAccess(ptid uint64, rec ledger.Record, isWrite bool) error {
	u := a.sched.Live(ptid)
	if u == nil {
		return WrapError("race", &execmodel.ProtocolError{Op: "mem_access", Msg: "no live context"})
	}

	p := u.Step()
	a.checkAccessOnStack(u, rec.Hash)
	sync := a.sched.SyncOf(u)

	var locks map[uint64]struct{}
	var trans map[uint64]struct{}
	dirch := "R"
	if isWrite {
		locks = sync.Locks.LocksetW()
		trans = sync.Trans.TransetW()
		dirch = "W"
	} else {
		locks = sync.Locks.LocksetR()
		trans = sync.Trans.TransetR()
	}
	a.line(ptid, "+++", fmt.Sprintf("%s: %#x [%d], %d", dirch, rec.A, rec.B, rec.Hash))

	access := raceengine.MemAccess{
		InstHash: rec.Hash,
		Point:    p,
		Locks:    locks,
		Trans:    trans,
		UnitKind: u.Kind,
	}

	for i := uint64(0); i < rec.B; i++ {
		addr := rec.A + i
		if a.stackRepo(u).Contains(addr) || a.percpu.Contains(addr) {
			continue
		}

		_, pendingBefore := a.engine.Stats()
		found, err := a.engine.RecordAccess(addr, access, isWrite, a.denyFunc())
		if err != nil {
			return WrapError("race", err)
		}
		if a.Reporter != nil {
			a.Reporter.RecordRaces(found, a.resolveLoc)
		}
		if a.Metrics != nil {
			for range found {
				a.Metrics.ObserveRace()
			}
			if _, pendingAfter := a.engine.Stats(); pendingAfter > pendingBefore {
				for j := int64(0); j < pendingAfter-pendingBefore; j++ {
					a.Metrics.ObservePendingRace()
				}
			}
		}
	}
	return nil
}

// checkAccessOnStack is the call-stack sanity check applied to every
// memory access: the compile-database-resolved enclosing function of instHash
// must match the function currently on top of the unit's call stack.
// A mismatch is a soft anomaly, never fatal.
func (a *Analyzer) checkAccessOnStack(u *model.ExecUnit, instHash uint64) {
	if a.CDB == nil {
		return
	}
	funcHash, ok := a.CDB.Function(instHash)
	if !ok {
		return
	}
	top := u.TopFrame()
	if top.FuncHash != 0 && top.FuncHash != funcHash {
		a.warn(fmt.Sprintf("unit %s: access hash %#x resolves to function %#x, call stack top is %#x", u.Point(), instHash, funcHash, top.FuncHash))
	}
}

func (a *Analyzer) resolveLoc(hash uint64) (string, bool) {
	if a.CDB == nil {
		return "", false
	}
	return a.CDB.Resolve(hash)
}

func (a *Analyzer) syncGen(ptid uint64, rec ledger.Record, lock bool) error {
	u := a.sched.Live(ptid)
	if u == nil {
		return nil
	}
	u.Step()
	info := ledger.SyncInfo(rec.Info)
	if info.IsTry() && !info.IsSucc() {
		return nil
	}
	sync := a.sched.SyncOf(u)
	var depth int
	dirch := "S"
	if info.IsRW() {
		dirch = "E"
		if lock {
			depth = sync.Locks.AddWriter(rec.A)
		} else {
			depth = sync.Locks.DelWriter(rec.A)
		}
	} else {
		if lock {
			depth = sync.Locks.AddReader(rec.A)
		} else {
			depth = sync.Locks.DelReader(rec.A)
		}
	}
	// Generic locks cannot nest.
	if lock && depth != 0 {
		return WrapError("sync", &execmodel.ProtocolError{Op: "sync_gen_lock", Msg: fmt.Sprintf("lock %#x acquired with wrong depth %d", rec.A, depth)})
	}
	if !lock && depth != 1 {
		return WrapError("sync", &execmodel.ProtocolError{Op: "sync_gen_unlock", Msg: fmt.Sprintf("lock %#x released with wrong depth %d", rec.A, depth)})
	}
	a.syncLine(ptid, lock, dirch, rec.A, "GEN")
	return nil
}

func (a *Analyzer) syncRCU(ptid uint64, rec ledger.Record, lock bool) error {
	u := a.sched.Live(ptid)
	if u == nil {
		return nil
	}
	u.Step()
	info := ledger.SyncInfo(rec.Info)
	if info.IsTry() && !info.IsSucc() {
		return nil
	}
	sync := a.sched.SyncOf(u)
	dirch := "S"
	if info.IsRW() {
		dirch = "E"
		if lock {
			if d := sync.Locks.AddWriter(rec.A); d != 0 {
				return WrapError("sync", &execmodel.ProtocolError{Op: "sync_rcu_lock", Msg: fmt.Sprintf("rcu writer-lock %#x cannot nest (depth %d)", rec.A, d)})
			}
		} else {
			if d := sync.Locks.DelWriter(rec.A); d < 1 {
				return WrapError("sync", &execmodel.ProtocolError{Op: "sync_rcu_unlock", Msg: fmt.Sprintf("rcu lock %#x released with wrong depth %d", rec.A, d)})
			}
		}
	} else {
		if lock {
			sync.Locks.AddReader(rec.A)
		} else {
			if d := sync.Locks.DelReader(rec.A); d < 1 {
				return WrapError("sync", &execmodel.ProtocolError{Op: "sync_rcu_unlock", Msg: fmt.Sprintf("rcu lock %#x released with wrong depth %d", rec.A, d)})
			}
		}
	}
	a.syncLine(ptid, lock, dirch, rec.A, "RCU")
	return nil
}

func (a *Analyzer) syncSeq(ptid uint64, rec ledger.Record, lock bool) error {
	u := a.sched.Live(ptid)
	if u == nil {
		return nil
	}
	p := u.Step()
	info := ledger.SyncInfo(rec.Info)
	if info.IsTry() && !info.IsSucc() {
		return nil
	}
	sync := a.sched.SyncOf(u)
	dirch := "S"
	if info.IsRW() {
		dirch = "E"
		if lock {
			if d := sync.Trans.AddWriter(rec.A); d != 0 {
				return WrapError("sync", &execmodel.ProtocolError{Op: "sync_seq_lock", Msg: fmt.Sprintf("seqlock writer %#x cannot nest (depth %d)", rec.A, d)})
			}
		} else {
			if d := sync.Trans.DelWriter(rec.A); d != 1 {
				return WrapError("sync", &execmodel.ProtocolError{Op: "sync_seq_unlock", Msg: fmt.Sprintf("seqlock writer %#x released with wrong depth %d", rec.A, d)})
			}
		}
	} else {
		if lock {
			sync.Trans.AddReader(rec.A, p)
		} else {
			// Extra reader unlocks happen on some kernel paths; warn, don't
			// abort.
			if begin := sync.Trans.DelReader(rec.A, p); begin == nil {
				a.warn(fmt.Sprintf("seqlock reader %#x released without a matching begin", rec.A))
			}
		}
	}
	a.syncLine(ptid, lock, dirch, rec.A, "SEQ")
	return nil
}

func (a *Analyzer) syncLine(ptid uint64, lock bool, dirch string, lockAddr uint64, kind string) {
	icon := "|+|"
	if !lock {
		icon = "|-|"
	}
	a.line(ptid, icon, fmt.Sprintf("%s: %#x %s", dirch, lockAddr, kind))
}
