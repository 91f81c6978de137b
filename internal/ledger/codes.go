// Package ledger decodes the fixed-header + variable-record binary ledger
// produced by the instrumented kernel probe into a sequence of typed
// Record values, and (for tests and tooling) encodes the same wire format
// back out.
package ledger

// Code is the record discriminator occupying the first four bytes of every
// entry. Values are assigned as a dense sequence; the in-kernel probe and
// this decoder must agree on one enum definition.
type Code uint32

const (
	SysLaunch Code = iota
	SysFinish

	MarkV0
	MarkV1
	MarkV2
	MarkV3

	CtxtSyscallEnter
	CtxtSyscallExit

	CtxtRCUEnter
	CtxtRCUExit

	CtxtWorkEnter
	CtxtWorkExit

	CtxtTaskEnter
	CtxtTaskExit

	CtxtTimerEnter
	CtxtTimerExit

	CtxtKRunEnter
	CtxtKRunExit

	CtxtBlockEnter
	CtxtBlockExit

	CtxtIPIEnter
	CtxtIPIExit

	CtxtCustomEnter
	CtxtCustomExit

	ExecPause
	ExecResume

	ExecBackground
	ExecForeground

	ExecFuncEnter
	ExecFuncExit

	AsyncRCURegister

	AsyncWorkRegister
	AsyncWorkCancel
	AsyncWorkAttach

	AsyncTaskRegister
	AsyncTaskCancel

	AsyncTimerRegister
	AsyncTimerCancel
	AsyncTimerAttach

	AsyncKRunRegister

	AsyncBlockRegister

	AsyncIPIRegister

	AsyncCustomRegister
	AsyncCustomAttach

	EventQueueArrive
	EventQueueNotify

	EventWaitArrive
	EventWaitNotifyEnter
	EventWaitNotifyExit
	EventWaitPass

	EventSemaArrive
	EventSemaNotifyEnter
	EventSemaNotifyExit
	EventSemaPass

	CovCFG

	MemStackPush
	MemStackPop

	MemHeapAlloc
	MemHeapFree

	MemPercpuAlloc
	MemPercpuFree

	MemRead
	MemWrite

	SyncGenLock
	SyncGenUnlock

	SyncSeqLock
	SyncSeqUnlock

	SyncRCULock
	SyncRCUUnlock

	OrderPSPublish
	OrderPSSubscribe

	OrderObjDeposit
	OrderObjConsume

	codeCount
)

var codeNames = [...]string{
	"SYS_LAUNCH", "SYS_FINISH",
	"MARK_V0", "MARK_V1", "MARK_V2", "MARK_V3",
	"CTXT_SYSCALL_ENTER", "CTXT_SYSCALL_EXIT",
	"CTXT_RCU_ENTER", "CTXT_RCU_EXIT",
	"CTXT_WORK_ENTER", "CTXT_WORK_EXIT",
	"CTXT_TASK_ENTER", "CTXT_TASK_EXIT",
	"CTXT_TIMER_ENTER", "CTXT_TIMER_EXIT",
	"CTXT_KRUN_ENTER", "CTXT_KRUN_EXIT",
	"CTXT_BLOCK_ENTER", "CTXT_BLOCK_EXIT",
	"CTXT_IPI_ENTER", "CTXT_IPI_EXIT",
	"CTXT_CUSTOM_ENTER", "CTXT_CUSTOM_EXIT",
	"EXEC_PAUSE", "EXEC_RESUME",
	"EXEC_BACKGROUND", "EXEC_FOREGROUND",
	"EXEC_FUNC_ENTER", "EXEC_FUNC_EXIT",
	"ASYNC_RCU_REGISTER",
	"ASYNC_WORK_REGISTER", "ASYNC_WORK_CANCEL", "ASYNC_WORK_ATTACH",
	"ASYNC_TASK_REGISTER", "ASYNC_TASK_CANCEL",
	"ASYNC_TIMER_REGISTER", "ASYNC_TIMER_CANCEL", "ASYNC_TIMER_ATTACH",
	"ASYNC_KRUN_REGISTER",
	"ASYNC_BLOCK_REGISTER",
	"ASYNC_IPI_REGISTER",
	"ASYNC_CUSTOM_REGISTER", "ASYNC_CUSTOM_ATTACH",
	"EVENT_QUEUE_ARRIVE", "EVENT_QUEUE_NOTIFY",
	"EVENT_WAIT_ARRIVE", "EVENT_WAIT_NOTIFY_ENTER", "EVENT_WAIT_NOTIFY_EXIT", "EVENT_WAIT_PASS",
	"EVENT_SEMA_ARRIVE", "EVENT_SEMA_NOTIFY_ENTER", "EVENT_SEMA_NOTIFY_EXIT", "EVENT_SEMA_PASS",
	"COV_CFG",
	"MEM_STACK_PUSH", "MEM_STACK_POP",
	"MEM_HEAP_ALLOC", "MEM_HEAP_FREE",
	"MEM_PERCPU_ALLOC", "MEM_PERCPU_FREE",
	"MEM_READ", "MEM_WRITE",
	"SYNC_GEN_LOCK", "SYNC_GEN_UNLOCK",
	"SYNC_SEQ_LOCK", "SYNC_SEQ_UNLOCK",
	"SYNC_RCU_LOCK", "SYNC_RCU_UNLOCK",
	"ORDER_PS_PUBLISH", "ORDER_PS_SUBSCRIBE",
	"ORDER_OBJ_DEPOSIT", "ORDER_OBJ_CONSUME",
}

// String implements fmt.Stringer so unknown-code warnings and transcript
// lines can name the record kind.
func (c Code) String() string {
	if int(c) < 0 || int(c) >= len(codeNames) {
		return "UNKNOWN"
	}
	return codeNames[c]
}

// Valid reports whether c is a known record code.
func (c Code) Valid() bool {
	return c < codeCount
}

// payloadShape describes how many trailing u64 words (beyond the 24-byte
// fixed prefix) a record code carries, for codes whose payload is fixed
// size and known ahead of decode. Unknown codes have no shape; the reader
// rejects them with a fatal error rather than skipping them.
type payloadShape int

const (
	payloadNone payloadShape = iota
	payload1U64
	payload2U64
	payloadMark // variable: 0-3 extra u64s, determined by which MARK_* code
)

func (c Code) shape() payloadShape {
	switch c {
	case CtxtRCUEnter, CtxtRCUExit, CtxtWorkEnter, CtxtWorkExit,
		CtxtTaskEnter, CtxtTaskExit, CtxtTimerEnter, CtxtTimerExit,
		CtxtKRunEnter, CtxtKRunExit, CtxtBlockEnter, CtxtBlockExit,
		CtxtIPIEnter, CtxtIPIExit, CtxtCustomEnter, CtxtCustomExit,
		EventWaitNotifyEnter, EventWaitNotifyExit,
		EventSemaNotifyEnter, EventSemaNotifyExit,
		ExecFuncEnter, ExecFuncExit,
		AsyncRCURegister, AsyncWorkRegister, AsyncWorkCancel, AsyncWorkAttach,
		AsyncTaskRegister, AsyncTaskCancel,
		AsyncTimerRegister, AsyncTimerCancel, AsyncTimerAttach,
		AsyncKRunRegister, AsyncBlockRegister, AsyncIPIRegister,
		AsyncCustomRegister, AsyncCustomAttach,
		EventWaitPass, EventSemaPass,
		MemHeapFree, MemPercpuFree,
		SyncGenLock, SyncGenUnlock, SyncSeqLock, SyncSeqUnlock,
		SyncRCULock, SyncRCUUnlock,
		OrderPSPublish, OrderPSSubscribe, OrderObjConsume:
		return payload1U64
	case EventWaitArrive, EventSemaArrive,
		MemStackPush, MemStackPop, MemHeapAlloc, MemPercpuAlloc,
		MemRead, MemWrite, OrderObjDeposit:
		return payload2U64
	case MarkV0, MarkV1, MarkV2, MarkV3:
		return payloadMark
	default:
		return payloadNone
	}
}

// markWords returns how many extra u64 words a MARK_* code carries.
func markWords(c Code) int {
	switch c {
	case MarkV0:
		return 0
	case MarkV1:
		return 1
	case MarkV2:
		return 2
	case MarkV3:
		return 3
	default:
		return 0
	}
}
