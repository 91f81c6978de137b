package krace

import "github.com/sslab-gatech/krace/internal/ledger"

// FakeCompileDatabase is a minimal CompileDatabase for tests: entirely
// in-memory maps from hash to location and to enclosing function hash,
// for exercising a component without a real collaborator wired up.
type FakeCompileDatabase struct {
	Locations map[uint64]string
	Functions map[uint64]uint64
}

// NewFakeCompileDatabase returns an empty FakeCompileDatabase ready for a
// test to populate via its exported maps.
func NewFakeCompileDatabase() *FakeCompileDatabase {
	return &FakeCompileDatabase{
		Locations: make(map[uint64]string),
		Functions: make(map[uint64]uint64),
	}
}

// Resolve implements internal/interfaces.CompileDatabase.
func (f *FakeCompileDatabase) Resolve(hash uint64) (string, bool) {
	loc, ok := f.Locations[hash]
	return loc, ok
}

// Function implements internal/interfaces.CompileDatabase.
func (f *FakeCompileDatabase) Function(instHash uint64) (uint64, bool) {
	fh, ok := f.Functions[instHash]
	return fh, ok
}

// LedgerBuilder re-exports internal/ledger.Builder at the root package so
// external test packages (e.g. a Ginkgo end-to-end suite living in
// package krace_test) can assemble a synthetic ledger without reaching
// into internal/.
type LedgerBuilder = ledger.Builder

// NewLedgerBuilder returns an empty LedgerBuilder.
func NewLedgerBuilder() *LedgerBuilder { return ledger.NewBuilder() }

// Re-exported record codes and constructors a scenario test assembles a
// ledger from, named the same as their internal/ledger counterparts.
const (
	CodeSysLaunch          = ledger.SysLaunch
	CodeSysFinish          = ledger.SysFinish
	CodeCtxtSyscallEnter   = ledger.CtxtSyscallEnter
	CodeCtxtSyscallExit    = ledger.CtxtSyscallExit
	CodeCtxtRCUEnter       = ledger.CtxtRCUEnter
	CodeCtxtRCUExit        = ledger.CtxtRCUExit
	CodeCtxtWorkEnter      = ledger.CtxtWorkEnter
	CodeCtxtWorkExit       = ledger.CtxtWorkExit
	CodeAsyncWorkRegister  = ledger.AsyncWorkRegister
	CodeExecFuncEnter      = ledger.ExecFuncEnter
	CodeExecFuncExit       = ledger.ExecFuncExit
	CodeMemRead            = ledger.MemRead
	CodeMemWrite           = ledger.MemWrite
	CodeSyncGenLock        = ledger.SyncGenLock
	CodeSyncGenUnlock      = ledger.SyncGenUnlock
	CodeSyncSeqLock        = ledger.SyncSeqLock
	CodeSyncSeqUnlock      = ledger.SyncSeqUnlock
	CodeMemHeapAlloc       = ledger.MemHeapAlloc
	CodeMemHeapFree        = ledger.MemHeapFree
)

// Rec, WithA and WithB mirror internal/ledger's constructors for building
// records fluently from outside the module's internal tree.
func Rec(code ledger.Code, ptid uint32, info, hash uint64) ledger.Record {
	return ledger.Rec(code, ptid, info, hash)
}

func WithA(rec ledger.Record, a uint64) ledger.Record { return ledger.WithA(rec, a) }

func WithB(rec ledger.Record, a, b uint64) ledger.Record { return ledger.WithB(rec, a, b) }
