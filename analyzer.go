package krace

import (
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sys/unix"

	"github.com/sslab-gatech/krace/internal/config"
	"github.com/sslab-gatech/krace/internal/denylist"
	"github.com/sslab-gatech/krace/internal/edges"
	"github.com/sslab-gatech/krace/internal/execmodel"
	"github.com/sslab-gatech/krace/internal/interfaces"
	"github.com/sslab-gatech/krace/internal/ledger"
	"github.com/sslab-gatech/krace/internal/logging"
	"github.com/sslab-gatech/krace/internal/memtrack"
	"github.com/sslab-gatech/krace/internal/model"
	"github.com/sslab-gatech/krace/internal/raceengine"
	"github.com/sslab-gatech/krace/internal/reporter"
	"github.com/sslab-gatech/krace/internal/telemetry"
)

// Analyzer is the single-threaded event-loop dispatcher tying together
// the ledger reader, execution model, edge builder, synchronization
// state, memory tracker, race engine and reporter.
type Analyzer struct {
	Config *config.Config
	CDB    interfaces.CompileDatabase
	Deny   *denylist.List
	Metrics *telemetry.Metrics
	Reporter *reporter.Reporter

	sched  *execmodel.Scheduler
	hb     *raceengine.HBCache
	engine *raceengine.Engine

	heap    *memtrack.Repository
	percpu  *memtrack.Repository
	stackOf map[*model.ExecUnit]*memtrack.Repository

	digest hash.Hash

	// SYS_LAUNCH / SYS_FINISH bracket state: entries counts records seen,
	// mainPTID is the launching ptid, finished flips on SYS_FINISH.
	entries  uint64
	mainPTID uint64
	finished bool
}

// NewAnalyzer wires up every component fresh for one analysis run.
func NewAnalyzer(cfg *config.Config, cdb interfaces.CompileDatabase, deny *denylist.List, rep *reporter.Reporter, metrics *telemetry.Metrics) *Analyzer {
	if cfg == nil {
		cfg = config.Default()
	}
	if deny == nil {
		deny = denylist.Empty()
	}
	if metrics == nil {
		metrics = telemetry.New()
	}

	raiseStackLimit()

	eb := edges.NewBuilder()
	sched := execmodel.NewScheduler(eb)
	hb := raceengine.NewHBCache(sched.UnitAt, cfg.HBRecursionDepth)
	engine := raceengine.NewEngine(hb, 0)
	engine.SetReportInterruptRaces(cfg.ReportInterruptRaces)

	digest, _ := blake2b.New256(nil)

	return &Analyzer{
		Config:   cfg,
		CDB:      cdb,
		Deny:     deny,
		Metrics:  metrics,
		Reporter: rep,
		sched:    sched,
		hb:       hb,
		engine:   engine,
		heap:     memtrack.NewRepository(),
		percpu:   memtrack.NewRepository(),
		stackOf:  make(map[*model.ExecUnit]*memtrack.Repository),
		digest:   digest,
	}
}

// Run decodes every record from r and dispatches it. On any error it
// still returns the console transcript built up to the point of failure.
func (a *Analyzer) Run(r io.Reader) (string, error) {
	rd, err := ledger.NewReader(r, a.Config.LedgerCap)
	if err != nil {
		return "", WrapError("ledger", err)
	}
	rd.OnByte = func(b []byte) { a.digest.Write(b) }

	for {
		rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return a.finalize(), WrapError("ledger", err)
		}
		a.entries++
		if a.Reporter != nil {
			a.Reporter.TallyRecord(rec.Code.String())
		}
		if a.Metrics != nil {
			a.Metrics.ObserveRecordDecoded(rec.Code.String())
		}
		if err := a.dispatch(rec); err != nil {
			return a.finalize(), err
		}
	}

	if rd.Header.EntryCount != 0 && rd.DecodedCount() != rd.Header.EntryCount {
		a.warn(fmt.Sprintf("decoded %d records, header declared %d", rd.DecodedCount(), rd.Header.EntryCount))
	}
	if !a.finished {
		a.warn("ledger ended without sys_finish")
	}
	a.checkClosureInvariants()
	if a.Metrics != nil {
		a.Metrics.AddHBQueries(a.hb.Stats())
	}

	return a.finalize(), nil
}

func (a *Analyzer) finalize() string {
	if a.Reporter == nil {
		return ""
	}
	return a.Reporter.Finalize()
}

func (a *Analyzer) warn(msg string) {
	logging.Warn(msg)
	if a.Reporter != nil {
		a.Reporter.Warn(msg)
	}
	if a.Metrics != nil {
		a.Metrics.ObserveSoftAnomaly(msg)
	}
}

func (a *Analyzer) stackRepo(u *model.ExecUnit) *memtrack.Repository {
	repo, ok := a.stackOf[u]
	if !ok {
		repo = memtrack.NewRepository()
		a.stackOf[u] = repo
	}
	return repo
}

func (a *Analyzer) denyFunc() raceengine.DenyListFunc {
	if a.CDB == nil {
		return func(uint64, uint64) bool { return false }
	}
	return func(srcHash, dstHash uint64) bool {
		srcLoc, ok1 := a.CDB.Resolve(srcHash)
		dstLoc, ok2 := a.CDB.Resolve(dstHash)
		return (ok1 && a.Deny.Contains(srcLoc)) || (ok2 && a.Deny.Contains(dstLoc))
	}
}

// Digest returns the running BLAKE2b digest of every ledger byte consumed
// so far, written into console-error so a corrupted ledger can be matched
// against a known-good capture.
func (a *Analyzer) Digest() []byte { return a.digest.Sum(nil) }

// checkClosureInvariants validates the end-of-stream closure properties:
// contexts closed, call stacks down to the base frame, locks released,
// slots disarmed, percpu freed. All findings are soft anomalies, never
// fatal: a kernel trace legitimately ends mid-flight for long-lived
// state.
func (a *Analyzer) checkClosureInvariants() {
	for _, task := range a.sched.Tasks {
		if len(task.Stack) != 0 {
			a.warn(fmt.Sprintf("task %d: %d unterminated context(s) at end of stream", task.PTID, len(task.Stack)))
		}
		if task.Held != nil {
			a.warn(fmt.Sprintf("task %d: held unit still set at end of stream", task.PTID))
		}
		if int(task.NSeq) != len(task.Children) {
			a.warn(fmt.Sprintf("task %d: nseq=%d children=%d mismatch", task.PTID, task.NSeq, len(task.Children)))
		}
		for _, u := range task.Children {
			if len(u.Stack) != 1 {
				a.warn(fmt.Sprintf("unit %s: %d call frames remain open", u.Point(), len(u.Stack)))
			}
			sync := a.sched.SyncOf(u)
			if !sync.Locks.ReadersEmpty() || !sync.Locks.WritersEmpty() {
				a.warn(fmt.Sprintf("unit %s: locks still held at end of stream", u.Point()))
			}
		}
	}
	if a.percpu.LiveSizeCount() != 0 {
		a.warn(fmt.Sprintf("%d percpu allocation(s) leaked at end of stream", a.percpu.LiveSizeCount()))
	}
	if a.heap.LiveSizeCount() != 0 {
		a.warn(fmt.Sprintf("%d heap allocation(s) outstanding at end of stream (tolerated)", a.heap.LiveSizeCount()))
	}
	for h, slot := range a.hbEdges().ForkSlots {
		if slot.Func != 0 {
			a.warn(fmt.Sprintf("fork slot %#x: registration never consumed or cancelled", h))
		}
		if slot.Serving != 0 {
			a.warn(fmt.Sprintf("fork slot %#x: consumer never exited", h))
		}
	}
	for h, slot := range a.hbEdges().JoinSlots {
		if slot.Func != 0 {
			a.warn(fmt.Sprintf("event slot %#x: arriver never passed", h))
		}
		for ptid, entry := range slot.Notifiers {
			if entry.Func != 0 {
				a.warn(fmt.Sprintf("event slot %#x: notifier on ptid %d never exited", h, ptid))
			}
		}
	}
}

func (a *Analyzer) hbEdges() *edges.Builder { return a.sched.Edges }

// raiseStackLimit raises RLIMIT_STACK to its hard ceiling. The recursive
// HB search can recurse thousands of frames deep before falling back to
// its iterative worklist; the point of that fallback is set by
// HBRecursionDepth alone, not by the stack limit. Best-effort: a failure
// to read or raise the limit is ignored, never a fatal condition.
func raiseStackLimit() {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_STACK, &rlim); err != nil {
		return
	}
	if rlim.Cur >= rlim.Max {
		return
	}
	rlim.Cur = rlim.Max
	_ = unix.Setrlimit(unix.RLIMIT_STACK, &rlim)
}
