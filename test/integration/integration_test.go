// Package integration drives complete synthetic ledgers through a full
// krace.Analyzer as a Ginkgo/Gomega suite: each scenario assembles a byte
// stream with internal/ledger.Builder and asserts on the races reported
// and the transcript produced, exercising every component against its
// real collaborators rather than mocks.
package integration_test

import (
	"bytes"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	krace "github.com/sslab-gatech/krace"
	"github.com/sslab-gatech/krace/internal/config"
	"github.com/sslab-gatech/krace/internal/ledger"
	"github.com/sslab-gatech/krace/internal/reporter"
)

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "krace end-to-end scenario suite")
}

// run assembles records into a ledger, analyzes it with a fresh Analyzer,
// and returns the console transcript alongside the Reporter so a spec can
// assert on both race counts and transcript content.
func run(records ...ledger.Record) (string, *reporter.Reporter) {
	b := ledger.NewBuilder()
	for _, rec := range records {
		b.Add(rec)
	}
	ledgerBytes := b.Bytes(0)

	rep := reporter.New(nil, 0)
	analyzer := krace.NewAnalyzer(config.Default(), nil, nil, rep, nil)

	transcript, err := analyzer.Run(bytes.NewReader(ledgerBytes))
	Expect(err).NotTo(HaveOccurred())
	return transcript, rep
}

func rec(code ledger.Code, ptid uint32, hash uint64) ledger.Record {
	return ledger.Rec(code, ptid, 0, hash)
}

func recA(code ledger.Code, ptid uint32, hash, a uint64) ledger.Record {
	return ledger.WithA(rec(code, ptid, hash), a)
}

func recAB(code ledger.Code, ptid uint32, hash, a, b uint64) ledger.Record {
	return ledger.WithB(rec(code, ptid, hash), a, b)
}

func recInfo(code ledger.Code, ptid uint32, info, hash, lockAddr uint64) ledger.Record {
	return ledger.WithA(ledger.Rec(code, ptid, info, hash), lockAddr)
}

var _ = Describe("S1 trivial syscall", func() {
	It("reports zero races and passes every closure invariant", func() {
		_, rep := run(
			rec(ledger.SysLaunch, 1, 0),
			rec(ledger.CtxtSyscallEnter, 1, 100),
			recA(ledger.ExecFuncEnter, 1, 10, 0x1000),
			recAB(ledger.MemRead, 1, 11, 0xA0, 4),
			recA(ledger.ExecFuncExit, 1, 10, 0x1000),
			rec(ledger.CtxtSyscallExit, 1, 100),
			rec(ledger.SysFinish, 1, 0),
		)

		Expect(rep.RaceCount()).To(Equal(0))
		Expect(rep.SoftAnomalies()).To(Equal(0))
	})
})

var _ = Describe("S2 two-thread race", func() {
	It("reports one write-write race per overlapping byte between the two unsynchronized writers", func() {
		// The two 4-byte writes fully overlap ([0x200,0x204) both sides),
		// and the race engine's cells are per-byte, so every
		// one of the 4 overlapping bytes is its own race, aggregated under
		// the same (src_hash, dst_hash) pair.
		transcript, rep := run(
			rec(ledger.SysLaunch, 1, 0),
			rec(ledger.CtxtSyscallEnter, 1, 100),
			recAB(ledger.MemWrite, 1, 20, 0x200, 4),
			rec(ledger.CtxtSyscallExit, 1, 100),
			rec(ledger.CtxtSyscallEnter, 2, 101),
			recAB(ledger.MemWrite, 2, 21, 0x200, 4),
			rec(ledger.CtxtSyscallExit, 2, 101),
			rec(ledger.SysFinish, 1, 0),
		)

		Expect(rep.RaceCount()).To(Equal(4))
		Expect(transcript).To(Or(ContainSubstring("20:21 - 4"), ContainSubstring("21:20 - 4")))
	})
})

var _ = Describe("S3 lock-protected accesses", func() {
	It("reports no race once both writers hold the same generic lock", func() {
		const heldWriter = uint64(0b101) // rw=1, try=0, succ=1

		_, rep := run(
			rec(ledger.SysLaunch, 1, 0),
			rec(ledger.CtxtSyscallEnter, 1, 100),
			recInfo(ledger.SyncGenLock, 1, heldWriter, 200, 0x500),
			recAB(ledger.MemWrite, 1, 20, 0x200, 4),
			recInfo(ledger.SyncGenUnlock, 1, heldWriter, 201, 0x500),
			rec(ledger.CtxtSyscallExit, 1, 100),
			rec(ledger.CtxtSyscallEnter, 2, 101),
			recInfo(ledger.SyncGenLock, 2, heldWriter, 210, 0x500),
			recAB(ledger.MemWrite, 2, 21, 0x200, 4),
			recInfo(ledger.SyncGenUnlock, 2, heldWriter, 211, 0x500),
			rec(ledger.CtxtSyscallExit, 2, 101),
			rec(ledger.SysFinish, 1, 0),
		)

		Expect(rep.RaceCount()).To(Equal(0))
	})
})

var _ = Describe("S4 fork-style async happens-before", func() {
	It("suppresses the race via the FORK edge from register to the callback's entry", func() {
		_, rep := run(
			rec(ledger.SysLaunch, 1, 0),
			rec(ledger.CtxtSyscallEnter, 1, 100),
			recA(ledger.AsyncWorkRegister, 1, 777, 0x300),
			recAB(ledger.MemWrite, 1, 30, 0x400, 4),
			rec(ledger.CtxtSyscallExit, 1, 100),
			recA(ledger.CtxtWorkEnter, 2, 777, 0x300),
			recAB(ledger.MemRead, 2, 31, 0x400, 4),
			recA(ledger.CtxtWorkExit, 2, 777, 0x300),
			rec(ledger.SysFinish, 1, 0),
		)

		Expect(rep.RaceCount()).To(Equal(0))
	})
})

var _ = Describe("S5 workqueue notify/arrive", func() {
	It("suppresses the race via the QUEUE edge from notify to arrive", func() {
		_, rep := run(
			rec(ledger.SysLaunch, 1, 0),
			rec(ledger.CtxtSyscallEnter, 1, 100),
			recAB(ledger.MemWrite, 1, 40, 0x500, 4),
			rec(ledger.EventQueueNotify, 1, 888),
			rec(ledger.CtxtSyscallExit, 1, 100),
			rec(ledger.CtxtSyscallEnter, 2, 101),
			rec(ledger.EventQueueArrive, 2, 888),
			recAB(ledger.MemRead, 2, 41, 0x500, 4),
			rec(ledger.CtxtSyscallExit, 2, 101),
			rec(ledger.SysFinish, 1, 0),
		)

		Expect(rep.RaceCount()).To(Equal(0))
	})
})

var _ = Describe("S6 seqlock pending transaction suppression", func() {
	It("suppresses the race while a reader transaction overlaps the writer's seqlock id", func() {
		const seqWriter = uint64(0b101) // rw=1, try=0, succ=1
		const seqReader = uint64(0b001) // rw=0, try=0, succ=1

		_, rep := run(
			rec(ledger.SysLaunch, 1, 0),
			rec(ledger.CtxtSyscallEnter, 1, 100),
			recInfo(ledger.SyncSeqLock, 1, seqWriter, 50, 0x700),
			recAB(ledger.MemWrite, 1, 51, 0x600, 4),
			recInfo(ledger.SyncSeqUnlock, 1, seqWriter, 52, 0x700),
			rec(ledger.CtxtSyscallExit, 1, 100),
			rec(ledger.CtxtSyscallEnter, 2, 101),
			recInfo(ledger.SyncSeqLock, 2, seqReader, 60, 0x700),
			recAB(ledger.MemRead, 2, 61, 0x600, 4),
			recInfo(ledger.SyncSeqUnlock, 2, seqReader, 62, 0x700),
			rec(ledger.CtxtSyscallExit, 2, 101),
			rec(ledger.SysFinish, 1, 0),
		)

		Expect(rep.RaceCount()).To(Equal(0))
	})
})

var _ = Describe("wait-queue rendezvous", func() {
	It("orders a notifier task's earlier units before the waiter via the JOIN edge", func() {
		_, rep := run(
			rec(ledger.SysLaunch, 1, 0),
			rec(ledger.CtxtSyscallEnter, 1, 100),
			recAB(ledger.EventWaitArrive, 1, 999, 0x600, 0xAA),
			rec(ledger.CtxtSyscallEnter, 2, 101),
			recAB(ledger.MemWrite, 2, 70, 0x800, 4),
			rec(ledger.CtxtSyscallExit, 2, 101),
			recA(ledger.EventWaitNotifyEnter, 2, 999, 0x600),
			recA(ledger.EventWaitNotifyExit, 2, 999, 0x600),
			recA(ledger.EventWaitPass, 1, 999, 0x600),
			recAB(ledger.MemRead, 1, 71, 0x800, 4),
			rec(ledger.CtxtSyscallExit, 1, 100),
			rec(ledger.SysFinish, 1, 0),
		)

		Expect(rep.RaceCount()).To(Equal(0))
		Expect(rep.SoftAnomalies()).To(Equal(0))
	})
})

var _ = Describe("object deposit/consume ordering", func() {
	It("orders the depositor's prior write before the consumer's read via the ORDER edge", func() {
		_, rep := run(
			rec(ledger.SysLaunch, 1, 0),
			rec(ledger.CtxtSyscallEnter, 1, 100),
			recAB(ledger.MemWrite, 1, 80, 0x900, 4),
			recAB(ledger.OrderObjDeposit, 1, 81, 0x940, 0xC0FFEE),
			rec(ledger.CtxtSyscallExit, 1, 100),
			rec(ledger.CtxtSyscallEnter, 2, 101),
			recA(ledger.OrderObjConsume, 2, 82, 0x940),
			recAB(ledger.MemRead, 2, 83, 0x900, 4),
			rec(ledger.CtxtSyscallExit, 2, 101),
			rec(ledger.SysFinish, 1, 0),
		)

		Expect(rep.RaceCount()).To(Equal(0))
	})
})

var _ = Describe("protocol violations", func() {
	It("aborts on a context-exit hash mismatch and still returns the partial transcript", func() {
		b := ledger.NewBuilder()
		b.Add(rec(ledger.SysLaunch, 1, 0))
		b.Add(rec(ledger.CtxtSyscallEnter, 1, 100))
		b.Add(rec(ledger.CtxtSyscallExit, 1, 999))

		rep := reporter.New(nil, 0)
		analyzer := krace.NewAnalyzer(config.Default(), nil, nil, rep, nil)

		transcript, err := analyzer.Run(bytes.NewReader(b.Bytes(0)))
		Expect(err).To(HaveOccurred())
		Expect(krace.IsCode(err, krace.ErrCodeProtocolViolation)).To(BeTrue())
		Expect(transcript).To(ContainSubstring("SYSCALL 100"))
	})

	It("aborts when an indirect context enters without a registration", func() {
		b := ledger.NewBuilder()
		b.Add(rec(ledger.SysLaunch, 1, 0))
		b.Add(recA(ledger.CtxtWorkEnter, 2, 777, 0x300))

		rep := reporter.New(nil, 0)
		analyzer := krace.NewAnalyzer(config.Default(), nil, nil, rep, nil)

		_, err := analyzer.Run(bytes.NewReader(b.Bytes(0)))
		Expect(err).To(HaveOccurred())
		Expect(krace.IsCode(err, krace.ErrCodeProtocolViolation)).To(BeTrue())
	})
})

var _ = Describe("idempotence", func() {
	It("produces the same console-racer aggregate across repeated runs of the same ledger", func() {
		records := []ledger.Record{
			rec(ledger.SysLaunch, 1, 0),
			rec(ledger.CtxtSyscallEnter, 1, 100),
			recAB(ledger.MemWrite, 1, 20, 0x200, 4),
			rec(ledger.CtxtSyscallExit, 1, 100),
			rec(ledger.CtxtSyscallEnter, 2, 101),
			recAB(ledger.MemWrite, 2, 21, 0x200, 4),
			rec(ledger.CtxtSyscallExit, 2, 101),
			rec(ledger.SysFinish, 1, 0),
		}

		first, _ := run(records...)
		second, _ := run(records...)
		Expect(first).To(Equal(second))

		aggregateOf := func(transcript string) string {
			idx := strings.Index(transcript, "----")
			return transcript[idx:]
		}
		Expect(aggregateOf(first)).To(Equal(aggregateOf(second)))
	})
})
