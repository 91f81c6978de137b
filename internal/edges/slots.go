// Package edges implements the edge builder: the global
// fork/join/queue/order slot tables used to connect asynchronous producers
// and consumers, and the Link operation that attaches directed edges
// between points in different ExecUnits.
package edges

import "github.com/sslab-gatech/krace/internal/model"

// SlotFork is shared bookkeeping for a fork-style async call site. Exactly
// one consumer may enter per registration. The slot itself outlives the
// consume: EXEC_BACKGROUND/FOREGROUND swap against its Host snapshot while
// the callback runs, and the end-of-stream closure check wants Func and
// Serving both back to zero. Registration state is carried in Func rather
// than by table membership.
type SlotFork struct {
	Kind model.ExecUnitKind
	Hash uint64

	// Func is the registered callback address; zero means the slot is not
	// currently registered (never registered, cancelled, or consumed).
	Func uint64

	// Serving is the callback address currently being executed by a
	// consumer, zero outside a consume/exit window.
	Serving uint64

	// Originator is the point the registration was observed at, kept for
	// bookkeeping; the FORK edge itself is taken from the originator
	// unit's current point at consume time.
	Originator model.Point

	Attachments []model.Point
	Consumers   []model.Point

	// Host is the unit a callback pre-empted on its ptid, restored on
	// exit and swapped against by exec_background / exec_foreground.
	Host *model.ExecUnit
}

// NotifierEntry records one notifier's participation in a join rendezvous:
// the callback it is serving (zeroed again on its exit) and the point it
// entered at.
type NotifierEntry struct {
	Func  uint64
	Point model.Point
}

// SlotJoin is bookkeeping for a join-style rendezvous (wait_queue /
// semaphore): one arriver waits, possibly many notifiers enter, any one of
// them may release the arriver. Like SlotFork, the slot persists; the
// "pass" event zeroes Func instead of deleting the entry.
type SlotJoin struct {
	Kind model.ExecUnitKind
	Hash uint64

	// Func is the callback registered by the arrive event; zero once the
	// arriver has passed the wait object.
	Func uint64

	// Head is the wait object the arriver sleeps on.
	Head uint64

	// Arriver is the reserved step point in the waiting unit, recorded at
	// EVENT_{WAIT,SEMA}_ARRIVE. Every notifier that later enters gets a
	// JOIN edge back to this point and a forward edge from it.
	Arriver *model.Point

	// Notifiers is keyed by the notifier's ptid; a notifier may only serve
	// one callback at a time on a given slot.
	Notifiers map[uint64]*NotifierEntry

	Attachments []model.Point
	Host        *model.ExecUnit
}

// SlotQueue is bookkeeping for workqueue arrivals, identified by a queue
// hash. Multiple producers may notify before the arriver shows up; each
// producer's latest notify point is kept per ptid.
type SlotQueue struct {
	Hash        uint64
	Producers   map[uint64]model.Point
	Attachments []model.Point
}

// SlotOrder is bookkeeping for an address-keyed deposit/consume or
// publish/subscribe edge.
type SlotOrder struct {
	Addr  uint64
	Point model.Point
	ObjV  uint64
}
