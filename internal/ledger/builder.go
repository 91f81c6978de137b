package ledger

import (
	"bytes"
	"encoding/binary"
)

// Builder assembles a ledger byte stream in memory, a stand-in for the
// in-kernel probe used to construct synthetic ledgers for unit and
// integration tests without touching disk.
type Builder struct {
	buf     bytes.Buffer
	entries int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) putU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
}

func (b *Builder) putU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.buf.Write(tmp[:])
}

// Add appends one record to the ledger being built.
func (b *Builder) Add(rec Record) *Builder {
	b.putU32(uint32(rec.Code))
	b.putU32(rec.PTID)
	b.putU64(rec.Info)
	b.putU64(rec.Hash)

	switch rec.Code.shape() {
	case payload1U64:
		b.putU64(rec.A)
	case payload2U64:
		b.putU64(rec.A)
		b.putU64(rec.B)
	case payloadMark:
		for _, w := range rec.Marks {
			b.putU64(w)
		}
	}
	b.entries++
	return b
}

// Rec is a convenience constructor so call sites building a ledger read
// like "b.Add(ledger.Rec(ledger.CtxtSyscallEnter, 1, 0, 100))".
func Rec(code Code, ptid uint32, info, hash uint64) Record {
	return Record{Code: code, PTID: ptid, Info: info, Hash: hash}
}

// WithA sets the first trailing payload word and returns rec for chaining.
func WithA(rec Record, a uint64) Record { rec.A = a; return rec }

// WithB sets both trailing payload words (A and B) and returns rec for
// chaining.
func WithB(rec Record, a, b uint64) Record { rec.A = a; rec.B = b; return rec }

// Bytes returns the assembled ledger, prefixed with its 16-byte header.
// byteCursor defaults to the assembled body length when cursor is 0.
func (b *Builder) Bytes(byteCursor uint64) []byte {
	body := b.buf.Bytes()
	if byteCursor == 0 {
		byteCursor = uint64(len(body))
	}
	out := make([]byte, 0, 16+len(body))
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(b.entries))
	binary.LittleEndian.PutUint64(hdr[8:16], byteCursor)
	out = append(out, hdr[:]...)
	out = append(out, body...)
	return out
}
