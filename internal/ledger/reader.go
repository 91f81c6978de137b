package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Header is the ledger's 16-byte fixed header.
type Header struct {
	EntryCount uint64
	ByteCursor uint64
}

// ErrTruncated is returned by Reader.Next when the stream ends mid-record;
// callers surface this as the "ledger overflowed / unexpected errors"
// failure mode and still emit whatever console transcript was built so
// far.
var ErrTruncated = errors.New("ledger: truncated record")

// ErrIntegrityOverflow is returned when the header's byte_cursor exceeds
// the configured ledger cap; this is fatal and unconditional.
var ErrIntegrityOverflow = errors.New("ledger: byte_cursor exceeds configured cap")

// UnknownCodeError reports an unrecognized record code whose payload size
// could not be determined, which is fatal: the decoder cannot resync.
type UnknownCodeError struct {
	Code Code
}

func (e *UnknownCodeError) Error() string {
	return fmt.Sprintf("ledger: unknown record code %d with undeterminable payload size", e.Code)
}

// Reader decodes a ledger byte stream into Records one at a time. It
// counts the entries actually decoded so the caller can cross-check
// against Header.EntryCount, and exposes every consumed byte through
// OnByte for content digesting.
type Reader struct {
	r      io.Reader
	Header Header

	// Cap is the configured maximum byte_cursor; zero means unlimited.
	Cap uint64

	decoded  uint64
	consumed uint64

	// OnByte, when set, is called with every raw byte read, letting the
	// caller maintain a running content digest without re-reading the
	// stream (wired to a BLAKE2b hash by the Analyzer).
	OnByte func([]byte)
}

// NewReader reads and validates the 16-byte header, then returns a Reader
// ready to decode entries.
func NewReader(r io.Reader, cap uint64) (*Reader, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("ledger: reading header: %w", err)
	}
	h := Header{
		EntryCount: binary.LittleEndian.Uint64(hdr[0:8]),
		ByteCursor: binary.LittleEndian.Uint64(hdr[8:16]),
	}
	if cap > 0 && h.ByteCursor > cap {
		return nil, ErrIntegrityOverflow
	}
	return &Reader{r: r, Header: h, Cap: cap}, nil
}

// DecodedCount returns how many entries have been successfully decoded so
// far.
func (r *Reader) DecodedCount() uint64 { return r.decoded }

func (r *Reader) readFull(buf []byte) error {
	n, err := io.ReadFull(r.r, buf)
	r.consumed += uint64(n)
	if r.OnByte != nil && n > 0 {
		r.OnByte(buf[:n])
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncated
		}
		return err
	}
	return nil
}

// Next decodes and returns the next Record. io.EOF is returned once the
// stream is exhausted cleanly (after SYS_FINISH); ErrTruncated is returned
// if the stream ends mid-record.
func (r *Reader) Next() (Record, error) {
	var prefix [24]byte
	n, err := io.ReadFull(r.r, prefix[:])
	if err != nil && n == 0 {
		return Record{}, io.EOF
	}
	r.consumed += uint64(n)
	if r.OnByte != nil && n > 0 {
		r.OnByte(prefix[:n])
	}
	if err != nil {
		return Record{}, ErrTruncated
	}

	rec := Record{
		Code: Code(binary.LittleEndian.Uint32(prefix[0:4])),
		PTID: binary.LittleEndian.Uint32(prefix[4:8]),
		Info: binary.LittleEndian.Uint64(prefix[8:16]),
		Hash: binary.LittleEndian.Uint64(prefix[16:24]),
	}

	switch rec.Code.shape() {
	case payload1U64:
		var buf [8]byte
		if err := r.readFull(buf[:]); err != nil {
			return Record{}, err
		}
		rec.A = binary.LittleEndian.Uint64(buf[:])
	case payload2U64:
		var buf [16]byte
		if err := r.readFull(buf[:]); err != nil {
			return Record{}, err
		}
		rec.A = binary.LittleEndian.Uint64(buf[0:8])
		rec.B = binary.LittleEndian.Uint64(buf[8:16])
	case payloadMark:
		words := markWords(rec.Code)
		if words > 0 {
			buf := make([]byte, 8*words)
			if err := r.readFull(buf); err != nil {
				return Record{}, err
			}
			rec.Marks = make([]uint64, words)
			for i := 0; i < words; i++ {
				rec.Marks[i] = binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
			}
		}
	case payloadNone:
		if !rec.Code.Valid() {
			return Record{}, &UnknownCodeError{Code: rec.Code}
		}
	}

	if r.Cap > 0 && r.consumed > r.Cap {
		return Record{}, ErrIntegrityOverflow
	}

	r.decoded++
	return rec, nil
}
