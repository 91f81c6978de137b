package ledger

// Record is one decoded ledger entry: the 24-byte fixed prefix plus
// whatever payload fields its Code carries. Not every field is
// meaningful for every Code; callers switch on Code to know which apply.
type Record struct {
	Code Code
	PTID uint32
	Info uint64
	Hash uint64

	// A is the first trailing u64 word: callback_addr, addr, or lock_id
	// depending on Code.
	A uint64
	// B is the second trailing u64 word: size, head, or objv.
	B uint64
	// Marks holds the 0-3 extra u64 words of a MARK_V0..V3 record.
	Marks []uint64
}

// SyncInfo interprets the Info bitfield carried by SYNC_{GEN,SEQ,RCU}_LOCK
// and SYNC_*_UNLOCK records: bit 2 set selects the
// writer/exclusive side of the lock (mapped into the writer submap,
// non-nestable), clear selects the reader side (mapped into the reader
// submap; nestable for RCU, tracked via add_tran_r/del_tran_r
// for seqlocks). Bit 1 marks a try-lock, bit 0 marks success.
type SyncInfo uint64

func (s SyncInfo) IsRW() bool   { return s&(1<<2) != 0 }
func (s SyncInfo) IsTry() bool  { return s&(1<<1) != 0 }
func (s SyncInfo) IsSucc() bool { return s&(1<<0) != 0 }
