// Package constants holds process-wide default values for krace: global,
// read-only data initialized once at analyzer startup.
package constants

// Ledger defaults.
const (
	// DefaultLedgerCap is the default maximum byte_cursor a ledger header
	// may declare before the ledger reader treats it as an integrity
	// overflow. 4 GiB comfortably covers traces of tens of millions of
	// records while still catching a corrupted or adversarial header
	// early.
	DefaultLedgerCap = 4 << 30

	// DefaultReaderBufSize is the buffered-reader window size used when
	// wrapping the ledger file, chosen to amortize syscalls across the
	// 24-byte record prefix plus payload without holding the whole file in
	// memory.
	DefaultReaderBufSize = 1 << 20
)

// Race Engine defaults.
const (
	// DefaultHBRecursionDepth is the recursion-depth threshold past which
	// HBCache falls back to its explicit-worklist search.
	DefaultHBRecursionDepth = 4096

	// DefaultTouchedFilterSize sizes the Race Engine's cuckoo pre-filter;
	// it is a soft capacity hint, not a hard cap, since the filter degrades
	// gracefully past it.
	DefaultTouchedFilterSize = 1 << 20
)

// Reporter defaults.
const (
	// DefaultFlushLines is how many transcript lines the Reporter buffers
	// before writing them to its output writer. Flushed lines stay in
	// memory as well, so this does not bound transcript memory.
	DefaultFlushLines = 4096

	// ConsoleFileName, RacerFileName, ErrorFileName and RacesJSONFileName
	// are the fixed output artifact names.
	ConsoleFileName    = "console"
	RacerFileName      = "console-racer"
	ErrorFileName      = "console-error"
	RacesJSONFileName  = "races.json"
	MetricsFileName    = "metrics.prom"
)

// RCULockID is the implicit lock id RCU read-side critical sections use,
// re-exported here so config and cmd/kracer don't need to import
// internal/execmodel just for this constant.
const RCULockID = 1
