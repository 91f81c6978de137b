// Package reporter accumulates the analysis outputs: a transcript line
// buffer, written to an optional writer in batches and also kept whole in
// memory for the final transcript, a
// race aggregate keyed by (src_hash, dst_hash), structured
// JSON race output via json-iterator, and optional zstd compression of the
// console stream for very large runs.
package reporter

import (
	"fmt"
	"io"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"

	"github.com/sslab-gatech/krace/internal/model"
	"github.com/sslab-gatech/krace/internal/raceengine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RaceAlias is the (src_hash, dst_hash) aggregation key: every race
// between the same pair of instructions counts against one alias.
type RaceAlias struct {
	SrcHash uint64
	DstHash uint64
}

// JSONRace is the structured form of one aggregated race, resolved with
// source locations for the races.json artifact.
type JSONRace struct {
	Addr     uint64 `json:"addr"`
	SrcHash  uint64 `json:"src_hash"`
	DstHash  uint64 `json:"dst_hash"`
	SrcPoint string `json:"src_point"`
	DstPoint string `json:"dst_point"`
	SrcLoc   string `json:"src_location,omitempty"`
	DstLoc   string `json:"dst_location,omitempty"`
	Count    int    `json:"count"`
}

// LocationResolver resolves an instruction hash to a source location, the
// narrow slice of internal/interfaces.CompileDatabase the Reporter needs.
type LocationResolver func(hash uint64) (string, bool)

// Reporter accumulates the console transcript, aggregates races, and
// writes the final artifacts.
type Reporter struct {
	lines      []string
	flushEvery int
	flushed    int
	out        io.Writer

	races      []raceengine.DataRace
	racerLines []string
	aggregate  map[RaceAlias]int

	softAnomalies int
	recordTally   map[string]uint64

	covEdges int
}

// New returns a Reporter that flushes to out every flushEvery buffered
// lines (0 disables periodic flush; the caller flushes explicitly at the
// end instead).
func New(out io.Writer, flushEvery int) *Reporter {
	return &Reporter{
		out:        out,
		flushEvery: flushEvery,
		aggregate:  make(map[RaceAlias]int),
		recordTally: make(map[string]uint64),
	}
}

// Line appends one transcript line, prefixed by icon and indented to
// depth call-stack frames, then flushes if the buffer has grown past the
// configured threshold.
func (r *Reporter) Line(icon string, depth int, point model.Point, payload string) {
	indent := strings.Repeat("  ", depth)
	r.lines = append(r.lines, fmt.Sprintf("%s %s<%s> %s", icon, indent, point, payload))
	r.maybeFlush()
}

// Warn appends a soft-anomaly "[!]" line.
func (r *Reporter) Warn(msg string) {
	r.softAnomalies++
	r.lines = append(r.lines, fmt.Sprintf("[!] %s", msg))
	r.maybeFlush()
}

// TallyRecord increments the per-code record counter reported in the
// console footer.
func (r *Reporter) TallyRecord(code string) {
	r.recordTally[code]++
}

// RecordCovEdge increments the CFG-edge coverage counter and appends the
// "---" transcript marker.
func (r *Reporter) RecordCovEdge() {
	r.covEdges++
	r.lines = append(r.lines, "---")
	r.maybeFlush()
}

// RecordRaces appends newly found races and folds them into the
// (src_hash, dst_hash) aggregate, emitting the paired "[*]" src/dst
// transcript lines and buffering the matching racer-block entry for
// RacerTranscript.
func (r *Reporter) RecordRaces(found []raceengine.DataRace, resolve LocationResolver) {
	for _, race := range found {
		r.races = append(r.races, race)
		key := RaceAlias{SrcHash: race.Src.InstHash, DstHash: race.Dst.InstHash}
		r.aggregate[key]++

		srcLoc, _ := resolveOrEmpty(resolve, race.Src.InstHash)
		dstLoc, _ := resolveOrEmpty(resolve, race.Dst.InstHash)
		r.lines = append(r.lines,
			fmt.Sprintf("[*] <%s> %s", race.Src.Point, srcLoc),
			fmt.Sprintf("[*] <%s> %s", race.Dst.Point, dstLoc),
		)
		r.racerLines = append(r.racerLines,
			fmt.Sprintf("[*] <%s> %s", race.Src.Point, srcLoc),
			fmt.Sprintf("[*] <%s> %s", race.Dst.Point, dstLoc),
			"",
		)
	}
	r.maybeFlush()
}

func resolveOrEmpty(resolve LocationResolver, hash uint64) (string, bool) {
	if resolve == nil {
		return "", false
	}
	return resolve(hash)
}

func (r *Reporter) maybeFlush() {
	if r.flushEvery <= 0 || len(r.lines)-r.flushed < r.flushEvery {
		return
	}
	r.Flush()
}

// Flush writes every unflushed line to the underlying writer.
func (r *Reporter) Flush() {
	if r.out == nil {
		r.flushed = len(r.lines)
		return
	}
	for _, line := range r.lines[r.flushed:] {
		fmt.Fprintln(r.out, line)
	}
	r.flushed = len(r.lines)
}

// Finalize flushes remaining lines, appends the aggregate divider, the
// sorted (src:dst - count) summary, and the per-record-code
// tally, then returns the full in-memory transcript (needed for the
// console-error artifact on a fatal failure, and for test assertions
// against a small run).
func (r *Reporter) Finalize() string {
	r.Flush()
	r.lines = append(r.lines, "----")
	for _, s := range r.sortedAggregate() {
		r.lines = append(r.lines, fmt.Sprintf("%d:%d - %d", s.SrcHash, s.DstHash, s.Count))
	}
	if len(r.recordTally) > 0 {
		r.lines = append(r.lines, "----")
		codes := make([]string, 0, len(r.recordTally))
		for code := range r.recordTally {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			r.lines = append(r.lines, fmt.Sprintf("%s - %d", code, r.recordTally[code]))
		}
	}
	r.Flush()
	return strings.Join(r.lines, "\n")
}

// RacerTranscript renders the console-racer artifact: one block per race
// (src line, dst line, blank), followed by the "----"
// divider and the sorted (src_hash:dst_hash - count) aggregate, with no
// interleaved per-event transcript lines.
func (r *Reporter) RacerTranscript() string {
	var out []string
	out = append(out, r.racerLines...)
	out = append(out, "----")
	for _, s := range r.sortedAggregate() {
		out = append(out, fmt.Sprintf("%d:%d - %d", s.SrcHash, s.DstHash, s.Count))
	}
	return strings.Join(out, "\n")
}

type aggregateEntry struct {
	RaceAlias
	Count int
}

func (r *Reporter) sortedAggregate() []aggregateEntry {
	out := make([]aggregateEntry, 0, len(r.aggregate))
	for k, v := range r.aggregate {
		out = append(out, aggregateEntry{RaceAlias: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SrcHash != out[j].SrcHash {
			return out[i].SrcHash < out[j].SrcHash
		}
		return out[i].DstHash < out[j].DstHash
	})
	return out
}

// SoftAnomalies returns how many "[!]" lines were emitted.
func (r *Reporter) SoftAnomalies() int { return r.softAnomalies }

// RaceCount returns how many races were recorded (pre-aggregation).
func (r *Reporter) RaceCount() int { return len(r.races) }

// WriteJSON serializes every aggregated race to w as races.json, the
// machine-readable second pass over the race list.
func (r *Reporter) WriteJSON(w io.Writer, resolve LocationResolver) error {
	out := make([]JSONRace, 0, len(r.aggregate))
	seen := make(map[RaceAlias]raceengine.DataRace)
	for _, race := range r.races {
		key := RaceAlias{SrcHash: race.Src.InstHash, DstHash: race.Dst.InstHash}
		if _, ok := seen[key]; !ok {
			seen[key] = race
		}
	}
	for _, entry := range r.sortedAggregate() {
		race, ok := seen[entry.RaceAlias]
		if !ok {
			continue
		}
		srcLoc, _ := resolveOrEmpty(resolve, race.Src.InstHash)
		dstLoc, _ := resolveOrEmpty(resolve, race.Dst.InstHash)
		out = append(out, JSONRace{
			Addr:     race.Addr,
			SrcHash:  race.Src.InstHash,
			DstHash:  race.Dst.InstHash,
			SrcPoint: race.Src.Point.String(),
			DstPoint: race.Dst.Point.String(),
			SrcLoc:   srcLoc,
			DstLoc:   dstLoc,
			Count:    entry.Count,
		})
	}
	return json.NewEncoder(w).Encode(out)
}

// NewZstdWriter wraps w with a zstd encoder for the -compress-console
// option. Callers must Close the
// returned writer to flush the final frame.
func NewZstdWriter(w io.Writer) (*zstd.Encoder, error) {
	return zstd.NewWriter(w)
}
