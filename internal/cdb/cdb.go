// Package cdb loads the compile database: the read-only
// mapping from instruction/block/function hash to source location and
// enclosing function, produced once by the compile-time instrumentation
// pass and consumed for the lifetime of one analyzer run.
package cdb

import (
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// entry is one row of the on-disk compile database: an instruction hash,
// the source location it resolves to, and the hash of its enclosing
// function (used by the analyzer's per-access call-stack sanity check).
type entry struct {
	Hash     uint64 `json:"hash"`
	Location string `json:"location"`
	FuncHash uint64 `json:"func_hash"`
}

// Database is an in-memory CompileDatabase built from a JSON array of
// entries. It is read-only after Load returns, so concurrent lookups
// (internal/interfaces.CompileDatabase's documented contract) need no
// locking.
type Database struct {
	locations map[uint64]string
	funcs     map[uint64]uint64
}

// Empty returns a Database that resolves nothing, for runs without a
// compile database (every lookup-dependent feature degrades to a no-op).
func Empty() *Database {
	return &Database{locations: map[uint64]string{}, funcs: map[uint64]uint64{}}
}

// Resolve implements internal/interfaces.CompileDatabase.
func (d *Database) Resolve(hash uint64) (string, bool) {
	loc, ok := d.locations[hash]
	return loc, ok
}

// Function implements internal/interfaces.CompileDatabase.
func (d *Database) Function(instHash uint64) (uint64, bool) {
	fh, ok := d.funcs[instHash]
	return fh, ok
}

// Len returns how many hashes the database resolves.
func (d *Database) Len() int { return len(d.locations) }

// Load parses a JSON array of {hash, location, func_hash} entries from r.
func Load(r io.Reader) (*Database, error) {
	var entries []entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, err
	}
	db := &Database{
		locations: make(map[uint64]string, len(entries)),
		funcs:     make(map[uint64]uint64, len(entries)),
	}
	for _, e := range entries {
		db.locations[e.Hash] = e.Location
		if e.FuncHash != 0 {
			db.funcs[e.Hash] = e.FuncHash
		}
	}
	return db, nil
}

// LoadFile opens path and parses it as a compile database. A missing path
// is not an error: it returns an Empty database, since the compile
// database only enriches transcript output and deny-list matching, never
// correctness.
func LoadFile(path string) (*Database, error) {
	if path == "" {
		return Empty(), nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Empty(), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
