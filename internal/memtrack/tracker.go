// Package memtrack tracks live allocations: three byte-addressed
// repositories (stack, heap, percpu) that record which instruction
// allocated each byte, used to filter private accesses out of the race
// engine's per-address cells before they ever reach a MemCell.
package memtrack

import "fmt"

// Repository tracks one memory region kind (stack, heap or percpu) at byte
// granularity: alloc/free walk every byte in [addr, addr+size) rather
// than keeping interval ranges.
type Repository struct {
	owner map[uint64]uint64 // byte addr -> allocating instruction hash
	sizes map[uint64]uint64 // base addr -> allocation size
}

// NewRepository returns an empty Repository.
func NewRepository() *Repository {
	return &Repository{owner: make(map[uint64]uint64), sizes: make(map[uint64]uint64)}
}

// DoubleMapError reports an alloc whose range overlaps an existing
// mapping, or a free of an address never sized. Memory management
// corruption, always fatal.
type DoubleMapError struct {
	Addr uint64
	Kind string
}

func (e *DoubleMapError) Error() string {
	return fmt.Sprintf("memtrack: %s region corrupted at 0x%x", e.Kind, e.Addr)
}

// Alloc installs addr->hash for every byte in [addr, addr+size) and
// records the allocation's size keyed by its base address. It fails if any
// byte in the range is already mapped.
func (r *Repository) Alloc(addr, size, hash uint64, kind string) error {
	for i := uint64(0); i < size; i++ {
		if _, exists := r.owner[addr+i]; exists {
			return &DoubleMapError{Addr: addr + i, Kind: kind}
		}
	}
	for i := uint64(0); i < size; i++ {
		r.owner[addr+i] = hash
	}
	r.sizes[addr] = size
	return nil
}

// Free looks up the size recorded at addr's base and removes every byte in
// [addr, addr+size). It fails if addr was never allocated.
func (r *Repository) Free(addr uint64, kind string) (uint64, error) {
	size, ok := r.sizes[addr]
	if !ok {
		return 0, &DoubleMapError{Addr: addr, Kind: kind}
	}
	delete(r.sizes, addr)
	for i := uint64(0); i < size; i++ {
		if _, exists := r.owner[addr+i]; !exists {
			return 0, &DoubleMapError{Addr: addr + i, Kind: kind}
		}
		delete(r.owner, addr+i)
	}
	return size, nil
}

// Contains reports whether addr falls inside any currently live mapping in
// this repository — the private-memory filter the Race Engine consults
// before touching a MemCell.
func (r *Repository) Contains(addr uint64) bool {
	_, ok := r.owner[addr]
	return ok
}

// LiveSizeCount returns how many base allocations remain unfreed, used by
// the end-of-stream closure check: percpu must be empty, heap leftovers
// are tolerated as soft anomalies.
func (r *Repository) LiveSizeCount() int { return len(r.sizes) }

// LiveAddrs returns the base addresses of every unfreed allocation, sorted
// by the caller if needed — used only for diagnostic reporting.
func (r *Repository) LiveAddrs() []uint64 {
	out := make([]uint64, 0, len(r.sizes))
	for a := range r.sizes {
		out = append(out, a)
	}
	return out
}
