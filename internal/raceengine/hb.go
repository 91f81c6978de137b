package raceengine

import (
	"fmt"

	"github.com/sslab-gatech/krace/internal/model"
)

// UnitLookup resolves the ExecUnit owning a (ptid, seq) pair. The HB
// search never mutates units, only reads their DepsOn adjacency.
type UnitLookup func(ptid, seq uint64) *model.ExecUnit

// LoopError reports a cycle discovered in the happens-before graph, a
// fatal condition: edges only ever point backward in observation order,
// so a cycle means corrupted bookkeeping.
type LoopError struct {
	Src, Dst model.Point
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("raceengine: LOOP IN HAPPENS-BEFORE at %s -> %s", e.Src, e.Dst)
}

type pairKey struct{ src, dst model.Point }

// HBCache is the memoized reachability cache. Edges are only ever added,
// never removed, so hb is monotone and the memo never needs invalidation
// within a run.
type HBCache struct {
	memo   map[pairKey]bool
	lookup UnitLookup

	// maxRecursionDepth bounds the plain recursive search; beyond it,
	// queries fall back to an explicit work-list so pathological traces
	// cannot overflow the Go stack even after the rlimit bump performed
	// at analyzer startup.
	maxRecursionDepth int

	queries int64
	hits    int64
}

// NewHBCache returns a cache backed by lookup, with the given recursion
// depth threshold before falling back to the iterative search.
func NewHBCache(lookup UnitLookup, maxRecursionDepth int) *HBCache {
	if maxRecursionDepth <= 0 {
		maxRecursionDepth = 4096
	}
	return &HBCache{memo: make(map[pairKey]bool), lookup: lookup, maxRecursionDepth: maxRecursionDepth}
}

// Stats returns the number of HB queries issued and how many were served
// from the memo cache, handed to the metrics registry at end of run.
func (c *HBCache) Stats() (queries, hits int64) { return c.queries, c.hits }

// HB returns whether src happens-before dst.
func (c *HBCache) HB(src, dst model.Point) (bool, error) {
	c.queries++
	return c.hb(src, dst, make(map[pairKey]bool), 0)
}

// sameTaskOrder resolves an HB query between two points on the same ptid:
// units of one ptid execute serially, so the pair is decided by (seq, clk)
// alone and never consults the edge graph.
func sameTaskOrder(src, dst model.Point) bool {
	if src.Seq != dst.Seq {
		return src.Seq < dst.Seq
	}
	return src.Clk <= dst.Clk
}

func (c *HBCache) hb(src, dst model.Point, inProgress map[pairKey]bool, depth int) (bool, error) {
	if src.PTID == dst.PTID {
		return sameTaskOrder(src, dst), nil
	}

	key := pairKey{src, dst}
	if v, ok := c.memo[key]; ok {
		c.hits++
		return v, nil
	}

	if inProgress[key] {
		return false, &LoopError{Src: src, Dst: dst}
	}

	if depth >= c.maxRecursionDepth {
		return c.hbIterative(src, dst)
	}

	inProgress[key] = true
	defer delete(inProgress, key)

	dstUnit := c.lookup(dst.PTID, dst.Seq)
	result := false
	if dstUnit != nil {
	search:
		for clk, deps := range dstUnit.DepsOn {
			if clk > dst.Clk {
				continue
			}
			for _, dep := range deps {
				ok, err := c.hb(src, dep.Other, inProgress, depth+1)
				if err != nil {
					return false, err
				}
				if ok {
					result = true
					break search
				}
			}
		}
	}

	c.memo[key] = result
	return result, nil
}

// hbFrame is one entry of the explicit work list used by hbIterative: the
// query (src, dst) being resolved, its candidate dependency list (computed
// lazily on first visit) and a cursor into it.
type hbFrame struct {
	src, dst    model.Point
	others      []model.Point
	idx         int
	initialized bool
}

// hbIterative recomputes hb(src, dst) using an explicit stack instead of
// Go call-stack recursion, so arbitrarily deep traces cannot overflow the
// goroutine stack. It shares the memo cache with the recursive path.
func (c *HBCache) hbIterative(src, dst model.Point) (bool, error) {
	inProgress := make(map[pairKey]bool)
	stack := []*hbFrame{{src: src, dst: dst}}

outer:
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		key := pairKey{top.src, top.dst}

		if _, ok := c.memo[key]; !ok && top.src.PTID == top.dst.PTID {
			c.memo[key] = sameTaskOrder(top.src, top.dst)
		}
		if _, ok := c.memo[key]; ok {
			stack = stack[:len(stack)-1]
			delete(inProgress, key)
			continue
		}

		if !top.initialized {
			top.initialized = true
			inProgress[key] = true
			dstUnit := c.lookup(top.dst.PTID, top.dst.Seq)
			if dstUnit != nil {
				for clk, deps := range dstUnit.DepsOn {
					if clk > top.dst.Clk {
						continue
					}
					for _, dep := range deps {
						top.others = append(top.others, dep.Other)
					}
				}
			}
		}

		for top.idx < len(top.others) {
			sub := top.others[top.idx]
			subKey := pairKey{top.src, sub}
			if top.src.PTID == sub.PTID {
				if sameTaskOrder(top.src, sub) {
					c.memo[key] = true
					break
				}
				top.idx++
				continue
			}
			if v, ok := c.memo[subKey]; ok {
				if v {
					c.memo[key] = true
					break
				}
				top.idx++
				continue
			}
			if inProgress[subKey] {
				return false, &LoopError{Src: top.src, Dst: sub}
			}
			inProgress[subKey] = true
			stack = append(stack, &hbFrame{src: top.src, dst: sub})
			continue outer
		}

		if _, ok := c.memo[key]; !ok {
			c.memo[key] = false
		}
		stack = stack[:len(stack)-1]
		delete(inProgress, key)
	}

	return c.memo[pairKey{src, dst}], nil
}
