// Package denylist holds the curated list of source-location strings
// known to contain benign races: a built-in constant set shipped with the
// analyzer, plus any number of operator-supplied files merged on top.
package denylist

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// List is a static, read-only set of "path:line:column" strings, safe to
// share across a single analysis run without synchronization once built.
type List struct {
	locations map[string]struct{}
}

// Empty returns a List that denies nothing.
func Empty() *List {
	return &List{locations: make(map[string]struct{})}
}

// builtin is the curated set shipped with the analyzer, the union of the
// analyzer-side and viewer-side lists from the system this models (the
// canonical set is ambiguous between the two, so both are taken).
var builtin = []string{
	"kernel/linux/fs/inode.c:1543:20",
	"kernel/linux/fs/inode.c:441:52",
	"kernel/linux/fs/inode.c:557:2",
	"kernel/linux/fs/inode.c:439:15",
	"kernel/linux/fs/inode.c:1579:2",
	"kernel/linux/fs/btrfs/volumes.c:6458:31",
	"kernel/linux/fs/btrfs/async-thread.c:384:13",
	"kernel/linux/fs/btrfs/block-group.c:404:2",
	"kernel/linux/fs/btrfs/block-group.c:408:2",
	"kernel/linux/fs/btrfs/block-group.h:246:16",
	"kernel/linux/fs/btrfs/block-group.c:654:22",
	"kernel/linux/fs/btrfs/transaction.c:269:21",
	"kernel/linux/fs/btrfs/transaction.c:2057:19",
	"kernel/linux/fs/btrfs/disk-io.c:607:13",
	"kernel/linux/fs/btrfs/ctree.h:2117:1",
	"kernel/linux/fs/btrfs/transaction.c:495:25",
	"kernel/linux/fs/btrfs/block-rsv.c:195:52",
	"kernel/linux/fs/btrfs/block-rsv.c:391:6",
	"kernel/linux/fs/btrfs/inode.c:635:5",
}

// Builtin returns a List pre-seeded with the curated locations shipped as
// constant data alongside the analyzer.
func Builtin() *List {
	out := Empty()
	for _, loc := range builtin {
		out.locations[loc] = struct{}{}
	}
	return out
}

// Contains reports whether location matches the deny list: either exactly,
// or by containing a listed entry (an instruction can resolve to several
// joined source locations).
func (l *List) Contains(location string) bool {
	if _, ok := l.locations[location]; ok {
		return true
	}
	for entry := range l.locations {
		if strings.Contains(location, entry) {
			return true
		}
	}
	return false
}

// Len returns how many distinct locations are loaded.
func (l *List) Len() int { return len(l.locations) }

// Load reads one newline-delimited deny-list source, merging it into dst.
// Blank lines and lines starting with '#' are ignored. dst may be nil, in
// which case a fresh List is created.
func Load(r io.Reader, dst *List) (*List, error) {
	if dst == nil {
		dst = Empty()
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		dst.locations[line] = struct{}{}
	}
	return dst, scanner.Err()
}

// LoadFiles merges every named file into a single fresh List; MergeFiles
// does the same into an existing one (typically Builtin()). Missing files
// are skipped rather than treated as fatal, since an operator may
// legitimately supply only one of the known list sources.
func LoadFiles(paths ...string) (*List, error) {
	return MergeFiles(Empty(), paths...)
}

// MergeFiles merges every named file into dst and returns it.
func MergeFiles(dst *List, paths ...string) (*List, error) {
	out := dst
	if out == nil {
		out = Empty()
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		f, err := os.Open(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		_, err = Load(f, out)
		closeErr := f.Close()
		if err != nil {
			return nil, err
		}
		if closeErr != nil {
			return nil, closeErr
		}
	}
	return out, nil
}
