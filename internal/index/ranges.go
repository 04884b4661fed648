// Package index implements the temporal indexer (spec.md §4.7,
// component C7): folding parsed records into the relational index,
// and in particular MergeRanges, the range-merge algorithm that keeps
// each HashLocation's timestamp ranges canonical as new observations
// are folded in, potentially out of order.
//
// MergeRanges is grounded on original_source/snapshot.py's
// provision_database, whose embedded SQL function
// get_timestamps_ranges implements exactly the four-case walk
// reproduced here (see the Go port in MergeRanges below), per spec.md
// §9's "Relational stored procedures" design note: the algorithm
// moves from a database-embedded function into a plain, independently
// testable application-layer one.
package index

import (
	"sort"

	"github.com/fepitre/debian-snapshot/internal/timestamp"
)

// Range is a closed interval [Begin, End] of archive timestamps,
// denoting that the hash was present at the location at every
// archive-enumerated timestamp in between (spec.md §3, HashLocation).
type Range struct {
	Begin timestamp.Value
	End   timestamp.Value
}

// Ranges is a canonical (spec.md I1) sequence: strictly increasing,
// non-overlapping, and with no two adjacent ranges archive-contiguous.
type Ranges []Range

// Timeline resolves "the archive timestamp immediately before/after T"
// against an archive's full enumerated, ascending timestamp list —
// MergeRanges needs this to decide right-extend vs. insert, per
// spec.md §4.7.3.
type Timeline struct {
	ascending []timestamp.Value
	index     map[timestamp.Value]int
}

// NewTimeline builds a Timeline from an archive's enumerated
// timestamps, in any order.
func NewTimeline(all []timestamp.Value) *Timeline {
	asc := make([]timestamp.Value, len(all))
	copy(asc, all)
	sort.Slice(asc, func(i, j int) bool { return asc[i] < asc[j] })

	idx := make(map[timestamp.Value]int, len(asc))
	for i, v := range asc {
		idx[v] = i
	}
	return &Timeline{ascending: asc, index: idx}
}

// Prev returns the archive timestamp immediately before t, and false
// if t is the earliest timestamp (or unknown to the timeline).
func (tl *Timeline) Prev(t timestamp.Value) (timestamp.Value, bool) {
	i, ok := tl.index[t]
	if !ok || i == 0 {
		return "", false
	}
	return tl.ascending[i-1], true
}

// Next returns the archive timestamp immediately after t, and false if
// t is the latest timestamp (or unknown to the timeline).
func (tl *Timeline) Next(t timestamp.Value) (timestamp.Value, bool) {
	i, ok := tl.index[t]
	if !ok || i == len(tl.ascending)-1 {
		return "", false
	}
	return tl.ascending[i+1], true
}

// MergeRanges folds observation T into the canonical range sequence R
// for a single (hash, location), per spec.md §4.7.3. tl resolves
// archive-adjacency for T. The returned sequence is canonical (I1),
// idempotent (P2: MergeRanges(MergeRanges(R,T),T) == MergeRanges(R,T)),
// and order-independent when folding a set of observations one at a
// time regardless of order (P3).
func MergeRanges(r Ranges, t timestamp.Value, tl *Timeline) Ranges {
	out := make(Ranges, len(r))
	copy(out, r)

	for i, rg := range out {
		switch {
		case rg.Begin <= t && t <= rg.End:
			// Case 1: already covered.
			return out

		case func() bool { p, ok := tl.Prev(t); return ok && rg.End == p }():
			// Case 2: right-extend. rg.End is the timestamp immediately
			// before t, so t glues onto the end of this range.
			out[i].End = t
			if i+1 < len(out) && out[i+1].Begin == t {
				out[i].End = out[i+1].End
				out = append(out[:i+1], out[i+2:]...)
			}
			return closeGaps(out, tl)

		case t < rg.Begin:
			// Case 3: insert-before. Case 2 didn't fire for the
			// previous range (checked above, since we walk in order),
			// so t starts a new singleton range here.
			head := append(Ranges{}, out[:i]...)
			tail := append(Ranges{}, out[i:]...)
			out = append(append(head, Range{Begin: t, End: t}), tail...)
			return closeGaps(out, tl)
		}
	}

	// Case 4: walked past the last range (or R was empty): append.
	out = append(out, Range{Begin: t, End: t})
	return closeGaps(out, tl)
}

// closeGaps is MergeRanges's second pass (spec.md §4.7.3): merge any
// two adjacent ranges where the later one's Begin is the archive
// timestamp immediately following the earlier one's End. This is what
// lets an out-of-order fill ("ingest T1, then T3, then T2") collapse
// [[T1,T1],[T2,T2],[T3,T3]] into [[T1,T3]] regardless of which range
// the current fold touched: every adjacent pair is examined, not only
// the neighbors of the range just added.
func closeGaps(r Ranges, tl *Timeline) Ranges {
	out := make(Ranges, len(r))
	copy(out, r)

	for i := 0; i < len(out)-1; {
		next, ok := tl.Next(out[i].End)
		if ok && next == out[i+1].Begin {
			out[i].End = out[i+1].End
			out = append(out[:i+1], out[i+2:]...)
			continue // re-check the same i, it may now also close with i+1
		}
		i++
	}
	return out
}
