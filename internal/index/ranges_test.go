package index

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fepitre/debian-snapshot/internal/timestamp"
)

func tl(vals ...string) *Timeline {
	all := make([]timestamp.Value, 0, len(vals))
	for _, v := range vals {
		all = append(all, timestamp.Value(v))
	}
	return NewTimeline(all)
}

func v(s string) timestamp.Value { return timestamp.Value(s) }

func TestMergeRangesEmptyStartsSingleton(t *testing.T) {
	timeline := tl("T1", "T2", "T3")
	out := MergeRanges(nil, v("T2"), timeline)
	require.Equal(t, Ranges{{Begin: v("T2"), End: v("T2")}}, out)
}

func TestMergeRangesAlreadyCoveredIsNoop(t *testing.T) {
	timeline := tl("T1", "T2", "T3")
	in := Ranges{{Begin: v("T1"), End: v("T3")}}
	out := MergeRanges(in, v("T2"), timeline)
	require.Equal(t, in, out)
}

func TestMergeRangesRightExtend(t *testing.T) {
	timeline := tl("T1", "T2", "T3", "T4")
	in := Ranges{{Begin: v("T1"), End: v("T2")}}
	out := MergeRanges(in, v("T3"), timeline)
	require.Equal(t, Ranges{{Begin: v("T1"), End: v("T3")}}, out)
}

func TestMergeRangesRightExtendBridgesToNextRange(t *testing.T) {
	timeline := tl("T1", "T2", "T3", "T4")
	in := Ranges{{Begin: v("T1"), End: v("T2")}, {Begin: v("T4"), End: v("T4")}}
	out := MergeRanges(in, v("T3"), timeline)
	require.Equal(t, Ranges{{Begin: v("T1"), End: v("T4")}}, out)
}

func TestMergeRangesInsertBefore(t *testing.T) {
	timeline := tl("T1", "T2", "T3", "T4", "T5")
	in := Ranges{{Begin: v("T4"), End: v("T5")}}
	out := MergeRanges(in, v("T1"), timeline)
	require.Equal(t, Ranges{{Begin: v("T1"), End: v("T1")}, {Begin: v("T4"), End: v("T5")}}, out)
}

func TestMergeRangesInsertBeforeClosesGapOnLeft(t *testing.T) {
	timeline := tl("T1", "T2", "T3", "T4", "T5")
	in := Ranges{{Begin: v("T3"), End: v("T5")}}
	out := MergeRanges(in, v("T2"), timeline)
	require.Equal(t, Ranges{{Begin: v("T2"), End: v("T5")}}, out)
}

func TestMergeRangesAppendAtEnd(t *testing.T) {
	timeline := tl("T1", "T2", "T3")
	in := Ranges{{Begin: v("T1"), End: v("T1")}}
	out := MergeRanges(in, v("T3"), timeline)
	require.Equal(t, Ranges{{Begin: v("T1"), End: v("T1")}, {Begin: v("T3"), End: v("T3")}}, out)
}

// Scenario from spec.md §8: folding T1, T3, T2 (out of order) yields
// the same canonical result regardless of fold order (P3).
func TestMergeRangesOutOfOrderFoldIsOrderIndependent(t *testing.T) {
	timeline := tl("T1", "T2", "T3")
	orders := [][]string{
		{"T1", "T2", "T3"},
		{"T1", "T3", "T2"},
		{"T3", "T2", "T1"},
		{"T2", "T1", "T3"},
		{"T3", "T1", "T2"},
		{"T2", "T3", "T1"},
	}
	want := Ranges{{Begin: v("T1"), End: v("T3")}}
	for _, order := range orders {
		var got Ranges
		for _, t := range order {
			got = MergeRanges(got, v(t), timeline)
		}
		require.Equal(t, want, got, "order %v", order)
	}
}

// P2: idempotence. Folding the same timestamp twice changes nothing.
func TestMergeRangesIdempotent(t *testing.T) {
	timeline := tl("T1", "T2", "T3", "T4", "T5")
	in := Ranges{{Begin: v("T1"), End: v("T2")}}
	once := MergeRanges(in, v("T4"), timeline)
	twice := MergeRanges(once, v("T4"), timeline)
	require.Equal(t, once, twice)
}

// P1: the result is always canonical — strictly increasing, no
// overlaps, and no two ranges archive-adjacent.
func TestMergeRangesResultIsAlwaysCanonical(t *testing.T) {
	allTS := []string{"T1", "T2", "T3", "T4", "T5", "T6", "T7", "T8"}
	timeline := tl(allTS...)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		perm := rng.Perm(len(allTS))
		var got Ranges
		for _, i := range perm {
			got = MergeRanges(got, v(allTS[i]), timeline)
		}
		assertCanonical(t, got, timeline)
	}
}

func assertCanonical(t *testing.T, r Ranges, timeline *Timeline) {
	t.Helper()
	for i, rg := range r {
		require.LessOrEqual(t, rg.Begin, rg.End, "range %d has Begin > End", i)
		if i == 0 {
			continue
		}
		prev := r[i-1]
		require.Less(t, prev.End, rg.Begin, "ranges %d and %d overlap or are unordered", i-1, i)
		next, ok := timeline.Next(prev.End)
		if ok {
			require.NotEqual(t, rg.Begin, next, "ranges %d and %d are archive-adjacent and should have merged", i-1, i)
		}
	}
}

// Folding every archive-enumerated timestamp, in any order, collapses
// to a single range spanning the whole timeline.
func TestMergeRangesFullCoverageCollapsesToOneRange(t *testing.T) {
	allTS := []string{"T1", "T2", "T3", "T4", "T5"}
	timeline := tl(allTS...)

	perm := rand.New(rand.NewSource(7)).Perm(len(allTS))
	var got Ranges
	for _, i := range perm {
		got = MergeRanges(got, v(allTS[i]), timeline)
	}
	require.Equal(t, Ranges{{Begin: v("T1"), End: v("T5")}}, got)
}
