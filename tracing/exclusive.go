package tracing

import (
	"slices"
	"time"

	"github.com/linchenxuan/apmcore/utils/pool"
)

type interval struct {
	start, end time.Duration
}

type scratch struct {
	spans []interval
	stack []SegmentID
}

var _scratchPool = pool.New("tracing.exclusive", func() *scratch { return &scratch{} })

// computeExclusive returns the segment's duration minus the union of all
// descendant intervals clipped to the segment's own interval.
func (t *Trace) computeExclusive(id SegmentID) time.Duration {
	n := &t.nodes[id]
	if n.duration <= 0 {
		return 0
	}
	lo, hi := n.start, n.start+n.duration

	sc := _scratchPool.Get()
	defer func() {
		sc.spans, sc.stack = sc.spans[:0], sc.stack[:0]
		_scratchPool.Put(sc)
	}()

	sc.stack = append(sc.stack, n.children...)
	for len(sc.stack) > 0 {
		c := sc.stack[len(sc.stack)-1]
		sc.stack = sc.stack[:len(sc.stack)-1]
		cn := &t.nodes[c]
		sc.stack = append(sc.stack, cn.children...)

		s, e := max(cn.start, lo), min(cn.start+cn.duration, hi)
		if e > s {
			sc.spans = append(sc.spans, interval{start: s, end: e})
		}
	}

	exclusive := n.duration - unionLength(sc.spans)
	if exclusive < 0 {
		return 0
	}
	return exclusive
}

// resolveExclusive fixes the exclusive duration of every segment that has
// none supplied. Children always follow their parent in the arena, so a
// single reverse pass sees each subtree complete. covers[id] holds the
// merged, unclipped intervals of id's subtree; nested timings keep each
// cover to a handful of intervals.
func (t *Trace) resolveExclusive() {
	covers := make([][]interval, len(t.nodes))
	for id := len(t.nodes) - 1; id >= 0; id-- {
		n := &t.nodes[id]
		var desc []interval
		for _, c := range n.children {
			desc = append(desc, covers[c]...)
			covers[c] = nil
		}
		desc = mergeIntervals(desc)

		if !n.hasExclusive {
			n.exclusive = coveredExclusive(n, desc)
			n.hasExclusive = true
		}
		if n.duration > 0 {
			desc = mergeIntervals(append(desc, interval{start: n.start, end: n.start + n.duration}))
		}
		covers[id] = desc
	}
}

// coveredExclusive is the part of n's interval outside the sorted disjoint
// spans.
func coveredExclusive(n *node, spans []interval) time.Duration {
	if n.duration <= 0 {
		return 0
	}
	lo, hi := n.start, n.start+n.duration
	var covered time.Duration
	for _, s := range spans {
		if s.start >= hi {
			break
		}
		if e, b := min(s.end, hi), max(s.start, lo); e > b {
			covered += e - b
		}
	}
	return max(n.duration-covered, 0)
}

// mergeIntervals sorts spans and folds overlapping or touching intervals,
// reusing the backing array.
func mergeIntervals(spans []interval) []interval {
	if len(spans) < 2 {
		return spans
	}
	slices.SortFunc(spans, func(a, b interval) int {
		switch {
		case a.start < b.start:
			return -1
		case a.start > b.start:
			return 1
		}
		return 0
	})

	out := spans[:1]
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.start > last.end {
			out = append(out, s)
			continue
		}
		last.end = max(last.end, s.end)
	}
	return out
}

// unionLength returns the total length covered by spans, overlaps counted
// once. spans is reordered in place.
func unionLength(spans []interval) time.Duration {
	var total time.Duration
	for _, s := range mergeIntervals(spans) {
		total += s.end - s.start
	}
	return total
}
