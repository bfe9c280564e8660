package tracing

import (
	"fmt"
	"iter"
	"time"
)

// Segment is a lightweight handle to one node of a Trace. The zero value is
// invalid; every accessor on it returns a zero result.
type Segment struct {
	trace *Trace
	id    SegmentID
}

// Valid reports whether the handle points at a live node.
func (s Segment) Valid() bool {
	return s.trace != nil && s.id >= 0 && int(s.id) < len(s.trace.nodes)
}

func (s Segment) node() *node {
	if !s.Valid() {
		return nil
	}
	return &s.trace.nodes[s.id]
}

func (s Segment) ID() SegmentID { return s.id }

func (s Segment) Trace() *Trace { return s.trace }

// Transaction returns the transaction owning the segment's trace, if any.
func (s Segment) Transaction() *Transaction {
	if s.trace == nil {
		return nil
	}
	return s.trace.tx
}

func (s Segment) Name() string {
	if n := s.node(); n != nil {
		return n.name
	}
	return ""
}

// Depth is the distance from the root, which has depth 0.
func (s Segment) Depth() int {
	if n := s.node(); n != nil {
		return n.depth
	}
	return 0
}

// Parent returns the parent segment; the root has none.
func (s Segment) Parent() (Segment, bool) {
	n := s.node()
	if n == nil || n.parent == noParent {
		return Segment{}, false
	}
	return Segment{trace: s.trace, id: n.parent}, true
}

// Children returns the direct children in creation order.
func (s Segment) Children() []Segment {
	n := s.node()
	if n == nil {
		return nil
	}
	out := make([]Segment, len(n.children))
	for i, c := range n.children {
		out[i] = Segment{trace: s.trace, id: c}
	}
	return out
}

// Add creates a child segment. rec may be nil for segments that only
// contribute timing to their parent's exclusive time.
func (s Segment) Add(name string, rec Recorder) (Segment, error) {
	if !s.Valid() {
		return Segment{}, ErrInvalidSegment
	}
	id, err := s.trace.add(s.id, name, rec)
	if err != nil {
		return Segment{}, fmt.Errorf("add segment %q: %w", name, err)
	}
	return Segment{trace: s.trace, id: id}, nil
}

// SetStartOffset sets the segment start relative to the trace root.
func (s Segment) SetStartOffset(off time.Duration) error {
	n := s.node()
	if n == nil {
		return ErrInvalidSegment
	}
	if off < 0 {
		return ErrNegativeDuration
	}
	n.start = off
	return nil
}

func (s Segment) SetDuration(d time.Duration) error {
	n := s.node()
	if n == nil {
		return ErrInvalidSegment
	}
	if d < 0 {
		return ErrNegativeDuration
	}
	n.duration = d
	return nil
}

// SetTiming sets both start offset and duration.
func (s Segment) SetTiming(start, d time.Duration) error {
	if err := s.SetStartOffset(start); err != nil {
		return err
	}
	return s.SetDuration(d)
}

// SetExclusiveDuration supplies the exclusive time explicitly, bypassing the
// computation from children. Values above the duration are clamped when read.
func (s Segment) SetExclusiveDuration(e time.Duration) error {
	n := s.node()
	if n == nil {
		return ErrInvalidSegment
	}
	if e < 0 {
		return ErrNegativeDuration
	}
	n.exclusive = e
	n.hasExclusive = true
	return nil
}

// Finalize records the segment's total duration and, optionally, its
// exclusive duration. Without one the exclusive time is computed from the
// children when the transaction ends.
func (s Segment) Finalize(d time.Duration, exclusive ...time.Duration) error {
	if err := s.SetDuration(d); err != nil {
		return err
	}
	if len(exclusive) > 0 {
		return s.SetExclusiveDuration(exclusive[0])
	}
	return nil
}

func (s Segment) StartOffset() time.Duration {
	if n := s.node(); n != nil {
		return n.start
	}
	return 0
}

func (s Segment) Duration() time.Duration {
	if n := s.node(); n != nil {
		return n.duration
	}
	return 0
}

// ExclusiveDuration returns the supplied exclusive time, clamped to
// [0, Duration], or computes it from the descendants' intervals.
func (s Segment) ExclusiveDuration() time.Duration {
	n := s.node()
	if n == nil {
		return 0
	}
	if n.hasExclusive {
		return min(n.exclusive, n.duration)
	}
	return s.trace.computeExclusive(s.id)
}

// SetHostPort attaches remote endpoint metadata.
func (s Segment) SetHostPort(host string, port int) {
	if n := s.node(); n != nil {
		n.host = host
		n.port = port
	}
}

func (s Segment) Host() string {
	if n := s.node(); n != nil {
		return n.host
	}
	return ""
}

func (s Segment) Port() int {
	if n := s.node(); n != nil {
		return n.port
	}
	return 0
}

// Walk yields the subtree rooted at s in depth-first pre-order, parents
// before children, siblings in creation order. Each call starts a fresh
// traversal. Segments deeper than Config.MaxDepth are skipped together with
// their subtrees and reported through Trace.Skipped.
func (s Segment) Walk() iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		if !s.Valid() {
			return
		}
		t := s.trace
		stack := []SegmentID{s.id}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if t.cfg.MaxDepth > 0 && t.nodes[id].depth > t.cfg.MaxDepth {
				t.reportSkip(id)
				continue
			}
			if !yield(Segment{trace: t, id: id}) {
				return
			}
			// yield may have grown the arena; index again.
			children := t.nodes[id].children
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, children[i])
			}
		}
	}
}
