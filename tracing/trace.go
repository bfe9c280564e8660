package tracing

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/linchenxuan/apmcore/log"
)

var (
	// ErrTraceFinalizing is returned when a segment is added after finalization began.
	ErrTraceFinalizing = errors.New("trace is finalizing")
	// ErrSegmentLimit is returned when the trace already holds MaxSegments segments.
	ErrSegmentLimit = errors.New("segment limit reached")
	// ErrNegativeDuration is returned for negative durations or start offsets.
	ErrNegativeDuration = errors.New("negative duration")
	// ErrInvalidSegment is returned by operations on a zero Segment handle.
	ErrInvalidSegment = errors.New("invalid segment")
)

// SegmentID addresses a node inside its Trace arena. The root is always 0.
type SegmentID int32

// RootID is the identifier of every trace's root segment.
const RootID SegmentID = 0

const noParent SegmentID = -1

// Recorder is bound to a segment at creation and invoked exactly once when
// the owning transaction finalizes. scope is the transaction name, possibly
// empty.
type Recorder func(seg Segment, scope string) error

type node struct {
	name         string
	parent       SegmentID
	children     []SegmentID
	depth        int
	start        time.Duration // offset from the trace root
	duration     time.Duration
	exclusive    time.Duration
	hasExclusive bool
	recorder     Recorder
	host         string
	port         int
}

// Skip describes a subtree that Walk did not visit because it lies deeper
// than Config.MaxDepth.
type Skip struct {
	Segment SegmentID
	Name    string
	Depth   int
}

// Trace is the arena holding one transaction's segment tree. It is owned by
// a single goroutine and is not safe for concurrent use.
type Trace struct {
	cfg        Config
	nodes      []node
	tx         *Transaction
	started    time.Time
	finalizing bool
	skipped    []Skip
	skippedSet map[SegmentID]struct{}
}

// NewTrace creates a trace with a single root segment named "ROOT".
func NewTrace(cfg Config) *Trace {
	t := &Trace{cfg: cfg, started: _now()}
	t.nodes = append(t.nodes, node{name: "ROOT", parent: noParent})
	return t
}

// Root returns the root segment.
func (t *Trace) Root() Segment {
	return Segment{trace: t, id: RootID}
}

// Started is the wall-clock time the trace was created. Start offsets
// measured by Timer are relative to it.
func (t *Trace) Started() time.Time {
	return t.started
}

// Len returns the number of segments including the root.
func (t *Trace) Len() int {
	return len(t.nodes)
}

// Segment returns the handle for id.
func (t *Trace) Segment(id SegmentID) (Segment, bool) {
	if id < 0 || int(id) >= len(t.nodes) {
		return Segment{}, false
	}
	return Segment{trace: t, id: id}, true
}

// Skipped lists every subtree a walk has skipped so far, each reported once.
func (t *Trace) Skipped() []Skip {
	return append([]Skip(nil), t.skipped...)
}

// Transaction returns the owning transaction, nil for a standalone trace.
func (t *Trace) Transaction() *Transaction {
	return t.tx
}

// Finalizing reports whether the trace stopped accepting new segments.
func (t *Trace) Finalizing() bool {
	return t.finalizing
}

func (t *Trace) add(parent SegmentID, name string, rec Recorder) (SegmentID, error) {
	if t.finalizing {
		throttledWarn().Str("segment", name).Msg("segment added after finalization began")
		return 0, ErrTraceFinalizing
	}
	if t.cfg.MaxSegments > 0 && len(t.nodes) >= t.cfg.MaxSegments {
		throttledWarn().Str("segment", name).Int("limit", t.cfg.MaxSegments).Msg("segment limit reached")
		return 0, ErrSegmentLimit
	}

	id := SegmentID(len(t.nodes))
	t.nodes = append(t.nodes, node{
		name:     name,
		parent:   parent,
		depth:    t.nodes[parent].depth + 1,
		recorder: rec,
	})
	t.nodes[parent].children = append(t.nodes[parent].children, id)
	return id, nil
}

func (t *Trace) reportSkip(id SegmentID) {
	if t.skippedSet == nil {
		t.skippedSet = make(map[SegmentID]struct{})
	}
	if _, ok := t.skippedSet[id]; ok {
		return
	}
	t.skippedSet[id] = struct{}{}

	n := &t.nodes[id]
	t.skipped = append(t.skipped, Skip{Segment: id, Name: n.name, Depth: n.depth})
	throttledWarn().
		Str("segment", n.name).
		Int("depth", n.depth).
		Int("maxDepth", t.cfg.MaxDepth).
		Msg("segment tree too deep, skipping subtree")
}

// throttledWarn returns a warning event, or nil once the process-wide budget
// is spent. Methods on a nil *zerolog.Event are no-ops.
func throttledWarn() *zerolog.Event {
	if !_warnLimiter.Allow() {
		return nil
	}
	return log.Warn()
}
