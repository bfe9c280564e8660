package tracing

import "time"

// _now is replaced in tests.
var _now = time.Now

// Timer measures one live call and finalizes its segment when stopped.
type Timer struct {
	seg   Segment
	start time.Time
}

// Start sets the segment's start offset to the time elapsed since the trace
// began and returns a Timer for the call.
func (s Segment) Start() (Timer, error) {
	n := s.node()
	if n == nil {
		return Timer{}, ErrInvalidSegment
	}
	now := _now()
	n.start = max(now.Sub(s.trace.started), 0)
	return Timer{seg: s, start: now}, nil
}

// Segment returns the timed segment.
func (t Timer) Segment() Segment { return t.seg }

// Stop finalizes the segment with the elapsed time. An exclusive duration
// may be supplied as with Segment.Finalize.
func (t Timer) Stop(exclusive ...time.Duration) (time.Duration, error) {
	d := max(_now().Sub(t.start), 0)
	return d, t.seg.Finalize(d, exclusive...)
}
