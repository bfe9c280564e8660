package tracing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func mustAdd(t *testing.T, parent Segment, name string) Segment {
	t.Helper()
	seg, err := parent.Add(name, nil)
	require.NoError(t, err)
	return seg
}

func names(seq func(func(Segment) bool)) []string {
	var out []string
	for seg := range seq {
		out = append(out, seg.Name())
	}
	return out
}

func TestSegmentTreeStructure(t *testing.T) {
	tr := NewTrace(DefaultConfig())
	root := tr.Root()
	a := mustAdd(t, root, "a")
	b := mustAdd(t, root, "b")
	a1 := mustAdd(t, a, "a1")

	assert.Equal(t, 4, tr.Len())
	assert.Equal(t, "ROOT", root.Name())
	assert.Equal(t, 0, root.Depth())
	assert.Equal(t, 2, a1.Depth())

	parent, ok := a1.Parent()
	require.True(t, ok)
	assert.Equal(t, a.ID(), parent.ID())

	_, ok = root.Parent()
	assert.False(t, ok)

	children := root.Children()
	require.Len(t, children, 2)
	assert.Equal(t, "a", children[0].Name())
	assert.Equal(t, "b", children[1].Name())
	assert.Empty(t, b.Children())

	got, ok := tr.Segment(a1.ID())
	require.True(t, ok)
	assert.Equal(t, "a1", got.Name())
	_, ok = tr.Segment(42)
	assert.False(t, ok)
}

func TestSegmentTimingValidation(t *testing.T) {
	seg := mustAdd(t, NewTrace(DefaultConfig()).Root(), "op")

	assert.ErrorIs(t, seg.SetDuration(-1), ErrNegativeDuration)
	assert.ErrorIs(t, seg.SetStartOffset(-1), ErrNegativeDuration)
	assert.ErrorIs(t, seg.SetExclusiveDuration(-1), ErrNegativeDuration)
	assert.ErrorIs(t, seg.Finalize(ms(5), -1), ErrNegativeDuration)

	require.NoError(t, seg.SetTiming(ms(3), ms(7)))
	assert.Equal(t, ms(3), seg.StartOffset())
	assert.Equal(t, ms(7), seg.Duration())

	seg.SetHostPort("db.internal", 27017)
	assert.Equal(t, "db.internal", seg.Host())
	assert.Equal(t, 27017, seg.Port())
}

func TestZeroSegment(t *testing.T) {
	var seg Segment
	assert.False(t, seg.Valid())
	assert.Empty(t, seg.Name())
	assert.Nil(t, seg.Children())
	assert.Zero(t, seg.ExclusiveDuration())
	assert.ErrorIs(t, seg.SetDuration(ms(1)), ErrInvalidSegment)
	_, err := seg.Add("x", nil)
	assert.ErrorIs(t, err, ErrInvalidSegment)
	assert.Empty(t, names(seg.Walk()))
}

func TestExclusiveDuration(t *testing.T) {
	tests := []struct {
		name     string
		parent   [2]int   // start, duration
		children [][2]int // start, duration
		want     time.Duration
	}{
		{name: "leaf", parent: [2]int{0, 10}, want: ms(10)},
		{name: "single child", parent: [2]int{0, 10}, children: [][2]int{{2, 3}}, want: ms(7)},
		{name: "disjoint children", parent: [2]int{0, 10}, children: [][2]int{{0, 2}, {5, 3}}, want: ms(5)},
		{name: "overlapping children counted once", parent: [2]int{0, 10}, children: [][2]int{{1, 4}, {3, 4}}, want: ms(4)},
		{name: "child past parent end is clipped", parent: [2]int{0, 10}, children: [][2]int{{8, 10}}, want: ms(8)},
		{name: "child before parent start is clipped", parent: [2]int{5, 10}, children: [][2]int{{0, 7}}, want: ms(8)},
		{name: "children cover everything", parent: [2]int{0, 10}, children: [][2]int{{0, 6}, {4, 20}}, want: 0},
		{name: "child outside interval", parent: [2]int{0, 10}, children: [][2]int{{20, 5}}, want: ms(10)},
		{name: "zero duration parent", parent: [2]int{0, 0}, children: [][2]int{{0, 5}}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTrace(DefaultConfig())
			p := mustAdd(t, tr.Root(), "parent")
			require.NoError(t, p.SetTiming(ms(tt.parent[0]), ms(tt.parent[1])))
			for _, c := range tt.children {
				child := mustAdd(t, p, "child")
				require.NoError(t, child.SetTiming(ms(c[0]), ms(c[1])))
			}

			got := p.ExclusiveDuration()
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, time.Duration(0))
			assert.LessOrEqual(t, got, p.Duration())
		})
	}
}

func TestExclusiveDurationCountsGrandchildren(t *testing.T) {
	tr := NewTrace(DefaultConfig())
	find := mustAdd(t, tr.Root(), "find")
	require.NoError(t, find.SetTiming(0, ms(32)))
	insert := mustAdd(t, find, "insert")
	require.NoError(t, insert.SetTiming(ms(11), ms(16)))
	require.NoError(t, insert.SetExclusiveDuration(ms(11)))
	update := mustAdd(t, insert, "update")
	require.NoError(t, update.SetTiming(ms(2), ms(5)))
	require.NoError(t, update.SetExclusiveDuration(ms(2)))

	assert.Equal(t, ms(11), find.ExclusiveDuration())
	assert.Equal(t, ms(11), insert.ExclusiveDuration())
	assert.Equal(t, ms(2), update.ExclusiveDuration())
}

func TestExplicitExclusiveClampedToDuration(t *testing.T) {
	seg := mustAdd(t, NewTrace(DefaultConfig()).Root(), "op")
	require.NoError(t, seg.Finalize(ms(5), ms(9)))
	assert.Equal(t, ms(5), seg.ExclusiveDuration())
}

func TestUnionLength(t *testing.T) {
	assert.Zero(t, unionLength(nil))
	assert.Equal(t, ms(6), unionLength([]interval{{ms(4), ms(8)}, {ms(0), ms(2)}, {ms(5), ms(6)}}))
	assert.Equal(t, ms(10), unionLength([]interval{{ms(0), ms(5)}, {ms(5), ms(10)}}))
}

func TestResolveExclusiveMatchesOnDemand(t *testing.T) {
	tr := NewTrace(DefaultConfig())
	root := tr.Root()
	require.NoError(t, root.SetDuration(ms(100)))
	a := mustAdd(t, root, "a")
	require.NoError(t, a.SetTiming(0, ms(40)))
	require.NoError(t, mustAdd(t, a, "b").SetTiming(ms(10), ms(20)))
	c := mustAdd(t, a, "c")
	require.NoError(t, c.SetTiming(ms(50), ms(30)))
	require.NoError(t, mustAdd(t, c, "d").SetTiming(ms(55), ms(10)))
	require.NoError(t, mustAdd(t, root, "e").SetTiming(ms(35), ms(30)))
	f := mustAdd(t, root, "f")
	require.NoError(t, mustAdd(t, f, "g").SetTiming(ms(80), ms(10)))
	h := mustAdd(t, root, "h")
	require.NoError(t, h.Finalize(ms(20), ms(3)))
	require.NoError(t, mustAdd(t, h, "i").SetTiming(0, ms(5)))

	want := make(map[string]time.Duration)
	for seg := range root.Walk() {
		want[seg.Name()] = seg.ExclusiveDuration()
	}
	assert.Equal(t, ms(10), want["ROOT"])
	assert.Equal(t, ms(20), want["a"])
	assert.Equal(t, ms(3), want["h"])

	tr.resolveExclusive()
	for seg := range root.Walk() {
		assert.Equal(t, want[seg.Name()], seg.ExclusiveDuration(), seg.Name())
	}
}

func TestResolveExclusiveDeepChain(t *testing.T) {
	cfg := DefaultConfig()
	tr := NewTrace(cfg)
	n := cfg.MaxSegments - 1
	us := func(v int) time.Duration { return time.Duration(v) * time.Microsecond }

	seg := tr.Root()
	require.NoError(t, seg.SetDuration(us(2*n+2)))
	for i := 1; i <= n; i++ {
		seg = mustAdd(t, seg, "nested")
		require.NoError(t, seg.SetTiming(us(i), us(2*(n-i)+2)))
	}
	require.Equal(t, cfg.MaxSegments, tr.Len())

	tr.resolveExclusive()
	for id := range tr.Len() {
		s, ok := tr.Segment(SegmentID(id))
		require.True(t, ok)
		require.Equal(t, us(2), s.ExclusiveDuration(), "segment %d", id)
	}
}

func TestWalkPreOrder(t *testing.T) {
	tr := NewTrace(DefaultConfig())
	a := mustAdd(t, tr.Root(), "a")
	mustAdd(t, a, "a1")
	a2 := mustAdd(t, a, "a2")
	mustAdd(t, a2, "a2x")
	b := mustAdd(t, tr.Root(), "b")
	mustAdd(t, b, "b1")

	want := []string{"ROOT", "a", "a1", "a2", "a2x", "b", "b1"}
	assert.Equal(t, want, names(tr.Root().Walk()))
	// restartable
	assert.Equal(t, want, names(tr.Root().Walk()))
	assert.Equal(t, []string{"a2", "a2x"}, names(a2.Walk()))
}

func TestWalkStopsEarly(t *testing.T) {
	tr := NewTrace(DefaultConfig())
	for range 5 {
		mustAdd(t, tr.Root(), "child")
	}

	visited := 0
	for range tr.Root().Walk() {
		visited++
		if visited == 3 {
			break
		}
	}
	assert.Equal(t, 3, visited)
}

func TestWalkMaxDepth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDepth = 2
	tr := NewTrace(cfg)

	seg := tr.Root()
	for _, name := range []string{"d1", "d2", "d3", "d4"} {
		seg = mustAdd(t, seg, name)
	}
	mustAdd(t, tr.Root(), "sibling")

	assert.Equal(t, []string{"ROOT", "d1", "d2", "sibling"}, names(tr.Root().Walk()))
	names(tr.Root().Walk())

	skipped := tr.Skipped()
	require.Len(t, skipped, 1, "a skip is recorded once even across walks")
	assert.Equal(t, "d3", skipped[0].Name)
	assert.Equal(t, 3, skipped[0].Depth)
}

func TestSegmentLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSegments = 3
	tr := NewTrace(cfg)

	mustAdd(t, tr.Root(), "a")
	mustAdd(t, tr.Root(), "b")
	_, err := tr.Root().Add("c", nil)
	assert.ErrorIs(t, err, ErrSegmentLimit)
	assert.Equal(t, 3, tr.Len())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{}.Validate())

	tests := []Config{
		{MaxDepth: -1},
		{MaxSegments: -1},
		{WarnsPerSecond: -1},
		{WarnBurst: -1},
	}
	for _, cfg := range tests {
		assert.Error(t, cfg.Validate(), "%+v", cfg)
	}
}
