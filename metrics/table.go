package metrics

import (
	"errors"
	"fmt"
	"iter"
	"time"
)

var (
	// ErrTableSealed is returned when recording into or merging into a closed table.
	ErrTableSealed = errors.New("metrics table is sealed")
	// ErrEmptyName is returned when a metric name is empty.
	ErrEmptyName = errors.New("metric name is empty")
)

// Key identifies one metric entry. An empty Scope means the entry is unscoped.
type Key struct {
	Name  string
	Scope string
}

func (k Key) String() string {
	if k.Scope == "" {
		return k.Name
	}
	return k.Scope + "|" + k.Name
}

// Table maps (name, scope) to a Stats accumulator and remembers the order in
// which keys were first seen. A Table is not safe for concurrent use; the
// process-wide table lives behind an Aggregator.
type Table struct {
	index   map[Key]int
	keys    []Key
	entries []Stats
	sealed  bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{index: make(map[Key]int)}
}

func (t *Table) slot(k Key) *Stats {
	if i, ok := t.index[k]; ok {
		return &t.entries[i]
	}
	t.index[k] = len(t.keys)
	t.keys = append(t.keys, k)
	t.entries = append(t.entries, Stats{})
	return &t.entries[len(t.entries)-1]
}

// Record credits one observation to the (name, scope) entry, creating it on
// first use.
func (t *Table) Record(name, scope string, duration, exclusive time.Duration) error {
	if t.sealed {
		return fmt.Errorf("record %s: %w", Key{name, scope}, ErrTableSealed)
	}
	if name == "" {
		return ErrEmptyName
	}
	t.slot(Key{Name: name, Scope: scope}).Record(duration, exclusive)
	return nil
}

// Merge folds every entry of other into t, creating missing keys in other's
// order. other is only read.
func (t *Table) Merge(other *Table) error {
	if t.sealed {
		return fmt.Errorf("merge: %w", ErrTableSealed)
	}
	if other == nil {
		return nil
	}
	for i, k := range other.keys {
		t.slot(k).Merge(other.entries[i])
	}
	return nil
}

// Get returns a copy of the accumulator stored under (name, scope).
func (t *Table) Get(name, scope string) (Stats, bool) {
	i, ok := t.index[Key{Name: name, Scope: scope}]
	if !ok {
		return Stats{}, false
	}
	return t.entries[i], true
}

// Len returns the number of distinct keys.
func (t *Table) Len() int {
	return len(t.keys)
}

// All iterates the entries in first-seen order.
func (t *Table) All() iter.Seq2[Key, Stats] {
	return func(yield func(Key, Stats) bool) {
		for i, k := range t.keys {
			if !yield(k, t.entries[i]) {
				return
			}
		}
	}
}

// Seal makes the table read-only. Further Record and Merge calls fail.
func (t *Table) Seal() {
	t.sealed = true
}

// Sealed reports whether Seal has been called.
func (t *Table) Sealed() bool {
	return t.sealed
}

// Clone returns an unsealed deep copy.
func (t *Table) Clone() *Table {
	cp := &Table{
		index:   make(map[Key]int, len(t.keys)),
		keys:    append([]Key(nil), t.keys...),
		entries: append([]Stats(nil), t.entries...),
	}
	for k, i := range t.index {
		cp.index[k] = i
	}
	return cp
}
