package datastore

import (
	"fmt"

	"github.com/linchenxuan/apmcore/tracing"
)

// ParsedStatement describes one datastore call: which backend, which
// operation, and optionally which collection or table it touched.
type ParsedStatement struct {
	Backend   string
	Operation string
	Resource  string
	Namer     Namer
}

// NewParsedStatement binds a statement to DefaultNamer.
func NewParsedStatement(backend, operation, resource string) *ParsedStatement {
	return &ParsedStatement{
		Backend:   backend,
		Operation: operation,
		Resource:  resource,
		Namer:     DefaultNamer,
	}
}

// RecordMetrics credits the segment's duration and exclusive duration to
// every name of the statement, unscoped, and to the most specific name again
// under scope when scope is non-empty.
func (p *ParsedStatement) RecordMetrics(seg tracing.Segment, scope string) error {
	tx := seg.Transaction()
	if tx == nil {
		return tracing.ErrNoTransaction
	}

	table, err := tx.RecordTable()
	if err != nil {
		return err
	}
	names, err := p.Namer.Names(p.Backend, p.Operation, p.Resource, tx.IsWeb())
	if err != nil {
		return fmt.Errorf("name %s statement: %w", p.Backend, err)
	}

	duration, exclusive := seg.Duration(), seg.ExclusiveDuration()
	for _, name := range names {
		if err := table.Record(name, "", duration, exclusive); err != nil {
			return fmt.Errorf("record %s: %w", name, err)
		}
	}

	if scope == "" {
		return nil
	}
	scoped, err := p.Namer.ScopedName(p.Backend, p.Operation, p.Resource)
	if err != nil {
		return err
	}
	if err := table.Record(scoped, scope, duration, exclusive); err != nil {
		return fmt.Errorf("record %s scoped to %s: %w", scoped, scope, err)
	}
	return nil
}

// Recorder returns RecordMetrics as a value to bind at segment creation.
func (p *ParsedStatement) Recorder() tracing.Recorder {
	return p.RecordMetrics
}

// Segment creates a child of parent named after the statement, bound to
// its recorder.
func (p *ParsedStatement) Segment(parent tracing.Segment) (tracing.Segment, error) {
	name, err := p.Namer.ScopedName(p.Backend, p.Operation, p.Resource)
	if err != nil {
		return tracing.Segment{}, err
	}
	return parent.Add(name, p.Recorder())
}
