package tracing

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/linchenxuan/apmcore/log"
	"github.com/linchenxuan/apmcore/metrics"
)

var (
	// ErrTransactionClosed is returned by End on a transaction that already finalized.
	ErrTransactionClosed = errors.New("transaction already ended")
	// ErrTransactionAbandoned is returned by End and by recorders on an abandoned transaction.
	ErrTransactionAbandoned = errors.New("transaction abandoned")
	// ErrNoTransaction is returned by recorders bound to a standalone trace.
	ErrNoTransaction = errors.New("segment has no transaction")
)

const (
	webPrefix   = "WebTransaction/"
	otherPrefix = "OtherTransaction/"
)

// State is the lifecycle position of a Transaction.
type State int32

const (
	StateOpen State = iota
	StateFinalizing
	StateClosed
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateFinalizing:
		return "FINALIZING"
	case StateClosed:
		return "CLOSED"
	case StateAbandoned:
		return "ABANDONED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Sink receives the sealed table of every transaction that ends.
// *metrics.Aggregator satisfies it.
type Sink interface {
	Submit(t *metrics.Table) error
}

// Option configures a Transaction.
type Option func(*Transaction)

// WithWeb marks the transaction as serving a web request.
func WithWeb(web bool) Option {
	return func(tx *Transaction) { tx.web = web }
}

// WithConfig sets the caps applied to the transaction's segment tree.
func WithConfig(cfg Config) Option {
	return func(tx *Transaction) { tx.trace.cfg = cfg }
}

// WithSink submits the closed metrics table to sink when the transaction ends.
func WithSink(sink Sink) Option {
	return func(tx *Transaction) { tx.sink = sink }
}

// WithID overrides the generated transaction identifier.
func WithID(id string) Option {
	return func(tx *Transaction) { tx.id = id }
}

// Transaction owns one segment tree and the metrics table its recorders
// fill. It is driven by a single goroutine; only State may be read
// concurrently.
type Transaction struct {
	id         string
	name       string
	web        bool
	state      atomic.Int32
	trace      *Trace
	metrics    *metrics.Table
	sink       Sink
	recordErrs []error
}

// NewTransaction starts an OPEN transaction with an empty segment tree.
func NewTransaction(opts ...Option) *Transaction {
	tx := &Transaction{
		id:      uuid.NewString(),
		trace:   NewTrace(DefaultConfig()),
		metrics: metrics.NewTable(),
	}
	for _, opt := range opts {
		opt(tx)
	}
	tx.trace.tx = tx
	return tx
}

func (tx *Transaction) ID() string { return tx.id }

func (tx *Transaction) IsWeb() bool { return tx.web }

// Name returns the full transaction name, empty until one is assigned.
func (tx *Transaction) Name() string { return tx.name }

// SetName assigns the full transaction name, used verbatim as the scope of
// statement-level metrics.
func (tx *Transaction) SetName(name string) {
	tx.name = name
}

// SetPartialName assigns a name relative to the transaction kind, so
// "NormalizedUri/*" becomes "WebTransaction/NormalizedUri/*" for a web
// transaction. An empty partial name clears the name.
func (tx *Transaction) SetPartialName(partial string) {
	partial = strings.TrimPrefix(partial, "/")
	if partial == "" {
		tx.name = ""
		return
	}
	if tx.web {
		tx.name = webPrefix + partial
		return
	}
	tx.name = otherPrefix + partial
}

func (tx *Transaction) State() State {
	return State(tx.state.Load())
}

// Trace returns the segment tree, nil once abandoned.
func (tx *Transaction) Trace() *Trace { return tx.trace }

// Root returns the root segment of the transaction's tree.
func (tx *Transaction) Root() Segment {
	if tx.trace == nil {
		return Segment{}
	}
	return tx.trace.Root()
}

// Metrics returns the transaction's table. It is sealed once the
// transaction is CLOSED and nil once abandoned.
func (tx *Transaction) Metrics() *metrics.Table { return tx.metrics }

// RecordTable returns the table recorders write into. It fails once the
// transaction is abandoned.
func (tx *Transaction) RecordTable() (*metrics.Table, error) {
	if tx.metrics == nil {
		return nil, ErrTransactionAbandoned
	}
	return tx.metrics, nil
}

// RecordErrors returns the recorder failures collected during End.
func (tx *Transaction) RecordErrors() []error {
	return append([]error(nil), tx.recordErrs...)
}

// End finalizes the transaction: an unset root duration becomes the time
// since the trace started, exclusive times are resolved, every
// recorder fires once in pre-order with the transaction name as scope, the
// table is sealed and handed to the sink. A failing recorder is logged and
// the walk continues.
func (tx *Transaction) End() error {
	switch tx.State() {
	case StateOpen:
	case StateAbandoned:
		return ErrTransactionAbandoned
	default:
		return ErrTransactionClosed
	}

	tx.state.Store(int32(StateFinalizing))
	tx.trace.finalizing = true
	if root := &tx.trace.nodes[RootID]; root.duration == 0 {
		root.duration = max(_now().Sub(tx.trace.started), 0)
	}
	tx.trace.resolveExclusive()

	for seg := range tx.trace.Root().Walk() {
		rec := seg.node().recorder
		if rec == nil {
			continue
		}
		if err := callRecorder(rec, seg, tx.name); err != nil {
			tx.recordErrs = append(tx.recordErrs, err)
			throttledWarn().
				Err(err).
				Str("transaction", tx.id).
				Str("segment", seg.Name()).
				Msg("segment recording failed")
		}
	}

	tx.metrics.Seal()
	tx.state.Store(int32(StateClosed))

	log.Debug().
		Str("transaction", tx.id).
		Str("name", tx.name).
		Int("segments", tx.trace.Len()).
		Int("metrics", tx.metrics.Len()).
		Int("recordErrors", len(tx.recordErrs)).
		Msg("transaction ended")

	if tx.sink == nil {
		return nil
	}
	if err := tx.sink.Submit(tx.metrics); err != nil {
		return fmt.Errorf("submit transaction %s metrics: %w", tx.id, err)
	}
	return nil
}

// Abandon discards an OPEN transaction. No table is produced and the sink is
// never called. Abandoning twice, or after End, does nothing.
func (tx *Transaction) Abandon() {
	if !tx.state.CompareAndSwap(int32(StateOpen), int32(StateAbandoned)) {
		return
	}
	tx.trace.finalizing = true
	tx.trace = nil
	tx.metrics = nil
	log.Debug().Str("transaction", tx.id).Msg("transaction abandoned")
}

func callRecorder(rec Recorder, seg Segment, scope string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recorder for segment %q panicked: %v", seg.Name(), r)
		}
	}()
	return rec(seg, scope)
}

// RecordGeneric records the segment under its own name, unscoped. Generic
// segments never receive a scoped entry.
func RecordGeneric(seg Segment, _ string) error {
	tx := seg.Transaction()
	if tx == nil {
		return ErrNoTransaction
	}
	table, err := tx.RecordTable()
	if err != nil {
		return err
	}
	return table.Record(seg.Name(), "", seg.Duration(), seg.ExclusiveDuration())
}
