package metrics

// Reporter receives every harvested process-wide table.
// Different reporters can forward the data to various backends such as
// Prometheus or a remote collector. The table passed in is sealed and
// shared between reporters; implementations must not keep a reference
// they mutate.
type Reporter interface {
	Report(t *Table)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(t *Table)

// Report calls f(t).
func (f ReporterFunc) Report(t *Table) {
	f(t)
}
