// Package datastore derives the hierarchical metric names credited for one
// datastore call and records them from a finalized segment.
package datastore

import (
	"errors"
	"strings"
)

var (
	// ErrEmptyBackend is returned when the backend name is empty or blank.
	ErrEmptyBackend = errors.New("datastore backend is empty")
	// ErrEmptyOperation is returned when the operation name is empty or blank.
	ErrEmptyOperation = errors.New("datastore operation is empty")
)

const (
	allWeb   = "allWeb"
	allOther = "allOther"
)

// Namer builds metric names under Prefix.
type Namer struct {
	Prefix string
}

// DefaultNamer uses the conventional "Datastore" prefix.
var DefaultNamer = Namer{Prefix: "Datastore"}

// Names returns, in order:
//
//	Prefix/operation/B/O
//	Prefix/allWeb | Prefix/allOther
//	Prefix/B/allWeb | Prefix/B/allOther
//	Prefix/B/all
//	Prefix/all
//	Prefix/statement/B/R/O   (only when resource is non-empty)
func (n Namer) Names(backend, operation, resource string, web bool) ([]string, error) {
	if err := validate(backend, operation); err != nil {
		return nil, err
	}

	kind := allOther
	if web {
		kind = allWeb
	}

	names := make([]string, 0, 6)
	names = append(names,
		n.join("operation", backend, operation),
		n.join(kind),
		n.join(backend, kind),
		n.join(backend, "all"),
		n.join("all"),
	)
	if resource != "" {
		names = append(names, n.join("statement", backend, resource, operation))
	}
	return names, nil
}

// ScopedName returns the most specific name of the set, the only one that
// is also recorded under the transaction scope.
func (n Namer) ScopedName(backend, operation, resource string) (string, error) {
	if err := validate(backend, operation); err != nil {
		return "", err
	}
	if resource != "" {
		return n.join("statement", backend, resource, operation), nil
	}
	return n.join("operation", backend, operation), nil
}

func (n Namer) join(parts ...string) string {
	if n.Prefix == "" {
		return strings.Join(parts, "/")
	}
	return n.Prefix + "/" + strings.Join(parts, "/")
}

func validate(backend, operation string) error {
	if strings.TrimSpace(backend) == "" {
		return ErrEmptyBackend
	}
	if strings.TrimSpace(operation) == "" {
		return ErrEmptyOperation
	}
	return nil
}

// NamesFor is DefaultNamer.Names.
func NamesFor(backend, operation, resource string, web bool) ([]string, error) {
	return DefaultNamer.Names(backend, operation, resource, web)
}
