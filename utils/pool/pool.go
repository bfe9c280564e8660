// Package pool provides a typed wrapper around sync.Pool that counts misses.
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a typed sync.Pool that counts how many objects had to be created
// because the pool was empty.
type Pool[T any] struct {
	Name   string // Name identifies the pool in diagnostics.
	pool   sync.Pool
	misses atomic.Int64
}

// New creates a pool. newFunc is called whenever Get finds the pool empty.
func New[T any](name string, newFunc func() T) *Pool[T] {
	p := &Pool[T]{Name: name}
	p.pool.New = func() any {
		p.misses.Add(1)
		return newFunc()
	}
	return p
}

// Get retrieves an item, creating one if the pool is empty.
func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put adds x back to the pool for reuse.
func (p *Pool[T]) Put(x T) {
	p.pool.Put(x)
}

// Misses returns the number of items created because the pool was empty.
func (p *Pool[T]) Misses() int64 {
	return p.misses.Load()
}
