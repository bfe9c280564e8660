package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolCountsMisses(t *testing.T) {
	p := New("buf", func() *[]byte {
		b := make([]byte, 0, 16)
		return &b
	})
	assert.Equal(t, "buf", p.Name)

	b := p.Get()
	assert.Equal(t, 16, cap(*b))
	assert.Equal(t, int64(1), p.Misses())

	p.Put(b)
	_ = p.Get()
	// sync.Pool may drop items at any time, so a second miss is allowed.
	assert.LessOrEqual(t, p.Misses(), int64(2))
}
