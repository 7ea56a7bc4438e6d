package broker

import "sync"

// settleCell is a single-assignment result slot. The first put wins; later
// puts are no-ops.
type settleCell[T any] struct {
	once sync.Once
	done chan struct{}
	v    T
}

func newSettleCell[T any]() *settleCell[T] {
	return &settleCell[T]{done: make(chan struct{})}
}

func (c *settleCell[T]) put(v T) (won bool) {
	c.once.Do(func() {
		c.v = v
		won = true
		close(c.done)
	})
	return won
}

// get must only be called after done is closed.
func (c *settleCell[T]) get() T { return c.v }
