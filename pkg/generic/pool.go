package generic

import "sync"

// Pool is a typed sync.Pool. Values may be collected at any GC.
type Pool[T any] struct {
	pool sync.Pool
}

func NewPool[T any](generate func() T) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
	}
}

func NewHotPool[T any](generate func() T, hotSize int) *Pool[T] {
	p := NewPool[T](generate)
	for i := 0; i < hotSize; i++ {
		p.pool.Put(generate())
	}
	return p
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	p.pool.Put(value)
}

// FixedPool is a bounded free list. It never holds more than its capacity; values
// put into a full pool are dropped and left to the GC.
type FixedPool[T any] struct {
	slots    chan T
	generate func() T
	reset    func(T)
}

// NewFixedPool returns a FixedPool holding at most capacity values. reset, if not
// nil, is applied to every value accepted by Put.
func NewFixedPool[T any](capacity int, generate func() T, reset func(T)) *FixedPool[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &FixedPool[T]{
		slots:    make(chan T, capacity),
		generate: generate,
		reset:    reset,
	}
}

// NewHotFixedPool is NewFixedPool pre-filled with hotSize values.
func NewHotFixedPool[T any](capacity int, generate func() T, reset func(T), hotSize int) *FixedPool[T] {
	p := NewFixedPool(capacity, generate, reset)
	for i := 0; i < hotSize && i < capacity; i++ {
		p.slots <- generate()
	}
	return p
}

// Get returns a pooled value, or a fresh one when the pool is empty.
func (p *FixedPool[T]) Get() T {
	select {
	case v := <-p.slots:
		return v
	default:
		return p.generate()
	}
}

// Put resets v and keeps it if there is room. It reports whether v was kept.
func (p *FixedPool[T]) Put(v T) bool {
	if p.reset != nil {
		p.reset(v)
	}
	select {
	case p.slots <- v:
		return true
	default:
		return false
	}
}

// Len returns the number of idle values.
func (p *FixedPool[T]) Len() int { return len(p.slots) }

// Cap returns the capacity.
func (p *FixedPool[T]) Cap() int { return cap(p.slots) }
