package queueing

import (
	"errors"
	"log"
	"sync/atomic"

	"github.com/sarchlab/capseq/hooking"
)

// ErrExhausted is returned when a pool cannot hand out an item because its
// allocation budget is used up.
var ErrExhausted = errors.New("pool exhausted")

// HookPosPoolAlloc marks when a pool creates new items.
var HookPosPoolAlloc = &hooking.HookPos{Name: "Pool Alloc"}

// A Resetter can be returned to its zero state before reuse.
type Resetter interface {
	Reset()
}

// An Allocator decides how a Pool creates items when its free queue is empty.
// Callers pick the allocator that fits the context they run in.
type Allocator interface {
	// Batch is the number of items to create on a miss. The first is handed
	// to the caller, the rest go to the free queue.
	Batch() int
}

type nonBlocking struct{}

func (nonBlocking) Batch() int { return 1 }

// NonBlocking creates at most one item per miss. Use it from interrupt
// context, where a miss must fail fast rather than do bulk work.
func NonBlocking() Allocator {
	return nonBlocking{}
}

type bulkRefill struct {
	n int
}

func (a bulkRefill) Batch() int { return a.n }

// BulkRefill creates n items per miss and keeps the surplus for later
// acquires. Use it from worker goroutines.
func BulkRefill(n int) Allocator {
	if n < 1 {
		n = 1
	}

	return bulkRefill{n: n}
}

// Pool recycles items through a bounded free queue.
type Pool[T Resetter] struct {
	hooking.HookableBase

	name    string
	free    Queue[T]
	newFn   func() T
	maxLive int64
	live    atomic.Int64
}

// PoolBuilder builds Pools.
type PoolBuilder[T Resetter] struct {
	newFn        func() T
	freeCapacity int
	maxLive      int
	prefill      int
}

// MakePoolBuilder creates a PoolBuilder with default parameters.
func MakePoolBuilder[T Resetter]() PoolBuilder[T] {
	return PoolBuilder[T]{
		freeCapacity: 256,
	}
}

// WithNew sets the function that creates a fresh item.
func (b PoolBuilder[T]) WithNew(fn func() T) PoolBuilder[T] {
	b.newFn = fn
	return b
}

// WithFreeCapacity sets how many released items the pool keeps. Items
// released beyond that are dropped.
func (b PoolBuilder[T]) WithFreeCapacity(n int) PoolBuilder[T] {
	b.freeCapacity = n
	return b
}

// WithMaxLive caps the number of items the pool has handed out and not yet
// dropped. Zero means no cap.
func (b PoolBuilder[T]) WithMaxLive(n int) PoolBuilder[T] {
	b.maxLive = n
	return b
}

// WithPrefill creates n items up front.
func (b PoolBuilder[T]) WithPrefill(n int) PoolBuilder[T] {
	b.prefill = n
	return b
}

// Build creates a new Pool.
func (b PoolBuilder[T]) Build(name string) *Pool[T] {
	if b.newFn == nil {
		log.Panicf("pool %s: no constructor given", name)
	}

	p := &Pool[T]{
		name:    name,
		newFn:   b.newFn,
		maxLive: int64(b.maxLive),
		free: MakeQueueBuilder[T]().
			WithCapacity(b.freeCapacity).
			Build(name + ".Free"),
	}

	for i := 0; i < b.prefill && i < b.freeCapacity; i++ {
		if !p.reserve() {
			break
		}

		if p.free.TryEnqueue(p.newFn()) != nil {
			p.live.Add(-1)
			break
		}
	}

	return p
}

// Name returns the name of the pool.
func (p *Pool[T]) Name() string {
	return p.name
}

// Acquire returns a free item or creates new ones as the allocator says.
// It never blocks. ErrExhausted is returned when the live cap is reached.
func (p *Pool[T]) Acquire(a Allocator) (T, error) {
	if item, ok := p.free.Dequeue(); ok {
		return item, nil
	}

	var zero T
	if !p.reserve() {
		return zero, ErrExhausted
	}

	item := p.newFn()

	created := 1
	for i := 1; i < a.Batch(); i++ {
		if p.free.Count() >= p.free.Capacity() || !p.reserve() {
			break
		}

		if p.free.TryEnqueue(p.newFn()) != nil {
			p.live.Add(-1)
			break
		}

		created++
	}

	if p.NumHooks() > 0 {
		p.InvokeHook(hooking.HookCtx{
			Domain: p,
			Pos:    HookPosPoolAlloc,
			Item:   item,
			Detail: created,
		})
	}

	return item, nil
}

// Release resets an item and keeps it for reuse. When the free queue is full
// the item is dropped instead.
func (p *Pool[T]) Release(item T) {
	item.Reset()

	if p.free.TryEnqueue(item) != nil {
		p.live.Add(-1)
	}
}

// Live returns the number of items created and not dropped.
func (p *Pool[T]) Live() int {
	return int(p.live.Load())
}

// Free returns the number of items waiting for reuse.
func (p *Pool[T]) Free() int {
	return p.free.Count()
}

// FreeQueue exposes the free queue so that it can be hooked and monitored.
func (p *Pool[T]) FreeQueue() Queue[T] {
	return p.free
}

// Drain drops every free item.
func (p *Pool[T]) Drain() {
	for {
		if _, ok := p.free.Dequeue(); !ok {
			return
		}

		p.live.Add(-1)
	}
}

func (p *Pool[T]) reserve() bool {
	for {
		live := p.live.Load()
		if p.maxLive > 0 && live >= p.maxLive {
			return false
		}

		if p.live.CompareAndSwap(live, live+1) {
			return true
		}
	}
}
