// Package queueing provides the bounded queues and object pools that the
// capture engine moves frames and status events through.
package queueing

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sarchlab/capseq/hooking"
	"golang.org/x/time/rate"
)

var (
	// ErrFull is returned when an item is offered to a queue that already
	// holds its maximum number of items.
	ErrFull = errors.New("queue full")

	// ErrCleared is returned when an item is offered to a queue that has been
	// cleared and not reopened.
	ErrCleared = errors.New("queue cleared")
)

// HookPosQueuePush marks when an item is pushed into a queue.
var HookPosQueuePush = &hooking.HookPos{Name: "Queue Push"}

// HookPosQueuePop marks when an item is popped from a queue.
var HookPosQueuePop = &hooking.HookPos{Name: "Queue Pop"}

// HookPosQueueReject marks when a queue refuses an item.
var HookPosQueueReject = &hooking.HookPos{Name: "Queue Reject"}

// A Queue is a bounded FIFO that can also be rolled back from its tail. All
// methods hold a short internal lock and never block.
type Queue[T any] interface {
	hooking.Hookable

	Name() string

	// TryEnqueue appends an item. It fails with ErrFull once the queue holds
	// Capacity items, and with ErrCleared after Clear.
	TryEnqueue(item T) error

	// EnqueueFront puts an item ahead of every queued item.
	EnqueueFront(item T) error

	// Dequeue removes the oldest item.
	Dequeue() (T, bool)

	// DequeueTail removes the newest item.
	DequeueTail() (T, bool)

	PeekFront() (T, bool)
	PeekTail() (T, bool)
	Count() int
	Capacity() int

	// Items returns the queued items, oldest first.
	Items() []T

	// Clear removes all items, passing each to destroy if destroy is not nil,
	// and refuses further items until Reopen is called.
	Clear(destroy func(T))

	// Reopen accepts items again after Clear.
	Reopen()
}

// QueueBuilder builds Queues.
type QueueBuilder[T any] struct {
	capacity    int
	logInterval time.Duration
}

// MakeQueueBuilder creates a QueueBuilder with default parameters.
func MakeQueueBuilder[T any]() QueueBuilder[T] {
	return QueueBuilder[T]{
		capacity:    50,
		logInterval: 5 * time.Second,
	}
}

// WithCapacity sets the maximum number of items the queue can hold.
func (b QueueBuilder[T]) WithCapacity(capacity int) QueueBuilder[T] {
	b.capacity = capacity
	return b
}

// WithLogInterval sets how often a full queue may be reported in the log.
func (b QueueBuilder[T]) WithLogInterval(d time.Duration) QueueBuilder[T] {
	b.logInterval = d
	return b
}

// Build creates a new Queue.
func (b QueueBuilder[T]) Build(name string) Queue[T] {
	if b.capacity <= 0 {
		log.Panicf("queue %s: capacity must be positive, got %d",
			name, b.capacity)
	}

	return &ringQueue[T]{
		name:    name,
		items:   make([]T, b.capacity),
		fullLog: &rate.Sometimes{First: 1, Interval: b.logInterval},
	}
}

type ringQueue[T any] struct {
	hooking.HookableBase

	name string

	mu      sync.Mutex
	items   []T
	head    int
	count   int
	cleared bool

	fullLog *rate.Sometimes
}

func (q *ringQueue[T]) Name() string {
	return q.name
}

func (q *ringQueue[T]) Capacity() int {
	return len(q.items)
}

func (q *ringQueue[T]) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.count
}

func (q *ringQueue[T]) TryEnqueue(item T) error {
	return q.insert(item, false)
}

func (q *ringQueue[T]) EnqueueFront(item T) error {
	return q.insert(item, true)
}

func (q *ringQueue[T]) insert(item T, front bool) error {
	q.mu.Lock()

	if err := q.acceptable(); err != nil {
		q.mu.Unlock()
		q.reject(item, err)

		return err
	}

	if front {
		q.head = (q.head - 1 + len(q.items)) % len(q.items)
		q.items[q.head] = item
	} else {
		q.items[(q.head+q.count)%len(q.items)] = item
	}

	q.count++
	q.mu.Unlock()

	q.invoke(HookPosQueuePush, item, nil)

	return nil
}

func (q *ringQueue[T]) acceptable() error {
	if q.cleared {
		return ErrCleared
	}

	if q.count >= len(q.items) {
		return ErrFull
	}

	return nil
}

func (q *ringQueue[T]) reject(item T, err error) {
	if errors.Is(err, ErrFull) {
		q.fullLog.Do(func() {
			log.Printf("%s: full, %d items queued", q.name, len(q.items))
		})
	}

	q.invoke(HookPosQueueReject, item, err)
}

func (q *ringQueue[T]) Dequeue() (T, bool) {
	q.mu.Lock()

	var zero T
	if q.count == 0 {
		q.mu.Unlock()
		return zero, false
	}

	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.count--
	q.mu.Unlock()

	q.invoke(HookPosQueuePop, item, nil)

	return item, true
}

func (q *ringQueue[T]) DequeueTail() (T, bool) {
	q.mu.Lock()

	var zero T
	if q.count == 0 {
		q.mu.Unlock()
		return zero, false
	}

	tail := (q.head + q.count - 1) % len(q.items)
	item := q.items[tail]
	q.items[tail] = zero
	q.count--
	q.mu.Unlock()

	q.invoke(HookPosQueuePop, item, nil)

	return item, true
}

func (q *ringQueue[T]) PeekFront() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.count == 0 {
		return zero, false
	}

	return q.items[q.head], true
}

func (q *ringQueue[T]) PeekTail() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.count == 0 {
		return zero, false
	}

	return q.items[(q.head+q.count-1)%len(q.items)], true
}

func (q *ringQueue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, 0, q.count)
	for i := 0; i < q.count; i++ {
		out = append(out, q.items[(q.head+i)%len(q.items)])
	}

	return out
}

func (q *ringQueue[T]) Clear(destroy func(T)) {
	q.mu.Lock()

	var zero T
	drained := make([]T, 0, q.count)
	for q.count > 0 {
		drained = append(drained, q.items[q.head])
		q.items[q.head] = zero
		q.head = (q.head + 1) % len(q.items)
		q.count--
	}

	q.head = 0
	q.cleared = true
	q.mu.Unlock()

	if destroy == nil {
		return
	}

	for _, item := range drained {
		destroy(item)
	}
}

func (q *ringQueue[T]) Reopen() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.cleared = false
}

func (q *ringQueue[T]) invoke(pos *hooking.HookPos, item T, detail any) {
	if q.NumHooks() == 0 {
		return
	}

	q.InvokeHook(hooking.HookCtx{
		Domain: q,
		Pos:    pos,
		Item:   item,
		Detail: detail,
	})
}
