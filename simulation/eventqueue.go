package simulation

import (
	"container/heap"
	"sync"
)

// EventQueue orders events by time. Events of the same time come out in the
// order they were pushed.
type EventQueue struct {
	sync.Mutex
	events eventHeap
	seq    uint64
}

// NewEventQueue creates an empty EventQueue.
func NewEventQueue() *EventQueue {
	q := &EventQueue{}
	heap.Init(&q.events)

	return q
}

// Push adds an event.
func (q *EventQueue) Push(evt Event) {
	q.Lock()
	defer q.Unlock()

	heap.Push(&q.events, queuedEvent{evt: evt, seq: q.seq})
	q.seq++
}

// Pop removes and returns the earliest event.
func (q *EventQueue) Pop() Event {
	q.Lock()
	defer q.Unlock()

	return heap.Pop(&q.events).(queuedEvent).evt
}

// Peek returns the earliest event without removing it.
func (q *EventQueue) Peek() Event {
	q.Lock()
	defer q.Unlock()

	return q.events[0].evt
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	q.Lock()
	defer q.Unlock()

	return q.events.Len()
}

type queuedEvent struct {
	evt Event
	seq uint64
}

type eventHeap []queuedEvent

func (h eventHeap) Len() int {
	return len(h)
}

func (h eventHeap) Less(i, j int) bool {
	ti, tj := h[i].evt.Time(), h[j].evt.Time()
	if ti != tj {
		return ti < tj
	}

	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(queuedEvent))
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	evt := old[n-1]
	*h = old[0 : n-1]

	return evt
}
