package path

import (
	"fmt"

	"github.com/sarchlab/capseq/frame"
	"github.com/sarchlab/capseq/queueing"
)

// Table holds the State of every path of a session.
type Table struct {
	states [NumPaths]*State
}

// TableBuilder builds Tables.
type TableBuilder struct {
	outCapacity      int
	resultCapacity   int
	reservedCapacity int
	motionCapacity   int
}

// MakeTableBuilder creates a TableBuilder with default queue lengths.
func MakeTableBuilder() TableBuilder {
	return TableBuilder{
		outCapacity:      50,
		resultCapacity:   50,
		reservedCapacity: 50,
		motionCapacity:   8,
	}
}

// WithOutCapacity sets the length of the consumer buffer queues.
func (b TableBuilder) WithOutCapacity(n int) TableBuilder {
	b.outCapacity = n
	return b
}

// WithResultCapacity sets the length of the in-flight queues.
func (b TableBuilder) WithResultCapacity(n int) TableBuilder {
	b.resultCapacity = n
	return b
}

// WithReservedCapacity sets the length of the placeholder queues.
func (b TableBuilder) WithReservedCapacity(n int) TableBuilder {
	b.reservedCapacity = n
	return b
}

// Build creates a Table whose queues are named after name.
func (b TableBuilder) Build(name string) *Table {
	t := &Table{}

	for i := ID(0); i < NumPaths; i++ {
		prefix := fmt.Sprintf("%s.%s", name, i)
		t.states[i] = &State{
			id: i,
			out: queueing.MakeQueueBuilder[*frame.Frame]().
				WithCapacity(b.outCapacity).
				Build(prefix + ".Out"),
			result: queueing.MakeQueueBuilder[*frame.Frame]().
				WithCapacity(b.resultCapacity).
				Build(prefix + ".Result"),
			reserved: queueing.MakeQueueBuilder[*frame.Frame]().
				WithCapacity(b.reservedCapacity).
				Build(prefix + ".Reserved"),
			middle: queueing.MakeQueueBuilder[*frame.Frame]().
				WithCapacity(b.resultCapacity).
				Build(prefix + ".Middle"),
			motion: queueing.MakeQueueBuilder[*frame.MotionState]().
				WithCapacity(b.motionCapacity).
				Build(prefix + ".Motion"),
		}
	}

	return t
}

// Get returns the State of id.
func (t *Table) Get(id ID) (*State, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPath, int(id))
	}

	return t.states[id], nil
}

// MustGet returns the State of id and panics if id is not a path.
func (t *Table) MustGet(id ID) *State {
	s, err := t.Get(id)
	if err != nil {
		panic(err)
	}

	return s
}

// Each calls fn for every path in ID order.
func (t *Table) Each(fn func(*State)) {
	for _, s := range t.states {
		fn(s)
	}
}

// Active returns the active paths in ID order.
func (t *Table) Active() []*State {
	var active []*State

	for _, s := range t.states {
		if s.Active() {
			active = append(active, s)
		}
	}

	return active
}

// Queues returns every frame queue of every path, for monitoring.
func (t *Table) Queues() []queueing.Queue[*frame.Frame] {
	var qs []queueing.Queue[*frame.Frame]

	for _, s := range t.states {
		qs = append(qs, s.out, s.result, s.reserved, s.middle)
	}

	return qs
}
