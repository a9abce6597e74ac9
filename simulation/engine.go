package simulation

import (
	"context"
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/sarchlab/capseq/hooking"
)

// HookPosBeforeEvent triggers before an event is handled.
var HookPosBeforeEvent = &hooking.HookPos{Name: "BeforeEvent"}

// HookPosAfterEvent triggers after an event is handled.
var HookPosAfterEvent = &hooking.HookPos{Name: "AfterEvent"}

// An Engine runs events one after another in virtual time. It is also the
// clock of the simulated device: wall time is epoch plus virtual time and
// boot time is virtual time.
type Engine struct {
	hooking.HookableBase

	epoch          time.Time
	timeLock       sync.RWMutex
	time           VTime
	queue          *EventQueue
	secondaryQueue *EventQueue

	isPaused     bool
	isPausedLock sync.Mutex
	pauseLock    sync.Mutex

	singleRunLock sync.Mutex
}

// NewEngine creates an Engine whose virtual time starts at epoch.
func NewEngine(epoch time.Time) *Engine {
	return &Engine{
		epoch:          epoch,
		queue:          NewEventQueue(),
		secondaryQueue: NewEventQueue(),
	}
}

// Schedule registers an event to happen in the future.
func (e *Engine) Schedule(evt Event) {
	if evt.Time() < e.CurrentTime() {
		log.Panic("scheduling an event earlier than current time")
	}

	if evt.IsSecondary() {
		e.secondaryQueue.Push(evt)
		return
	}

	e.queue.Push(evt)
}

// CurrentTime returns the virtual time.
func (e *Engine) CurrentTime() VTime {
	e.timeLock.RLock()
	defer e.timeLock.RUnlock()

	return e.time
}

// Now returns the simulated wall time.
func (e *Engine) Now() time.Time {
	return e.epoch.Add(e.CurrentTime())
}

// Boot returns the simulated time since boot.
func (e *Engine) Boot() time.Duration {
	return e.CurrentTime()
}

func (e *Engine) writeNow(t VTime) {
	e.timeLock.Lock()
	e.time = t
	e.timeLock.Unlock()
}

// Run processes events until none is left or ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.singleRunLock.Lock()
	defer e.singleRunLock.Unlock()

	for !e.noMoreEvent() {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.step(); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) step() error {
	e.pauseLock.Lock()
	defer e.pauseLock.Unlock()

	evt := e.nextEvent()

	now := e.CurrentTime()
	if evt.Time() < now {
		log.Panicf("cannot run event in the past, evt %s @ %s, now %s",
			reflect.TypeOf(evt), evt.Time(), now)
	}

	e.writeNow(evt.Time())

	hookCtx := hooking.HookCtx{
		Domain: e,
		Pos:    HookPosBeforeEvent,
		Item:   evt,
	}
	e.InvokeHook(hookCtx)

	err := evt.Handler().Handle(evt)

	hookCtx.Pos = HookPosAfterEvent
	hookCtx.Detail = err
	e.InvokeHook(hookCtx)

	return err
}

func (e *Engine) noMoreEvent() bool {
	return e.queue.Len() == 0 && e.secondaryQueue.Len() == 0
}

func (e *Engine) nextEvent() Event {
	if e.queue.Len() == 0 {
		return e.secondaryQueue.Pop()
	}

	if e.secondaryQueue.Len() == 0 {
		return e.queue.Pop()
	}

	if e.queue.Peek().Time() <= e.secondaryQueue.Peek().Time() {
		return e.queue.Pop()
	}

	return e.secondaryQueue.Pop()
}

// Pause stops the engine from triggering more events.
func (e *Engine) Pause() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if e.isPaused {
		return
	}

	e.pauseLock.Lock()
	e.isPaused = true
}

// Continue lets the engine trigger events again.
func (e *Engine) Continue() {
	e.isPausedLock.Lock()
	defer e.isPausedLock.Unlock()

	if !e.isPaused {
		return
	}

	e.pauseLock.Unlock()
	e.isPaused = false
}
