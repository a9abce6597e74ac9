// Package hooking provides the instrumentation points that capture engines,
// queues and pools expose to tracers and recorders.
package hooking

import (
	"reflect"
	"sync"
)

// HookPos names a place where a hook can be triggered.
type HookPos struct {
	Name string
}

// HookCtx carries what a hook needs to know about the site that triggered it.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   interface{}
	Detail interface{}
}

// Hookable defines an object that accept Hooks.
type Hookable interface {
	// AcceptHook registers a hook.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// Hooks returns all the hooks registered.
	Hooks() []Hook
}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func calls f.
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// A HookableBase provides the hook list for types that implement Hookable.
// Hooks may be invoked from interrupt context and worker goroutines at the
// same time, so the list is copied on write.
type HookableBase struct {
	mu       sync.Mutex
	hookList []Hook
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.hookList)
}

// Hooks returns all the hooks registered.
func (h *HookableBase) Hooks() []Hook {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.hookList
}

// AcceptHook register a hook. Registering the same hook twice panics.
// HookFunc values are not comparable and are never reported as duplicates.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if reflect.TypeOf(hook).Comparable() {
		for _, existing := range h.hookList {
			if reflect.TypeOf(existing).Comparable() && existing == hook {
				panic("duplicated hook")
			}
		}
	}

	list := make([]Hook, len(h.hookList), len(h.hookList)+1)
	copy(list, h.hookList)
	h.hookList = append(list, hook)
}

// InvokeHook triggers the registered Hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.Hooks() {
		hook.Func(ctx)
	}
}
