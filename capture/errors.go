package capture

import "errors"

var (
	// ErrNoSlot is returned for a slot ID the engine does not have.
	ErrNoSlot = errors.New("no such slot")

	// ErrSlotBusy is returned when binding to a slot that already has a
	// session.
	ErrSlotBusy = errors.New("slot busy")

	// ErrAlreadyBound is returned when binding a session that is bound.
	ErrAlreadyBound = errors.New("session already bound")

	// ErrNotBound is returned when a session needs a slot and has none.
	ErrNotBound = errors.New("session not bound")

	// ErrSessionError is returned when starting a session that has seen a
	// fatal fault. Such a session must be recreated.
	ErrSessionError = errors.New("session in error state")

	// ErrNotRunning is returned when stopping a session that is not running.
	ErrNotRunning = errors.New("session not running")
)
