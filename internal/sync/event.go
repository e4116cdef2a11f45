// Package sync has lock-holding wrappers and a waitable flag, complementing the standard library package of the same
// name.
package sync

import "sync"

// Event is a boolean flag that goroutines can wait on becoming true. The zero value is unset and ready to use.
type Event struct {
	mu sync.Mutex
	// Closed while the flag is set. Replaced on Clear.
	ch chan struct{}
	on bool
}

func NewEvent() *Event {
	return &Event{}
}

// channel must be called with mu held.
func (e *Event) channel() chan struct{} {
	if e.ch == nil {
		e.ch = make(chan struct{})
	}
	return e.ch
}

func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.on
}

// Set raises the flag, releasing every waiter. Returns false if it was already set.
func (e *Event) Set() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.on {
		return false
	}
	e.on = true
	close(e.channel())
	return true
}

// Clear lowers the flag. Returns false if it was already clear.
func (e *Event) Clear() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.on {
		return false
	}
	e.on = false
	e.ch = nil
	return true
}

// Wait returns a channel that is closed once the flag is set, which may already be the case.
func (e *Event) Wait() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channel()
}
