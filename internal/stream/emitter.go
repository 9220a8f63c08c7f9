// Package stream turns provider response bodies into one canonical sequence
// of growing-text callbacks ending in exactly one final callback.
package stream

import (
	"sync"
	"sync/atomic"
)

// Handler receives the accumulated text so far. final is true on the last
// call of a session and never again after that.
type Handler func(text string, final bool)

// Emitter owns the accumulated text of one session and guards its Handler:
// text only grows, and at most one final call is ever made.
//
// The handler never runs under the state lock, so it may call Close (or
// anything that cancels the session) without deadlocking. Calls are
// serialized by a separate delivery lock; a handler must not call Append,
// Finish or Fail on its own emitter.
type Emitter struct {
	deliver sync.Mutex
	closed  atomic.Bool

	mu   sync.Mutex
	h    Handler
	text string
	done bool
}

// NewEmitter wraps h. A nil h discards events.
func NewEmitter(h Handler) *Emitter {
	if h == nil {
		h = func(string, bool) {}
	}
	return &Emitter{h: h}
}

// Append adds fragment and reports the new text. Empty fragments and
// fragments after completion are dropped.
func (e *Emitter) Append(fragment string) {
	if fragment == "" {
		return
	}
	e.deliver.Lock()
	defer e.deliver.Unlock()

	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	e.text += fragment
	text := e.text
	e.mu.Unlock()

	e.emit(text, false)
}

// Finish emits the final callback with the accumulated text. Only the first
// call of Finish, Fail or Close has any effect.
func (e *Emitter) Finish() {
	e.deliver.Lock()
	defer e.deliver.Unlock()

	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	e.done = true
	text := e.text
	e.mu.Unlock()

	e.emit(text, true)
}

// Fail ends the session with msg as the final text.
func (e *Emitter) Fail(msg string) {
	e.deliver.Lock()
	defer e.deliver.Unlock()

	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	e.done = true
	e.text = msg
	e.mu.Unlock()

	e.emit(msg, true)
}

// Close ends the session without any further callback. It never waits on
// an in-progress delivery, so it is safe to call from the handler.
func (e *Emitter) Close() {
	e.closed.Store(true)
	e.mu.Lock()
	e.done = true
	e.mu.Unlock()
}

func (e *Emitter) emit(text string, final bool) {
	if e.closed.Load() {
		return
	}
	e.h(text, final)
}

// Text returns the accumulated text.
func (e *Emitter) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text
}

// Done reports whether the session has ended.
func (e *Emitter) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}
