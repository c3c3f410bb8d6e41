// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package rtsched

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// schedLock is the reentrant scheduler lock. Ownership belongs to an
// execution context (a goroutine), and is handed over across a context switch
// via adopt. It never masks interrupts.
type schedLock struct {
	mu    sync.Mutex
	owner atomic.Uint64
	// only touched by the owner
	depth int
}

func (l *schedLock) lock() {
	id := goroutineID()
	if l.owner.Load() == id {
		l.depth++
		return
	}
	l.mu.Lock()
	l.owner.Store(id)
	l.depth = 1
}

// unlock reports whether this was the outermost release.
func (l *schedLock) unlock(op string) bool {
	if l.owner.Load() != goroutineID() {
		contractf(op, "scheduler lock not held by the caller")
	}
	l.depth--
	if l.depth > 0 {
		return false
	}
	l.owner.Store(0)
	l.mu.Unlock()
	return true
}

func (l *schedLock) heldByMe() bool { return l.owner.Load() == goroutineID() }

func (l *schedLock) held() bool { return l.owner.Load() != 0 }

// level returns the nesting depth if held by the caller, else 0.
func (l *schedLock) level() int {
	if !l.heldByMe() {
		return 0
	}
	return l.depth
}

// adopt takes over a lock held by the context that switched to the caller.
func (l *schedLock) adopt() { l.owner.Store(goroutineID()) }

// critical is the critical-section dispatcher: it tracks the scheduler lock
// and the hard section nesting separately, and runs the dispatch routine once
// neither is held. A request made while inside either is remembered in
// pending, and served by the outermost release.
type critical struct { // betteralign:ignore
	_        cpu.CacheLinePad
	lock     schedLock
	hard     atomic.Int32
	pending  atomic.Bool
	_        cpu.CacheLinePad
	dispatch func()
}

func (c *critical) enterHard() { c.hard.Add(1) }

func (c *critical) exitHard() {
	n := c.hard.Add(-1)
	if n < 0 {
		c.hard.Add(1)
		contractf("ExitHard", "not inside a hard section")
	}
	if n == 0 {
		c.run()
	}
}

func (c *critical) inHard() bool { return c.hard.Load() > 0 }

func (c *critical) unlock(op string) {
	if c.lock.unlock(op) {
		c.run()
	}
}

// request asks for the dispatcher to run, now if allowed.
func (c *critical) request() {
	c.pending.Store(true)
	c.run()
}

func (c *critical) run() {
	for !c.inHard() && !c.lock.held() && c.pending.CompareAndSwap(true, false) {
		c.dispatch()
	}
}
