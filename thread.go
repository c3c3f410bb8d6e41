// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package rtsched

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Priority is a scheduling priority. Higher values win.
type Priority int

const (
	PriorityMin     Priority = 0
	PriorityMax     Priority = 255
	PriorityDefault Priority = 128
)

// Valid reports whether p lies within [PriorityMin, PriorityMax].
func (p Priority) Valid() bool {
	return p >= PriorityMin && p <= PriorityMax
}

func checkPriority(op string, p Priority) {
	if !p.Valid() {
		contractf(op, "priority %d out of range [%d, %d]", p, PriorityMin, PriorityMax)
	}
}

// TID identifies a thread within one Scheduler. Zero means "not registered".
type TID uint32

// Thread is one schedulable unit of execution. Threads are created by the
// task subsystem via NewThread, and are never freed by the scheduler, which
// only mutates their scheduling-relevant fields.
//
// Unless stated otherwise, the accessors must be called with the scheduler
// lock held, or from the thread itself while it is running.
type Thread struct {
	name string

	// owner-of-the-moment fields, see the package docs
	sleepq *SleepQueue
	wait   *waitRecord

	runningTime time.Duration
	lastSync    time.Duration

	schedPriority   Priority
	initialPriority Priority

	state atomic.Uint32
	id    TID
}

// NewThread returns a thread in StateNotStarted.
func NewThread(name string, priority Priority) *Thread {
	checkPriority("NewThread", priority)
	return &Thread{
		name:            name,
		schedPriority:   priority,
		initialPriority: priority,
	}
}

// ID returns the identifier assigned when the thread was registered with a
// Scheduler, or zero.
func (t *Thread) ID() TID { return t.id }

// Name returns the name given to NewThread.
func (t *Thread) Name() string { return t.name }

// State returns the current state. It is safe to call from any goroutine.
func (t *Thread) State() ThreadState { return ThreadState(t.state.Load()) }

// Priority returns the current scheduling priority, possibly boosted.
func (t *Thread) Priority() Priority { return t.schedPriority }

// InitialPriority returns the baseline priority.
func (t *Thread) InitialPriority() Priority { return t.initialPriority }

// SleepQueue returns the queue the thread is sleeping on, or nil.
func (t *Thread) SleepQueue() *SleepQueue { return t.sleepq }

// String implements fmt.Stringer.
func (t *Thread) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s#%d", t.name, t.id)
}

func (t *Thread) setState(op string, to ThreadState) {
	from := t.State()
	if !from.CanTransition(to) {
		contractf(op, "thread %s: illegal transition %s -> %s", t, from, to)
	}
	t.state.Store(uint32(to))
}

// threadTable is the arena of registered threads; sleep queues hold indices
// into it rather than thread pointers.
type threadTable struct {
	threads []*Thread
}

func (x *threadTable) register(op string, t *Thread) {
	if t == nil {
		contractf(op, "nil thread")
	}
	if t.id != 0 {
		if x.get(t.id) != t {
			contractf(op, "thread %s belongs to another scheduler", t)
		}
		return
	}
	if len(x.threads) == 0 {
		x.threads = append(x.threads, nil)
	}
	t.id = TID(len(x.threads))
	x.threads = append(x.threads, t)
}

func (x *threadTable) get(id TID) *Thread {
	if id == 0 || int(id) >= len(x.threads) {
		return nil
	}
	return x.threads[id]
}

func (x *threadTable) len() int {
	if len(x.threads) == 0 {
		return 0
	}
	return len(x.threads) - 1
}
