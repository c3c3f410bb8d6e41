// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package rtsched

import (
	"golang.org/x/exp/slices"
)

// SleepQueue is an ordered collection of threads blocked on one wait
// condition. Waiters are kept in descending priority order, FIFO among equal
// priorities, so the head is always the next thread to wake.
//
// The zero value is an empty queue. It binds to the Scheduler of its first
// sleeper, and using it with any other Scheduler panics. A SleepQueue must
// not be copied after first use.
//
// Thread Safety: the queue is guarded by the scheduler lock. Len and Empty
// must be called with the lock held, or from a thread running on the CPU.
type SleepQueue struct {
	// resolves waiters, set by the first insert
	table *threadTable
	// indices into table
	waiters []TID
}

// Len returns the number of sleeping waiters.
func (q *SleepQueue) Len() int { return len(q.waiters) }

// Empty reports whether there are no waiters.
func (q *SleepQueue) Empty() bool { return len(q.waiters) == 0 }

// insert adds t behind every waiter of equal or higher priority.
func (q *SleepQueue) insert(tab *threadTable, t *Thread) {
	q.bind("SleepQueue.insert", tab)
	if t.sleepq != nil {
		contractf("SleepQueue.insert", "thread %s already on a sleep queue", t)
	}
	i := slices.IndexFunc(q.waiters, func(id TID) bool {
		return tab.get(id).schedPriority < t.schedPriority
	})
	if i < 0 {
		q.waiters = append(q.waiters, t.id)
	} else {
		q.waiters = slices.Insert(q.waiters, i, t.id)
	}
	t.sleepq = q
}

// bind ties q to tab on first use, and panics if q belongs to another
// scheduler.
func (q *SleepQueue) bind(op string, tab *threadTable) {
	switch q.table {
	case tab:
	case nil:
		q.table = tab
	default:
		contractf(op, "sleep queue is bound to another scheduler")
	}
}

// check panics if q is bound to a table other than tab.
func (q *SleepQueue) check(op string, tab *threadTable) {
	if q.table != nil && q.table != tab {
		contractf(op, "sleep queue is bound to another scheduler")
	}
}

// remove detaches t, which must be a member.
func (q *SleepQueue) remove(op string, t *Thread) {
	i := slices.Index(q.waiters, t.id)
	if i < 0 || t.sleepq != q {
		contractf(op, "thread %s is not on this sleep queue", t)
	}
	q.waiters = slices.Delete(q.waiters, i, i+1)
	t.sleepq = nil
}

// wake wakes the highest priority waiter, or all of them. Waiters that already
// have a wake in flight (a claimed record awaiting replay) are skipped, and
// stay queued until that replay.
func (q *SleepQueue) wake(rq *RunQueue, wakeAll bool) (resched bool) {
	q.check("SleepQueue.wake", rq.table)
	for i := 0; i < len(q.waiters); {
		t := rq.table.get(q.waiters[i])
		if !t.wait.claim(nil) {
			i++
			continue
		}
		q.waiters = slices.Delete(q.waiters, i, i+1)
		t.sleepq = nil
		if rq.wake(t) {
			resched = true
		}
		if !wakeAll {
			break
		}
	}
	return resched
}

// wakeThread wakes one specific waiter, whose record must already be claimed.
func (q *SleepQueue) wakeThread(rq *RunQueue, t *Thread) bool {
	q.check("SleepQueue.wakeThread", rq.table)
	q.remove("SleepQueue.wakeThread", t)
	return rq.wake(t)
}

// finish removes t without passing through StateRunning.
func (q *SleepQueue) finish(t *Thread) {
	q.remove("SleepQueue.finish", t)
	t.setState("SleepQueue.finish", StateExited)
}

// changePriority repositions t, keeping it behind its new equals.
func (q *SleepQueue) changePriority(rq *RunQueue, t *Thread, p Priority) {
	q.check("SleepQueue.changePriority", rq.table)
	q.remove("SleepQueue.changePriority", t)
	t.schedPriority = p
	q.insert(rq.table, t)
}
