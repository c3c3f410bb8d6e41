package rtsched

import (
	"sync/atomic"
)

// waitRecord is allocated each time a thread goes to sleep, and consumed when
// it wakes. Exactly one waker wins the claim; everybody else is a no-op.
type waitRecord struct {
	thread *Thread
	timer  Timer
	result error
	waked  atomic.Bool
}

func newWaitRecord(t *Thread) *waitRecord {
	return &waitRecord{thread: t}
}

// claim marks the record as woken with the given result, returning false if
// another waker got there first.
func (w *waitRecord) claim(result error) bool {
	if w == nil || !w.waked.CompareAndSwap(false, true) {
		return false
	}
	w.result = result
	return true
}

// current reports whether w is still the outstanding wait of its thread.
func (w *waitRecord) current() bool {
	t := w.thread
	return t.wait == w && t.State() == StateSleeping
}
