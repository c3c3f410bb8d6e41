package rtsched

import (
	"sync"
)

// deferredWake is one wake request recorded inside a hard section: either a
// specific thread (wait set) or a sleep queue (queue set).
type deferredWake struct {
	wait  *waitRecord
	queue *SleepQueue
	all   bool
}

// startQueue is the deferred work queue. Producers are interrupt handlers,
// the single consumer is the dispatcher. The mutex plays the role of the
// interrupt mask around the queue.
type startQueue struct {
	items []deferredWake
	spare []deferredWake
	mu    sync.Mutex
}

func (x *startQueue) push(w deferredWake) {
	x.mu.Lock()
	x.items = append(x.items, w)
	x.mu.Unlock()
}

// take swaps out every pending entry. The returned slice is only valid until
// the next take.
func (x *startQueue) take() []deferredWake {
	x.mu.Lock()
	if len(x.items) == 0 {
		x.mu.Unlock()
		return nil
	}
	items := x.items
	x.items = x.spare[:0]
	x.spare = items[:0]
	x.mu.Unlock()
	return items
}

func (x *startQueue) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.items)
}
