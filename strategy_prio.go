// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package rtsched

import (
	"math/bits"

	"golang.org/x/exp/slices"
)

const prioWords = (int(PriorityMax) + 64) / 64

// PriorityStrategy is the default Strategy: strict priority, with FIFO
// rotation among threads of equal priority. The current thread is never in the
// ready set; it keeps the CPU until it blocks, exits, or a Pick finds a ready
// thread of at least its priority (a Pick only happens when a switch was
// posted, so equal priorities rotate on PostSwitch, not on every wake).
//
// The zero value is ready to use.
type PriorityStrategy struct {
	current *Thread
	idle    *Thread
	ready   [PriorityMax + 1][]*Thread
	mask    [prioWords]uint64
	count   int
}

var _ Strategy = (*PriorityStrategy)(nil)

// NewPriorityStrategy returns an empty PriorityStrategy.
func NewPriorityStrategy() *PriorityStrategy {
	return new(PriorityStrategy)
}

// Init implements Strategy.
func (x *PriorityStrategy) Init(current, idle *Thread) {
	*x = PriorityStrategy{current: current, idle: idle}
}

// Len returns the number of ready threads, excluding current and idle.
func (x *PriorityStrategy) Len() int { return x.count }

// Admit implements Strategy.
func (x *PriorityStrategy) Admit(t *Thread) bool {
	if t == x.current {
		// woken before it was switched out
		return false
	}
	x.push(t)
	return x.current == nil ||
		x.current == x.idle ||
		x.current.State() != StateRunning ||
		t.schedPriority > x.current.schedPriority
}

// Sleep implements Strategy.
func (x *PriorityStrategy) Sleep(t *Thread) {
	if t != x.current {
		x.remove(t, t.schedPriority)
	}
}

// Finish implements Strategy.
func (x *PriorityStrategy) Finish(t *Thread) bool {
	if t == x.current {
		return true
	}
	x.remove(t, t.schedPriority)
	return false
}

// ChangePriority implements Strategy.
func (x *PriorityStrategy) ChangePriority(t *Thread, prev Priority) bool {
	if t == x.current {
		top, ok := x.highest()
		return ok && top > t.schedPriority
	}
	if t == x.idle {
		return false
	}
	x.remove(t, prev)
	x.push(t)
	return x.current != nil && t.schedPriority > x.current.schedPriority
}

// Pick implements Strategy.
func (x *PriorityStrategy) Pick(current *Thread) *Thread {
	top, ok := x.highest()
	if current != nil && current != x.idle && current.State() == StateRunning {
		if !ok || top < current.schedPriority {
			x.current = current
			return current
		}
		x.push(current)
		top, ok = x.highest()
	}
	if !ok {
		x.current = x.idle
		return x.idle
	}
	next := x.ready[top][0]
	x.remove(next, top)
	x.current = next
	return next
}

func (x *PriorityStrategy) push(t *Thread) {
	p := t.schedPriority
	x.ready[p] = append(x.ready[p], t)
	x.mask[p/64] |= 1 << (uint(p) % 64)
	x.count++
}

func (x *PriorityStrategy) remove(t *Thread, p Priority) {
	i := slices.Index(x.ready[p], t)
	if i < 0 {
		contractf("PriorityStrategy.remove", "thread %s not ready at priority %d", t, p)
	}
	x.ready[p] = slices.Delete(x.ready[p], i, i+1)
	if len(x.ready[p]) == 0 {
		x.mask[p/64] &^= 1 << (uint(p) % 64)
	}
	x.count--
}

func (x *PriorityStrategy) highest() (Priority, bool) {
	for w := len(x.mask) - 1; w >= 0; w-- {
		if m := x.mask[w]; m != 0 {
			return Priority(w*64 + bits.Len64(m) - 1), true
		}
	}
	return 0, false
}
