package simcpu

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-rtsched"
)

// Timers is a rtsched.TimerService backed by time.AfterFunc, firing its
// callbacks as interrupts on the CPU.
type Timers struct {
	cpu      *CPU
	mu       sync.Mutex
	capacity int
	active   int
}

var _ rtsched.TimerService = (*Timers)(nil)

// Timers returns a timer service with at most capacity armed timers at once,
// or unlimited if capacity is not positive.
func (c *CPU) Timers(capacity int) *Timers {
	return &Timers{cpu: c, capacity: capacity}
}

// Active returns the number of armed timers.
func (x *Timers) Active() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.active
}

// NewTimer implements rtsched.TimerService.
func (x *Timers) NewTimer(d time.Duration, fire func()) (rtsched.Timer, error) {
	x.mu.Lock()
	if x.capacity > 0 && x.active >= x.capacity {
		x.mu.Unlock()
		return nil, rtsched.ErrTimerUnavailable
	}
	x.active++
	x.mu.Unlock()

	t := &timer{owner: x}
	t.timer = time.AfterFunc(d, func() {
		if t.release() {
			x.cpu.Raise(fire)
		}
	})
	return t, nil
}

type timer struct {
	owner *Timers
	timer *time.Timer
	done  atomic.Bool
}

// Close implements rtsched.Timer.
func (t *timer) Close() {
	if t.release() {
		t.timer.Stop()
	}
}

// release frees the capacity slot, once.
func (t *timer) release() bool {
	if !t.done.CompareAndSwap(false, true) {
		return false
	}
	t.owner.mu.Lock()
	t.owner.active--
	t.owner.mu.Unlock()
	return true
}
