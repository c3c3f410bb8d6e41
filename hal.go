package rtsched

import (
	"time"
)

type (
	// IPL is an opaque saved interrupt priority level.
	IPL uint32

	// HAL is the hardware collaborator: the context-switch primitive and the
	// interrupt priority level controls.
	HAL interface {
		// ContextSwitch saves the execution context of prev and restores next.
		// It is called with interrupts disabled, from prev's own execution
		// context, and returns when prev is switched back in. If prev has
		// exited it must never return.
		ContextSwitch(prev, next *Thread)

		// Retire is called when a thread that is not on the CPU exits, so its
		// saved context may be discarded. It must not block.
		Retire(t *Thread)

		IPLSave() IPL
		IPLRestore(ipl IPL)
		IPLEnable()
		IPLDisable()
	}

	// TimerService provides one-shot timers.
	TimerService interface {
		// NewTimer arms a timer calling fire once, in interrupt context, after
		// d. Exhaustion should be reported with ErrTimerUnavailable.
		NewTimer(d time.Duration, fire func()) (Timer, error)
	}

	// Timer is an armed one-shot timer.
	Timer interface {
		// Close disarms the timer. It is safe to call after expiry.
		Close()
	}

	// Clock is the time source used for running time accounting.
	Clock interface {
		// Now returns a monotonic timestamp.
		Now() time.Duration
	}

	// ClockFunc implements Clock.
	ClockFunc func() time.Duration
)

// Now implements Clock.
func (f ClockFunc) Now() time.Duration { return f() }

// monotonicClock measures time elapsed since its anchor.
type monotonicClock struct {
	anchor time.Time
}

func newMonotonicClock() *monotonicClock {
	return &monotonicClock{anchor: time.Now()}
}

func (x *monotonicClock) Now() time.Duration {
	return time.Since(x.anchor)
}
