package rtsched

import (
	"sync/atomic"
)

// Stats is a snapshot of scheduler counters.
type Stats struct {
	// Dispatches counts runs of the dispatch routine.
	Dispatches uint64
	// Switches counts context switches (the pick differed from current).
	Switches uint64
	// Deferred counts wake requests recorded inside a hard section,
	// including timeouts.
	Deferred uint64
	// Replayed counts deferred requests applied by the dispatcher.
	Replayed uint64
	// Timeouts counts sleeps that ended with ErrTimedOut.
	Timeouts uint64
	// Interrupts counts sleeps that ended with ErrInterrupted.
	Interrupts uint64
	// TimerFailures counts sleeps rejected because no timer was available.
	TimerFailures uint64
}

// counters is the live, atomic, form of Stats.
type counters struct {
	dispatches    atomic.Uint64
	switches      atomic.Uint64
	deferred      atomic.Uint64
	replayed      atomic.Uint64
	timeouts      atomic.Uint64
	interrupts    atomic.Uint64
	timerFailures atomic.Uint64
}

func (x *counters) snapshot() Stats {
	return Stats{
		Dispatches:    x.dispatches.Load(),
		Switches:      x.switches.Load(),
		Deferred:      x.deferred.Load(),
		Replayed:      x.replayed.Load(),
		Timeouts:      x.timeouts.Load(),
		Interrupts:    x.interrupts.Load(),
		TimerFailures: x.timerFailures.Load(),
	}
}
