package rtsched

// Strategy is the pluggable ordering policy of the run queue. The core only
// relies on the fixed capability set below; all methods are called with the
// scheduler lock held, after the core has applied the state transition.
//
// The strategy tracks which thread is current: it is the thread passed to
// Init, then the result of every Pick.
type Strategy interface {
	// Init resets the strategy with the thread currently on the CPU and the
	// idle thread, which is the fallback when nothing else is runnable.
	Init(current, idle *Thread)

	// Admit adds a thread that just became runnable (started or woken),
	// reporting whether it should preempt the current thread.
	Admit(t *Thread) bool

	// Sleep removes the current thread from the ready set.
	Sleep(t *Thread)

	// Finish removes an exiting thread, reporting whether a reschedule is
	// needed (always, if t is current).
	Finish(t *Thread) bool

	// ChangePriority repositions a runnable thread whose priority just
	// changed from prev, reporting whether the current pick is invalidated.
	ChangePriority(t *Thread, prev Priority) bool

	// Pick returns the thread that should execute next, never nil. If
	// current is still runnable and loses the CPU, the strategy re-queues it.
	Pick(current *Thread) *Thread
}
