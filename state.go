package rtsched

// ThreadState is the scheduler-visible lifecycle state of a [Thread].
//
// State Machine:
//
//	StateNotStarted (0) → StateRunning (1)   [Start]
//	StateNotStarted (0) → StateExited (3)    [Finish of a thread never started]
//	StateRunning (1)    → StateSleeping (2)  [Sleep, current thread only]
//	StateSleeping (2)   → StateRunning (1)   [wake]
//	StateRunning (1)    → StateExited (3)    [Finish]
//	StateSleeping (2)   → StateExited (3)    [Finish, leaves its SleepQueue]
//	StateExited (3)     → (terminal)
//
// Transitions happen only while the scheduler lock is held.
type ThreadState uint32

const (
	// StateNotStarted is owned by the task subsystem: the thread exists but
	// has not been handed to the scheduler.
	StateNotStarted ThreadState = iota
	// StateRunning covers both ready and executing.
	StateRunning
	// StateSleeping means blocked on a SleepQueue, possibly with a timeout.
	StateSleeping
	// StateExited is terminal.
	StateExited
)

// String returns a human-readable representation of the state.
func (s ThreadState) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateExited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// Started reports whether the scheduler owns the thread (running or sleeping).
func (s ThreadState) Started() bool {
	return s == StateRunning || s == StateSleeping
}

// CanTransition reports whether from → to is a legal transition.
func (s ThreadState) CanTransition(to ThreadState) bool {
	switch s {
	case StateNotStarted:
		return to == StateRunning || to == StateExited
	case StateRunning:
		return to == StateSleeping || to == StateExited
	case StateSleeping:
		return to == StateRunning || to == StateExited
	default:
		return false
	}
}
