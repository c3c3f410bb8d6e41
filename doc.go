// Package rtsched implements the thread scheduler core of a small real-time
// kernel: it decides which thread runs on the CPU, manages voluntary and timed
// sleeping, and guarantees that wake-up requests raised from interrupt context
// are applied exactly once.
//
// # Architecture
//
// A [Scheduler] owns a [RunQueue] (the ready set plus the current and idle
// threads), a deferred work queue used to replay wake requests raised inside
// hard critical sections, and the critical-section dispatcher that decides
// when a scheduling decision may be applied. Threads block on a [SleepQueue],
// one per wait condition, owned by whichever subsystem defines the condition
// (a mutex, a semaphore, a driver's I/O completion).
//
// Ordering of the ready set is delegated to a pluggable [Strategy]. The
// default, [PriorityStrategy], is strict priority with round-robin rotation
// among equal priorities.
//
// The hardware is reached through two collaborator interfaces: [HAL] (the
// context-switch primitive and interrupt priority level control) and
// [TimerService] (one-shot timers). The simcpu package provides a hosted,
// goroutine-backed implementation of both.
//
// # Thread States
//
//	StateNotStarted → StateRunning   [Scheduler.Start]
//	StateRunning    → StateSleeping  [Scheduler.Sleep, current thread only]
//	StateSleeping   → StateRunning   [WakeOne, WakeAll, WakeThreadForced, TryRun, timeout]
//	StateRunning    → StateExited    [Scheduler.Finish]
//	StateSleeping   → StateExited    [Scheduler.Finish]
//	StateExited     → (terminal)
//
// # Critical Sections
//
// Two kinds of exclusion are tracked independently:
//   - the scheduler lock ([Scheduler.Lock]), reentrant, taken around every
//     mutation of scheduler data; it does not mask interrupts
//   - the hard section ([Scheduler.EnterHard]), entered by interrupt handlers,
//     where the dispatcher must not run and wake requests are deferred
//
// A dispatch requested while either is held runs on the outermost release.
//
// # Usage
//
//	cpu := simcpu.New()
//	s, err := rtsched.New(cpu, cpu.Timers(0), rtsched.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	main := rtsched.NewThread("main", rtsched.PriorityDefault)
//	idle := rtsched.NewThread("idle", rtsched.PriorityMin)
//	cpu.Bootstrap(s, main, idle)
//
//	var q rtsched.SleepQueue
//	if err := s.Sleep(&q, 10*time.Millisecond); errors.Is(err, rtsched.ErrTimedOut) {
//	    // nobody woke us
//	}
package rtsched
