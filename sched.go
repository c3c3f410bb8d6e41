// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package rtsched

import (
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// TryRunStatus is the outcome of [Scheduler.TryRun].
type TryRunStatus int

const (
	// TryRunOK means the thread was sleeping, and has been (or, from a hard
	// section, will be) woken with ErrInterrupted.
	TryRunOK TryRunStatus = iota
	// TryRunAlreadyRunning means the thread was already runnable.
	TryRunAlreadyRunning
	// TryRunNotStarted means the thread has not been started.
	TryRunNotStarted
	// TryRunExited means the thread has exited.
	TryRunExited
)

// String implements fmt.Stringer.
func (x TryRunStatus) String() string {
	switch x {
	case TryRunOK:
		return "ok"
	case TryRunAlreadyRunning:
		return "already-running"
	case TryRunNotStarted:
		return "not-started"
	case TryRunExited:
		return "already-exited"
	default:
		return "unknown"
	}
}

// Scheduler is the scheduler core of a single CPU: the run queue, the
// critical-section dispatcher, and the deferred work queue, driven through a
// HAL.
//
// A Scheduler must be created with New, then bootstrapped with Init, before
// any other method is called. It must not be copied.
type Scheduler struct {
	crit   critical
	stats  counters
	startq startQueue

	hal    HAL
	timers TimerService
	clock  Clock
	hook   SwitchHook
	resume ResumeHook

	logger   *logiface.Logger[logiface.Event]
	logLimit *catrate.Limiter

	table threadTable
	rq    RunQueue

	initialized atomic.Bool
	halted      atomic.Bool

	// guarded by the scheduler lock
	switchPosted bool
}

// New creates a Scheduler bound to the given collaborators.
func New(hal HAL, timers TimerService, opts ...Option) (*Scheduler, error) {
	if hal == nil {
		return nil, ErrNilHAL
	}
	if timers == nil {
		return nil, ErrNilTimerService
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		hal:    hal,
		timers: timers,
		clock:  cfg.clock,
		hook:   cfg.switchHook,
		resume: cfg.resumeHook,
		logger: cfg.logger,
	}
	if len(cfg.logRates) != 0 {
		s.logLimit = catrate.NewLimiter(cfg.logRates)
	}
	s.rq.strategy = cfg.strategy
	s.rq.table = &s.table
	s.crit.dispatch = s.dispatch
	return s, nil
}

// Init bootstraps the scheduler: current is the thread executing the caller,
// idle is the fallback thread, run whenever nothing else is runnable. Both
// become StateRunning. It must be called exactly once.
func (s *Scheduler) Init(current, idle *Thread) {
	s.crit.lock.lock()
	if s.initialized.Load() {
		s.crit.lock.unlock("Init")
		contractf("Init", "already initialized")
	}
	s.rq.init(current, idle)
	current.lastSync = s.clock.Now()
	s.initialized.Store(true)
	s.crit.lock.unlock("Init")

	s.logger.Info().
		Str("current", current.String()).
		Str("idle", idle.String()).
		Log("scheduler initialized")
}

// ScheduleTail completes the first switch into a thread. A HAL calls it from
// the new thread's own context, after ContextSwitch first restored it, and
// before the thread's body runs.
func (s *Scheduler) ScheduleTail() {
	s.crit.lock.adopt()
	cur := s.rq.current
	s.crit.lock.unlock("ScheduleTail")
	s.hal.IPLEnable()
	s.crit.run()
	if s.resume != nil {
		s.resume(cur)
	}
}

// Halt permanently stops the scheduler: every later call returns without
// effect (Sleep and SleepLocked return ErrHalted). A HAL halts the scheduler
// before it unwinds the contexts of its threads, so that their deferred
// calls are inert. It must be called from the thread on the CPU.
func (s *Scheduler) Halt() {
	if s.halted.CompareAndSwap(false, true) {
		s.logger.Info().Log("scheduler halted")
	}
}

// Halted reports whether Halt was called.
func (s *Scheduler) Halted() bool { return s.halted.Load() }

// Lock acquires the reentrant scheduler lock. It does not mask interrupts.
func (s *Scheduler) Lock() {
	if s.halted.Load() {
		return
	}
	s.crit.lock.lock()
}

// Unlock releases one level of the scheduler lock, running the dispatcher if
// this was the outermost level and a dispatch is pending.
func (s *Scheduler) Unlock() {
	if s.halted.Load() {
		return
	}
	s.crit.unlock("Unlock")
}

// EnterHard marks the start of a hard critical section (an interrupt handler,
// or any context where switching is structurally unsafe). Sections nest.
func (s *Scheduler) EnterHard() {
	if s.halted.Load() {
		return
	}
	s.crit.enterHard()
}

// ExitHard ends a hard critical section, running the dispatcher if this was
// the outermost section and a dispatch is pending.
func (s *Scheduler) ExitHard() {
	if s.halted.Load() {
		return
	}
	s.crit.exitHard()
}

// InHard reports whether a hard critical section is active.
func (s *Scheduler) InHard() bool { return s.crit.inHard() }

// Current returns the thread on the CPU.
func (s *Scheduler) Current() *Thread {
	s.crit.lock.lock()
	t := s.rq.current
	s.crit.lock.unlock("Current")
	return t
}

// Idle returns the idle thread passed to Init.
func (s *Scheduler) Idle() *Thread {
	s.crit.lock.lock()
	t := s.rq.idle
	s.crit.lock.unlock("Idle")
	return t
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats { return s.stats.snapshot() }

// Start admits a thread that has never run. It is registered with the
// scheduler, and becomes runnable.
func (s *Scheduler) Start(t *Thread) {
	if s.halted.Load() {
		return
	}
	s.mustSoft("Start")
	s.crit.lock.lock()
	defer s.crit.unlock("Start")
	if t == nil || t.State() != StateNotStarted {
		contractf("Start", "thread %s is not in state %s", t, StateNotStarted)
	}
	s.postSwitchIf(s.rq.start(t))
	s.logger.Debug().
		Str("thread", t.String()).
		Int("priority", int(t.schedPriority)).
		Log("thread started")
}

// Finish makes a thread exit. A running thread leaves the run queue (if it is
// current, the CPU switches away, and this call does not return), a sleeping
// thread is removed from its sleep queue without being woken, and a thread
// that never started simply becomes exited.
//
// The current thread must not hold the scheduler lock when finishing itself,
// as the switch away could not happen until the lock is released.
//
// Threads other than the caller have their context released via HAL.Retire.
func (s *Scheduler) Finish(t *Thread) {
	if s.halted.Load() {
		return
	}
	s.mustSoft("Finish")
	if t == nil {
		contractf("Finish", "nil thread")
	}
	s.crit.lock.lock()
	if t == s.rq.current && s.crit.lock.level() > 1 {
		s.crit.lock.unlock("Finish")
		contractf("Finish", "thread %s finishing itself with the scheduler lock held", t)
	}
	defer s.crit.unlock("Finish")
	switch t.State() {
	case StateRunning:
		self := t == s.rq.current
		s.postSwitchIf(s.rq.finish(t))
		if !self {
			s.hal.Retire(t)
		}
	case StateSleeping:
		w := t.wait
		// a timer or wake in flight is dropped, and will not be replayed
		w.claim(ErrInterrupted)
		s.closeTimer(w)
		t.sleepq.finish(t)
		t.wait = nil
		s.hal.Retire(t)
	case StateNotStarted:
		t.setState("Finish", StateExited)
		s.hal.Retire(t)
	default:
		contractf("Finish", "thread %s already exited", t)
	}
	s.logger.Debug().
		Str("thread", t.String()).
		Log("thread finished")
}

// Sleep blocks the current thread on q until it is woken, or until timeout
// elapses (a negative timeout, e.g. Infinite, waits forever). The result is
// nil for a normal wake, ErrInterrupted, ErrTimedOut, or any result passed to
// WakeThreadForced. If no timer can be armed, an error wrapping the timer
// service's error is returned immediately, and the thread never joins q.
//
// The caller must not hold the scheduler lock, see SleepLocked.
func (s *Scheduler) Sleep(q *SleepQueue, timeout time.Duration) error {
	if s.halted.Load() {
		return ErrHalted
	}
	s.mustSoft("Sleep")
	if q == nil {
		contractf("Sleep", "nil sleep queue")
	}
	if s.crit.lock.heldByMe() {
		contractf("Sleep", "scheduler lock held by the caller (use SleepLocked)")
	}
	q.check("Sleep", &s.table)
	s.crit.lock.lock()
	err := s.SleepLocked(q, timeout)
	// no defer: a finished sleeper never returns from SleepLocked
	s.crit.unlock("Sleep")
	return err
}

// SleepLocked is Sleep for callers that hold exactly one level of the
// scheduler lock, e.g. to check a condition and sleep on it atomically. The
// lock is released while asleep, and held again on return.
func (s *Scheduler) SleepLocked(q *SleepQueue, timeout time.Duration) error {
	if s.halted.Load() {
		return ErrHalted
	}
	s.mustSoft("Sleep")
	if q == nil {
		contractf("Sleep", "nil sleep queue")
	}
	if n := s.crit.lock.level(); n != 1 {
		contractf("Sleep", "caller must hold exactly one scheduler lock level, holds %d", n)
	}
	q.check("Sleep", &s.table)

	cur := s.rq.current
	if cur.State() != StateRunning {
		contractf("Sleep", "thread %s is not running (state %s)", cur, cur.State())
	}

	w := newWaitRecord(cur)
	if err := s.armTimeout(w, timeout); err != nil {
		return err
	}

	cur.wait = w
	s.rq.sleep(cur, q)
	s.postSwitchIf(true)

	// switches away, and back once woken
	s.crit.unlock("Sleep")
	s.crit.lock.lock()

	s.closeTimer(w)
	cur.wait = nil
	s.countResult(w.result)
	return w.result
}

// WakeAll wakes every thread sleeping on q, with a nil result. From a hard
// section the request is deferred to the dispatcher.
func (s *Scheduler) WakeAll(q *SleepQueue) { s.wakeQueue("WakeAll", q, true) }

// WakeOne wakes the highest priority thread sleeping on q, with a nil result.
// From a hard section the request is deferred to the dispatcher.
func (s *Scheduler) WakeOne(q *SleepQueue) { s.wakeQueue("WakeOne", q, false) }

func (s *Scheduler) wakeQueue(op string, q *SleepQueue, all bool) {
	if s.halted.Load() {
		return
	}
	s.mustInit(op)
	if q == nil {
		contractf(op, "nil sleep queue")
	}
	if s.crit.inHard() {
		s.deferWake(deferredWake{queue: q, all: all})
		return
	}
	s.crit.lock.lock()
	defer s.crit.unlock(op)
	s.postSwitchIf(q.wake(&s.rq, all))
}

// WakeThreadForced wakes t with the given result, if it is sleeping and no
// other wake has claimed its current sleep. Otherwise it is a no-op.
func (s *Scheduler) WakeThreadForced(t *Thread, result error) {
	if s.halted.Load() {
		return
	}
	s.mustInit("WakeThreadForced")
	s.forceWake("WakeThreadForced", t, result)
}

// forceWake reports whether t was sleeping.
func (s *Scheduler) forceWake(op string, t *Thread, result error) bool {
	if t == nil {
		contractf(op, "nil thread")
	}
	if s.crit.inHard() {
		if t.State() != StateSleeping {
			return false
		}
		if w := t.wait; w.claim(result) {
			s.deferWake(deferredWake{wait: w})
		}
		return true
	}
	s.crit.lock.lock()
	defer s.crit.unlock(op)
	if t.State() != StateSleeping {
		return false
	}
	if t.wait.claim(result) {
		s.postSwitchIf(t.sleepq.wakeThread(&s.rq, t))
	}
	return true
}

// TryRun wakes t with ErrInterrupted if it is sleeping, otherwise reports why
// it could not. A halted scheduler reports TryRunExited.
func (s *Scheduler) TryRun(t *Thread) TryRunStatus {
	if s.halted.Load() {
		return TryRunExited
	}
	s.mustInit("TryRun")
	if s.forceWake("TryRun", t, ErrInterrupted) {
		return TryRunOK
	}
	switch t.State() {
	case StateRunning:
		return TryRunAlreadyRunning
	case StateNotStarted:
		return TryRunNotStarted
	case StateExited:
		return TryRunExited
	default:
		// woken between the checks
		return TryRunAlreadyRunning
	}
}

// ChangePriority sets the scheduling priority of t, e.g. for priority
// inheritance. A runnable thread is re-ordered in the run queue, and the CPU
// is rescheduled if that changes the pick. A sleeping thread is re-ordered in
// its sleep queue only. Otherwise the value is just recorded.
func (s *Scheduler) ChangePriority(t *Thread, p Priority) {
	if s.halted.Load() {
		return
	}
	s.mustSoft("ChangePriority")
	checkPriority("ChangePriority", p)
	s.crit.lock.lock()
	defer s.crit.unlock("ChangePriority")
	s.changePriority(t, p)
}

// SetPriority sets both the baseline and the scheduling priority of t. The
// scheduling priority of the idle thread, and of exited threads, is left
// unchanged.
func (s *Scheduler) SetPriority(t *Thread, p Priority) {
	if s.halted.Load() {
		return
	}
	s.mustSoft("SetPriority")
	checkPriority("SetPriority", p)
	s.crit.lock.lock()
	defer s.crit.unlock("SetPriority")
	if t != s.rq.idle && t.State() != StateExited {
		s.changePriority(t, p)
	}
	t.initialPriority = p
}

func (s *Scheduler) changePriority(t *Thread, p Priority) {
	if t == nil {
		contractf("ChangePriority", "nil thread")
	}
	switch t.State() {
	case StateRunning:
		s.postSwitchIf(s.rq.changePriority(t, p))
	case StateSleeping:
		t.sleepq.changePriority(&s.rq, t, p)
	default:
		t.schedPriority = p
	}
}

// RunningTime returns the CPU time accrued by t, including the current slice
// if t is on the CPU.
func (s *Scheduler) RunningTime(t *Thread) time.Duration {
	s.crit.lock.lock()
	defer s.crit.lock.unlock("RunningTime")
	if t == s.rq.current {
		now := s.clock.Now()
		t.runningTime += now - t.lastSync
		t.lastSync = now
	}
	return t.runningTime
}

// PostSwitch requests a reschedule, e.g. on a time slice tick, or to yield
// to threads of equal priority.
func (s *Scheduler) PostSwitch() {
	if s.halted.Load() {
		return
	}
	s.mustInit("PostSwitch")
	s.crit.lock.lock()
	defer s.crit.unlock("PostSwitch")
	s.postSwitchIf(true)
}

func (s *Scheduler) postSwitchIf(cond bool) {
	if !s.crit.lock.heldByMe() {
		contractf("postSwitchIf", "scheduler lock not held by the caller")
	}
	if cond {
		s.switchPosted = true
		s.crit.request()
	}
}

func (s *Scheduler) deferWake(d deferredWake) {
	s.startq.push(d)
	s.stats.deferred.Add(1)
	s.crit.request()
}

// flushDeferred replays the deferred work queue. Lock held.
func (s *Scheduler) flushDeferred() {
	items := s.startq.take()
	for i := range items {
		d := items[i]
		items[i] = deferredWake{}
		s.stats.replayed.Add(1)
		if d.wait != nil {
			// stale if the thread was finished, or the sleep already ended
			if d.wait.current() {
				t := d.wait.thread
				s.postSwitchIf(t.sleepq.wakeThread(&s.rq, t))
			}
			continue
		}
		s.postSwitchIf(d.queue.wake(&s.rq, d.all))
	}
}

// dispatch is the context switch routine, run by the critical-section
// dispatcher once neither the lock nor a hard section is held.
func (s *Scheduler) dispatch() {
	ipl := s.hal.IPLSave()
	s.hal.IPLDisable()
	s.crit.lock.lock()
	s.stats.dispatches.Add(1)

	s.flushDeferred()

	if !s.switchPosted {
		s.crit.lock.unlock("dispatch")
		s.hal.IPLRestore(ipl)
		return
	}
	s.switchPosted = false

	s.hal.IPLEnable()
	prev := s.rq.current
	next := s.rq.pick()
	if next == prev {
		s.hal.IPLDisable()
		s.crit.lock.unlock("dispatch")
		s.hal.IPLRestore(ipl)
		return
	}

	now := s.clock.Now()
	prev.runningTime += now - prev.lastSync
	next.lastSync = now

	s.hal.IPLDisable()
	s.rq.current = next
	s.stats.switches.Add(1)
	if s.hook != nil {
		s.hook(prev, next, now)
	}
	s.logSwitch(prev, next)

	s.hal.ContextSwitch(prev, next)

	// switched back in, the lock was handed over by whoever switched to us
	s.crit.lock.adopt()
	s.crit.lock.unlock("dispatch")
	s.hal.IPLRestore(ipl)
	if s.resume != nil {
		s.resume(prev)
	}
}

func (s *Scheduler) logSwitch(prev, next *Thread) {
	b := s.logger.Debug()
	if !b.Enabled() {
		return
	}
	if _, ok := s.logLimit.Allow(next.id); !ok {
		b.Release()
		return
	}
	b.Str("prev", prev.String()).
		Str("prev_state", prev.State().String()).
		Str("next", next.String()).
		Int("next_priority", int(next.schedPriority)).
		Log("context switch")
}

func (s *Scheduler) countResult(err error) {
	switch err {
	case ErrTimedOut:
		s.stats.timeouts.Add(1)
	case ErrInterrupted:
		s.stats.interrupts.Add(1)
	}
}

func (s *Scheduler) mustInit(op string) {
	if !s.initialized.Load() {
		contractf(op, "scheduler not initialized")
	}
}

// mustSoft asserts that the caller may block or switch: the scheduler is
// initialized, and no hard section is active.
func (s *Scheduler) mustSoft(op string) {
	s.mustInit(op)
	if s.crit.inHard() {
		contractf(op, "not allowed inside a hard section")
	}
}
