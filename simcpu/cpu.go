// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package simcpu implements a single simulated CPU on goroutines, providing
// the rtsched.HAL and rtsched.TimerService collaborators.
//
// Every thread is backed by a goroutine, but only the goroutine of the thread
// on the CPU ever runs scheduler code: the others are parked on their gate
// until a context switch hands the CPU to them. Interrupts raised from other
// goroutines (e.g. timers) are queued, and delivered on the CPU by the idle
// thread, or at Checkpoint calls of the running thread, each inside a hard
// section.
//
// The goroutine of a thread that exits, or is finished by another thread,
// stays blocked until Stop. Stop halts the scheduler before any goroutine
// unwinds, so the deferred calls of thread bodies have no effect on it.
package simcpu

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-rtsched"
	"github.com/joeycumines/logiface"
)

const (
	iplEnabled rtsched.IPL = iota
	iplDisabled
)

// CPU is a simulated single core. It must be created with New.
type CPU struct {
	sched  *rtsched.Scheduler
	logger *logiface.Logger[logiface.Event]

	irqSignal chan struct{}
	halt      chan struct{}

	gates map[*rtsched.Thread]*gate

	irqs []func()

	wg       sync.WaitGroup
	mu       sync.Mutex
	irqMu    sync.Mutex
	haltOnce sync.Once

	ipl       atomic.Uint32
	delivered atomic.Uint64
}

// gate is the saved context of one thread.
type gate struct {
	resume  chan struct{}
	retired chan struct{}
	once    sync.Once
}

var _ rtsched.HAL = (*CPU)(nil)

// Option configures a CPU.
type Option func(c *CPU)

// WithLogger enables debug logging of interrupt delivery.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(c *CPU) { c.logger = logger }
}

// New returns a CPU with interrupts enabled.
func New(opts ...Option) *CPU {
	c := &CPU{
		irqSignal: make(chan struct{}, 1),
		halt:      make(chan struct{}),
		gates:     make(map[*rtsched.Thread]*gate),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Bootstrap binds the scheduler, makes the calling goroutine the context of
// main, spawns the idle loop for idle, and initializes the scheduler.
func (c *CPU) Bootstrap(s *rtsched.Scheduler, main, idle *rtsched.Thread) {
	c.sched = s
	c.gate(main)
	c.Spawn(idle, c.idleLoop)
	s.Init(main, idle)
}

// Scheduler returns the bound scheduler.
func (c *CPU) Scheduler() *rtsched.Scheduler { return c.sched }

// Spawn creates the goroutine backing t, which must not have been started.
// It waits for the first switch into t, runs body, then finishes t. Spawn
// does not start t, see rtsched.Scheduler.Start.
func (c *CPU) Spawn(t *rtsched.Thread, body func()) {
	g := c.gate(t)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.park(t, g)
		c.sched.ScheduleTail()
		body()
		c.sched.Finish(t)
	}()
}

// ContextSwitch implements rtsched.HAL.
func (c *CPU) ContextSwitch(prev, next *rtsched.Thread) {
	pg, ng := c.gate(prev), c.gate(next)
	ng.resume <- struct{}{}
	if prev.State() == rtsched.StateExited {
		c.retire(pg)
		c.exit()
	}
	c.park(prev, pg)
}

// Retire implements rtsched.HAL.
func (c *CPU) Retire(t *rtsched.Thread) { c.retire(c.gate(t)) }

// IPLSave implements rtsched.HAL.
func (c *CPU) IPLSave() rtsched.IPL { return rtsched.IPL(c.ipl.Load()) }

// IPLRestore implements rtsched.HAL.
func (c *CPU) IPLRestore(ipl rtsched.IPL) { c.ipl.Store(uint32(ipl)) }

// IPLEnable implements rtsched.HAL.
func (c *CPU) IPLEnable() { c.ipl.Store(uint32(iplEnabled)) }

// IPLDisable implements rtsched.HAL.
func (c *CPU) IPLDisable() { c.ipl.Store(uint32(iplDisabled)) }

// InterruptsEnabled reports whether interrupts may be delivered.
func (c *CPU) InterruptsEnabled() bool {
	return rtsched.IPL(c.ipl.Load()) == iplEnabled
}

// Raise queues an interrupt handler for delivery on the CPU. It may be called
// from any goroutine.
func (c *CPU) Raise(fn func()) {
	c.irqMu.Lock()
	c.irqs = append(c.irqs, fn)
	c.irqMu.Unlock()
	select {
	case c.irqSignal <- struct{}{}:
	default:
	}
}

// Interrupt runs fn as an interrupt handler, synchronously, on the calling
// thread. It must be called from the thread on the CPU.
func (c *CPU) Interrupt(fn func()) {
	c.sched.EnterHard()
	fn()
	c.delivered.Add(1)
	c.sched.ExitHard()
}

// Checkpoint delivers the queued interrupts, if interrupts are enabled. It
// models the preemption points of the running thread, and must be called
// from the thread on the CPU.
func (c *CPU) Checkpoint() {
	if !c.InterruptsEnabled() {
		return
	}
	c.deliverPending()
}

// Delivered returns the number of interrupt handlers run so far.
func (c *CPU) Delivered() uint64 { return c.delivered.Load() }

// Stop halts the scheduler, releases every parked or retired thread (their
// goroutines exit) and waits for all spawned goroutines. It must be called
// from the bootstrap thread, while it is on the CPU.
func (c *CPU) Stop() {
	c.haltOnce.Do(func() {
		if c.sched != nil {
			c.sched.Halt()
		}
		close(c.halt)
	})
	c.wg.Wait()
}

func (c *CPU) idleLoop() {
	for {
		if c.InterruptsEnabled() && c.deliverPending() {
			continue
		}
		select {
		case <-c.irqSignal:
		case <-c.halt:
			runtime.Goexit()
		}
	}
}

// deliverPending reports whether any handler ran. Handlers are taken one at
// a time, since any of them may switch the CPU to another thread.
func (c *CPU) deliverPending() (ran bool) {
	for {
		c.irqMu.Lock()
		if len(c.irqs) == 0 {
			c.irqMu.Unlock()
			return ran
		}
		fn := c.irqs[0]
		c.irqs[0] = nil
		c.irqs = c.irqs[1:]
		pending := len(c.irqs)
		c.irqMu.Unlock()

		c.logger.Trace().
			Int("pending", pending).
			Log("delivering interrupt")
		c.Interrupt(fn)
		ran = true
	}
}

func (c *CPU) gate(t *rtsched.Thread) *gate {
	c.mu.Lock()
	defer c.mu.Unlock()
	g := c.gates[t]
	if g == nil {
		g = &gate{
			resume:  make(chan struct{}, 1),
			retired: make(chan struct{}),
		}
		c.gates[t] = g
	}
	return g
}

func (c *CPU) retire(g *gate) {
	g.once.Do(func() { close(g.retired) })
}

// park blocks until the thread is switched back in. A thread that is retired
// or halted while parked never returns.
func (c *CPU) park(t *rtsched.Thread, g *gate) {
	select {
	case <-g.resume:
		if t.State() != rtsched.StateExited {
			return
		}
	case <-g.retired:
	case <-c.halt:
	}
	c.exit()
}

// exit ends the calling thread goroutine, once the CPU is stopped.
func (c *CPU) exit() {
	<-c.halt
	runtime.Goexit()
}
